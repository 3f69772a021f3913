package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const currentFileVersion = 1

type fileState struct {
	Version int       `json:"version"`
	Token   string    `json:"token,omitempty"`
	SavedAt time.Time `json:"saved_at,omitempty"`
}

// FileStore persists the bearer token as JSON on local disk, replacing the
// browser's persisted storage. Reads happen on every Token call so a token
// written by another process (e.g. `crmchat login`) is picked up immediately.
type FileStore struct {
	path     string
	lockPath string

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	path = strings.TrimSpace(path)
	lockPath := ""
	if path != "" {
		lockPath = path + ".lock"
	}
	return &FileStore{path: path, lockPath: lockPath}
}

func (s *FileStore) Path() string { return s.path }

// Token returns the stored token, or "" when the file does not exist.
func (s *FileStore) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return "", nil
	}
	state, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(state.Token), nil
}

// Save writes token atomically; an empty token clears the stored value.
func (s *FileStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return fmt.Errorf("credentials file path not configured")
	}
	state := fileState{
		Version: currentFileVersion,
		Token:   strings.TrimSpace(token),
	}
	if state.Token != "" {
		state.SavedAt = time.Now().UTC()
	}
	return withFileLock(s.lockPath, func() error {
		return writeAtomicJSON(s.path, state)
	})
}

// Clear removes the stored token.
func (s *FileStore) Clear() error {
	return s.Save("")
}

func (s *FileStore) loadLocked() (fileState, error) {
	var out fileState
	err := withFileLock(s.lockPath, func() error {
		payload, err := os.ReadFile(s.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return fmt.Errorf("decode %s: %w", s.path, err)
		}
		return nil
	})
	if err != nil {
		return fileState{}, err
	}
	if out.Version <= 0 {
		out.Version = currentFileVersion
	}
	return out, nil
}

func withFileLock(lockPath string, fn func() error) error {
	if strings.TrimSpace(lockPath) == "" {
		return fn()
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomicJSON(path string, state fileState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
