package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Context is the CLI's remembered selection: the conversation that
// `messages`, `watch`, `send` and `mark-read` fall back to when no target
// flag is given, plus the owner filter used by `conversations`.
type Context struct {
	// OpportunityID of the selected conversation, if any.
	OpportunityID int64 `yaml:"opportunity_id,omitempty" json:"opportunity_id,omitempty"`
	// ContactID of the selected conversation, if any.
	ContactID int64 `yaml:"contact_id,omitempty" json:"contact_id,omitempty"`
	// ContactReference of the selected conversation, if any.
	ContactReference string `yaml:"contact_reference,omitempty" json:"contact_reference,omitempty"`
	// DisplayName is shown in prompts and headers.
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	// OwnerID scopes the conversation listing.
	OwnerID int64 `yaml:"owner_id,omitempty" json:"owner_id,omitempty"`
	// UpdatedAt is when the context was last modified.
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// IsEmpty returns true if no context is set.
func (c *Context) IsEmpty() bool {
	return !c.HasConversation() && c.OwnerID <= 0
}

// HasConversation returns true if a conversation is selected.
func (c *Context) HasConversation() bool {
	return c.OpportunityID > 0 || c.ContactID > 0 || strings.TrimSpace(c.ContactReference) != ""
}

// SetConversation selects a conversation. Exactly the given identifiers are
// kept; identifiers from a previous selection are dropped.
func (c *Context) SetConversation(opportunityID, contactID int64, reference, name string) {
	c.OpportunityID = opportunityID
	c.ContactID = contactID
	c.ContactReference = strings.TrimSpace(reference)
	c.DisplayName = name
	c.UpdatedAt = time.Now()
}

// SetOwner sets the owner filter used for conversation listings.
func (c *Context) SetOwner(ownerID int64) {
	c.OwnerID = ownerID
	c.UpdatedAt = time.Now()
}

// ClearConversation drops the selected conversation but keeps the owner.
func (c *Context) ClearConversation() {
	c.OpportunityID = 0
	c.ContactID = 0
	c.ContactReference = ""
	c.DisplayName = ""
	c.UpdatedAt = time.Now()
}

// String returns a human-readable representation of the context.
func (c *Context) String() string {
	if c.IsEmpty() {
		return "(none)"
	}
	var parts []string
	if c.HasConversation() {
		label := c.DisplayName
		if label == "" {
			switch {
			case c.OpportunityID > 0:
				label = fmt.Sprintf("opportunity %d", c.OpportunityID)
			case c.ContactID > 0:
				label = fmt.Sprintf("contact %d", c.ContactID)
			default:
				label = c.ContactReference
			}
		}
		parts = append(parts, label)
	}
	if c.OwnerID > 0 {
		parts = append(parts, fmt.Sprintf("owner:%d", c.OwnerID))
	}
	return strings.Join(parts, " ")
}

// ContextStore manages loading and saving context.
type ContextStore struct {
	path string
	mu   sync.RWMutex
}

// NewContextStore creates a new context store.
// If path is empty, uses the default path (~/.config/crmchat/context.yaml).
func NewContextStore(path string) *ContextStore {
	if path == "" {
		path = filepath.Join(ConfigDir(), "context.yaml")
	}
	return &ContextStore{path: path}
}

// Path returns the context file path.
func (s *ContextStore) Path() string {
	return s.path
}

// Load reads the context from disk.
// Returns an empty context if the file doesn't exist.
func (s *ContextStore) Load() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := &Context{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ctx, nil
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	if err := yaml.Unmarshal(data, ctx); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}

	return ctx, nil
}

// Save writes the context to disk.
func (s *ContextStore) Save(ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create context directory: %w", err)
	}

	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write context file: %w", err)
	}

	return nil
}

// Clear removes the context file.
func (s *ContextStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove context file: %w", err)
	}
	return nil
}
