// Package session keeps one open conversation in sync with the backend: an
// initial page, on-demand backfill of older pages and a periodic poll for
// the newest messages, all reconciled through timeline.Merge.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/crmapi"
	"github.com/tOgg1/crmchat/internal/logging"
	"github.com/tOgg1/crmchat/internal/metrics"
	"github.com/tOgg1/crmchat/internal/timeline"
)

// DefaultPollInterval is the live refresh cadence.
const DefaultPollInterval = 5 * time.Second

// ErrNotConversation is returned when a session is pointed at a target that
// does not name a single conversation.
var ErrNotConversation = errors.New("session: target is not a conversation")

// Source is the backend a session reads from. *crmapi.Client satisfies it.
type Source interface {
	FetchPage(ctx context.Context, target crm.Target, cursor string, limit int) (crmapi.Page[crm.Message], error)
	MarkRead(ctx context.Context, target crm.Target) error
}

// Config tunes a session.
type Config struct {
	// PageSize is the size of the initial and backfill pages.
	PageSize int
	// PollLimit is how many of the newest messages each poll fetches.
	PollLimit int
	// PollInterval is the refresh cadence of Start.
	PollInterval time.Duration
	// SkipOverlappingPolls drops a tick while the previous poll is still in
	// flight. Without it overlapping polls both merge, which is harmless.
	SkipOverlappingPolls bool
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		PageSize:             50,
		PollLimit:            20,
		PollInterval:         DefaultPollInterval,
		SkipOverlappingPolls: true,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.PollLimit <= 0 {
		c.PollLimit = def.PollLimit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}

// Reason says what produced an Update.
type Reason string

const (
	ReasonOpen   Reason = "open"
	ReasonOlder  Reason = "older"
	ReasonPoll   Reason = "poll"
	ReasonSwitch Reason = "switch"
	ReasonIngest Reason = "ingest"
)

// Update is a snapshot of the conversation after a change.
type Update struct {
	Key      string
	Target   crm.Target
	Reason   Reason
	Messages []crm.Message
	// Added holds the messages new in this snapshot. A snapshot superseded
	// before delivery is dropped, so consumers that must see every message
	// should diff Messages instead.
	Added   []crm.Message
	HasMore bool

	seq uint64
}

// Session owns the message list of one conversation. All mutations of the
// list assign the output of timeline.Merge under mu; network calls run
// without holding it.
type Session struct {
	src     Source
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu         sync.Mutex
	target     crm.Target
	key        string
	gen        uint64
	seq        uint64
	messages   []crm.Message
	cursor     string
	hasMore    bool
	loaded     bool
	markedRead bool
	polling    bool
	fetchingUp bool
	parent     context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	emitMu      sync.Mutex
	lastEmitted uint64
	onUpdate    func(Update)
}

type Option func(*Session)

// WithMetrics records poll, backfill and mark-read outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// New creates a session for target. Nothing is fetched until Open.
func New(src Source, target crm.Target, cfg Config, opts ...Option) (*Session, error) {
	if !target.IsConversation() {
		return nil, fmt.Errorf("%w: %s", ErrNotConversation, target)
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConversation, err)
	}
	s := &Session{
		src:    src,
		cfg:    cfg.normalized(),
		logger: logging.Component("session"),
		target: target,
		key:    target.Key(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OnUpdate registers fn to receive every snapshot. Calls are serialized.
// fn must not block for long and must not call back into mutating methods.
func (s *Session) OnUpdate(fn func(Update)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.onUpdate = fn
}

// Target is the conversation currently open.
func (s *Session) Target() crm.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Key is the identity of the conversation currently open.
func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Messages returns a copy of the current list, oldest first.
func (s *Session) Messages() []crm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return crm.CloneMessages(s.messages)
}

// Loaded reports whether the initial page has been merged.
func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// HasMore reports whether older pages remain.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded && s.hasMore
}

func (s *Session) log() *zerolog.Logger {
	l := logging.WithConversation(s.logger, s.key)
	return &l
}

// Open loads the newest page and marks the conversation read the first
// time it is opened. Results that arrive after Close or Switch are dropped.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	gen, target := s.gen, s.target
	s.mu.Unlock()

	page, err := s.src.FetchPage(ctx, target, "", s.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.log().Debug().Msg("discarding initial page for a superseded conversation")
		return nil
	}
	before := s.messages
	s.messages = timeline.Merge(nil, page.Items)
	s.cursor = page.NextCursor
	s.hasMore = page.NextCursor != ""
	s.loaded = true
	needMark := !s.markedRead
	s.markedRead = true
	u := s.snapshotLocked(ReasonOpen, timeline.Added(before, s.messages))
	s.mu.Unlock()

	s.metrics.SetTimelineSize(len(u.Messages))
	s.metrics.Merged(len(u.Added))
	s.log().Debug().Int("messages", len(u.Messages)).Bool("has_more", u.HasMore).Msg("conversation opened")
	s.emit(u)

	if needMark {
		s.markRead(ctx, target)
	}
	return nil
}

// markRead fires once per open; failures only warn.
func (s *Session) markRead(ctx context.Context, target crm.Target) {
	if err := s.src.MarkRead(ctx, target); err != nil {
		s.metrics.MarkRead(false)
		s.log().Warn().Err(err).Msg("mark-read failed")
		return
	}
	s.metrics.MarkRead(true)
}

// LoadOlder fetches the next older page and merges it behind the current
// list. It returns the number of messages added. It is a no-op before Open,
// once history is exhausted, or while another backfill is running. On
// failure the list and cursor are left untouched.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.loaded || !s.hasMore || s.fetchingUp {
		s.mu.Unlock()
		return 0, nil
	}
	s.fetchingUp = true
	gen, target, cursor := s.gen, s.target, s.cursor
	s.mu.Unlock()

	page, err := s.src.FetchPage(ctx, target, cursor, s.cfg.PageSize)

	s.mu.Lock()
	if gen == s.gen {
		s.fetchingUp = false
	}
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("load older messages: %w", err)
	}
	if gen != s.gen {
		s.mu.Unlock()
		return 0, nil
	}
	before := s.messages
	s.messages = timeline.Merge(page.Items, s.messages)
	s.cursor = page.NextCursor
	s.hasMore = page.NextCursor != ""
	u := s.snapshotLocked(ReasonOlder, timeline.Added(before, s.messages))
	s.mu.Unlock()

	s.metrics.BackfillPage()
	s.metrics.Merged(len(u.Added))
	s.metrics.SetTimelineSize(len(u.Messages))
	s.emit(u)
	return len(u.Added), nil
}

// Poll fetches the newest messages and merges them over the current list.
// It is a no-op until Open has succeeded.
func (s *Session) Poll(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	if s.cfg.SkipOverlappingPolls && s.polling {
		s.mu.Unlock()
		s.metrics.Poll(metrics.PollSkipped)
		return nil
	}
	s.polling = true
	gen, target := s.gen, s.target
	s.mu.Unlock()

	page, err := s.src.FetchPage(ctx, target, "", s.cfg.PollLimit)

	s.mu.Lock()
	if gen == s.gen {
		s.polling = false
	}
	if err != nil {
		s.mu.Unlock()
		s.metrics.Poll(metrics.PollError)
		return fmt.Errorf("poll: %w", err)
	}
	if gen != s.gen {
		s.mu.Unlock()
		s.metrics.Poll(metrics.PollDiscarded)
		return nil
	}
	before := s.messages
	s.messages = timeline.Merge(s.messages, page.Items)
	u := s.snapshotLocked(ReasonPoll, timeline.Added(before, s.messages))
	s.mu.Unlock()

	s.metrics.Poll(metrics.PollOK)
	s.metrics.Merged(len(u.Added))
	s.metrics.SetTimelineSize(len(u.Messages))
	if len(u.Added) > 0 {
		s.log().Debug().Int("added", len(u.Added)).Msg("poll merged new messages")
	}
	s.emit(u)
	return nil
}

// Ingest merges messages obtained elsewhere, such as the echo of a sent
// message, with the same precedence as a poll. Messages that arrive before
// Open or after Close are dropped.
func (s *Session) Ingest(msgs ...crm.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		s.log().Debug().Int("messages", len(msgs)).Msg("discarding ingest for a closed conversation")
		return
	}
	var own []crm.Message
	for _, m := range msgs {
		if crm.Identify(m) == s.key {
			own = append(own, m)
		}
	}
	if len(own) == 0 {
		s.mu.Unlock()
		return
	}
	before := s.messages
	s.messages = timeline.Merge(s.messages, own)
	u := s.snapshotLocked(ReasonIngest, timeline.Added(before, s.messages))
	s.mu.Unlock()

	s.metrics.SetTimelineSize(len(u.Messages))
	s.emit(u)
}

// Start runs Poll every PollInterval until ctx ends or Close is called.
// Polls are dispatched without waiting for the previous one; the skip guard
// decides whether they may overlap. Starting a running session is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.parent = ctx
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.pollLoop(loopCtx, ctx, s.done)
}

// pollLoop ticks until loopCtx ends. Poll requests run on reqCtx so that
// stopping the loop does not abort them; their results are discarded by
// generation instead.
func (s *Session) pollLoop(loopCtx, reqCtx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
		}

		go func() {
			if err := s.Poll(reqCtx); err != nil && reqCtx.Err() == nil {
				s.log().Warn().Err(err).Msg("live refresh failed")
			}
		}()
	}
}

// Running reports whether the refresh loop is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// stopLoop cancels the refresh loop and waits for the ticker goroutine to
// exit. It returns the context the loop was started with, or nil.
func (s *Session) stopLoop() context.Context {
	s.mu.Lock()
	cancel, done, parent := s.cancel, s.done, s.parent
	s.cancel, s.done, s.parent = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return parent
}

// Close stops live refresh. In-flight requests are not aborted; whatever
// they return is discarded. The last message list stays readable.
func (s *Session) Close() {
	s.stopLoop()
	s.mu.Lock()
	s.gen++
	s.loaded = false
	s.polling = false
	s.fetchingUp = false
	s.mu.Unlock()
}

// Switch points the session at another conversation: the loop is stopped,
// pending results are invalidated, the list, cursor and mark-read flag are
// reset and the new conversation is opened. A loop that was running is
// restarted once the new conversation is open.
func (s *Session) Switch(ctx context.Context, target crm.Target) error {
	if !target.IsConversation() {
		return fmt.Errorf("%w: %s", ErrNotConversation, target)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConversation, err)
	}

	parent := s.stopLoop()

	s.mu.Lock()
	s.gen++
	s.target = target
	s.key = target.Key()
	s.messages = nil
	s.cursor = ""
	s.hasMore = false
	s.loaded = false
	s.markedRead = false
	s.polling = false
	s.fetchingUp = false
	u := s.snapshotLocked(ReasonSwitch, nil)
	s.mu.Unlock()

	s.metrics.SetTimelineSize(0)
	s.emit(u)

	err := s.Open(ctx)
	if parent != nil && parent.Err() == nil {
		s.Start(parent)
	}
	return err
}

func (s *Session) snapshotLocked(reason Reason, added []crm.Message) Update {
	s.seq++
	return Update{
		Key:      s.key,
		Target:   s.target,
		Reason:   reason,
		Messages: crm.CloneMessages(s.messages),
		Added:    added,
		HasMore:  s.loaded && s.hasMore,
		seq:      s.seq,
	}
}

func (s *Session) emit(u Update) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if u.seq <= s.lastEmitted {
		return
	}
	s.lastEmitted = u.seq
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}
