package inbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/crmapi"
	"github.com/tOgg1/crmchat/internal/logging"
	"github.com/tOgg1/crmchat/internal/metrics"
)

// Source lists conversation pages. *crmapi.Client satisfies it.
type Source interface {
	FetchConversations(ctx context.Context, target crm.Target, cursor string, limit int) (crmapi.Page[crm.Conversation], error)
}

// List is the paged conversation list of one owner scope.
type List struct {
	src      Source
	target   crm.Target
	pageSize int
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu     sync.Mutex
	pager  *crmapi.Pager[crm.Conversation]
	byID   map[string]crm.Conversation
	loaded bool
}

type ListOption func(*List)

// WithMetrics reports the loaded unread total.
func WithMetrics(m *metrics.Metrics) ListOption {
	return func(l *List) { l.metrics = m }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) ListOption {
	return func(l *List) { l.logger = logger }
}

// NewList creates an empty list for target, which must be an owner scope or
// empty.
func NewList(src Source, target crm.Target, pageSize int, opts ...ListOption) *List {
	l := &List{
		src:      src,
		target:   target,
		pageSize: pageSize,
		logger:   logging.Component("inbox"),
		byID:     make(map[string]crm.Conversation),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.pager = l.newPager()
	return l
}

func (l *List) newPager() *crmapi.Pager[crm.Conversation] {
	return crmapi.NewPager(func(ctx context.Context, cursor string, limit int) (crmapi.Page[crm.Conversation], error) {
		return l.src.FetchConversations(ctx, l.target, cursor, limit)
	}, l.pageSize)
}

// LoadFirst replaces the list with the first page. On failure the previous
// contents are kept.
func (l *List) LoadFirst(ctx context.Context) error {
	pager := l.newPager()
	items, err := pager.Next(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	l.mu.Lock()
	l.pager = pager
	l.byID = make(map[string]crm.Conversation, len(items))
	l.mergeLocked(items, false)
	l.loaded = true
	total := l.unreadLocked()
	l.mu.Unlock()

	l.metrics.SetUnreadTotal(total)
	l.logger.Debug().Int("count", len(items)).Bool("has_more", pager.HasMore()).Msg("loaded first conversation page")
	return nil
}

// LoadMore appends the next page. It is a no-op before LoadFirst or once
// the listing is exhausted. On failure nothing changes.
func (l *List) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	pager, loaded := l.pager, l.loaded
	l.mu.Unlock()
	if !loaded || !pager.HasMore() {
		return nil
	}

	items, err := pager.Next(ctx)
	if err != nil {
		return fmt.Errorf("load more conversations: %w", err)
	}

	l.mu.Lock()
	if l.pager != pager {
		// LoadFirst ran meanwhile; this page belongs to the old listing.
		l.mu.Unlock()
		return nil
	}
	l.mergeLocked(items, true)
	total := l.unreadLocked()
	l.mu.Unlock()

	l.metrics.SetUnreadTotal(total)
	l.logger.Debug().Int("count", len(items)).Int("loaded", pager.Loaded()).Bool("has_more", pager.HasMore()).Msg("loaded more conversations")
	return nil
}

// HasMore reports whether another page can be loaded.
func (l *List) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.loaded || l.pager.HasMore()
}

// Len is the number of loaded conversations.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// Conversations returns the loaded conversations, sorted.
func (l *List) Conversations() []crm.Conversation {
	l.mu.Lock()
	convs := make([]crm.Conversation, 0, len(l.byID))
	for _, c := range l.byID {
		convs = append(convs, c)
	}
	l.mu.Unlock()

	convs = crm.CloneConversations(convs)
	Sort(convs)
	return convs
}

// UnreadTotal is the unread sum over loaded conversations only.
func (l *List) UnreadTotal() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unreadLocked()
}

// mergeLocked adds items by conversation id. Later pages are older than the
// rows already loaded, so with keepExisting a repeated id keeps its row.
func (l *List) mergeLocked(items []crm.Conversation, keepExisting bool) {
	for _, c := range items {
		id := c.ID
		if id == "" {
			id = crm.IdentifyConversation(c)
			c.ID = id
		}
		if _, ok := l.byID[id]; ok && keepExisting {
			continue
		}
		l.byID[id] = c
	}
}

func (l *List) unreadLocked() int {
	total := 0
	for _, c := range l.byID {
		if c.UnreadCount > 0 {
			total += c.UnreadCount
		}
	}
	return total
}
