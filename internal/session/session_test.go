package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/crmapi"
	"github.com/tOgg1/crmchat/internal/crmapi/crmapitest"
	"github.com/tOgg1/crmchat/internal/metrics"
	"github.com/tOgg1/crmchat/internal/timeline"
	"github.com/tOgg1/crmchat/internal/timestamp"
)

func ptr[T any](v T) *T { return &v }

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func message(id, opp int64, minute int) crm.Message {
	return crm.Message{
		ID:               id,
		OpportunityID:    ptr(opp),
		Content:          ptr("m" + strconv.FormatInt(id, 10)),
		MessageTimestamp: timestamp.RawString(base.Add(time.Duration(minute) * time.Minute).Format(time.RFC3339)),
		ResolvedAt:       base.Add(time.Duration(minute) * time.Minute),
	}
}

// fakeSource pages over per-conversation histories held newest first. When
// gate is set, first-page fetches announce themselves on entered and block
// until gate yields.
type fakeSource struct {
	mu        sync.Mutex
	history   map[string][]crm.Message
	calls     int
	markReads []crm.Target
	markErr   error
	fetchErr  error
	gate      chan struct{}
	entered   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{history: make(map[string][]crm.Message)}
}

// add records msgs as the newest messages of their conversation.
func (f *fakeSource) add(msgs ...crm.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		key := crm.Identify(m)
		f.history[key] = append([]crm.Message{m}, f.history[key]...)
	}
}

func (f *fakeSource) hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 8)
}

func (f *fakeSource) release() {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) FetchPage(ctx context.Context, target crm.Target, cursor string, limit int) (crmapi.Page[crm.Message], error) {
	f.mu.Lock()
	f.calls++
	gate, entered, fetchErr := f.gate, f.entered, f.fetchErr
	f.mu.Unlock()

	if gate != nil && cursor == "" {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return crmapi.Page[crm.Message]{}, ctx.Err()
		}
	}
	if fetchErr != nil {
		return crmapi.Page[crm.Message]{}, fetchErr
	}

	f.mu.Lock()
	all := crm.CloneMessages(f.history[target.Key()])
	f.mu.Unlock()

	offset := 0
	if cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := crmapi.Page[crm.Message]{Items: all[offset:end]}
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeSource) MarkRead(_ context.Context, target crm.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, target)
	return f.markErr
}

func (f *fakeSource) marked() []crm.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.Target(nil), f.markReads...)
}

func newSession(t *testing.T, src Source, target crm.Target, cfg Config, opts ...Option) *Session {
	t.Helper()
	s, err := New(src, target, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewRejectsNonConversationTargets(t *testing.T) {
	for _, target := range []crm.Target{{}, crm.ForOwner(1), crm.ForContact(0)} {
		_, err := New(newFakeSource(), target, DefaultConfig())
		require.ErrorIs(t, err, ErrNotConversation, target.String())
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.normalized()
	require.Equal(t, DefaultConfig().PageSize, cfg.PageSize)
	require.Equal(t, DefaultConfig().PollLimit, cfg.PollLimit)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
}

func TestOpenThenBackfillAgainstBackend(t *testing.T) {
	srv := crmapitest.NewServer(t)
	for i := 1; i <= 5; i++ {
		srv.Add(message(0, 42, i))
	}
	client, err := crmapi.NewClient(srv.URL)
	require.NoError(t, err)

	s := newSession(t, client, crm.ForOpportunity(42), Config{PageSize: 2, PollLimit: 2})
	require.False(t, s.HasMore())

	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, []int64{4, 5}, timeline.IDs(s.Messages()))
	require.True(t, s.HasMore())
	require.Len(t, srv.MarkReads(), 1)

	added, err := s.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, added)
	require.Equal(t, []int64{2, 3, 4, 5}, timeline.IDs(s.Messages()))

	added, err = s.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, added)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, timeline.IDs(s.Messages()))
	require.False(t, s.HasMore())

	calls := srv.Count(crmapitest.EndpointMessages)
	added, err = s.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Zero(t, added)
	require.Equal(t, calls, srv.Count(crmapitest.EndpointMessages))

	// Reopening the same conversation does not mark it read again.
	require.NoError(t, s.Open(context.Background()))
	require.Len(t, srv.MarkReads(), 1)
}

func TestPollMergesNewestMessages(t *testing.T) {
	srv := crmapitest.NewServer(t)
	srv.Add(message(0, 42, 1), message(0, 42, 2))
	client, err := crmapi.NewClient(srv.URL)
	require.NoError(t, err)

	s := newSession(t, client, crm.ForOpportunity(42), Config{PageSize: 10, PollLimit: 5})
	require.NoError(t, s.Poll(context.Background()))
	require.Zero(t, srv.Count(crmapitest.EndpointMessages), "poll before open is a no-op")

	require.NoError(t, s.Open(context.Background()))

	var updates []Update
	s.OnUpdate(func(u Update) { updates = append(updates, u) })

	edited := srv.Messages()[0]
	edited.Content = ptr("edited")
	require.True(t, srv.Update(edited))
	srv.Add(message(0, 42, 3))

	require.NoError(t, s.Poll(context.Background()))
	msgs := s.Messages()
	require.Equal(t, []int64{1, 2, 3}, timeline.IDs(msgs))
	require.Equal(t, "edited", msgs[0].Text())
	require.Equal(t, "5", srv.Requests()[len(srv.Requests())-1].Query.Get("limit"))

	require.Len(t, updates, 1)
	require.Equal(t, ReasonPoll, updates[0].Reason)
	require.Equal(t, []int64{3}, timeline.IDs(updates[0].Added))
	require.Equal(t, "op-42", updates[0].Key)
}

func TestLoadOlderFailureLeavesStateUnchanged(t *testing.T) {
	srv := crmapitest.NewServer(t)
	for i := 1; i <= 3; i++ {
		srv.Add(message(0, 42, i))
	}
	client, err := crmapi.NewClient(srv.URL)
	require.NoError(t, err)

	s := newSession(t, client, crm.ForOpportunity(42), Config{PageSize: 2})
	require.NoError(t, s.Open(context.Background()))

	srv.Fail(crmapitest.EndpointMessages, http.StatusServiceUnavailable, "busy")
	_, err = s.LoadOlder(context.Background())
	require.Error(t, err)
	require.True(t, crmapi.IsRetryable(err))
	require.Equal(t, []int64{2, 3}, timeline.IDs(s.Messages()))
	require.True(t, s.HasMore())

	added, err := s.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, added)
}

func TestOpenFailureReturnsError(t *testing.T) {
	src := newFakeSource()
	src.fetchErr = errors.New("offline")
	s := newSession(t, src, crm.ForOpportunity(1), DefaultConfig())

	require.Error(t, s.Open(context.Background()))
	require.False(t, s.Loaded())
	require.Empty(t, src.marked())
}

func TestMarkReadFailureIsSwallowed(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1))
	src.markErr = errors.New("forbidden")
	m := metrics.New()
	s := newSession(t, src, crm.ForOpportunity(7), DefaultConfig(), WithMetrics(m))

	require.NoError(t, s.Open(context.Background()))
	require.True(t, s.Loaded())
	require.Len(t, src.marked(), 1)
}

func TestPollResultAfterCloseIsDiscarded(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1))
	s := newSession(t, src, crm.ForOpportunity(7), DefaultConfig())
	require.NoError(t, s.Open(context.Background()))

	src.hold()
	errc := make(chan error, 1)
	go func() { errc <- s.Poll(context.Background()) }()
	<-src.entered

	s.Close()
	src.add(message(2, 7, 2))
	src.release()

	require.NoError(t, <-errc)
	require.Equal(t, []int64{1}, timeline.IDs(s.Messages()))
	require.NoError(t, s.Poll(context.Background()))
	require.Equal(t, []int64{1}, timeline.IDs(s.Messages()), "closed sessions do not poll")
}

func TestIngestAfterCloseIsDiscarded(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1))
	s := newSession(t, src, crm.ForOpportunity(7), DefaultConfig())

	s.Ingest(message(3, 7, 3))
	require.Empty(t, s.Messages(), "ingest before open is dropped")

	require.NoError(t, s.Open(context.Background()))
	s.Close()
	s.Ingest(message(2, 7, 2))
	require.Equal(t, []int64{1}, timeline.IDs(s.Messages()))
}

func TestSwitchDiscardsStaleResultsAndMarksReadAgain(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1), message(2, 8, 2))
	s := newSession(t, src, crm.ForOpportunity(7), DefaultConfig())
	require.NoError(t, s.Open(context.Background()))

	src.hold()
	errc := make(chan error, 1)
	go func() { errc <- s.Poll(context.Background()) }()
	<-src.entered

	src.add(message(3, 7, 3))
	src.release()
	require.NoError(t, s.Switch(context.Background(), crm.ForOpportunity(8)))
	require.NoError(t, <-errc)

	require.Equal(t, "op-8", s.Key())
	msgs := s.Messages()
	require.Equal(t, []int64{2}, timeline.IDs(msgs))
	require.Equal(t, []crm.Target{crm.ForOpportunity(7), crm.ForOpportunity(8)}, src.marked())

	require.ErrorIs(t, s.Switch(context.Background(), crm.ForOwner(1)), ErrNotConversation)
}

func TestSwitchWhileStalePollIsInFlight(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1), message(2, 8, 2))
	s := newSession(t, src, crm.ForOpportunity(7), DefaultConfig())
	require.NoError(t, s.Open(context.Background()))

	src.hold()
	errc := make(chan error, 1)
	go func() { errc <- s.Poll(context.Background()) }()
	<-src.entered

	// The switch's own initial fetch must not wait on the held poll.
	src.mu.Lock()
	gate := src.gate
	src.gate = nil
	src.mu.Unlock()

	require.NoError(t, s.Switch(context.Background(), crm.ForOpportunity(8)))
	require.Equal(t, []int64{2}, timeline.IDs(s.Messages()))

	src.add(message(3, 7, 3))
	close(gate)
	require.NoError(t, <-errc)
	require.Equal(t, []int64{2}, timeline.IDs(s.Messages()))
}

func TestSkipOverlappingPolls(t *testing.T) {
	for _, skip := range []bool{true, false} {
		t.Run("skip="+strconv.FormatBool(skip), func(t *testing.T) {
			src := newFakeSource()
			src.add(message(1, 7, 1))
			s := newSession(t, src, crm.ForOpportunity(7), Config{SkipOverlappingPolls: skip})
			require.NoError(t, s.Open(context.Background()))

			src.hold()
			first := make(chan error, 1)
			go func() { first <- s.Poll(context.Background()) }()
			<-src.entered
			calls := src.callCount()

			second := make(chan error, 1)
			go func() { second <- s.Poll(context.Background()) }()
			if skip {
				require.NoError(t, <-second)
				require.Equal(t, calls, src.callCount())
			} else {
				<-src.entered
				require.Equal(t, calls+1, src.callCount())
			}

			src.add(message(2, 7, 2))
			src.release()
			require.NoError(t, <-first)
			if !skip {
				require.NoError(t, <-second)
			}
			require.Equal(t, []int64{1, 2}, timeline.IDs(s.Messages()))
		})
	}
}

func TestStartPollsUntilClose(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1))
	s := newSession(t, src, crm.ForOpportunity(7), Config{PollInterval: 10 * time.Millisecond})
	require.NoError(t, s.Open(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)
	require.True(t, s.Running())

	src.add(message(2, 7, 2))
	require.Eventually(t, func() bool {
		return timeline.Contains(s.Messages(), 2)
	}, time.Second, 5*time.Millisecond)

	s.Close()
	require.False(t, s.Running())

	src.add(message(3, 7, 3))
	time.Sleep(50 * time.Millisecond)
	require.False(t, timeline.Contains(s.Messages(), 3))
}

func TestSwitchRestartsRunningLoop(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1), message(2, 8, 2))
	s := newSession(t, src, crm.ForOpportunity(7), Config{PollInterval: 10 * time.Millisecond})
	require.NoError(t, s.Open(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.NoError(t, s.Switch(context.Background(), crm.ForOpportunity(8)))
	require.True(t, s.Running())

	src.add(message(3, 8, 3))
	require.Eventually(t, func() bool {
		return timeline.Contains(s.Messages(), 3)
	}, time.Second, 5*time.Millisecond)
}

func TestUpdatesAndIngest(t *testing.T) {
	src := newFakeSource()
	src.add(message(1, 7, 1), message(2, 7, 2), message(3, 7, 3))
	s := newSession(t, src, crm.ForOpportunity(7), Config{PageSize: 2})

	var mu sync.Mutex
	var reasons []Reason
	s.OnUpdate(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, u.Reason)
	})

	require.NoError(t, s.Open(context.Background()))
	_, err := s.LoadOlder(context.Background())
	require.NoError(t, err)

	s.Ingest(message(9, 99, 9))
	s.Ingest(message(4, 7, 4))
	require.Equal(t, []int64{1, 2, 3, 4}, timeline.IDs(s.Messages()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Reason{ReasonOpen, ReasonOlder, ReasonIngest}, reasons)
}
