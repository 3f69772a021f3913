package inbox

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/crmapi"
	"github.com/tOgg1/crmchat/internal/crmapi/crmapitest"
	"github.com/tOgg1/crmchat/internal/timestamp"
)

func seeded(t *testing.T, n int) (*crmapitest.Server, *crmapi.Client) {
	t.Helper()
	srv := crmapitest.NewServer(t)
	for i := 1; i <= n; i++ {
		srv.Add(crm.Message{
			OpportunityID:    ptr(int64(i)),
			Content:          ptr("hola"),
			Read:             i%2 == 0,
			MessageTimestamp: timestamp.RawString(base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)),
		})
	}
	client, err := crmapi.NewClient(srv.URL)
	require.NoError(t, err)
	return srv, client
}

func TestListPagesAndSorts(t *testing.T) {
	_, client := seeded(t, 5)
	list := NewList(client, crm.Target{}, 2)

	require.True(t, list.HasMore())
	require.NoError(t, list.LoadMore(context.Background()))
	require.Zero(t, list.Len(), "LoadMore before LoadFirst is a no-op")

	require.NoError(t, list.LoadFirst(context.Background()))
	require.Equal(t, 2, list.Len())
	require.Equal(t, []string{"op-5", "op-4"}, convIDs(list.Conversations()))
	require.Equal(t, 1, list.UnreadTotal())

	for list.HasMore() {
		require.NoError(t, list.LoadMore(context.Background()))
	}
	require.Equal(t, 5, list.Len())
	require.Equal(t, []string{"op-5", "op-3", "op-1", "op-4", "op-2"}, convIDs(list.Conversations()))
	require.Equal(t, 3, list.UnreadTotal())
}

func TestListFailureKeepsState(t *testing.T) {
	srv, client := seeded(t, 3)
	list := NewList(client, crm.Target{}, 2)
	require.NoError(t, list.LoadFirst(context.Background()))

	srv.Fail(crmapitest.EndpointConversations, http.StatusInternalServerError, "db down")
	require.Error(t, list.LoadMore(context.Background()))
	require.Equal(t, 2, list.Len())
	require.True(t, list.HasMore())

	srv.Fail(crmapitest.EndpointConversations, http.StatusInternalServerError, "db down")
	require.Error(t, list.LoadFirst(context.Background()))
	require.Equal(t, 2, list.Len())

	require.NoError(t, list.LoadMore(context.Background()))
	require.Equal(t, 3, list.Len())
	require.False(t, list.HasMore())
}

func TestListLoadFirstReplaces(t *testing.T) {
	srv, client := seeded(t, 3)
	list := NewList(client, crm.Target{}, 10)
	require.NoError(t, list.LoadFirst(context.Background()))
	require.Equal(t, 2, list.UnreadTotal())

	srv.Add(crm.Message{OpportunityID: ptr(int64(1)), Content: ptr("otra vez")})
	require.NoError(t, list.LoadFirst(context.Background()))
	require.Equal(t, 3, list.Len())
	require.Equal(t, 3, list.UnreadTotal())
}

func TestListConversationsAreCopies(t *testing.T) {
	_, client := seeded(t, 1)
	list := NewList(client, crm.Target{}, 10)
	require.NoError(t, list.LoadFirst(context.Background()))

	convs := list.Conversations()
	convs[0].LastMessage.Read = true
	convs[0].UnreadCount = 40
	require.Equal(t, 1, list.UnreadTotal())
	require.False(t, list.Conversations()[0].LastMessage.Read)
}

type pagedConversations [][]crm.Conversation

func (p pagedConversations) FetchConversations(_ context.Context, _ crm.Target, cursor string, _ int) (crmapi.Page[crm.Conversation], error) {
	i := 0
	if cursor != "" {
		i = int(cursor[0] - '0')
	}
	page := crmapi.Page[crm.Conversation]{Items: p[i]}
	if i+1 < len(p) {
		page.NextCursor = string(rune('0' + i + 1))
	}
	return page, nil
}

func TestListLoadMoreKeepsFresherRow(t *testing.T) {
	fresh := at(20, 2, 10)
	stale := at(5, 2, 5)
	src := pagedConversations{
		{{ID: "op-2", LastMessage: &fresh, UnreadCount: 0}},
		{{ID: "op-2", LastMessage: &stale, UnreadCount: 3}, {ID: "op-1", LastMessage: ptr(at(1, 1, 1))}},
	}
	list := NewList(src, crm.Target{}, 1)
	require.NoError(t, list.LoadFirst(context.Background()))
	require.NoError(t, list.LoadMore(context.Background()))
	require.False(t, list.HasMore())

	require.Equal(t, 2, list.Len())
	byID := make(map[string]crm.Conversation)
	for _, c := range list.Conversations() {
		byID[c.ID] = c
	}
	require.Equal(t, int64(20), byID["op-2"].LastMessage.ID)
	require.Zero(t, byID["op-2"].UnreadCount)
}
