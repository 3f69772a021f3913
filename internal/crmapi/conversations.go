package crmapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tOgg1/crmchat/internal/crm"
)

// FetchConversations lists one page of conversations, newest activity first.
// target must be an owner scope or empty; an empty target lists every owner.
func (c *Client) FetchConversations(ctx context.Context, target crm.Target, cursor string, limit int) (Page[crm.Conversation], error) {
	switch target.Kind {
	case crm.TargetNone, crm.TargetOwner:
	default:
		return Page[crm.Conversation]{}, fmt.Errorf("%w: conversations are listed per owner, got %s", ErrInvalidTarget, target)
	}
	if target.OwnerID < 0 {
		return Page[crm.Conversation]{}, fmt.Errorf("%w: owner id must not be negative", ErrInvalidTarget)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	target.Query(q)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("channel", c.channel)

	var env envelope[crm.Conversation]
	if err := c.doJSON(ctx, "conversations", http.MethodGet, c.endpoint("conversations", q), nil, &env); err != nil {
		return Page[crm.Conversation]{}, err
	}
	page := env.page()
	for i := range page.Items {
		if last := page.Items[i].LastMessage; last != nil {
			last.Resolve(c.tsOpts)
		}
	}
	return page, nil
}

// ConversationPager returns a pager over an owner's conversations.
func (c *Client) ConversationPager(target crm.Target, limit int) *Pager[crm.Conversation] {
	return NewPager(func(ctx context.Context, cursor string, limit int) (Page[crm.Conversation], error) {
		return c.FetchConversations(ctx, target, cursor, limit)
	}, limit)
}
