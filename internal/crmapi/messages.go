package crmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tOgg1/crmchat/internal/crm"
)

// FetchPage lists one page of a conversation's messages. An empty cursor
// asks for the newest page; each following cursor walks further back in time.
func (c *Client) FetchPage(ctx context.Context, target crm.Target, cursor string, limit int) (Page[crm.Message], error) {
	if !target.IsConversation() {
		return Page[crm.Message]{}, fmt.Errorf("%w: messages need a conversation, got %s", ErrInvalidTarget, target)
	}
	if err := target.Validate(); err != nil {
		return Page[crm.Message]{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	q := url.Values{}
	target.Query(q)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("channel", c.channel)
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var env envelope[crm.Message]
	if err := c.doJSON(ctx, "messages", http.MethodGet, c.endpoint("messages/cursor", q), nil, &env); err != nil {
		return Page[crm.Message]{}, err
	}
	page := env.page()
	crm.ResolveAll(page.Items, c.tsOpts)
	return page, nil
}

// MessagePager returns a pager over a conversation's history.
func (c *Client) MessagePager(target crm.Target, limit int) *Pager[crm.Message] {
	return NewPager(func(ctx context.Context, cursor string, limit int) (Page[crm.Message], error) {
		return c.FetchPage(ctx, target, cursor, limit)
	}, limit)
}

type markReadRequest struct {
	OpportunityID    *int64 `json:"opportunity_id,omitempty"`
	ContactID        *int64 `json:"contact_id,omitempty"`
	ContactReference string `json:"contact_reference,omitempty"`
}

// MarkRead marks every inbound message of the conversation as read.
func (c *Client) MarkRead(ctx context.Context, target crm.Target) error {
	if !target.IsConversation() {
		return fmt.Errorf("%w: mark-read needs a conversation, got %s", ErrInvalidTarget, target)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	var body markReadRequest
	switch target.Kind {
	case crm.TargetOpportunity:
		id := target.OpportunityID
		body.OpportunityID = &id
	case crm.TargetContact:
		id := target.ContactID
		body.ContactID = &id
	case crm.TargetReference:
		body.ContactReference = target.Reference
	}
	return c.doJSON(ctx, "mark_read", http.MethodPost, c.endpoint("messages/mark-read", nil), body, nil)
}

// SendRequest is an outbound message.
type SendRequest struct {
	Body          string
	OpportunityID int64
	// OwnerID is the responsible user; zero lets the backend decide.
	OwnerID int64
	// Channel defaults to the client's channel.
	Channel string
}

type sendRequest struct {
	Content       string `json:"contenido"`
	OpportunityID int64  `json:"oportunidad_id"`
	OwnerID       *int64 `json:"responsable_id,omitempty"`
	Channel       string `json:"canal"`
}

// Send posts an outbound message and returns it as the backend stored it.
func (c *Client) Send(ctx context.Context, r SendRequest) (crm.Message, error) {
	text := strings.TrimSpace(r.Body)
	if text == "" {
		return crm.Message{}, ErrEmptyBody
	}
	if r.OpportunityID <= 0 {
		return crm.Message{}, ErrInvalidOpportunity
	}
	channel := strings.TrimSpace(r.Channel)
	if channel == "" {
		channel = c.channel
	}

	body := sendRequest{Content: text, OpportunityID: r.OpportunityID, Channel: channel}
	if r.OwnerID > 0 {
		owner := r.OwnerID
		body.OwnerID = &owner
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, "send", http.MethodPost, c.endpoint("messages/send", nil), body, &raw); err != nil {
		return crm.Message{}, err
	}
	msg, err := decodeSent(raw)
	if err != nil {
		return crm.Message{}, fmt.Errorf("crmapi: send: %w", err)
	}
	msg.Resolve(c.tsOpts)
	return msg, nil
}

// decodeSent accepts the created message either bare or wrapped in `data`.
func decodeSent(raw json.RawMessage) (crm.Message, error) {
	var msg crm.Message
	if len(raw) == 0 {
		return msg, nil
	}
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 && string(wrapped.Data) != "null" {
		raw = wrapped.Data
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return crm.Message{}, fmt.Errorf("decode created message: %w", err)
	}
	return msg, nil
}
