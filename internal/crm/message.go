// Package crm holds the CRM messaging data model shared by the sync engine.
package crm

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tOgg1/crmchat/internal/timestamp"
)

// Direction is the flow of a message relative to the CRM.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Channel is the transport a message travelled on.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelSocial   Channel = "social"
	ChannelOther    Channel = "other"
)

// ParseDirection maps backend direction values (English or Spanish) to a
// Direction. Unknown values are treated as inbound.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outbound", "saliente", "out":
		return DirectionOutbound
	default:
		return DirectionInbound
	}
}

// ParseChannel maps backend channel values to a Channel; anything outside the
// known set is ChannelOther.
func ParseChannel(s string) Channel {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelWhatsApp:
		return ChannelWhatsApp
	case ChannelEmail:
		return ChannelEmail
	case ChannelSocial:
		return ChannelSocial
	default:
		return ChannelOther
	}
}

// Message is one inbound or outbound communication unit.
//
// ID is the only field that is stable across the initial, backfill and poll
// fetch paths; every dedup decision keys on it.
type Message struct {
	ID               int64         `json:"id"`
	Direction        Direction     `json:"direction"`
	Channel          Channel       `json:"channel"`
	Content          *string       `json:"content"`
	Subject          *string       `json:"subject"`
	ContactID        *int64        `json:"contact_id,omitempty"`
	ContactReference string        `json:"contact_reference,omitempty"`
	OpportunityID    *int64        `json:"opportunity_id,omitempty"`
	MessageTimestamp timestamp.Raw `json:"message_timestamp"`
	CreatedAt        timestamp.Raw `json:"created_at"`
	Read             bool          `json:"read,omitempty"`

	// ResolvedAt is derived locally and never sent upstream. Zero means unknown.
	ResolvedAt time.Time `json:"-"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type wire Message
	var w struct {
		wire
		Direction string `json:"direction"`
		Channel   string `json:"channel"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message(w.wire)
	m.Direction = ParseDirection(w.Direction)
	m.Channel = ParseChannel(w.Channel)
	return nil
}

// Resolve annotates the message with its best available timestamp.
func (m *Message) Resolve(opts timestamp.Options) {
	ts, ok := timestamp.Resolve(timestamp.Best(m.MessageTimestamp, m.CreatedAt), opts)
	if !ok {
		m.ResolvedAt = time.Time{}
		return
	}
	m.ResolvedAt = ts
}

// SortKey is the chronological sort position of the message: epoch
// milliseconds of ResolvedAt, 0 when unknown.
func (m Message) SortKey() int64 {
	return timestamp.SortKey(m.ResolvedAt, !m.ResolvedAt.IsZero())
}

// Text returns the content, falling back to the subject.
func (m Message) Text() string {
	if m.Content != nil && strings.TrimSpace(*m.Content) != "" {
		return *m.Content
	}
	if m.Subject != nil {
		return *m.Subject
	}
	return ""
}

// Unread reports whether the message counts toward a conversation's unread badge.
func (m Message) Unread() bool {
	return m.Direction == DirectionInbound && !m.Read
}

// ResolveAll annotates every message in place.
func ResolveAll(messages []Message, opts timestamp.Options) {
	for i := range messages {
		messages[i].Resolve(opts)
	}
}

// CloneMessages returns a shallow copy of messages.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
