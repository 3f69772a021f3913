package crm

import (
	"encoding/json"
	"strings"
)

// Conversation is a virtual grouping of messages. It is rebuilt from the
// current collection on every fetch cycle and never mutated in place.
type Conversation struct {
	ID               string   `json:"-"`
	DisplayName      string   `json:"display_name"`
	LastMessage      *Message `json:"last_message,omitempty"`
	UnreadCount      int      `json:"unread_count"`
	OpportunityID    *int64   `json:"opportunity_id,omitempty"`
	ContactID        *int64   `json:"contact_id,omitempty"`
	ContactReference string   `json:"contact_reference,omitempty"`
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	type wire Conversation
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Conversation(w)
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	c.ID = IdentifyConversation(*c)
	return nil
}

// Target returns the fetch scope of the conversation.
func (c Conversation) Target() Target {
	switch {
	case c.OpportunityID != nil:
		return ForOpportunity(*c.OpportunityID)
	case c.ContactID != nil:
		return ForContact(*c.ContactID)
	case c.ContactReference != "":
		return ForReference(c.ContactReference)
	case c.LastMessage != nil:
		return TargetFor(*c.LastMessage)
	default:
		return Target{}
	}
}

// Name returns the display name, falling back to the best identifying key.
func (c Conversation) Name() string {
	if name := strings.TrimSpace(c.DisplayName); name != "" {
		return name
	}
	if c.ContactReference != "" {
		return c.ContactReference
	}
	return c.ID
}

// CloneConversations returns a copy of convs whose LastMessage pointers are not
// shared with the input.
func CloneConversations(convs []Conversation) []Conversation {
	if convs == nil {
		return nil
	}
	out := make([]Conversation, len(convs))
	for i, c := range convs {
		if c.LastMessage != nil {
			last := *c.LastMessage
			c.LastMessage = &last
		}
		out[i] = c
	}
	return out
}
