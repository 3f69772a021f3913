// Package inbox derives the conversation list from message collections and
// keeps a paged, sorted view of the backend's conversations.
package inbox

import (
	"sort"

	"github.com/tOgg1/crmchat/internal/crm"
)

// Group buckets messages by conversation identity. Input order is kept
// within each bucket.
func Group(messages []crm.Message) map[string][]crm.Message {
	groups := make(map[string][]crm.Message)
	for _, m := range messages {
		key := crm.Identify(m)
		groups[key] = append(groups[key], m)
	}
	return groups
}

// Build turns grouped messages into conversations, sorted with Sort.
//
// The last message is the one with the greatest sort key; on ties the later
// position in the group wins. unread overrides the derived unread count for
// a key; without an entry the count of inbound unread messages is used.
// names supplies display names. Both maps may be nil.
func Build(groups map[string][]crm.Message, unread map[string]int, names map[string]string) []crm.Conversation {
	convs := make([]crm.Conversation, 0, len(groups))
	for key, msgs := range groups {
		if len(msgs) == 0 {
			continue
		}
		last := 0
		derived := 0
		for i, m := range msgs {
			if m.SortKey() >= msgs[last].SortKey() {
				last = i
			}
			if m.Unread() {
				derived++
			}
		}
		count, ok := unread[key]
		if !ok {
			count = derived
		}
		if count < 0 {
			count = 0
		}

		lastMsg := msgs[last]
		conv := crm.Conversation{
			ID:               key,
			DisplayName:      names[key],
			LastMessage:      &lastMsg,
			UnreadCount:      count,
			OpportunityID:    lastMsg.OpportunityID,
			ContactID:        lastMsg.ContactID,
			ContactReference: lastMsg.ContactReference,
		}
		convs = append(convs, conv)
	}
	Sort(convs)
	return convs
}

// Sort orders conversations in place: conversations with unread messages
// first, then by most recent last message. Conversations whose last message
// has no resolvable time sort as oldest. Remaining ties are broken by id.
func Sort(convs []crm.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if ua, ub := a.UnreadCount > 0, b.UnreadCount > 0; ua != ub {
			return ua
		}
		if ka, kb := lastKey(a), lastKey(b); ka != kb {
			return ka > kb
		}
		return a.ID < b.ID
	})
}

func lastKey(c crm.Conversation) int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.SortKey()
}

// UnreadTotal sums unread counts over the given conversations. It only
// covers what has been loaded, never the backend-wide total.
func UnreadTotal(convs []crm.Conversation) int {
	total := 0
	for _, c := range convs {
		if c.UnreadCount > 0 {
			total += c.UnreadCount
		}
	}
	return total
}
