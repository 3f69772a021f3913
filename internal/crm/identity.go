package crm

import (
	"strconv"
	"strings"
)

const (
	prefixOpportunity = "op-"
	prefixContact     = "co-"
	prefixReference   = "ref-"
	prefixMessage     = "msg-"
)

// Identify derives the conversation key of a message. The first matching rule
// wins: opportunity, contact, contact reference, then the message id itself.
// Identify is pure; the same message shape always yields the same key.
func Identify(m Message) string {
	switch {
	case m.OpportunityID != nil:
		return prefixOpportunity + strconv.FormatInt(*m.OpportunityID, 10)
	case m.ContactID != nil:
		return prefixContact + strconv.FormatInt(*m.ContactID, 10)
	case m.ContactReference != "":
		return prefixReference + EncodeReference(m.ContactReference)
	default:
		return prefixMessage + strconv.FormatInt(m.ID, 10)
	}
}

// IdentifyConversation applies the Identify priority to a backend conversation
// row, falling back to its last message.
func IdentifyConversation(c Conversation) string {
	switch {
	case c.OpportunityID != nil:
		return prefixOpportunity + strconv.FormatInt(*c.OpportunityID, 10)
	case c.ContactID != nil:
		return prefixContact + strconv.FormatInt(*c.ContactID, 10)
	case c.ContactReference != "":
		return prefixReference + EncodeReference(c.ContactReference)
	case c.LastMessage != nil:
		return Identify(*c.LastMessage)
	default:
		return ""
	}
}

// EncodeReference percent-encodes a contact reference the way
// encodeURIComponent does, so keys match the ones produced by web clients.
func EncodeReference(ref string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(ref))
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
