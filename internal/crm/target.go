package crm

import (
	"fmt"
	"net/url"
	"strconv"
)

// TargetKind identifies what a Target scopes a fetch to.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetOpportunity
	TargetContact
	TargetReference
	TargetOwner
)

func (k TargetKind) String() string {
	switch k {
	case TargetOpportunity:
		return "opportunity"
	case TargetContact:
		return "contact"
	case TargetReference:
		return "reference"
	case TargetOwner:
		return "owner"
	default:
		return "none"
	}
}

// Target is the scope of a fetch: a single conversation, or all conversations
// of an owner. It becomes query parameters and never leaks into the cursor.
type Target struct {
	Kind          TargetKind
	OpportunityID int64
	ContactID     int64
	Reference     string
	// OwnerID is optional for TargetOwner; zero lists every owner.
	OwnerID int64
}

func ForOpportunity(id int64) Target { return Target{Kind: TargetOpportunity, OpportunityID: id} }
func ForContact(id int64) Target { return Target{Kind: TargetContact, ContactID: id} }
func ForOwner(id int64) Target { return Target{Kind: TargetOwner, OwnerID: id} }

func ForReference(ref string) Target {
	return Target{Kind: TargetReference, Reference: ref}
}

// TargetFor returns the conversation scope a message belongs to, following the
// Identify priority. Orphan messages yield a TargetNone.
func TargetFor(m Message) Target {
	switch {
	case m.OpportunityID != nil:
		return ForOpportunity(*m.OpportunityID)
	case m.ContactID != nil:
		return ForContact(*m.ContactID)
	case m.ContactReference != "":
		return ForReference(m.ContactReference)
	default:
		return Target{}
	}
}

// IsConversation reports whether the target names a single conversation.
func (t Target) IsConversation() bool {
	switch t.Kind {
	case TargetOpportunity, TargetContact, TargetReference:
		return true
	default:
		return false
	}
}

// Validate checks that the target carries the id its kind requires.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetOpportunity:
		if t.OpportunityID <= 0 {
			return fmt.Errorf("opportunity id must be positive")
		}
	case TargetContact:
		if t.ContactID <= 0 {
			return fmt.Errorf("contact id must be positive")
		}
	case TargetReference:
		if t.Reference == "" {
			return fmt.Errorf("contact reference required")
		}
	case TargetOwner:
		if t.OwnerID < 0 {
			return fmt.Errorf("owner id must not be negative")
		}
	default:
		return fmt.Errorf("target required")
	}
	return nil
}

// Key returns the conversation identity the target addresses. It matches
// Identify for every message fetched with this target.
func (t Target) Key() string {
	switch t.Kind {
	case TargetOpportunity:
		return prefixOpportunity + strconv.FormatInt(t.OpportunityID, 10)
	case TargetContact:
		return prefixContact + strconv.FormatInt(t.ContactID, 10)
	case TargetReference:
		return prefixReference + EncodeReference(t.Reference)
	case TargetOwner:
		return "owner-" + strconv.FormatInt(t.OwnerID, 10)
	default:
		return ""
	}
}

// Query adds the target's parameters to q.
func (t Target) Query(q url.Values) {
	switch t.Kind {
	case TargetOpportunity:
		q.Set("opportunity_id", strconv.FormatInt(t.OpportunityID, 10))
	case TargetContact:
		q.Set("contact_id", strconv.FormatInt(t.ContactID, 10))
	case TargetReference:
		q.Set("contact_reference", t.Reference)
	case TargetOwner:
		if t.OwnerID > 0 {
			q.Set("owner_id", strconv.FormatInt(t.OwnerID, 10))
		}
	}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetOpportunity:
		return fmt.Sprintf("opportunity %d", t.OpportunityID)
	case TargetContact:
		return fmt.Sprintf("contact %d", t.ContactID)
	case TargetReference:
		return fmt.Sprintf("reference %q", t.Reference)
	case TargetOwner:
		if t.OwnerID == 0 {
			return "all owners"
		}
		return fmt.Sprintf("owner %d", t.OwnerID)
	default:
		return "no target"
	}
}
