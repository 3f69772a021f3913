package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/crmchat/internal/config"
	"github.com/tOgg1/crmchat/internal/crm"
)

var errNoConversation = errors.New("no conversation selected; pass --opportunity, --contact or --ref, or run `crmchat use`")

// targetFlags selects one conversation on the command line.
type targetFlags struct {
	opportunity int64
	contact     int64
	reference   string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.opportunity, "opportunity", 0, "opportunity ID")
	cmd.Flags().Int64Var(&f.contact, "contact", 0, "contact ID")
	cmd.Flags().StringVar(&f.reference, "ref", "", "contact reference (phone or e-mail)")
	cmd.MarkFlagsMutuallyExclusive("opportunity", "contact", "ref")
}

func (f targetFlags) set() bool {
	return f.opportunity != 0 || f.contact != 0 || strings.TrimSpace(f.reference) != ""
}

// target returns the conversation named by the flags.
func (f targetFlags) target() (crm.Target, error) {
	var t crm.Target
	switch {
	case f.opportunity != 0:
		t = crm.ForOpportunity(f.opportunity)
	case f.contact != 0:
		t = crm.ForContact(f.contact)
	default:
		t = crm.ForReference(strings.TrimSpace(f.reference))
	}
	if err := t.Validate(); err != nil {
		return crm.Target{}, fmt.Errorf("invalid target: %w", err)
	}
	return t, nil
}

// contextTarget returns the conversation remembered by `crmchat use`.
func contextTarget(c *config.Context) (crm.Target, bool) {
	switch {
	case c == nil:
		return crm.Target{}, false
	case c.OpportunityID > 0:
		return crm.ForOpportunity(c.OpportunityID), true
	case c.ContactID > 0:
		return crm.ForContact(c.ContactID), true
	case strings.TrimSpace(c.ContactReference) != "":
		return crm.ForReference(c.ContactReference), true
	default:
		return crm.Target{}, false
	}
}

// resolveTarget picks the conversation for a command: flags first, then the
// stored context.
func (a *app) resolveTarget(f targetFlags) (crm.Target, error) {
	if f.set() {
		return f.target()
	}
	stored, err := a.contextStore().Load()
	if err != nil {
		return crm.Target{}, err
	}
	if t, ok := contextTarget(stored); ok {
		return t, nil
	}
	return crm.Target{}, errNoConversation
}
