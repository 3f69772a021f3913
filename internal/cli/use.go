package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newUseCmd(a *app) *cobra.Command {
	var (
		target   targetFlags
		name     string
		owner    int64
		clearSel bool
	)

	cmd := &cobra.Command{
		Use:   "use",
		Short: "Select the default conversation and owner",
		Long: `Select the conversation that messages, watch, send and mark-read use
when no target flag is given, and the owner filter of conversations.

Without flags the current selection is shown.`,
		Example: `  crmchat use --opportunity 42 --name "Ana Gómez"
  crmchat use --owner 7
  crmchat use --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.contextStore()

			if clearSel {
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Selection cleared")
				return nil
			}

			stored, err := store.Load()
			if err != nil {
				return err
			}

			changed := false
			if target.set() {
				t, err := target.target()
				if err != nil {
					return err
				}
				stored.SetConversation(t.OpportunityID, t.ContactID, t.Reference, strings.TrimSpace(name))
				changed = true
			} else if cmd.Flags().Changed("name") {
				if !stored.HasConversation() {
					return errNoConversation
				}
				stored.DisplayName = strings.TrimSpace(name)
				changed = true
			}
			if cmd.Flags().Changed("owner") {
				if owner < 0 {
					return fmt.Errorf("invalid owner %d", owner)
				}
				stored.SetOwner(owner)
				changed = true
			}

			if changed {
				if err := store.Save(stored); err != nil {
					return err
				}
			}

			if a.opts.jsonOutput {
				return writeJSON(a.out, stored)
			}
			fmt.Fprintf(a.out, "Selection: %s\n", stored)
			if changed && target.set() {
				printHints(a, hintContext{action: "use"})
			}
			return nil
		},
	}

	target.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "display name for the selected conversation")
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner filter for conversations (0 lists every owner)")
	cmd.Flags().BoolVar(&clearSel, "clear", false, "clear the selection")
	cmd.MarkFlagsMutuallyExclusive("clear", "opportunity")
	cmd.MarkFlagsMutuallyExclusive("clear", "contact")
	cmd.MarkFlagsMutuallyExclusive("clear", "ref")

	return cmd
}
