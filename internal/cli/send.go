package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/crmapi"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		opportunity int64
		owner       int64
		channel     string
	)

	cmd := &cobra.Command{
		Use:   "send [flags] <message...>",
		Short: "Send a message to an opportunity",
		Long: `Send a message to an opportunity conversation.

The message is the joined arguments, or stdin when the only argument is "-".
Without --opportunity the conversation selected with ` + "`crmchat use`" + ` is used.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			body := strings.Join(args, " ")
			if len(args) == 1 && args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read message: %w", err)
				}
				body = string(data)
			}
			if strings.TrimSpace(body) == "" {
				return fmt.Errorf("message body is empty")
			}

			if opportunity == 0 {
				t, err := a.resolveTarget(targetFlags{})
				if err != nil {
					return err
				}
				if t.Kind != crm.TargetOpportunity {
					return fmt.Errorf("messages can only be sent to an opportunity; selected %s", t)
				}
				opportunity = t.OpportunityID
			}

			client, err := a.client(ctx)
			if err != nil {
				return err
			}
			sent, err := client.Send(ctx, crmapi.SendRequest{
				Body:          body,
				OpportunityID: opportunity,
				OwnerID:       owner,
				Channel:       channel,
			})
			if err != nil {
				return err
			}

			if a.opts.jsonOutput {
				return writeJSON(a.out, newMessageView(sent))
			}
			fmt.Fprintf(a.out, "Sent message %d to opportunity %d\n", sent.ID, opportunity)
			printHints(a, hintContext{action: "send", target: crm.ForOpportunity(opportunity)})
			return nil
		},
	}

	cmd.Flags().Int64Var(&opportunity, "opportunity", 0, "opportunity ID")
	cmd.Flags().Int64Var(&owner, "owner", 0, "responsible user ID")
	cmd.Flags().StringVar(&channel, "channel", "", "channel (default api.channel)")

	return cmd
}

func newMarkReadCmd(a *app) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "mark-read",
		Short: "Mark the inbound messages of a conversation read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			t, err := a.resolveTarget(target)
			if err != nil {
				return err
			}
			client, err := a.client(ctx)
			if err != nil {
				return err
			}
			if err := client.MarkRead(ctx, t); err != nil {
				a.metrics.MarkRead(false)
				return err
			}
			a.metrics.MarkRead(true)

			if a.opts.jsonOutput {
				return writeJSON(a.out, map[string]any{"target": t.String(), "conversation": t.Key(), "read": true})
			}
			fmt.Fprintf(a.out, "Marked %s read\n", t)
			return nil
		},
	}

	target.register(cmd)
	return cmd
}
