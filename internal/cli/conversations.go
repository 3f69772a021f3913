package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/inbox"
	"github.com/tOgg1/crmchat/internal/logging"
)

func newConversationsCmd(a *app) *cobra.Command {
	var (
		owner int64
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls", "inbox"},
		Short:   "List conversations, unread first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !cmd.Flags().Changed("owner") {
				stored, err := a.contextStore().Load()
				if err != nil {
					return err
				}
				owner = stored.OwnerID
			}
			if owner < 0 {
				return fmt.Errorf("invalid owner %d", owner)
			}
			if limit <= 0 {
				limit = a.cfg.Sync.ConversationPageSize
			}

			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			target := crm.Target{}
			if owner > 0 {
				target = crm.ForOwner(owner)
			}
			list := inbox.NewList(client, target, limit,
				inbox.WithMetrics(a.metrics),
				inbox.WithLogger(logging.Component("inbox")),
			)
			if err := list.LoadFirst(ctx); err != nil {
				return err
			}
			for all && list.HasMore() {
				if err := list.LoadMore(ctx); err != nil {
					return err
				}
			}

			convs := list.Conversations()
			if a.opts.jsonOutput {
				views := make([]conversationView, 0, len(convs))
				for _, c := range convs {
					views = append(views, newConversationView(c))
				}
				return writeJSON(a.out, views)
			}

			if len(convs) == 0 {
				fmt.Fprintln(a.out, "No conversations.")
				return nil
			}
			headers := []string{"TARGET", "NAME", "UNREAD", "WHEN", "LAST MESSAGE"}
			if err := writeTable(a.out, a.styles, headers, a.styles.conversationRows(convs, a.now())); err != nil {
				return err
			}

			summary := fmt.Sprintf("%s, %s unread", formatCount(len(convs), "conversation", "conversations"), formatCount(list.UnreadTotal(), "message", "messages"))
			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, a.styles.dim(summary))
			printHints(a, hintContext{action: "conversations", hasMore: list.HasMore(), conversations: convs})
			return nil
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "only conversations of this owner (default from `crmchat use --owner`)")
	cmd.Flags().IntVar(&limit, "limit", 0, "conversations per page (default sync.conversation_page_size)")
	cmd.Flags().BoolVar(&all, "all", false, "load every page")

	return cmd
}
