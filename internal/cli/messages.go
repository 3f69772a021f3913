package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/crmchat/internal/logging"
	"github.com/tOgg1/crmchat/internal/session"
)

func newMessagesCmd(a *app) *cobra.Command {
	var (
		target targetFlags
		limit  int
		all    bool
	)

	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"log"},
		Short:   "Show the messages of a conversation, oldest first",
		Long: `Show the messages of a conversation, oldest first.

Opening a conversation marks its inbound messages read.`,
		Args: cobra.NoArgs,
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

			cfg := a.sessionConfig()
			if limit > 0 {
				cfg.PageSize = limit
			}
			s, err := session.New(client, t, cfg,
				session.WithMetrics(a.metrics),
				session.WithLogger(logging.Component("session")),
			)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Open(ctx); err != nil {
				return err
			}
			for all && s.HasMore() {
				if _, err := s.LoadOlder(ctx); err != nil {
					fmt.Fprintln(a.errOut, a.styles.warn(fmt.Sprintf("warning: %v; showing the messages loaded so far", err)))
					break
				}
			}

			msgs := s.Messages()
			if a.opts.jsonOutput {
				return writeJSON(a.out, messageViews(msgs))
			}
			if len(msgs) == 0 {
				fmt.Fprintf(a.out, "No messages for %s.\n", t)
				return nil
			}
			if err := writeMessages(a.out, a.styles, msgs); err != nil {
				return err
			}
			printHints(a, hintContext{action: "messages", target: t, hasMore: s.HasMore()})
			return nil
		},
	}

	target.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "messages per page (default sync.page_size)")
	cmd.Flags().BoolVar(&all, "all", false, "load the whole history")

	return cmd
}
