package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/crmchat/internal/credentials"
)

func newLoginCmd(a *app) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for the CRM API",
		Long: `Store a bearer token in the credentials file.

Without --token the token is read from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					token = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read token: %w", err)
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("token is empty")
			}

			if exp, ok := credentials.Expiry(token); ok {
				if credentials.Expired(token, a.now()) {
					return fmt.Errorf("token expired %s", humanize.RelTime(exp, a.now(), "ago", "from now"))
				}
				defer fmt.Fprintln(a.out, a.styles.dim("token expires "+humanize.RelTime(exp, a.now(), "ago", "from now")))
			}

			store := credentials.NewFileStore(a.cfg.Credentials.File)
			if err := store.Save(token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(a.out, "Token saved to %s\n", store.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := credentials.NewFileStore(a.cfg.Credentials.File)
			if err := store.Clear(); err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			fmt.Fprintln(a.out, "Token removed")
			return nil
		},
	}
}
