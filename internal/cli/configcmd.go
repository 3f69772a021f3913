package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tOgg1/crmchat/internal/config"
	"github.com/tOgg1/crmchat/internal/logging"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			if cfg.Credentials.Token != "" {
				cfg.Credentials.Token = logging.RedactedValue
			}
			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = a.out.Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the files crmchat reads and writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			used := a.loader.ConfigFileUsed()
			if used == "" {
				used = "(none)"
			}
			rows := [][]string{
				{"config", used},
				{"context", a.contextStore().Path()},
				{"credentials", a.cfg.Credentials.File},
				{"directory", config.ConfigDir()},
			}
			return writeTable(a.out, a.styles, nil, rows)
		},
	})

	return cmd
}
