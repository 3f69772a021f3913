// Package cli implements the crmchat command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/crmchat/internal/config"
	"github.com/tOgg1/crmchat/internal/credentials"
	"github.com/tOgg1/crmchat/internal/crmapi"
	"github.com/tOgg1/crmchat/internal/logging"
	"github.com/tOgg1/crmchat/internal/metrics"
	"github.com/tOgg1/crmchat/internal/session"
	"github.com/tOgg1/crmchat/internal/timestamp"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	baseURL    string
	logLevel   string
	logFormat  string
	jsonOutput bool
	noColor    bool
}

// app carries the state built once per invocation by the root pre-run hook.
type app struct {
	opts    globalOptions
	loader  *config.Loader
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	out     io.Writer
	errOut  io.Writer
	styles  styles
	now     func() time.Time
	logFile *os.File
}

// Execute runs the root command.
func Execute(version string) error {
	err := newRootCmd(version).Execute()
	if err != nil && crmapi.IsRetryable(err) {
		return fmt.Errorf("%w (temporary failure, try again)", err)
	}
	return err
}

func newRootCmd(version string) *cobra.Command {
	a := &app{now: time.Now}

	cmd := &cobra.Command{
		Use:   "crmchat",
		Short: "Read and answer CRM conversations from the terminal",
		Long: `crmchat syncs conversation messages from a CRM messaging backend.

It lists conversations with unread counts, pages through message history,
follows a conversation live and sends replies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.opts.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/crmchat/config.yaml)")
	flags.StringVar(&a.opts.baseURL, "base-url", "", "CRM API base URL")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "log format (console, json)")
	flags.BoolVar(&a.opts.jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&a.opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newConversationsCmd(a),
		newMessagesCmd(a),
		newWatchCmd(a),
		newSendCmd(a),
		newMarkReadCmd(a),
		newUseCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newConfigCmd(a),
	)

	return cmd
}

// init loads configuration and sets up logging. Flags override every other
// configuration source.
func (a *app) init(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()

	a.loader = config.NewLoader()
	if a.opts.configFile != "" {
		a.loader.SetConfigFile(a.opts.configFile)
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		a.loader.Set("api.base_url", a.opts.baseURL)
	}
	if flags.Changed("log-level") {
		a.loader.Set("logging.level", a.opts.logLevel)
	}
	if flags.Changed("log-format") {
		a.loader.Set("logging.format", a.opts.logFormat)
	}

	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logOut := a.errOut
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		logOut = f
	}
	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       logOut,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	a.logger = logging.Component("cli")

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	a.styles = newStyles(a.out, a.opts.noColor)
	return nil
}

func (a *app) close() error {
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	return err
}

func (a *app) timestampOptions() timestamp.Options {
	return timestamp.Options{
		AssumeUTC:    a.cfg.Timestamps.AssumeUTC,
		AssumeOffset: a.cfg.Timestamps.AssumeOffset,
	}
}

// credentialChain returns the token sources in configured precedence.
func (a *app) credentialChain() credentials.Chain {
	return credentials.Chain{
		credentials.Static(a.cfg.Credentials.Token),
		credentials.Env(a.cfg.Credentials.EnvVar),
		credentials.NewFileStore(a.cfg.Credentials.File),
	}
}

// client builds the API client. An expired token is reported but still sent,
// the backend has the final say.
func (a *app) client(ctx context.Context) (*crmapi.Client, error) {
	chain := a.credentialChain()
	token, err := chain.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if token != "" && credentials.Expired(token, a.now()) {
		fmt.Fprintln(a.errOut, a.styles.warn("warning: stored token has expired; run `crmchat login`"))
	}

	return crmapi.NewClient(a.cfg.API.BaseURL,
		crmapi.WithTimeout(a.cfg.API.Timeout),
		crmapi.WithCredentials(chain),
		crmapi.WithChannel(a.cfg.API.Channel),
		crmapi.WithTimestampOptions(a.timestampOptions()),
		crmapi.WithRateLimit(a.cfg.API.RequestsPerSecond, a.cfg.API.Burst),
		crmapi.WithMetrics(a.metrics),
		crmapi.WithLogger(logging.Component("crmapi")),
	)
}

func (a *app) sessionConfig() session.Config {
	return session.Config{
		PageSize:             a.cfg.Sync.PageSize,
		PollLimit:            a.cfg.Sync.PollLimit,
		PollInterval:         a.cfg.Sync.PollInterval,
		SkipOverlappingPolls: a.cfg.Sync.SkipOverlappingPolls,
	}
}

func (a *app) contextStore() *config.ContextStore {
	return config.NewContextStore("")
}
