package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/crmchat/internal/crm"
	"github.com/tOgg1/crmchat/internal/crmapi"
	"github.com/tOgg1/crmchat/internal/logging"
	"github.com/tOgg1/crmchat/internal/session"
)

const metricsShutdownTimeout = 2 * time.Second

func newWatchCmd(a *app) *cobra.Command {
	var (
		target      targetFlags
		interval    time.Duration
		tail        int
		reply       bool
		owner       int64
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"follow"},
		Short:   "Follow a conversation live",
		Long: `Follow a conversation live, printing new messages as they arrive.

With --reply every line read from stdin is sent to the conversation's
opportunity. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.resolveTarget(target)
			if err != nil {
				return err
			}
			if reply && t.Kind != crm.TargetOpportunity {
				return fmt.Errorf("--reply needs an opportunity conversation, got %s", t)
			}
			if interval < 0 {
				return fmt.Errorf("--interval must be positive")
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = a.cfg.Metrics.Addr
			}

			cfg := a.sessionConfig()
			if interval > 0 {
				cfg.PollInterval = interval
			}

			w := &watcher{
				app:         a,
				target:      t,
				cfg:         cfg,
				tail:        tail,
				reply:       reply,
				owner:       owner,
				in:          cmd.InOrStdin(),
				metricsAddr: metricsAddr,
			}
			return w.run(cmd.Context())
		},
	}

	target.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default sync.poll_interval)")
	cmd.Flags().IntVar(&tail, "tail", 10, "number of existing messages to print first")
	cmd.Flags().BoolVar(&reply, "reply", false, "send lines read from stdin")
	cmd.Flags().Int64Var(&owner, "owner", 0, "responsible user for replies")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default metrics.addr)")

	return cmd
}

// watcher streams one conversation until the context ends or the process
// is interrupted.
type watcher struct {
	app         *app
	target      crm.Target
	cfg         session.Config
	tail        int
	reply       bool
	owner       int64
	in          io.Reader
	metricsAddr string

	// printed is only touched from the session's update callback, which
	// the session serializes.
	printed map[int64]bool
	opened  bool
	writeMu sync.Mutex
}

func (w *watcher) run(ctx context.Context) error {
	a := w.app

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			a.logger.Debug().Msg("received interrupt, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	stopMetrics, err := w.serveMetrics()
	if err != nil {
		return err
	}
	defer stopMetrics()

	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	s, err := session.New(client, w.target, w.cfg,
		session.WithMetrics(a.metrics),
		session.WithLogger(logging.Component("session")),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	w.printed = make(map[int64]bool)
	s.OnUpdate(w.handle)

	if err := s.Open(ctx); err != nil {
		return err
	}
	w.println(a.styles.dim(fmt.Sprintf("watching %s every %s (Ctrl+C to stop)", w.target, w.cfg.PollInterval)))
	s.Start(ctx)

	if w.reply {
		go w.readReplies(ctx, client, s, cancel)
	}

	<-ctx.Done()
	return nil
}

// handle prints messages not printed before. The first snapshot prints only
// the newest tail messages.
func (w *watcher) handle(u session.Update) {
	msgs := u.Messages
	if !w.opened && u.Reason == session.ReasonOpen {
		w.opened = true
		skip := len(msgs) - w.tail
		for i := 0; i < skip; i++ {
			w.printed[msgs[i].ID] = true
		}
	}
	for _, m := range msgs {
		if w.printed[m.ID] {
			continue
		}
		w.printed[m.ID] = true
		w.println(w.app.styles.messageLine(m))
	}
}

func (w *watcher) println(line string) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	fmt.Fprintln(w.app.out, line)
}

// readReplies sends each non-empty stdin line and merges the stored echo so
// it shows up before the next poll. EOF ends the watch.
func (w *watcher) readReplies(ctx context.Context, client *crmapi.Client, s *session.Session, stop context.CancelFunc) {
	scanner := bufio.NewScanner(w.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		body := strings.TrimSpace(scanner.Text())
		if body == "" {
			continue
		}
		sent, err := client.Send(ctx, crmapi.SendRequest{
			Body:          body,
			OpportunityID: w.target.OpportunityID,
			OwnerID:       w.owner,
		})
		if err != nil {
			w.println(w.app.styles.warn("send failed: " + err.Error()))
			continue
		}
		s.Ingest(sent)
	}
	if err := scanner.Err(); err != nil {
		w.app.logger.Warn().Err(err).Msg("reading replies failed")
	}
	stop()
}

// serveMetrics exposes the sync metrics while watching. The listener is
// bound before returning so address errors surface immediately.
func (w *watcher) serveMetrics() (func(), error) {
	a := w.app
	if w.metricsAddr == "" || a.metrics == nil {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", w.metricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
