package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Conversations int
	Messages      int
	Workers       int
	MetricsAddr   string
}

// LoadResult is the load command's output.
type LoadResult struct {
	Inserted      int64         `json:"inserted"`
	Conversations int           `json:"conversations"`
	Workers       int           `json:"workers"`
	DurationMS    int64         `json:"duration_ms"`
	PerSecond     int64         `json:"per_second"`
	Verify        *VerifyResult `json:"verify"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Insert concurrently, then verify every link",
		Long: `Insert messages from many concurrent writers spread over several
conversations, letting the store assign sequences, then verify that every
link is correct.

With --metrics-addr the Prometheus metrics are served on /metrics while
the load runs.

Exit codes:
  0 - All inserts succeeded and every link is correct
  1 - Chain findings after the load
  2 - Command error (insert failed after retries, store unavailable, etc.)

Examples:
  chatlink load --conversations 20 --messages 500 --workers 16
  chatlink load --backend pebble --db /tmp/load.pebble --metrics-addr :9464`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Conversations, "conversations", 10, "number of conversations")
	cmd.Flags().IntVar(&opts.Messages, "messages", 100, "messages per conversation")
	cmd.Flags().IntVar(&opts.Workers, "workers", 8, "concurrent writers")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default: config metrics.addr)")

	return cmd
}

func runLoad(opts *LoadOptions, cmd *cobra.Command) error {
	if opts.Conversations < 1 || opts.Messages < 1 || opts.Workers < 1 {
		return NewExitError(ExitCommandError, "--conversations, --messages and --workers must be positive")
	}

	e, err := openEnv(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)

	addr := opts.MetricsAddr
	if addr == "" {
		addr = e.cfg.Metrics.Addr
	}
	if addr != "" {
		stop, err := serveMetrics(e, addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stop()
	}

	var inserted atomic.Int64
	policy := e.cfg.RetryPolicy()
	total := opts.Conversations * opts.Messages

	e.logger.Info("load starting",
		"conversations", opts.Conversations,
		"messages", total,
		"workers", opts.Workers,
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < total; i++ {
		rec := record.Record{
			ID:           record.NewID(),
			Conversation: fmt.Sprintf("load-%04d", i%opts.Conversations),
			Body:         fmt.Sprintf("message %d", i/opts.Conversations),
		}
		g.Go(func() error {
			err := link.Retry(gctx, policy, func(ctx context.Context) error {
				_, err := e.store.Insert(ctx, rec)
				return err
			})
			if err != nil {
				return fmt.Errorf("insert into %s: %w", rec.Conversation, err)
			}
			inserted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return wrapLinkError("load failed", err)
	}
	elapsed := time.Since(start)

	all, err := e.store.ReadAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read messages", err)
	}
	verified, err := verifyRecords(all)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute digest", err)
	}

	result := LoadResult{
		Inserted:      inserted.Load(),
		Conversations: opts.Conversations,
		Workers:       opts.Workers,
		DurationMS:    elapsed.Milliseconds(),
		Verify:        &verified,
	}
	if elapsed > 0 {
		result.PerSecond = int64(float64(result.Inserted) / elapsed.Seconds())
	}
	e.logger.Info("load complete", "inserted", result.Inserted, "duration", elapsed)

	if err := e.out.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Inserted %d messages into %d conversations with %d workers\n",
			result.Inserted, result.Conversations, result.Workers)
		fmt.Fprintf(w, "  Duration:  %dms (%d/s)\n", result.DurationMS, result.PerSecond)
		if verified.Valid {
			fmt.Fprintf(w, "✓ %d messages, every link correct\n", verified.Records)
		} else {
			fmt.Fprintf(w, "✗ %d findings\n", len(verified.Findings))
			for _, f := range verified.Findings {
				fmt.Fprintf(w, "  %s\n", f)
			}
		}
	}); err != nil {
		return err
	}

	if !verified.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d chain finding(s) after load", len(verified.Findings)))
	}
	return nil
}

// serveMetrics serves e's metrics on addr until the returned stop is called.
func serveMetrics(e *env, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", "error", err)
		}
	}()
	e.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
