package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Steven-Chan/chat/internal/config"
	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Streamed bool
}

// BackfillResult is the backfill command's output.
type BackfillResult struct {
	Backend       string `json:"backend"`
	Mode          string `json:"mode"`
	Records       int64  `json:"records"`
	Conversations int64  `json:"conversations"`
	Changed       int64  `json:"changed"`
	DurationMS    int64  `json:"duration_ms"`
	Digest        string `json:"digest"`
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Recompute every previous-message link",
		Long: `Recompute the previous-message link of every stored message in one
atomic run. Running it again without new messages changes nothing.

Run it during a quiet period: inserts committed after the run starts are
not considered.

Exit codes:
  0 - Links recomputed
  1 - Refused (duplicate sequence in a conversation); nothing was changed
  2 - Command error (store unavailable, bad config, etc.)

Examples:
  chatlink backfill --db ./chatlink.db
  chatlink backfill --backend pebble --db ./chatlink.pebble --format json
  chatlink backfill --streamed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Streamed, "streamed", false, "stream links through an ordered scan instead of one windowed update (SQLite)")

	return cmd
}

func runBackfill(opts *BackfillOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, func(cfg *config.Config) {
		if opts.Streamed {
			cfg.Backfill.Streamed = true
		}
	})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	report, err := link.NewBackfill(e.linkOptions()...).RepairAllLinks(ctx, e.store)
	if err != nil {
		return wrapLinkError("backfill failed", err)
	}

	digest, err := storeDigest(ctx, e)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read chain", err)
	}

	result := BackfillResult{
		Backend:       e.cfg.Backend,
		Mode:          report.Mode,
		Records:       report.Records,
		Conversations: report.Conversations,
		Changed:       report.Changed,
		DurationMS:    report.Duration.Milliseconds(),
		Digest:        digest,
	}
	return e.out.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Backfill complete (%s, %s)\n", result.Backend, result.Mode)
		fmt.Fprintf(w, "  Records:       %d\n", result.Records)
		fmt.Fprintf(w, "  Conversations: %d\n", result.Conversations)
		fmt.Fprintf(w, "  Links changed: %d\n", result.Changed)
		fmt.Fprintf(w, "  Duration:      %dms\n", result.DurationMS)
		fmt.Fprintf(w, "  Digest:        %s\n", result.Digest)
	})
}

// storeDigest fingerprints every link in the store.
func storeDigest(ctx context.Context, e *env) (string, error) {
	all, err := e.store.ReadAll(ctx)
	if err != nil {
		return "", err
	}
	return record.ChainDigest(record.RecordLinks(all))
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
