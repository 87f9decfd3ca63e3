package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// InsertOptions holds flags for the insert command.
type InsertOptions struct {
	*RootOptions
	Conversation string
	Seq          int64
	ID           string
	Body         string
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert one message and link it",
		Long: `Insert one message. The message is linked to the message with the
greatest lower sequence in its conversation before it becomes visible.

Without --seq the store assigns the next store-wide sequence. Without --id
a UUIDv7 is generated. Contention is retried with the configured policy.

Exit codes:
  0 - Message stored
  1 - Rejected (sequence already present, invalid message)
  2 - Command error (store unavailable after retries, bad config, etc.)

Examples:
  chatlink insert --conversation support-42 --body "hello"
  chatlink insert --conversation support-42 --seq 17 --id msg-17`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Conversation, "conversation", "", "conversation the message belongs to (required)")
	cmd.Flags().Int64Var(&opts.Seq, "seq", 0, "sequence number (0 assigns the next one)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "message id (default: generated UUIDv7)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "message body")
	_ = cmd.MarkFlagRequired("conversation")

	return cmd
}

func runInsert(opts *InsertOptions, cmd *cobra.Command) error {
	if opts.Seq < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--seq must not be negative, got %d", opts.Seq))
	}

	e, err := openEnv(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	rec := record.Record{
		ID:           opts.ID,
		Conversation: opts.Conversation,
		Seq:          opts.Seq,
		Body:         opts.Body,
	}
	// Every retry must reuse the same id.
	rec.EnsureID()

	var stored record.Record
	err = link.Retry(commandContext(cmd), e.cfg.RetryPolicy(), func(ctx context.Context) error {
		var err error
		stored, err = e.store.Insert(ctx, rec)
		if err != nil && link.IsRetryable(err) {
			e.logger.Warn("insert failed, retrying", "conversation", rec.Conversation, "error", err)
		}
		return err
	})
	if err != nil {
		return wrapLinkError("insert failed", err)
	}

	return e.out.Emit(stored, func(w io.Writer) {
		fmt.Fprintf(w, "Inserted %s\n", stored.ID)
		fmt.Fprintf(w, "  Conversation: %s\n", stored.Conversation)
		fmt.Fprintf(w, "  Seq:          %d\n", stored.Seq)
		fmt.Fprintf(w, "  Previous:     %s\n", displayPrevious(stored.Previous))
	})
}

func displayPrevious(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}
