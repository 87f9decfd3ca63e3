package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// VerifyResult is the verify command's output.
type VerifyResult struct {
	Records  int            `json:"records"`
	Valid    bool           `json:"valid"`
	Findings []link.Finding `json:"findings"`
	Digest   string         `json:"digest"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every previous-message link",
		Long: `Read every stored message and check that each one links to the message
with the greatest lower sequence in its conversation, that no link crosses
conversations or points at its own message, and that every chain ends.

Exit codes:
  0 - Every link is correct
  1 - One or more findings (run backfill to repair)
  2 - Command error (store unavailable, etc.)

Examples:
  chatlink verify --db ./chatlink.db
  chatlink verify --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}

	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	all, err := e.store.ReadAll(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read messages", err)
	}

	result, err := verifyRecords(all)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute digest", err)
	}

	if err := e.out.Emit(result, func(w io.Writer) {
		if result.Valid {
			fmt.Fprintf(w, "✓ %d messages, every link correct\n", result.Records)
		} else {
			fmt.Fprintf(w, "✗ %d messages, %d findings\n", result.Records, len(result.Findings))
			for _, f := range result.Findings {
				fmt.Fprintf(w, "  %s\n", f)
			}
		}
		fmt.Fprintf(w, "Digest: %s\n", result.Digest)
	}); err != nil {
		return err
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d chain finding(s)", len(result.Findings)))
	}
	return nil
}

func verifyRecords(all []record.Record) (VerifyResult, error) {
	findings := link.Verify(all)
	if findings == nil {
		findings = []link.Finding{}
	}
	digest, err := record.ChainDigest(record.RecordLinks(all))
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{
		Records:  len(all),
		Valid:    len(findings) == 0,
		Findings: findings,
		Digest:   digest,
	}, nil
}
