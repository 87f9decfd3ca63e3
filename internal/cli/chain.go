package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Steven-Chan/chat/internal/record"
)

// ChainResult is the chain command's output.
type ChainResult struct {
	Conversation string          `json:"conversation"`
	Messages     []record.Record `json:"messages"`
}

// NewChainCommand creates the chain command.
func NewChainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <conversation>",
		Short: "Show a conversation's messages and links",
		Long: `Print the messages of one conversation in sequence order together with
the id of the message each one links to.

Examples:
  chatlink chain support-42
  chatlink chain support-42 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChain(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runChain(opts *RootOptions, conversation string, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	msgs, err := e.store.ReadConversation(commandContext(cmd), conversation)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read conversation", err)
	}
	if msgs == nil {
		msgs = []record.Record{}
	}

	result := ChainResult{Conversation: conversation, Messages: msgs}
	return e.out.Emit(result, func(w io.Writer) {
		if len(msgs) == 0 {
			fmt.Fprintf(w, "No messages in conversation %s.\n", conversation)
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tID\tPREVIOUS")
		for _, m := range msgs {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Seq, m.ID, displayPrevious(m.Previous))
		}
		tw.Flush()
	})
}
