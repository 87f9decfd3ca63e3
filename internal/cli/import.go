package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Steven-Chan/chat/internal/record"
)

// ImportResult is the import command's output.
type ImportResult struct {
	File     string `json:"file"`
	Imported int    `json:"imported"`
}

// importFile is the document shape accepted by import. A bare list of
// messages is accepted too.
type importFile struct {
	Messages []record.Record `yaml:"messages"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load historical messages without linking them",
		Long: `Load historical messages from a YAML or JSON file in one atomic write.

Imported messages bypass the insert-time linker and are stored without a
previous link; run backfill afterwards. Every message needs a conversation
and a positive seq. Missing ids are generated.

File format, a "messages" list or a bare list:
  messages:
    - {id: m1, conversation: c1, seq: 1, body: hi}
    - {id: m2, conversation: c1, seq: 4}

Examples:
  chatlink import history.yaml
  chatlink import history.json && chatlink backfill`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	recs, err := readImportFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read import file", err)
	}

	e, err := openEnv(cmd, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.store.Import(commandContext(cmd), recs)
	if err != nil {
		return wrapLinkError("import failed", err)
	}

	result := ImportResult{File: path, Imported: n}
	return e.out.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Imported %d messages from %s\n", n, path)
		fmt.Fprintln(w, "Run 'chatlink backfill' to link them.")
	})
}

// readImportFile parses a YAML or JSON message list. JSON is read by the
// YAML decoder.
func readImportFile(path string) ([]record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, errors.New("file is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if node.Content[0].Kind == yaml.SequenceNode {
		var recs []record.Record
		if err := dec.Decode(&recs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return recs, nil
	}

	var doc importFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Messages, nil
}
