// Command chatlink maintains previous-message links for conversations.
package main

import (
	"fmt"
	"os"

	"github.com/Steven-Chan/chat/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
