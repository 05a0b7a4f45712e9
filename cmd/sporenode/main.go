// Command sporenode runs a single mesh node, or inspects/bootstraps
// one's identity.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/sporemesh/internal/cli/ui"
)

func main() {
	var debug bool

	root := &cobra.Command{
		Use:           "sporenode",
		Short:         "Energy-aware gossip mesh node",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(runCmd())
	root.AddCommand(keygenCmd())
	root.AddCommand(statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s", err))
		os.Exit(1)
	}
}
