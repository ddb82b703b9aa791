package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nfrund/datahub/internal/config"
	"github.com/spf13/cobra"
)

var validateWatch bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topology file",
	Long: `Validate checks that the topology file parses, that every queue is well formed,
that every topic is a known topic, and that no topic is owned by two publishers.

Examples:
  hubctl validate --topology topology.json
  hubctl validate --watch          # re-validate on every save until interrupted`,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := validateTopology(cmd.OutOrStdout(), topologyPath)
		if !validateWatch {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return watchTopology(ctx, cmd.OutOrStdout(), topologyPath)
	},
}

func watchTopology(ctx context.Context, out io.Writer, path string) error {
	fmt.Fprintf(out, "Watching %s for changes...\n", path)
	return config.Watch(ctx, path, func() {
		_ = validateTopology(out, path)
	})
}

// validateTopology prints a one-line verdict for the topology at path.
func validateTopology(out io.Writer, path string) error {
	topo, err := config.LoadTopology(fs, path)
	if err != nil {
		fmt.Fprintf(out, "✗ %s: %v\n", path, err)
		return err
	}

	queues := 0
	for _, s := range topo.Subscribers {
		queues += len(s.Topics)
	}
	fmt.Fprintf(out, "✓ %s: %d publishers, %d subscribers, %d queues\n",
		path, len(topo.Publishers), len(topo.Subscribers), queues)
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVarP(&validateWatch, "watch", "w", false, "Re-validate whenever the file changes")
}
