package cmd

import (
	"os"

	"github.com/nfrund/datahub/internal/config"
	"github.com/nfrund/datahub/internal/logging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	topologyPath string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config

	// fs is where topology files are read from; tests swap in a memory filesystem.
	fs afero.Fs = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "hubctl",
	Short: "Run and inspect an in-process topic hub",
	Long: `hubctl drives a datahub topology: a set of named publishers that own topics and
named subscribers that queue and handle them.

Available commands:
  run        Build the topology and publish records read from stdin
  validate   Check a topology file, optionally re-checking on every change
  topics     Explore the topics a topology uses
  version    Print the version

Configuration is read from the environment (and a .env file):
  LOG_FORMAT, LOG_LEVEL, HUB_MAX_WORKERS, HUB_PENDING_DISPATCHES, HUB_EVENT_BUFFER,
  PUBSUB_TRACING_ENABLED, PUBSUB_TRACING_SERVICE_NAME, PUBSUB_TRACING_ZIPKIN_URL`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.New()
		cfg.Tracing.ServiceVersion = version
		logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topologyPath, "topology", "t", "topology.json", "Path to the topology file")
}
