package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nfrund/datahub/internal/app"
	"github.com/nfrund/datahub/internal/config"
	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/publisher"
	"github.com/nfrund/datahub/internal/pubsub"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var (
	runSync       bool
	runShowEvents bool
)

// record is one line of run's input.
type record struct {
	Publisher string          `json:"publisher"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the topology and publish records read from stdin",
	Long: `Run builds the hub, every publisher and every subscriber of the topology, then reads
one JSON record per line from stdin and publishes it:

  {"publisher": "cam1", "topic": "status", "payload": {"status": "ACTIVE"}}

Subscribers log each topic they handle. Run stops at end of input or on interrupt,
after in-flight deliveries finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runTopology(ctx, cmd.InOrStdin())
	},
}

func runTopology(ctx context.Context, in io.Reader) error {
	topo, err := config.LoadTopology(fs, topologyPath)
	if err != nil {
		return err
	}

	injector := app.NewContainer(cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		injector.ShutdownWithContext(shutdownCtx)
	}()

	rt, err := app.Build(injector, topo, app.LogBindings(slog.Default()))
	if err != nil {
		return err
	}

	if runShowEvents {
		stream := do.MustInvoke[*pubsub.EventStream](injector)
		if err := stream.Subscribe(ctx, logEvent); err != nil {
			return fmt.Errorf("subscribing to delivery events: %w", err)
		}
	}

	rt.Start(ctx)
	publishLines(ctx, rt, in)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.Stop(stopCtx)
}

// publishLines publishes each input record until EOF or ctx ends. Bad lines are logged
// and skipped.
func publishLines(ctx context.Context, rt *app.Runtime, in io.Reader) {
	mode := publisher.Async()
	if runSync {
		mode = publisher.Sync()
	}

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("Failed to read input", "error", err)
		}
	}()

	for n := 1; ; n++ {
		var line []byte
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("Skipping malformed record", "line", n, "error", err)
			continue
		}
		if err := rt.Publish(ctx, rec.Publisher, rec.Topic, rec.Payload, mode); err != nil {
			slog.Error("Publish failed", "line", n, "publisher", rec.Publisher, "topic", rec.Topic, "error", err)
		}
	}
}

func logEvent(_ context.Context, ev hub.DeliveryEvent) error {
	level := slog.LevelDebug
	if ev.State == hub.StateDropped || ev.State == hub.StateFailed {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "Delivery event", "scope", "events",
		"dispatch_id", ev.DispatchID, "topic", ev.Topic, "subscriber", ev.Subscriber,
		"state", ev.State, "error", ev.Error)
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSync, "sync", false, "Wait for each record to be delivered before reading the next")
	runCmd.Flags().BoolVar(&runShowEvents, "events", false, "Log every delivery state transition")
}
