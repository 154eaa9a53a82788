package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
	"github.com/fyrsmithlabs/refmerge/internal/events"
)

var (
	eventsURL     string
	eventsSubject string
)

func init() {
	eventsCmd.Flags().StringVar(&eventsURL, "nats", config.DefaultEventsURL, "NATS server URL")
	eventsCmd.Flags().StringVar(&eventsSubject, "subject", config.DefaultEventsSubject, "base subject refmerged publishes on")
	rootCmd.AddCommand(eventsCmd)
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream merge events published by refmerged",
	Long: `Subscribe to the merge events refmerged publishes to NATS and print each
one as a JSON line until interrupted.

Examples:
  refmerge events --nats nats://127.0.0.1:4222`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func runEvents(cmd *cobra.Command, _ []string) error {
	nc, err := nats.Connect(eventsURL, nats.Name("refmerge-cli"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", eventsURL, err)
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.PrintErrf("Listening on %s.>\n", eventsSubject)
	return events.Subscribe(ctx, nc, eventsSubject, zap.NewNop(), func(ev events.Event) {
		_ = printJSON(cmd, ev)
	})
}
