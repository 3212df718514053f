package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cfnats "github.com/uvalang/uvalens/internal/adapter/nats"
)

func newEventsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [type]",
		Short: "Follow host events published to NATS by a running bridge",
		Long: `events prints the events a "serve" process publishes, one JSON envelope per
line. The optional type filters by event type, e.g. "server.notification".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if cfg.Events.NATSURL == "" {
				return errors.New("no NATS URL configured (events.nats_url or --nats-url)")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus, err := cfnats.Connect(ctx, cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			subject := bus.Subject(">")
			if len(args) == 1 {
				subject = bus.Subject(args[0])
			}
			out := json.NewEncoder(cmd.OutOrStdout())
			unsubscribe, err := bus.Subscribe(ctx, subject, func(_ context.Context, _ string, data []byte) error {
				var env cfnats.Envelope
				if err := json.Unmarshal(data, &env); err != nil {
					return fmt.Errorf("decode event: %w", err)
				}
				return out.Encode(env)
			})
			if err != nil {
				return err
			}
			defer unsubscribe()

			<-ctx.Done()
			return nil
		},
	}
	stringOverride(cmd, &c.overrides.NATSURL, "nats-url", "NATS server URL")
	return cmd
}
