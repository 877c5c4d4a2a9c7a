package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nidhogg/nuka-swarm/internal/events"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Tail the swarm event stream from Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.Redis.URL == "" {
				return fmt.Errorf("database.redis.url is not configured")
			}
			bus, err := events.NewBus(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
			if err != nil {
				return err
			}
			defer bus.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("tailing events", zap.String("stream", bus.Stream()))
			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range bus.Subscribe(ctx) {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
