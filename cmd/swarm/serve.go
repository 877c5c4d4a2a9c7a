package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/agent"
	"github.com/nidhogg/nuka-swarm/internal/api"
	"github.com/nidhogg/nuka-swarm/internal/config"
	"github.com/nidhogg/nuka-swarm/internal/events"
	"github.com/nidhogg/nuka-swarm/internal/metrics"
	"github.com/nidhogg/nuka-swarm/internal/notify"
	pgstore "github.com/nidhogg/nuka-swarm/internal/store"
	"github.com/nidhogg/nuka-swarm/internal/swarm"
	"github.com/nidhogg/nuka-swarm/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg, logger)
		},
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting Nuka Swarm...", zap.String("config", flagConfig))

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Event sinks
	var pubs events.Multi
	notifier := notify.New(logger)
	if url := cfg.Notify.Slack.WebhookURL; url != "" {
		notifier.Register(notify.NewSlackSink(url, logger))
	}
	if dc := cfg.Notify.Discord; dc.BotToken != "" {
		sink, err := notify.NewDiscordSink(dc.BotToken, dc.ChannelID, logger)
		if err != nil {
			logger.Warn("Discord unavailable, running without it", zap.Error(err))
		} else {
			notifier.Register(sink)
		}
	}
	if len(notifier.Platforms()) > 0 {
		pubs = append(pubs, notifier)
	}
	defer notifier.Close()

	if url := cfg.Database.Redis.URL; url != "" {
		bus, err := events.NewBus(url, cfg.Database.Redis.Stream, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(err))
		} else {
			pubs = append(pubs, bus)
			defer bus.Close()
		}
	}

	// History archive
	opts := swarm.Options{
		Executor:        agent.RandomDelay{Min: cfg.Swarm.ExecMin(), Max: cfg.Swarm.ExecMax()},
		IdleInterval:    cfg.Swarm.IdleInterval(),
		DefaultTimeout:  cfg.Swarm.DefaultTimeout,
		Specializations: agent.Rotating(cfg.Swarm.Vocabulary, cfg.Swarm.MaxSpecializationsPerAgent),
		Events:          pubs,
		Metrics:         m,
	}
	var archive api.ArchiveLister
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		ps, err := pgstore.New(context.Background(), dsn, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without archive", zap.Error(err))
		} else {
			if err := ps.Migrate(context.Background()); err != nil {
				ps.Close()
				return err
			}
			defer ps.Close()
			opts.Archive = ps
			archive = ps
		}
	}

	sw := swarm.New(opts, logger.With(zap.String("component", "swarm")))

	for i := 0; i < cfg.Swarm.InitialAgents; i++ {
		if _, err := sw.AddAgent(nil); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup workflows
	wfs, err := workflow.LoadDir(cfg.WorkflowDir, logger)
	if err != nil {
		logger.Error("workflow load failed", zap.String("dir", cfg.WorkflowDir), zap.Error(err))
	}
	for _, wf := range wfs {
		ids, err := workflow.Submit(ctx, sw, wf)
		if err != nil {
			logger.Error("workflow submit failed", zap.String("workflow", wf.Name), zap.Error(err))
			continue
		}
		logger.Info("workflow submitted", zap.String("workflow", wf.Name), zap.Int("tasks", len(ids)))
	}

	// Background loops
	scaler := swarm.NewAutoscaler(sw, swarm.AutoscaleConfig{
		Interval:  cfg.Swarm.AutoscaleInterval(),
		Factor:    cfg.Swarm.AutoscaleFactor,
		MaxAgents: cfg.Swarm.MaxAgents,
	}, pubs, m, logger)
	go scaler.Run(ctx)
	go swarm.NewReaper(sw, cfg.Swarm.ReaperInterval(), logger).Run(ctx)

	// HTTP
	handler := api.NewHandler(sw, notifier, archive, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("Shutting down Nuka Swarm...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("swarm shutdown", zap.Error(err))
	}
	logger.Info("Nuka Swarm stopped")
	return nil
}
