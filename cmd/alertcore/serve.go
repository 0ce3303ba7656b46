package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"alertcore/internal/actions"
	"alertcore/internal/alerts"
	"alertcore/internal/api"
	"alertcore/internal/config"
	"alertcore/internal/definitions"
	"alertcore/internal/engine"
	"alertcore/internal/ingest"
	"alertcore/internal/logging"
	"alertcore/internal/metrics"
	"alertcore/internal/model"
	"alertcore/internal/query"
	"alertcore/internal/storage"
)

const maxTenantMetrics = 10000

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion, the rule engine and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfgManager, err := config.NewManager(config.ResolvePath(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	if cfg.LogFile != "" {
		var closer io.Closer
		logger, closer = logging.NewFileLogger(cfg.LogLevel, cfg.LogFile)
		defer closer.Close()
	}
	slog.SetDefault(logger)
	logger.Info("alertcore starting", "version", version, "config", cfgManager.Path())

	backend, err := storage.NewBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer backend.Close()
	if err := backend.Init(ctx); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	dispatcher := actions.Multi{actions.LogDispatcher{Logger: logger}}
	if cfg.Actions.NATS.Enabled {
		natsDispatcher, err := actions.NewNATSDispatcher(cfg.Actions.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer natsDispatcher.Close()
		dispatcher = append(dispatcher, natsDispatcher)
	}

	metricsStore := metrics.NewStore(maxTenantMetrics)
	queries := query.NewEngine(backend, cfg.Retention, logger)
	svc := alerts.NewService(queries, dispatcher, logger)

	defs := definitions.NewStore()
	if cfg.TriggersFile != "" {
		if err := defs.LoadFile(cfg.TriggersFile); err != nil {
			return fmt.Errorf("triggers: %w", err)
		}
	}
	rules := engine.NewEngine(defs, svc, metricsStore, logger)
	rules.SetDedupeWindow(cfg.Ingest.DedupeWindow)
	defs.SetReloader(rules)
	svc.SetTriggerStore(defs)
	svc.SetLiveTriggers(rules)
	svc.SetEventSink(rules)
	if err := rules.LoadAll(ctx); err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	logger.Info("triggers loaded", "count", rules.LoadedCount())

	g, ctx := errgroup.WithContext(ctx)

	events := make(chan *model.Event, cfg.Ingest.ChannelBuffer)
	g.Go(func() error {
		ingest.Forward(ctx, events, svc, cfgManager, logger)
		return nil
	})
	ingest.StartKafka(ctx, cfgManager, events, metricsStore, logger)
	api.Start(ctx, cfgManager, svc, rules, metricsStore, logger, version)

	g.Go(func() error {
		purgeLoop(ctx, backend, cfgManager, logger)
		return nil
	})
	g.Go(func() error {
		cfgManager.Watch(3*time.Second, func(next *config.Config) {
			queries.UpdateRetention(next.Retention)
			rules.SetDedupeWindow(next.Ingest.DedupeWindow)
			logger.Info("config reloaded", "path", cfgManager.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, ctx.Done())
		return nil
	})

	err = g.Wait()
	logger.Info("alertcore stopped")
	return err
}

// purgeLoop drops expired records for backends without native expiry.
func purgeLoop(ctx context.Context, backend storage.Backend, cfg *config.Manager, logger *slog.Logger) {
	interval := cfg.Get().Retention.PurgeInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := backend.Purge(ctx)
			if err != nil {
				logger.Warn("purge failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("expired records purged", "count", n)
			}
			if next := cfg.Get().Retention.PurgeInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
