package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oracle-monitor/internal/archive"
	"oracle-monitor/internal/config"
	"oracle-monitor/internal/graph"
	"oracle-monitor/internal/httpapi"
	"oracle-monitor/internal/ingestion"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/pyth"
	"oracle-monitor/internal/router"
	"oracle-monitor/internal/sink"
	"oracle-monitor/internal/solana"
	chstore "oracle-monitor/internal/storage/clickhouse"
	"oracle-monitor/internal/storage/migrations"
	pgstore "oracle-monitor/internal/storage/postgres"
	"oracle-monitor/internal/validation"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Follow the oracle program and validate live price updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.Flags(), map[string]string{
				"solana.cluster":         "cluster",
				"solana.rpc_endpoint":    "rpc",
				"solana.ws_endpoint":     "ws",
				"solana.commitment":      "commitment",
				"solana.program_id":      "program",
				"validation.publisher":   "publisher",
				"http.addr":              "http-addr",
				"storage.postgres_dsn":   "postgres-dsn",
				"storage.clickhouse_dsn": "clickhouse-dsn",
				"alerts.webhook_url":     "webhook-url",
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := run(cfg, logger); err != nil {
				if router.IsFatal(err) {
					logger.Error("monitor stopped on fatal error", zap.Error(err))
				} else {
					logger.Error("monitor failed", zap.Error(err))
				}
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}

	fs := cmd.Flags()
	fs.String("cluster", "", "cluster: mainnet-beta, devnet, testnet, pythnet")
	fs.String("rpc", "", "Solana RPC endpoint (defaults per cluster)")
	fs.String("ws", "", "Solana WebSocket endpoint (defaults per cluster)")
	fs.String("commitment", "", "commitment: processed, confirmed, finalized")
	fs.String("program", "", "oracle program id (defaults per cluster)")
	fs.String("publisher", "", "only validate this publisher")
	fs.String("http-addr", "", "status server address")
	fs.String("postgres-dsn", "", "store validation events in PostgreSQL")
	fs.String("clickhouse-dsn", "", "archive prices in ClickHouse")
	fs.String("webhook-url", "", "post validation events to this URL")
	return cmd
}

func run(cfg *config.Config, logger *zap.Logger) error {
	instanceID := uuid.NewString()
	logger = logger.With(zap.String("instance", instanceID))
	logger.Info("starting oracle monitor",
		zap.String("cluster", cfg.Solana.Cluster),
		zap.String("rpc", cfg.Solana.RPCEndpoint),
		zap.String("program", cfg.Solana.ProgramID),
		zap.String("commitment", cfg.Solana.Commitment))
	observability.MarkStarted()

	vc, err := cfg.ValidatorConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	handleSignals(cancel, done, logger)

	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint, solana.WithCommitment(cfg.Solana.Commitment))

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Commitment = cfg.Solana.Commitment
	wsCfg.Logger = logger
	wsCfg.DialMaxElapsed = cfg.Ingestion.SnapshotMaxElapsed
	ws, err := solana.NewWSClient(ctx, cfg.Solana.WSEndpoint, &wsCfg)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	tc := cfg.TransportConfig()
	tc.Logger = logger
	transport := ingestion.NewTransport(rpc, ws, tc)

	parser := pyth.NewParser()
	rt := router.New(parser, graph.NewResolver(transport, parser, logger), logger)

	engine := validation.NewEngine(vc, logger)
	rt.AddListener(router.PriceListenerFunc(func(u router.PriceUpdate) {
		engine.Process(u.Symbol, u.Record)
	}))

	engine.AddSink(sink.NewLogSink(logger))
	metricsSink := sink.NewMetricsSink(nil)
	engine.AddSink(metricsSink)
	engine.AddObserver(metricsSink.ObserveState)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Alerts.WebhookURL != "" {
		webhook := sink.NewWebhookSink(sink.WebhookConfig{
			URL:        cfg.Alerts.WebhookURL,
			InstanceID: instanceID,
			Logger:     logger,
		})
		engine.AddSink(webhook)
		g.Go(func() error { return webhook.Run(gctx) })
	}

	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			return err
		}
		store := sink.NewStoreSink(pgstore.NewEventStore(pool), sink.StoreConfig{
			InstanceID: instanceID,
			Logger:     logger,
		})
		engine.AddSink(store)
		g.Go(func() error { return store.Run(gctx) })
		logger.Info("storing validation events in postgres")
	}

	scheduler := cron.New()
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		recorder := archive.NewRecorder(chstore.NewPriceArchive(conn), instanceID, archive.WithLogger(logger))
		rt.AddListener(recorder)
		if _, err := scheduler.AddFunc(cfg.Archive.FlushSchedule, func() {
			_ = recorder.Flush(gctx)
		}); err != nil {
			return fmt.Errorf("archive flush schedule %q: %w", cfg.Archive.FlushSchedule, err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = recorder.Flush(flushCtx)
		}()
		logger.Info("archiving prices in clickhouse", zap.String("schedule", cfg.Archive.FlushSchedule))
	}

	if _, err := scheduler.AddFunc("@every 5m", func() { logSummary(engine, logger) }); err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Router:  rt,
		Updates: transport.Updates(),
		Backlog: transport.Backlog,
		Logger:  logger,
	})

	g.Go(func() error { return transport.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		return httpapi.Serve(gctx, cfg.HTTP.Addr, httpapi.NewHandler(httpapi.Options{
			InstanceID: instanceID,
			Status:     engine,
			Logger:     logger,
		}), logger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleSignals cancels on the first SIGINT/SIGTERM and exits on the second
// or when shutdown takes longer than 30s.
func handleSignals(cancel context.CancelFunc, done <-chan struct{}, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		var sig os.Signal
		select {
		case sig = <-sigCh:
		case <-done:
			return
		}
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", zap.Stringer("signal", sig))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()
}

func logSummary(engine *validation.Engine, logger *zap.Logger) {
	states := engine.Snapshot()
	active := 0
	symbols := make(map[string]struct{})
	for _, st := range states {
		symbols[st.Symbol] = struct{}{}
		if st.Active {
			active++
		}
	}
	logger.Info("publisher summary",
		zap.Int("symbols", len(symbols)),
		zap.Int("publishers", len(states)),
		zap.Int("active", active))
}
