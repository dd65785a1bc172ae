package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PredictLedger/internal/archive"
	"PredictLedger/internal/config"
	"PredictLedger/internal/core"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/lease"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/query"
	"PredictLedger/internal/server"
	"PredictLedger/internal/sweeper"
	"PredictLedger/migrations"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	log := observability.NewLogger("main")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	observability.SetDefaultLevel(cfg.LogLevel)
	log = observability.NewLogger("main")
	log.Info().Msg("PredictLedger starting")

	if os.Getenv("GOGC") == "" {
		log.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	// coreCtx outlives intakeCtx so the final snapshot can still reach the
	// runner after intake has stopped. Output workers run on drainCtx and
	// exit when their channels close, after the runner has stopped.
	coreCtx, cancelCore := context.WithCancel(context.Background())
	defer cancelCore()
	intakeCtx, cancelIntake := context.WithCancel(coreCtx)
	defer cancelIntake()
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Writer lease ---
	// A standby replica blocks here until the active one lets go.
	var (
		rdb       *redis.Client
		writer    *lease.Lease
		leaseLost <-chan struct{}
	)
	if cfg.Redis.Enabled {
		rdb, err = lease.Dial(coreCtx, lease.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer rdb.Close()

		writer = lease.New(rdb, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL.Duration, metrics)
		log.Info().Str("key", cfg.Redis.LeaseKey).Msg("waiting for writer lease")
		if err := writer.Acquire(coreCtx); err != nil {
			log.Fatal().Err(err).Msg("acquire writer lease")
		}
		leaseLost = writer.Keep(coreCtx)
		healthChecker.AddCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime.Duration)

	if err := db.PingContext(coreCtx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	healthChecker.AddCheck("postgres", db.PingContext)
	log.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, migrations.Files).Up(coreCtx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	snapMgr := persistence.NewSnapshotManager(db)
	latest, err := snapMgr.GetLatestSequence(coreCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("read log head")
	}

	// --- Channels ---
	// Persist blocks (backpressure); projection and publish drop when full.
	persistChan := make(chan core.CoreOutput, cfg.Processor.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Processor.ProjectionChanSize)
	var publishChan chan core.CoreOutput
	outputs := core.Outputs{Persist: persistChan, Projection: projectionChan}
	if cfg.NATS.Enabled {
		publishChan = make(chan core.CoreOutput, cfg.Processor.PublishChanSize)
		outputs.Publish = publishChan
	}

	// --- Recovery ---
	processor, err := recoverProcessor(coreCtx, snapMgr, outputs,
		cfg.Processor.IdempotencyLRUCapacity,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("recovery failed")
	}
	runner := core.NewRunner(processor, cfg.Processor.QueueSize)

	var archiver *archive.Archiver
	if cfg.S3.Enabled {
		client, err := archive.NewClient(coreCtx, archive.Options{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("s3 client")
		}
		archiver = archive.New(client, cfg.S3.Bucket, cfg.S3.Prefix, snapMgr, metrics)
	}

	snaps := &snapshotter{
		db:       db,
		runner:   runner,
		snapMgr:  snapMgr,
		archiver: archiver,
		metrics:  metrics,
		log:      observability.NewLogger("snapshot"),
	}

	// --- Start goroutines ---
	errChan := make(chan error, 16)

	// 1. Processor
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(coreCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("runner: %w", err)
		}
	}()

	// 2. Persistence worker
	persistDone := make(chan struct{})
	persistWorker := persistence.NewPersistenceWorker(db, persistChan,
		cfg.Processor.PersistBatchSize, cfg.Processor.PersistFlushTimeout.Duration, metrics)
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(drainCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence: %w", err)
		}
	}()

	// 3. Projection worker, which also feeds the recent-trades buffer
	trades := projection.NewTradeHistory(cfg.Processor.TradeHistorySize)
	projWorker := projection.NewProjectionWorker(db, projectionChan, trades, metrics)
	go func() {
		if err := projWorker.Run(drainCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection: %w", err)
		}
	}()

	// Genesis config is only installed into an empty log. Its command id is
	// derived from the authority, so a racing restart is deduplicated.
	if latest < 0 && cfg.Genesis.Enabled {
		cmd, err := cfg.Genesis.Command(time.Now().Unix())
		if err != nil {
			log.Fatal().Err(err).Msg("genesis config")
		}
		out, err := runner.Submit(coreCtx, cmd)
		switch {
		case err != nil:
			log.Fatal().Err(err).Msg("submit genesis config")
		case out.Err != nil:
			log.Fatal().Err(out.Err).Msg("genesis config rejected")
		case !out.Duplicate:
			log.Info().Str("authority", cfg.Genesis.Authority).Msg("genesis config installed")
		}
	}

	// 4. NATS ingestion and outbound events
	parser := ingestion.NewParser()
	var subscriber *ingestion.NATSSubscriber
	if cfg.NATS.Enabled {
		natsLog := observability.NewLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLog)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(coreCtx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure command stream")
		}
		if err := ingestion.EnsureOutboundStream(coreCtx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure event stream")
		}

		rawChan := make(chan ingestion.RawCommand, cfg.Processor.QueueSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan)
		if err := subscriber.Subscribe(intakeCtx); err != nil {
			log.Fatal().Err(err).Msg("nats subscribe")
		}
		go ingestion.RunIngestionLoop(intakeCtx, rawChan, parser, runner, natsLog)

		publisher := ingestion.NewOutboundPublisher(js, publishChan)
		go func() {
			if err := publisher.Run(drainCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("publisher: %w", err)
			}
		}()
	}

	// 5. Stale-market sweeper
	var sweep *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		operator := uuid.MustParse(cfg.Sweeper.Operator) // checked by Validate
		sweep = sweeper.New(sweeper.RunnerEngine{Runner: runner}, operator, cfg.Sweeper.Interval.Duration)
		sweep.Start(intakeCtx)
	}

	// 6. Periodic snapshots
	go snaps.runPeriodicSnapshots(intakeCtx, cfg.Processor.SnapshotInterval, cfg.Processor.SnapshotCheckEvery.Duration)

	// 7. gRPC health + HTTP API
	apiServer, err := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		QueryService:  query.NewQueryService(db, query.Units{Decimals: cfg.DisplayDecimals}),
		IngestService: ingestion.NewAdminIngestService(parser, runner),
		Trades:        trades,
		Admin:         snaps,
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build server")
	}
	go func() {
		if err := apiServer.StartGRPC(intakeCtx); err != nil {
			errChan <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		if err := apiServer.StartHTTPGateway(intakeCtx); err != nil {
			errChan <- fmt.Errorf("http: %w", err)
		}
	}()

	// 8. Prometheus metrics
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-intakeCtx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	apiServer.SetServing(true)
	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", runner.Sequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("PredictLedger ready")

	// --- Wait for shutdown ---
	finalSnapshot := true
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	case <-leaseLost:
		// Another replica may already be writing.
		log.Error().Msg("writer lease lost, stopping without final snapshot")
		finalSnapshot = false
	}

	// --- Graceful shutdown ---
	// Stop intake, snapshot while the core is still running, then drain.
	healthChecker.SetReady(false)
	apiServer.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	if sweep != nil {
		sweep.Stop()
	}
	cancelIntake()

	if finalSnapshot {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if seq, err := snaps.TakeSnapshot(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("final snapshot failed")
		} else {
			log.Info().Int64("sequence", seq).Msg("final snapshot saved")
		}
		shutdownCancel()
	}

	cancelCore()
	<-runnerDone

	// The runner was the only sender.
	close(persistChan)
	close(projectionChan)
	if publishChan != nil {
		close(publishChan)
	}
	select {
	case <-persistDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("persistence worker did not drain in time")
	}
	cancelDrain()

	if writer != nil && finalSnapshot {
		releaseCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		if err := writer.Release(releaseCtx); err != nil {
			log.Warn().Err(err).Msg("release writer lease")
		}
		c()
	}

	log.Info().Msg("PredictLedger shutdown complete")
}
