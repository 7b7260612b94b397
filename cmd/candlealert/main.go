package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"candlealert/config"
	"candlealert/internal/alert"
	"candlealert/internal/collector"
	"candlealert/internal/condition"
	"candlealert/internal/engine"
	"candlealert/internal/indicator"
	"candlealert/internal/metrics"
	"candlealert/internal/notify"
	"candlealert/internal/scheduler"
	"candlealert/logger"
	"candlealert/pkg/binance"
	"candlealert/pkg/storage"
	"candlealert/pkg/storage/memstore"
	"candlealert/pkg/storage/sqlstore"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("candlealert failed", zap.Error(err))
	}
}

func openRepository(cfg *config.Config, log *zap.Logger) (storage.Repository, func(context.Context) bool, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("using in-memory candle storage; history is lost on restart")
		return memstore.New(), nil, func() {}, nil
	case "sqlite":
		client, err := sqlstore.InitializeSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return client, client.IsHealthy, func() { _ = client.Close() }, nil
	default:
		client, err := sqlstore.InitializePostgres(cfg.Postgres, cfg.Log.Environment, cfg.Storage.CreateDatabase)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		return client, client.IsHealthy, func() { _ = client.Close() }, nil
	}
}

func buildNotifier(ctx context.Context, cfg *config.Config, log *zap.Logger) (notify.Notifier, func(), error) {
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Notify.DryRun {
		log.Info("dry run: alerts are only logged")
		return notify.NewLogNotifier(log.Named("notify")), closeAll, nil
	}

	n := cfg.Notify
	multi := notify.NewMulti(log.Named("notify"))
	if n.Telegram.Enabled {
		multi.Add("telegram", notify.NewTelegramNotifier(n.Telegram.BaseURL, n.Telegram.BotToken, n.Telegram.ChatID, n.Timeout, log))
	}
	if n.Webhook.Enabled {
		multi.Add("webhook", notify.NewWebhookNotifier(n.Webhook.URL, n.Timeout, log))
	}
	if n.Redis.Enabled {
		rdb, err := notify.NewRedisClient(ctx, n.Redis.Addr, n.Redis.Password, n.Redis.DB)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		multi.Add("redis", notify.NewRedisNotifier(rdb, n.Redis.Channel, log))
	}
	if n.Kafka.Enabled {
		k, err := notify.NewKafkaNotifier(n.Kafka.Brokers, n.Kafka.Topic, log)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		closers = append(closers, k.Close)
		multi.Add("kafka", k)
	}

	if multi.Len() == 0 {
		log.Warn("no notifier enabled, falling back to log output")
		return notify.NewLogNotifier(log.Named("notify")), closeAll, nil
	}
	return multi, closeAll, nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	series := cfg.Series()
	log.Info("starting candlealert",
		zap.Int("series", len(series)),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("dry_run", cfg.Notify.DryRun),
	)

	repo, probe, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()
	store := storage.NewCandleStore(repo, cfg.Storage.OpenWriteInterval, log.Named("storage"))

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	m := metrics.New()
	health := metrics.NewHealthStatus()

	tracker := condition.NewTracker(condition.Config{
		RecoveryLow:  cfg.Indicators.RSI.RecoveryLow,
		RecoveryHigh: cfg.Indicators.RSI.RecoveryHigh,
		DedupTTL:     cfg.Alerts.DedupTTL,
	}, log.Named("condition"))
	divergence := indicator.NewDivergenceTracker(engine.DivergenceParams(cfg))
	throttler := alert.NewThrottler(alert.ThrottleConfig{
		MaxPerHour:     cfg.Alerts.Throttling.MaxAlertsPerHour,
		MaxPerMinute:   cfg.Alerts.CircuitBreaker.MaxAlertsPerMinute,
		CircuitBreaker: cfg.Alerts.CircuitBreaker.Enabled,
	})

	eng := engine.New(cfg, store, tracker, divergence, throttler, log.Named("engine"))
	eng.SetObserver(m)

	consolidator := alert.NewConsolidator(alert.ConsolidatorConfig{
		Interval:     cfg.Alerts.ConsolidationInterval,
		CleanupEvery: cfg.Alerts.CleanupEvery,
		FlushTimeout: cfg.Alerts.FlushTimeout,
	}, throttler, tracker, notifier, log.Named("alert"))
	consolidator.SetObserver(metrics.NewAlertObserver(m, health))
	configured := eng.Configured()
	consolidator.SetCleanup(func() {
		tags, states := tracker.Prune(configured)
		pivots := divergence.Retain(configured)
		keys := throttler.Prune()
		writes := store.PruneThrottle(time.Hour)
		log.Debug("state cleanup",
			zap.Int("dedup_tags", tags),
			zap.Int("states", states),
			zap.Int("pivot_series", pivots),
			zap.Int("throttle_keys", keys),
			zap.Int("write_entries", writes),
		)
	})

	ws := cfg.Binance.WS
	stream := binance.NewStreamClient(binance.StreamConfig{
		URL:              ws.URL,
		HandshakeTimeout: ws.HandshakeTimeout,
		PingInterval:     ws.PingInterval,
		PongTimeout:      ws.PongTimeout,
		ReceiveTimeout:   ws.ReceiveTimeout,
		WatchdogTimeout:  ws.WatchdogTimeout,
	}, binance.NewBackoff(ws.Backoff.Initial, ws.Backoff.Max, ws.Backoff.Jitter), log.Named("stream"))
	stream.SetObserver(metrics.NewStreamObserver(m, health))

	rest := cfg.Binance.REST
	restClient := binance.NewRESTClient(rest.BaseURL, rest.Timeout, rest.RateLimit, rest.MaxAttempts, log.Named("rest"))
	coll := collector.New(series, rest.BackfillLimit, restClient, stream, store, log.Named("collector"))
	coll.SetObserver(m)

	health.AddSection("alerts_sent", func() interface{} {
		_, sent := consolidator.LastAlert()
		return sent
	})
	health.AddSection("pending_alerts", func() interface{} { return consolidator.Pending() })
	health.AddSection("throttle", func() interface{} { return throttler.Stats() })
	health.AddSection("conditions", func() interface{} { return tracker.Stats() })
	health.StartLivenessChecker(ctx, probe, 30*time.Second)

	var srv *metrics.Server
	if cfg.HTTP.Enabled {
		srv = metrics.NewServer(cfg.HTTP.Addr, m, health, log.Named("http"))
		srv.Start()
	}

	// backfill runs before the stream; the engine starts once history is in place
	backfilled := coll.Backfill(ctx)
	log.Info("backfill done", zap.Int64("stored", backfilled))
	if err := eng.Initialize(ctx); err != nil {
		log.Warn("divergence startup scan failed", zap.Error(err))
	}

	if c := cfg.Storage.Cleanup; c.Enabled {
		daily := &scheduler.Daily{
			Name:         "candle-cleanup",
			HourUTC:      c.HourUTC,
			RunAtStartup: true,
			Logger:       log.Named("scheduler"),
			Job: func(ctx context.Context) error {
				n, err := store.Cleanup(ctx, series, time.Duration(c.RetentionDays)*24*time.Hour, c.MinCandlesPerTF)
				m.CleanedUp(n)
				return err
			},
		}
		daily.Start(ctx)
	}

	candidates := make(chan alert.Candidate, 64)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := coll.Stream(ctx); err != nil {
			log.Error("collector stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		_ = eng.Run(ctx, candidates)
	}()
	go func() {
		defer wg.Done()
		_ = consolidator.Run(ctx, candidates)
	}()

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warn("http server shutdown", zap.Error(err))
		}
	}
	return nil
}
