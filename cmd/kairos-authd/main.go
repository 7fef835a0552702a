// Command kairos-authd serves the authentication API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/kairosauth"
	"github.com/MrEthical07/kairosauth/httpapi"
	"github.com/MrEthical07/kairosauth/internal/audit"
	"github.com/MrEthical07/kairosauth/internal/config"
	"github.com/MrEthical07/kairosauth/internal/logger"
	"github.com/MrEthical07/kairosauth/internal/scheduler"
	promexport "github.com/MrEthical07/kairosauth/metrics/export/prometheus"
	"github.com/MrEthical07/kairosauth/notify"
	"github.com/MrEthical07/kairosauth/store/postgres"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	lg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("cannot build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("kairos-authd stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	lg.Info("database ready")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	lg.Info("redis ready")

	notifier, closeNotifier := buildNotifier(cfg, lg)
	defer closeNotifier()

	sink, closeSink := buildAuditSink(cfg, db, lg)
	defer closeSink()

	engine, err := kairosauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(postgres.NewCredentials(db)).
		WithTokenStore(postgres.NewTokens(db)).
		WithNotifier(notifier).
		WithAuditSink(sink).
		WithLogger(lg.Named("engine")).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)

	router := httpapi.NewRouter(engine, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.SecureCookies,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         lg.Named("http"),
	})

	jobs := scheduler.New(engine, lg.Named("scheduler"))
	if err := jobs.Start(cfg.TokenPurgeSchedule); err != nil {
		return err
	}
	defer func() { <-jobs.Stop().Done() }()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildNotifier publishes to RabbitMQ when configured and reachable, and
// falls back to logging the links otherwise.
func buildNotifier(cfg *config.Config, lg *zap.Logger) (notify.Notifier, func()) {
	if cfg.RabbitMQURL == "" {
		lg.Warn("RABBITMQ_URL not set, notifications are only logged")
		return notify.NewLogNotifier(lg.Named("notify")), func() {}
	}
	n, err := notify.DialAMQP(cfg.RabbitMQURL, cfg.NotifyExchange)
	if err != nil {
		lg.Warn("rabbitmq unavailable, notifications are only logged", zap.Error(err))
		return notify.NewLogNotifier(lg.Named("notify")), func() {}
	}
	lg.Info("rabbitmq notifier connected", zap.String("exchange", cfg.NotifyExchange))
	return n, func() { _ = n.Close() }
}

func buildAuditSink(cfg *config.Config, db *sql.DB, lg *zap.Logger) (kairosauth.AuditSink, func()) {
	var (
		sinks   kairosauth.MultiSink
		closers []func()
	)
	if cfg.AuditToPostgres {
		sinks = append(sinks, postgres.NewAuditSink(db, lg.Named("audit")))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := audit.NewKafkaProducer(audit.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaAuditTopic})
		if err != nil {
			lg.Warn("kafka unavailable, audit events not published", zap.Error(err))
		} else {
			k := audit.NewKafkaSink(producer, cfg.KafkaAuditTopic, lg.Named("audit"))
			sinks = append(sinks, k)
			closers = append(closers, func() { _ = k.Close() })
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, kairosauth.NewJSONWriterSink(os.Stdout))
	}
	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
