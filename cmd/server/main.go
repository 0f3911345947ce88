package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	httpapi "remittance/internal/http"
	jwttoken "remittance/internal/jwt_token"
	"remittance/internal/platform/config"
	"remittance/internal/platform/httpserver"
	"remittance/internal/platform/kafka"
	"remittance/internal/platform/logger"
	httpmetrics "remittance/internal/platform/metrics"
	"remittance/internal/platform/postgres"
	"remittance/internal/platform/redis"
	"remittance/internal/remittance/admin"
	"remittance/internal/remittance/engine"
	"remittance/internal/remittance/events"
	"remittance/internal/remittance/handler"
	"remittance/internal/remittance/metrics"
	"remittance/internal/remittance/outbox"
	"remittance/internal/remittance/payment"
	"remittance/internal/remittance/store"
	"remittance/internal/remittance/store/memory"
	pgstore "remittance/internal/remittance/store/postgres"
	"remittance/pkg/platform/circuit"
)

const shutdownTimeout = 10 * time.Second

// backend is a store that also exposes its outbox.
type backend interface {
	store.Store
	store.Outbox
}

// main wires the dependencies and runs the HTTP server next to the outbox
// relay until a termination signal arrives.
func main() {
	cfg, err := config.FromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	health := map[string]httpapi.HealthCheck{}
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("failed to release resource", "error", err)
			}
		}
	}()

	var (
		st   backend
		wake <-chan struct{}
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		closers = append(closers, db.Close)
		if err := pgstore.Migrate(ctx, db); err != nil {
			return err
		}
		notifier, err := pgstore.Listen(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		closers = append(closers, notifier.Close)
		st, wake = pgstore.New(db), notifier.C()
		health["postgres"] = db.PingContext
		log.Info("using postgres store")
	} else {
		mem := memory.New()
		st, wake = mem, mem.Notify()
		log.Warn("DATABASE_URL not set, state is kept in memory")
	}

	remMetrics := metrics.New()
	tracer := otel.Tracer("remittance")

	breaker := circuit.New("payment-rail",
		circuit.WithFailureThreshold(cfg.Payment.BreakerThreshold),
		circuit.WithCooldown(cfg.Payment.BreakerCooldown),
	)
	rail := payment.NewBreakerRail(payment.NewLedgerRail(), breaker, log)

	eng, err := engine.New(st, rail,
		engine.WithLogger(log),
		engine.WithMetrics(remMetrics),
		engine.WithTracer(tracer),
	)
	if err != nil {
		return err
	}
	adm, err := admin.New(st, rail,
		admin.WithLogger(log),
		admin.WithMetrics(remMetrics),
		admin.WithTracer(tracer),
	)
	if err != nil {
		return err
	}
	if err := eng.Bootstrap(ctx, cfg.Owner, cfg.TierLimits); err != nil {
		return err
	}

	publishers := events.Fanout{events.NewLogPublisher(log)}
	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	handlerOpts := []handler.Option{
		handler.WithLogger(log),
		handler.WithAdminToken(cfg.AdminToken),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kcfg := kafka.Config{Brokers: cfg.Kafka.Brokers, ClientID: "remittance", Topic: cfg.Kafka.Topic}
		client, err := kafka.NewClient(ctx, kcfg)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { client.Close(); return nil })
		if err := kafka.EnsureTopic(ctx, client, kcfg); err != nil {
			return err
		}
		publishers = append(publishers, events.NewKafkaPublisher(client, kcfg.Topic))
		health["kafka"] = client.Ping
		log.Info("publishing events to kafka", "topic", kcfg.Topic)
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		closers = append(closers, rc.Close)
		publishers = append(publishers, events.NewRedisPublisher(rc.Client, cfg.Redis.Channel))
		handlerOpts = append(handlerOpts, handler.WithRevocations(redis.NewRevocations(rc.Client)))
		health["redis"] = rc.Health
		log.Info("publishing events to redis", "channel", cfg.Redis.Channel)
	}

	relay, err := outbox.New(st, publishers,
		outbox.WithLogger(log),
		outbox.WithMetrics(remMetrics),
		outbox.WithInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithWake(wake),
	)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:  log,
		Metrics: httpmetrics.New(),
		Handler: handler.New(eng, adm, jwttoken.NewJWTServiceAdapter(tokens), handlerOpts...),
		Health:  health,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting remittance api", "addr", cfg.Addr, "owner", cfg.Owner.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Publish what committed before shutdown.
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if _, err := relay.Drain(drainCtx); err != nil {
		log.Warn("outbox not fully drained", "error", err)
	}
	return nil
}
