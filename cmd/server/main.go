package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"hokhau/internal/platform/config"
	"hokhau/internal/platform/httpserver"
	"hokhau/internal/platform/logger"
	"hokhau/internal/platform/postgres"
	platformredis "hokhau/internal/platform/redis"
	"hokhau/internal/registry/cache"
	"hokhau/internal/registry/handler"
	"hokhau/internal/registry/metrics"
	"hokhau/internal/registry/outbox"
	registrysvc "hokhau/internal/registry/service"
	historysvc "hokhau/internal/registry/service/history"
	householdsvc "hokhau/internal/registry/service/household"
	ledgersvc "hokhau/internal/registry/service/ledger"
	separationsvc "hokhau/internal/registry/service/separation"
	historystore "hokhau/internal/registry/store/history"
	householdstore "hokhau/internal/registry/store/household"
	membershipstore "hokhau/internal/registry/store/membership"
	"hokhau/internal/resident"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()

	households := householdstore.NewPostgres(db)
	memberships := membershipstore.NewPostgres(db)
	historyStore := historystore.NewPostgres(db)
	outboxStore := outbox.NewPostgres(db)
	residents := resident.NewPostgres(db)
	runner := postgres.NewTxRunner(db, cfg.SeparationTxTimeout)

	ledger := ledgersvc.New(memberships, households, ledgersvc.WithLogger(log))
	householdService := householdsvc.New(households, memberships,
		householdsvc.WithLogger(log), householdsvc.WithMetrics(m))
	recorder := historysvc.New(historyStore, outboxStore, historysvc.WithMetrics(m))
	separator := separationsvc.New(ledger, householdService, recorder, residents, runner,
		separationsvc.WithLogger(log), separationsvc.WithMetrics(m))

	opts := []registrysvc.Option{registrysvc.WithLogger(log)}
	if redisClient != nil {
		opts = append(opts, registrysvc.WithCache(
			cache.New(redisClient.Client, cfg.Redis.CacheTTL, log)))
	}
	service := registrysvc.New(ledger, householdService, separator, recorder, residents, runner, opts...)

	router := chi.NewRouter()
	handler.New(service, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", healthz(db, redisClient))

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting registry server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := outbox.NewKafkaPublisher(ctx, cfg.Kafka)
		if err != nil {
			log.Error("kafka publisher setup failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		worker := outbox.NewWorker(outboxStore, publisher, cfg.Kafka.PollInterval, log)
		group.Go(func() error {
			err := worker.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func healthz(db interface {
	PingContext(ctx context.Context) error
}, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
