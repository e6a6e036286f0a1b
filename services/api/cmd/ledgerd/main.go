package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgerd/pkg/bus"
	"ledgerd/pkg/db"
	gos3 "ledgerd/pkg/s3"
	"ledgerd/pkg/telemetry"
	"ledgerd/services/api"
	"ledgerd/services/auditor"
	"ledgerd/services/watchdog"
)

func main() {
	if err := run("ledgerd-api"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	orm, err := db.OpenORM(dsn)
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}

	store := &api.Store{DB: pool, ORM: orm}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		eventBus, err := bus.New(natsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer eventBus.Close()
		store.Bus = eventBus

		trail, err := auditor.New(pool, eventBus)
		if err != nil {
			return fmt.Errorf("init auditor: %w", err)
		}
		if err := trail.Start(ctx); err != nil {
			return fmt.Errorf("start auditor: %w", err)
		}
		defer trail.Close()

		notifier, err := watchdog.New(orm, eventBus)
		if err != nil {
			return fmt.Errorf("init watchdog: %w", err)
		}
		if err := notifier.Start(ctx); err != nil {
			return fmt.Errorf("start watchdog: %w", err)
		}
		defer notifier.Close()
	} else {
		logger.Printf("WARN NATS_URL not set, events disabled")
	}

	if os.Getenv("S3_ENDPOINT") != "" {
		s3Client, err := gos3.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		store.S3 = s3Client
	} else {
		logger.Printf("WARN S3_ENDPOINT not set, artifact transfer disabled")
	}

	service, err := api.New(store, api.Config{})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	routes, err := service.Routes()
	if err != nil {
		return fmt.Errorf("init routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(pool))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:    addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func readyHandler(pool interface {
	Ping(ctx context.Context) error
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
