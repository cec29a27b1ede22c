package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"prototype-versions-backend/internal/config"
	"prototype-versions-backend/internal/handlers"
	"prototype-versions-backend/internal/observability"
	"prototype-versions-backend/internal/queue"
	"prototype-versions-backend/internal/services"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, "api")
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.migrate(ctx); err != nil {
		return err
	}

	cfg := a.cfg
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	dispatcher, closeDispatcher, err := a.newDispatcher(ctx)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	go a.sweeper().Run(ctx)

	numbering := services.NewNumberingService(a.registry, cfg.MaxVersionsPerPrototype, a.log)
	submission := services.NewSubmissionService(numbering, a.registry, a.blobs, dispatcher, a.gate, a.events,
		services.SubmissionConfig{
			MaxArchiveBytes: cfg.MaxArchiveBytes,
			StoreRetries:    cfg.IngestStepRetries,
			Backoffs:        services.DefaultBackoffs,
		}, a.log)
	resolution := services.NewResolutionService(a.registry, a.blobs, a.gate, a.log)

	router := handlers.NewRouter(handlers.RouterConfig{
		ServiceName:     observability.ServiceName,
		JWTSecret:       cfg.SupabaseJWTSecret,
		MaxArchiveBytes: cfg.MaxArchiveBytes,
		Store:           a.registry,
		Blobs:           a.blobs,
		Submitter:       submission,
		Resolver:        resolution,
		Access:          a.gate,
		DB:              a.registry,
		Log:             a.log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "port", cfg.Port, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newDispatcher returns the in-process worker pool or a RabbitMQ publisher,
// depending on QUEUE_DRIVER.
func (a *app) newDispatcher(ctx context.Context) (services.Dispatcher, func(), error) {
	switch a.cfg.QueueDriver {
	case config.QueueDriverRabbitMQ:
		pub, err := queue.NewPublisher(queue.Dialer(a.cfg.RabbitMQURL), a.cfg.RabbitMQQueue, a.log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize queue publisher: %w", err)
		}
		return pub, func() {
			if err := pub.Close(); err != nil {
				a.log.Warn("failed to close queue publisher", "error", err)
			}
		}, nil
	default:
		workers := a.cfg.WorkerConcurrency
		pool := queue.NewWorkerPool(workers, workers*4, a.pipeline.Process, a.log)
		pool.Start(ctx)
		return pool, pool.Close, nil
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, "worker")
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.QueueDriver != config.QueueDriverRabbitMQ {
		return fmt.Errorf("worker requires QUEUE_DRIVER=%s; the memory driver runs workers inside serve", config.QueueDriverRabbitMQ)
	}

	conn, err := amqp.Dial(a.cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	consumer, err := queue.NewConsumer(conn, a.cfg.RabbitMQQueue, a.cfg.WorkerConcurrency, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}
	defer consumer.Close()

	a.log.Info("worker started", "queue", a.cfg.RabbitMQQueue)
	err = consumer.Handle(ctx, a.pipeline.Process)
	if errors.Is(err, context.Canceled) {
		a.log.Info("worker stopped")
		return nil
	}
	return err
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), "migrate")
	if err != nil {
		return err
	}
	defer a.close()
	return a.migrate(cmd.Context())
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), "sweep")
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.sweeper().SweepOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("stale sweep failed: %w", err)
	}
	a.log.Info("stale sweep finished", "failed", n)
	return nil
}
