// Package main is the entrypoint for the orchestrator daemon.
//
// The orchestrator is the only long-running process: it scans the execution
// store on a fixed interval for workflow executions whose wake time has
// passed and drives each until it suspends again or finishes. Durable
// suspensions (backend polling, the wait until an event's end timestamp) are
// persisted in the execution row, so restarting the daemon loses nothing.
//
// A small health server exposes /healthz (liveness) and /readyz (readiness,
// backed by a database ping). Shutdown is graceful on SIGINT/SIGTERM: the
// resume loop finishes its current scan before the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"eventplane/internal/config"
	"eventplane/internal/db"
	"eventplane/internal/provision"
	"eventplane/internal/statusbus"
	"eventplane/internal/types"
	"eventplane/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("orchestrator starting",
		"environment", cfg.Environment,
		"resume_interval", cfg.Workflow.ResumeInterval.String(),
		"resume_batch_size", cfg.Workflow.ResumeBatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	ssmClient := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	scClient := servicecatalog.NewFromConfig(awsCfg, func(o *servicecatalog.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	ebClient := eventbridge.NewFromConfig(awsCfg, func(o *eventbridge.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	backends := map[types.OrchestrationType]provision.Backend{
		types.OrchestrationAutomation: provision.NewAutomationBackend(ssmClient, logger),
		types.OrchestrationCatalog:    provision.NewCatalogBackend(scClient, logger),
	}

	bus := statusbus.NewPublisher(ebClient, cfg.AWS.EventBusName, logger)
	metrics := statusbus.NewMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	eventRepo := db.NewEventRepository(pool)
	lifecycle := workflow.NewLifecycle(eventRepo, backends, bus, metrics, cfg.Workflow, logger)

	registry, err := workflow.NewRegistry(lifecycle.Definitions()...)
	if err != nil {
		return fmt.Errorf("compiling workflow registry: %w", err)
	}

	executionRepo := db.NewExecutionRepository(pool)
	engine := workflow.NewEngine(registry, executionRepo, lifecycle.OnFailure, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runResumeLoop(gctx, engine, cfg.Workflow, logger)
	})
	g.Go(func() error {
		return runHealthServer(gctx, pool, cfg.Ops.HealthPort, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("orchestrator stopped cleanly")
	return nil
}

// runResumeLoop scans for runnable executions on a fixed interval until the
// context is cancelled. Scan errors are logged, not fatal: a transient
// database outage must not take the daemon down.
func runResumeLoop(ctx context.Context, engine *workflow.Engine, cfg config.WorkflowConfig, logger *slog.Logger) error {
	ticker := time.NewTicker(cfg.ResumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("resume loop stopping")
			return ctx.Err()
		case <-ticker.C:
			driven, err := engine.RunDue(ctx, cfg.ResumeBatchSize)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logger.Error("resume scan failed", "error", err)
				continue
			}
			if driven > 0 {
				logger.Info("resume scan complete", "executions_driven", driven)
			}
		}
	}
}

// runHealthServer serves liveness and readiness endpoints until the context
// is cancelled.
func runHealthServer(ctx context.Context, pool *pgxpool.Pool, port string, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		pingCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("health server shutdown error", "error", err)
		}
		return ctx.Err()
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	}
}

// newLogger creates a structured JSON logger for the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
