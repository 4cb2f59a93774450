// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline assembles the content pipeline service: storage, the
// resilience guard, the model router, the five stage implementations, the
// engine, and the HTTP ingress.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := pipeline.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Run blocks until SIGINT/SIGTERM and then shuts down in order: HTTP
// server, engine (bounded by the configured shutdown timeout), price
// watcher, storage, tracer.
package pipeline

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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/inkwell/pkg/logging"
	"github.com/AleutianAI/inkwell/services/llm"
	"github.com/AleutianAI/inkwell/services/pipeline/commands"
	"github.com/AleutianAI/inkwell/services/pipeline/config"
	"github.com/AleutianAI/inkwell/services/pipeline/engine"
	"github.com/AleutianAI/inkwell/services/pipeline/observability"
	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
	"github.com/AleutianAI/inkwell/services/pipeline/routes"
	"github.com/AleutianAI/inkwell/services/pipeline/routing"
	"github.com/AleutianAI/inkwell/services/pipeline/stages"
	"github.com/AleutianAI/inkwell/services/pipeline/stages/webclient"
	"github.com/AleutianAI/inkwell/services/pipeline/storage"
	"github.com/AleutianAI/inkwell/services/pipeline/usage"
)

// Service is the assembled pipeline process.
//
// Thread Safety: Safe after construction; Run is called at most once.
type Service struct {
	config config.Config
	logger *logging.Logger

	db       *storage.DB
	queue    *commands.Queue
	engine   *engine.Engine
	router   *gin.Engine
	watchCtx context.CancelFunc

	tracerCleanup func(context.Context)
}

// New builds the service from a validated configuration.
func New(cfg config.Config) (*Service, error) {
	s := &Service{config: cfg}

	s.logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.LogDir,
		Service: "pipeline",
		JSON:    cfg.Logging.JSON,
	})
	log := s.logger.Slog()
	slog.SetDefault(log)

	if cfg.Server.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.Server.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	observability.InitMetrics()

	if err := s.initStorage(); err != nil {
		return nil, err
	}

	eng, err := s.buildEngine(log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine = eng

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("pipeline-service"))
	routes.SetupRoutes(s.router, s.db, s.queue, s.engine)

	return s, nil
}

// Router exposes the gin engine for integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run starts the engine and the HTTP server, then blocks until a shutdown
// signal arrives and the teardown sequence completes.
func (s *Service) Run() error {
	defer s.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.engine.Start(rootCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Server.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("pipeline server listening", "port", s.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-rootCtx.Done():
	}

	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		s.config.Engine.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown incomplete", "error", err)
	}

	if err := s.engine.Stop(s.config.Engine.ShutdownTimeout); err != nil {
		slog.Warn("engine shutdown incomplete", "error", err)
	}

	slog.Info("pipeline stopped")
	return nil
}

// Close releases resources. Safe to call more than once.
func (s *Service) Close() {
	if s.watchCtx != nil {
		s.watchCtx()
		s.watchCtx = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("storage close error", "error", err)
		}
		s.db = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
	if s.logger != nil {
		if err := s.logger.Close(); err != nil {
			slog.Warn("logger close error", "error", err)
		}
	}
}

// =============================================================================
// Component Initialization
// =============================================================================

func (s *Service) initStorage() error {
	var (
		db  *storage.DB
		err error
	)
	if s.config.Storage.InMemory {
		db, err = storage.OpenInMemory()
	} else {
		db, err = storage.Open(storage.DefaultConfig(s.config.Storage.Path))
	}
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.db = db
	return nil
}

// buildEngine wires the resilience guard, model router, provider clients,
// stage implementations, and the engine itself.
func (s *Service) buildEngine(log *slog.Logger) (*engine.Engine, error) {
	cfg := s.config

	registry := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
	})
	retry := resilience.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Resilience.RetryMaxAttempts
	retry.InitialDelay = cfg.Resilience.RetryInitialDelay
	retry.MaxDelay = cfg.Resilience.RetryMaxDelay

	cache := s.db.ResponseCache(cfg.Storage.CacheTTL)
	guard := resilience.NewGuard(registry, retry, cache, observability.DefaultMetrics, log)

	prices := routing.DefaultPrices()
	if cfg.Routing.PricesPath != "" {
		loaded, err := routing.LoadPrices(cfg.Routing.PricesPath)
		if err != nil {
			return nil, fmt.Errorf("load pricing table: %w", err)
		}
		prices = loaded
	}
	table := routing.NewPriceTable(prices)

	router, err := routing.NewRouter(routing.DefaultRoutes(), table, registry, log)
	if err != nil {
		return nil, fmt.Errorf("build model router: %w", err)
	}

	if cfg.Routing.PricesPath != "" {
		watcher, err := routing.NewPriceWatcher(cfg.Routing.PricesPath, table, log)
		if err != nil {
			slog.Warn("pricing hot-reload disabled", "error", err)
		} else {
			watchCtx, cancel := context.WithCancel(context.Background())
			s.watchCtx = cancel
			go watcher.Start(watchCtx)
		}
	}

	clients := s.buildProviders()
	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM providers available; check provider config and API keys")
	}

	tracker := usage.NewTracker()
	caller, err := stages.NewModelCaller(router, guard, clients, tracker, observability.DefaultMetrics, log)
	if err != nil {
		return nil, fmt.Errorf("build model caller: %w", err)
	}

	stageSet, err := s.buildStages(caller, guard, log)
	if err != nil {
		return nil, err
	}

	s.queue = commands.NewQueue(s.db.Commands(), log)

	return engine.New(engine.Options{
		Stages:       stageSet,
		Tasks:        s.db.Tasks(),
		Runs:         s.db.Runs(),
		Queue:        s.queue,
		Registry:     registry,
		Tracker:      tracker,
		Metrics:      observability.DefaultMetrics,
		PollInterval: cfg.Engine.PollInterval,
		Logger:       log,
	})
}

// buildProviders creates one client per enabled provider. A provider whose
// environment is incomplete is skipped with a warning rather than failing
// the whole service.
func (s *Service) buildProviders() llm.Registry {
	cfg := s.config.Providers
	clients := llm.Registry{}

	if cfg.OpenAI {
		if c, err := llm.NewOpenAIClient(cfg.RequestsPerSecond); err != nil {
			slog.Warn("openai provider unavailable", "error", err)
		} else {
			clients[c.Provider()] = c
		}
	}
	if cfg.Anthropic {
		if c, err := llm.NewAnthropicClient(cfg.RequestsPerSecond); err != nil {
			slog.Warn("anthropic provider unavailable", "error", err)
		} else {
			clients[c.Provider()] = c
		}
	}
	if cfg.Ollama {
		if c, err := llm.NewOllamaClient(cfg.RequestsPerSecond); err != nil {
			slog.Warn("ollama provider unavailable", "error", err)
		} else {
			clients[c.Provider()] = c
		}
	}

	slog.Info("LLM providers configured", "providers", clients.Providers())
	return clients
}

func (s *Service) buildStages(caller stages.Caller, guard *resilience.Guard,
	log *slog.Logger) (stages.Set, error) {

	cfg := s.config

	research, err := stages.NewLLMResearcher(caller, 0, log)
	if err != nil {
		return stages.Set{}, err
	}
	draft, err := stages.NewLLMDrafter(caller, 0, log)
	if err != nil {
		return stages.Set{}, err
	}
	review, err := stages.NewLLMReviewer(caller, 0, cfg.Engine.MinDraftWords, log)
	if err != nil {
		return stages.Set{}, err
	}

	imageClient, err := webclient.NewImageClient(cfg.Images.BaseURL,
		os.Getenv("INKWELL_IMAGES_API_KEY"), cfg.Images.Provider, cfg.Images.Timeout)
	if err != nil {
		return stages.Set{}, fmt.Errorf("build image client: %w", err)
	}
	images, err := stages.NewGuardedImageSelector(imageClient, guard, cfg.Images.Timeout, log)
	if err != nil {
		return stages.Set{}, err
	}

	cmsClient, err := webclient.NewCMSClient(cfg.CMS.BaseURL,
		os.Getenv("INKWELL_CMS_TOKEN"), cfg.CMS.Timeout)
	if err != nil {
		return stages.Set{}, fmt.Errorf("build cms client: %w", err)
	}
	publish, err := stages.NewGuardedPublisher(cmsClient, guard, cfg.CMS.Timeout, log)
	if err != nil {
		return stages.Set{}, err
	}

	return stages.Set{
		Research: research,
		Draft:    draft,
		Review:   review,
		Images:   images,
		Publish:  publish,
	}, nil
}

// initTracer sets up the OTLP gRPC trace exporter.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("pipeline-service")))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
