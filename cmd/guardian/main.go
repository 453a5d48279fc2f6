// Command guardian runs the incident-response core: it wires the
// Trigger Router, Incident Controller, Safety Guard, Action Executor,
// Scheduler and operational HTTP surface together and serves them
// until signaled to shut down.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/carewatch/guardian/internal/config"
	"github.com/carewatch/guardian/internal/controller"
	"github.com/carewatch/guardian/internal/executor"
	"github.com/carewatch/guardian/internal/guard"
	"github.com/carewatch/guardian/internal/httpapi"
	"github.com/carewatch/guardian/internal/notify"
	"github.com/carewatch/guardian/internal/planner"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"github.com/carewatch/guardian/internal/router"
	"github.com/carewatch/guardian/internal/scheduler"
	"github.com/carewatch/guardian/internal/store"
	"github.com/carewatch/guardian/internal/store/memstore"
	"github.com/carewatch/guardian/internal/store/pgstore"
	"github.com/carewatch/guardian/internal/timeline"
	"github.com/carewatch/guardian/internal/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	shutdownTelemetry, err := initTracing(cfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	datastore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	plannerClient := planner.NewAdapter(cfg.Planner.BaseURL, cfg.Planner.APIKey)
	notifyGateway := notify.NewHTTPGateway(cfg.Notify.BaseURL, cfg.Notify.APIKey, cfg.HTTP.Addr)
	warehouseClient := warehouse.New(cfg.Warehouse.BaseURL, cfg.Warehouse.APIKey)

	hub := timeline.NewHub()
	ringBuffer := timeline.NewRingBuffer()
	eventLogger := timeline.New(datastore, hub, ringBuffer, logger)

	g := guard.New()
	ctrl := controller.New(datastore, plannerClient, g, eventLogger, controller.WithLogger(logger))
	exec := executor.New(datastore, notifyGateway, notifyGateway,
		executor.WithLogger(logger),
		executor.WithHooks(ctrl.ExecutorHooks()),
		executor.WithEventLogger(eventLogger),
	)
	ctrl.SetExecutor(exec)

	routerOpts := []router.Option{router.WithLogger(logger)}
	if cfg.Redis.URL != "" {
		dedup, err := router.NewDedup(cfg.Redis.URL, "guardian", logger)
		if err != nil {
			logger.Warn("redis dedup disabled, falling back to store-only dedup", logging.Fields{"error": err.Error()})
		} else {
			routerOpts = append(routerOpts, router.WithDedup(dedup))
		}
	}
	triggerRouter := router.New(datastore, plannerClient, ctrl, g, exec, eventLogger, routerOpts...)

	sched := scheduler.New(datastore, warehouseClient, ringBuffer, eventLogger, scheduler.WithLogger(logger))
	sched.Start(ctx)
	defer sched.Stop()

	apiOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithEventLogger(eventLogger),
	}
	var translator notify.Translator
	var speech notify.SpeechClient
	if cfg.Translate.BaseURL != "" {
		translator = notify.NewHTTPTranslator(cfg.Translate.BaseURL, cfg.Translate.APIKey, notify.WithTranslatorLogger(logger))
	}
	if cfg.Speech.BaseURL != "" {
		speech = notify.NewHTTPSpeech(cfg.Speech.BaseURL, cfg.Speech.APIKey, notify.WithSpeechLogger(logger))
	}
	apiOpts = append(apiOpts, httpapi.WithAccessibility(translator, speech))

	server := httpapi.New(datastore, triggerRouter, ctrl, hub, apiOpts...)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("guardian listening", logging.Fields{"addr": cfg.HTTP.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// initTracing wires a stdout span exporter when tracing is enabled, or
// the no-op provider otherwise. There is no collector endpoint in this
// deployment to target with an OTLP exporter.
func initTracing(cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return telemetry.Init(nil), nil
	}

	var exporterOpts []stdouttrace.Option
	if cfg.Tracing.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return telemetry.Init(tp), nil
}

// openStore picks pgstore when a Postgres DSN is configured, falling
// back to the in-process memstore otherwise (local dev / tests of the
// wiring itself). The returned close func is always safe to call.
func openStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (store.Datastore, func(), error) {
	if cfg.Postgres.DSN == "" {
		return memstore.New(), func() {}, nil
	}
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := pgstore.Open(pgCtx, cfg.Postgres.DSN, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
