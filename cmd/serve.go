package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/broker"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/config"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/evolution"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/journal"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/metrics"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/relay"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/session"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func serve(ctx context.Context) error {
	logger := newLogger()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// --- tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPURL, "whatsapp-ai-bridge")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	// --- AI ---
	completer, err := buildCompleter(cfg, logger)
	if err != nil {
		return err
	}

	// --- Evolution ---
	gateway, err := evolution.NewClient(evolution.Config{
		BaseURL:    cfg.Evolution.BaseURL,
		APIKey:     cfg.Evolution.APIKey,
		WebhookURL: cfg.Evolution.WebhookURL,
	}, logger)
	if err != nil {
		return err
	}

	// --- metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := session.NewStore(cfg.Relay.HistorySize)
	metrics.RegisterSessions(reg, store.Len)

	opts := []relay.Option{relay.WithLogger(logger), relay.WithMetrics(m)}

	// --- journal ---
	if cfg.Journal.DSN != "" {
		j, err := journal.Open(ctx, cfg.Journal.DSN)
		if err != nil {
			return err
		}
		defer j.Close()

		pruner, err := journal.StartPruner(j, journal.DefaultPruneSchedule, cfg.Journal.Retention, logger)
		if err != nil {
			return fmt.Errorf("journal pruner: %w", err)
		}
		defer pruner.Stop()

		opts = append(opts, relay.WithJournal(j))
		logger.Info("journal enabled", "retention", cfg.Journal.Retention)
	}

	svc := relay.NewService(store, completer, gateway, relay.Config{
		Options:           cfg.CompletionOptions(),
		ErrorNotice:       cfg.Relay.ErrorNotice,
		SerializeSessions: cfg.Relay.SerializeSessions,
		CycleTimeout:      cfg.Relay.Timeout,
	}, opts...)
	dispatcher := relay.NewDispatcher(svc, logger)

	// --- router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "apikey"},
	}))
	relay.RegisterRoutes(r, relay.NewHandler(svc, dispatcher, gateway, logger))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- broker ---
	consumerDone := make(chan struct{})
	if cfg.Broker.URL != "" {
		consumer, err := broker.NewConsumer(broker.Config{
			URL:    cfg.Broker.URL,
			Events: cfg.Broker.Events,
		}, func(ctx context.Context, _ string, body []byte) error {
			rep := svc.HandleEvent(ctx, body)
			if rep.State == relay.StateFailed {
				return rep.Err
			}
			return nil
		}, logger)
		if err != nil {
			return err
		}
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(consumerDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("fatal", "error", runErr)
	}
	stop()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := dispatcher.Wait(sctx); err != nil {
		logger.Warn("in-flight relay cycles abandoned", "error", err)
	}
	select {
	case <-consumerDone:
	case <-sctx.Done():
	}
	return runErr
}

func buildCompleter(cfg *config.Config, logger *slog.Logger) (ai.Completer, error) {
	primary, err := ai.NewOpenAIClient(cfg.PrimaryEndpoint(), cfg.Completion.SystemPrompt, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.FallbackEnabled() {
		return primary, nil
	}
	secondary, err := ai.NewOpenAIClient(cfg.FallbackEndpoint(), cfg.Completion.SystemPrompt, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("fallback provider enabled", "primary", primary.Name(), "fallback", secondary.Name(), "model", cfg.FallbackEndpoint().Model)
	return ai.NewFallback(primary, secondary, logger), nil
}
