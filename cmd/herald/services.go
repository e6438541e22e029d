package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/herald/internal/agent"
	"github.com/haasonsaas/herald/internal/agent/anthropic"
	"github.com/haasonsaas/herald/internal/agent/claudecli"
	"github.com/haasonsaas/herald/internal/config"
	"github.com/haasonsaas/herald/internal/gateway"
	"github.com/haasonsaas/herald/internal/heartbeat"
	"github.com/haasonsaas/herald/internal/history"
	"github.com/haasonsaas/herald/internal/observability"
	"github.com/haasonsaas/herald/internal/sessions"
	"github.com/haasonsaas/herald/internal/storage"
)

// services holds the components shared by serve and heartbeat run.
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	promReg  *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	sessions *sessions.Registry
	pipeline *agent.Pipeline
	history  history.Sink
	gateway  *gateway.Gateway

	// closers run in reverse order on shutdown.
	closers []func(context.Context) error
}

func newServices(ctx context.Context, cfg *config.Config, debug bool) (svc *services, err error) {
	svc = &services{cfg: cfg}
	defer func() {
		if err != nil {
			_ = svc.close(context.Background())
		}
	}()

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger, logCloser, err := observability.NewLogger(observability.LogConfig{
		Level:      level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return svc, fmt.Errorf("create logger: %w", err)
	}
	svc.logger = logger
	svc.closers = append(svc.closers, func(context.Context) error { return logCloser.Close() })

	svc.promReg = prometheus.NewRegistry()
	svc.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc.metrics = observability.NewMetrics(svc.promReg)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "herald",
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	svc.tracer = tracer
	svc.closers = append(svc.closers, shutdownTracer)

	backend, err := svc.newBackend(ctx)
	if err != nil {
		return svc, err
	}

	pipeline, err := agent.NewPipeline(backend, agent.PipelineConfig{
		MinStreamLength:   *cfg.Agent.MinStreamLength,
		PreResultTimeout:  *cfg.Agent.PreResultTimeout,
		PostResultTimeout: *cfg.Agent.PostResultTimeout,
		Sentinel:          agent.DefaultSentinel,
		DefaultModel:      cfg.Agent.Model,
	},
		agent.WithLogger(logger),
		agent.WithMetrics(svc.metrics),
		agent.WithTracer(tracer),
	)
	if err != nil {
		return svc, fmt.Errorf("create pipeline: %w", err)
	}
	svc.pipeline = pipeline

	svc.sessions = sessions.NewRegistry(
		sessions.WithLogger(logger),
		sessions.WithWaitObserver(svc.metrics.ObserveLockWait),
	)

	svc.history = history.NopSink{}
	if cfg.History.Enabled {
		writer, err := history.NewMarkdownWriter(cfg.History.Dir, time.Local)
		if err != nil {
			return svc, fmt.Errorf("create history writer: %w", err)
		}
		sink := history.NewAsyncSink(writer, history.AsyncConfig{
			QueueSize: cfg.History.QueueSize,
			Logger:    logger,
			Metrics:   svc.metrics,
		})
		svc.history = sink
		svc.closers = append(svc.closers, sink.Close)
	}

	svc.gateway, err = gateway.New(gateway.Config{
		Registry: svc.sessions,
		Runner:   pipeline,
		History:  svc.history,
		Logger:   logger,
	})
	if err != nil {
		return svc, err
	}
	return svc, nil
}

func (svc *services) newBackend(ctx context.Context) (agent.Backend, error) {
	cfg := svc.cfg
	switch cfg.Agent.Backend {
	case "anthropic":
		store, err := storage.Open(ctx, storage.Config{
			Driver:          cfg.Storage.Driver,
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open transcript store: %w", err)
		}
		svc.closers = append(svc.closers, func(context.Context) error { return store.Close() })

		backend, err := anthropic.New(anthropic.Config{
			APIKey:          cfg.Agent.Anthropic.APIKey,
			BaseURL:         cfg.Agent.Anthropic.BaseURL,
			Model:           cfg.Agent.Model,
			MaxTokens:       cfg.Agent.Anthropic.MaxTokens,
			SystemPrompt:    cfg.Agent.Anthropic.SystemPrompt,
			MaxHistoryTurns: cfg.Agent.Anthropic.MaxHistoryTurns,
			Store:           store,
			Logger:          svc.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create anthropic backend: %w", err)
		}
		return backend, nil
	default:
		backend, err := claudecli.New(claudecli.Config{
			Path:      cfg.Agent.ClaudeCLI.Path,
			WorkDir:   cfg.Agent.ClaudeCLI.WorkDir,
			ExtraArgs: cfg.Agent.ClaudeCLI.ExtraArgs,
			Env:       cfg.Agent.ClaudeCLI.Env,
			Logger:    svc.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create claude cli backend: %w", err)
		}
		return backend, nil
	}
}

// heartbeatConfig converts the heartbeat section. Values were validated
// when the configuration was loaded.
func (svc *services) heartbeatConfig() (heartbeat.Config, error) {
	hc := svc.cfg.Heartbeat
	interval, err := heartbeat.ParseInterval(hc.Every)
	if err != nil {
		return heartbeat.Config{}, err
	}
	window, err := heartbeat.ParseActiveHours(hc.ActiveHours, hc.Timezone)
	if err != nil {
		return heartbeat.Config{}, err
	}
	target, err := heartbeat.ParseTarget(hc.Target)
	if err != nil {
		return heartbeat.Config{}, err
	}

	out := heartbeat.Config{
		Enabled:       hc.Enabled,
		Interval:      interval,
		ActiveHours:   window,
		Target:        target,
		AckMaxChars:   *hc.AckMaxChars,
		Prompt:        hc.Prompt,
		Model:         hc.Model,
		DeliverErrors: hc.DeliverErrors,
	}
	if hc.ChecklistFile != "" {
		out.Checklist = heartbeat.NewChecklist(hc.ChecklistFile, svc.logger)
	}
	return out, nil
}

func (svc *services) newScheduler(config heartbeat.Config, resolver heartbeat.TargetResolver, deliverer heartbeat.Deliverer) (*heartbeat.Scheduler, error) {
	return heartbeat.NewScheduler(config, svc.gateway, resolver, deliverer,
		heartbeat.WithLogger(svc.logger),
		heartbeat.WithMetrics(svc.metrics),
		heartbeat.WithTracer(svc.tracer),
		heartbeat.WithHistory(svc.history),
	)
}

func (svc *services) close(ctx context.Context) error {
	var errs []error
	for i := len(svc.closers) - 1; i >= 0; i-- {
		if err := svc.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	svc.closers = nil
	return errors.Join(errs...)
}
