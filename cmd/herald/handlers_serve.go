package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/herald/internal/channels/telegram"
	"github.com/haasonsaas/herald/internal/config"
	"github.com/haasonsaas/herald/internal/gateway"
)

// runServe loads configuration, starts every component and blocks until a
// shutdown signal or a component failure.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := newServices(ctx, cfg, debug)
	if err != nil {
		return err
	}
	logger := svc.logger
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := svc.close(shutdownCtx); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	logger.Info("starting herald",
		"version", version,
		"commit", commit,
		"config", configPath,
		"backend", cfg.Agent.Backend,
		"telegram_mode", cfg.Telegram.Mode,
		"heartbeat", cfg.Heartbeat.Enabled,
	)
	logStartupSummary(logger, cfg)

	adapter, err := telegram.NewAdapter(telegram.Config{
		Token:         cfg.Telegram.BotToken,
		Mode:          telegram.Mode(cfg.Telegram.Mode),
		WebhookURL:    cfg.Telegram.WebhookURL,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		AllowedUsers:  cfg.Telegram.AllowedUsers,
		RateLimit:     cfg.Telegram.RateLimit,
		RateBurst:     cfg.Telegram.RateBurst,
		Metrics:       svc.metrics,
		Logger:        logger,
	}, svc.gateway)
	if err != nil {
		return err
	}

	hbConfig, err := svc.heartbeatConfig()
	if err != nil {
		return err
	}
	scheduler, err := svc.newScheduler(hbConfig, svc.gateway, adapter)
	if err != nil {
		return err
	}
	if hbConfig.Checklist != nil {
		if err := hbConfig.Checklist.Watch(ctx); err != nil {
			logger.Warn("checklist changes will not be picked up", "path", hbConfig.Checklist.Path(), "error", err)
		}
		defer hbConfig.Checklist.Close()
	}

	httpConfig := gateway.HTTPConfig{
		Addr:     cfg.Server.Addr,
		Gatherer: svc.promReg,
		Logger:   logger,
	}
	if cfg.Telegram.Mode == string(telegram.ModeWebhook) {
		httpConfig.WebhookPath = cfg.Telegram.WebhookPath
		httpConfig.WebhookHandler = adapter.WebhookHandler()
	}
	httpServer := gateway.NewHTTPServer(httpConfig)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return adapter.Run(gctx)
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return httpServer.Run(gctx, cfg.Server.ShutdownTimeout)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received, stopped gracefully")
	}
	if err != nil {
		logger.Error("herald stopped with error", "error", err)
		return err
	}
	return nil
}

// logStartupSummary prints the effective settings at debug level.
func logStartupSummary(logger *slog.Logger, cfg *config.Config) {
	logger.Debug("effective configuration",
		"server_addr", cfg.Server.Addr,
		"allowed_users", len(cfg.Telegram.AllowedUsers),
		"min_stream_length", *cfg.Agent.MinStreamLength,
		"pre_result_timeout", *cfg.Agent.PreResultTimeout,
		"post_result_timeout", *cfg.Agent.PostResultTimeout,
		"storage_driver", cfg.Storage.Driver,
		"heartbeat_every", cfg.Heartbeat.Every,
		"heartbeat_target", cfg.Heartbeat.Target,
		"history", cfg.History.Enabled,
	)
}
