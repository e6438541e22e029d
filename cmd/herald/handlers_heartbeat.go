package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/haasonsaas/herald/internal/config"
	"github.com/haasonsaas/herald/internal/heartbeat"
	"github.com/haasonsaas/herald/internal/sessions"
)

// printDeliverer captures what a heartbeat would have sent.
type printDeliverer struct {
	mu        sync.Mutex
	delivered []string
}

func (p *printDeliverer) DeliverHeartbeat(_ context.Context, _ sessions.ChatID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, text)
	return nil
}

// runHeartbeatOnce runs a single tick through the configured backend and
// prints the outcome.
func runHeartbeatOnce(ctx context.Context, out io.Writer, configPath string, chatID int64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := newServices(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer svc.close(context.Background())

	hbConfig, err := svc.heartbeatConfig()
	if err != nil {
		return err
	}
	hbConfig.Enabled = true
	hbConfig.ActiveHours = nil
	if chatID != 0 {
		hbConfig.Target = heartbeat.Target{Kind: heartbeat.TargetChat, ChatID: sessions.ChatID(chatID)}
	}

	deliverer := &printDeliverer{}
	scheduler, err := svc.newScheduler(hbConfig, svc.gateway, deliverer)
	if err != nil {
		return err
	}

	res := scheduler.RunOnce(ctx)
	return printTick(out, res, deliverer.delivered)
}

func printTick(out io.Writer, res heartbeat.TickResult, delivered []string) error {
	fmt.Fprintf(out, "status:   %s\n", res.Status)
	fmt.Fprintf(out, "reason:   %s\n", res.Reason)
	if res.ChatID != 0 {
		fmt.Fprintf(out, "chat:     %d\n", res.ChatID)
	}
	fmt.Fprintf(out, "duration: %s\n", res.Duration.Round(time.Millisecond))
	for _, text := range delivered {
		fmt.Fprintf(out, "\n%s\n", text)
	}
	if res.Status == heartbeat.StatusFailed && res.Err != nil {
		return res.Err
	}
	return nil
}
