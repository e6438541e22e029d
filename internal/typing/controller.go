// Package typing keeps a chat's typing indicator alive while a reply is
// being produced.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often the indicator is refreshed. Telegram clears
// it after roughly five seconds.
const DefaultInterval = 4 * time.Second

// DefaultTTL stops the indicator if nobody calls Stop.
const DefaultTTL = 30 * time.Minute

// SendFunc shows the typing indicator once.
type SendFunc func(ctx context.Context) error

// Config configures a Controller.
type Config struct {
	// Send is called immediately on Start and then every Interval.
	Send SendFunc

	// Interval between refreshes. Default: 4 seconds.
	Interval time.Duration

	// TTL bounds how long the indicator stays on without Stop.
	// Default: 30 minutes.
	TTL time.Duration

	Logger *slog.Logger
}

// Controller refreshes a typing indicator until stopped.
//
// A controller is single use: once stopped it is sealed, and a late Start
// does nothing. This keeps a finished reply from re-triggering typing.
type Controller struct {
	mu     sync.Mutex
	config Config

	started bool
	sealed  bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewController creates a controller. Zero values in config use defaults.
func NewController(config Config) *Controller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Controller{config: config}
}

// Start shows the indicator and begins refreshing it. The loop ends when
// Stop is called, ctx is done, or the TTL elapses.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.sealed || c.config.Send == nil {
		return
	}
	c.started = true

	loopCtx, cancel := context.WithTimeout(ctx, c.config.TTL)
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	go c.run(loopCtx, c.doneCh)
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.send(ctx)
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				c.config.Logger.Debug("typing indicator ttl reached", "ttl", c.config.TTL)
			}
			return
		case <-ticker.C:
			c.send(ctx)
		}
	}
}

func (c *Controller) send(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := c.config.Send(ctx); err != nil && ctx.Err() == nil {
		c.config.Logger.Debug("typing indicator failed", "error", err)
	}
}

// Stop ends the refresh loop, waits for it to exit and seals the
// controller. It is safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.sealed = true
	cancel, done := c.cancel, c.doneCh
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsActive reports whether the refresh loop is running.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	done := c.doneCh
	sealed := c.sealed
	c.mu.Unlock()
	if done == nil || sealed {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// IsSealed reports whether Stop has been called.
func (c *Controller) IsSealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}
