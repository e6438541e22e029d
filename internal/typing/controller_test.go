package typing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func countingSend(n *int32) SendFunc {
	return func(context.Context) error {
		atomic.AddInt32(n, 1)
		return nil
	}
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(Config{})
	if c.config.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", c.config.Interval, DefaultInterval)
	}
	if c.config.TTL != DefaultTTL {
		t.Errorf("TTL = %v, want %v", c.config.TTL, DefaultTTL)
	}
	if c.config.Logger == nil {
		t.Error("Logger should default")
	}
}

func TestController_SendsImmediately(t *testing.T) {
	var calls int32
	c := NewController(Config{Send: countingSend(&calls), Interval: time.Hour})
	c.Start(context.Background())
	defer c.Stop()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if !c.IsActive() {
		t.Error("controller should be active")
	}
}

func TestController_Refreshes(t *testing.T) {
	var calls int32
	c := NewController(Config{Send: countingSend(&calls), Interval: 10 * time.Millisecond})
	c.Start(context.Background())
	time.Sleep(75 * time.Millisecond)
	c.Stop()

	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Errorf("calls = %d, want at least 3", got)
	}
}

func TestController_StopHaltsAndSeals(t *testing.T) {
	var calls int32
	c := NewController(Config{Send: countingSend(&calls), Interval: 5 * time.Millisecond})
	c.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	after := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != after {
		t.Errorf("calls grew after Stop: %d -> %d", after, got)
	}
	if c.IsActive() || !c.IsSealed() {
		t.Error("controller should be sealed and inactive")
	}

	c.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != after {
		t.Error("Start after Stop should do nothing")
	}
	c.Stop()
}

func TestController_StopBeforeStart(t *testing.T) {
	var calls int32
	c := NewController(Config{Send: countingSend(&calls)})
	c.Stop()
	c.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("sealed controller should never send")
	}
}

func TestController_EndsOnContextAndTTL(t *testing.T) {
	tests := []struct {
		name   string
		ttl    time.Duration
		cancel bool
	}{
		{name: "context canceled", ttl: time.Hour, cancel: true},
		{name: "ttl elapsed", ttl: 20 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			c := NewController(Config{Send: countingSend(&calls), Interval: 5 * time.Millisecond, TTL: tt.ttl})
			c.Start(ctx)
			if tt.cancel {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}

			deadline := time.Now().Add(time.Second)
			for c.IsActive() && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			if c.IsActive() {
				t.Fatal("loop did not stop")
			}
			c.Stop()
		})
	}
}

func TestController_SendErrorsKeepLooping(t *testing.T) {
	var calls int32
	c := NewController(Config{
		Send: func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("rate limited")
		},
		Interval: 5 * time.Millisecond,
	})
	c.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	c.Stop()
	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Errorf("calls = %d, want at least 2", got)
	}
}

func TestController_NilSend(t *testing.T) {
	c := NewController(Config{})
	c.Start(context.Background())
	if c.IsActive() {
		t.Error("controller without Send should not start")
	}
	c.Stop()
}
