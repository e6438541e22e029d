// Package heartbeat drives the agent on a fixed period to produce
// unsolicited status reports, delivering only the replies worth reading.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/herald/internal/agent"
	"github.com/haasonsaas/herald/internal/backoff"
	"github.com/haasonsaas/herald/internal/history"
	"github.com/haasonsaas/herald/internal/observability"
	"github.com/haasonsaas/herald/internal/sessions"
)

// TickStatus describes a tick's outcome.
type TickStatus string

const (
	StatusRan     TickStatus = "ran"
	StatusSkipped TickStatus = "skipped"
	StatusFailed  TickStatus = "failed"
)

// Tick reasons.
const (
	ReasonOutsideActiveHours = "outside-active-hours"
	ReasonDisabled           = "disabled"
	ReasonTargetNone         = "target-none"
	ReasonNoTarget           = "no-target"
	ReasonSentinel           = "ok-token"
	ReasonShortAck           = "ok-short"
	ReasonDelivered          = "sent"
	ReasonDeliveryFailed     = "delivery-failed"
)

// TickResult reports what one tick did.
type TickResult struct {
	Status   TickStatus
	Reason   string
	ChatID   sessions.ChatID
	Text     string
	Err      error
	Duration time.Duration
}

// Executor runs a request through the shared pipeline, holding the chat's
// lease for the duration.
type Executor interface {
	Execute(ctx context.Context, req agent.Request, onFragment func(string)) agent.StreamEvent
}

// Deliverer sends heartbeat text to a chat.
type Deliverer interface {
	DeliverHeartbeat(ctx context.Context, chatID sessions.ChatID, text string) error
}

// Config configures the scheduler.
type Config struct {
	Enabled     bool
	Interval    time.Duration
	ActiveHours *ActiveHours
	Target      Target
	AckMaxChars int

	// Prompt overrides DefaultPrompt.
	Prompt string

	// Checklist, when set, is appended to the prompt.
	Checklist *Checklist

	// Model overrides the pipeline's default model for heartbeat runs.
	Model string

	// DeliverErrors sends failed runs to the target instead of only logging.
	DeliverErrors bool

	DeliveryAttempts   int
	DeliveryRetryDelay time.Duration
	DeliveryTimeout    time.Duration
}

// Scheduler runs heartbeat ticks.
//
// Thread Safety:
// RunOnce may be called concurrently with a running loop; ticks for the
// same chat are serialized by the executor.
type Scheduler struct {
	config    Config
	executor  Executor
	resolver  TargetResolver
	deliverer Deliverer
	history   history.Sink
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc
	last    time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithHistory records delivered heartbeats.
func WithHistory(sink history.Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.history = sink
		}
	}
}

// WithClock overrides the time source used for active hours.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler validates config and creates a scheduler.
func NewScheduler(config Config, executor Executor, resolver TargetResolver, deliverer Deliverer, opts ...Option) (*Scheduler, error) {
	var errs []error
	if config.Interval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", config.Interval))
	}
	if executor == nil {
		errs = append(errs, errors.New("heartbeat executor is required"))
	}
	if deliverer == nil {
		errs = append(errs, errors.New("heartbeat deliverer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, agent.ErrConfiguration("invalid heartbeat configuration", err)
	}

	if config.AckMaxChars <= 0 {
		config.AckMaxChars = DefaultAckMaxChars
	}
	if config.Target.Kind == "" {
		config.Target.Kind = TargetLast
	}
	if config.DeliveryAttempts <= 0 {
		config.DeliveryAttempts = 3
	}
	if config.DeliveryRetryDelay <= 0 {
		config.DeliveryRetryDelay = time.Second
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 30 * time.Second
	}

	s := &Scheduler{
		config:    config,
		executor:  executor,
		resolver:  resolver,
		deliverer: deliverer,
		history:   history.NopSink{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "heartbeat")
	return s, nil
}

// Start runs the tick loop in the background. The first tick fires
// immediately. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.cancel = cancel
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			close(doneCh)
			s.mu.Unlock()
		}()
		s.loop(loopCtx, stopCh)
	}()
}

// Stop ends the loop, cancelling an in-flight tick, and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.cancel()
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

// Run ticks until ctx is done. It always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.loop(ctx, nil)
	return nil
}

// IsRunning reports whether the background loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastTick returns when the most recent tick started.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	s.logger.Info("heartbeat scheduler started",
		"interval", s.config.Interval,
		"active_hours", s.config.ActiveHours.String(),
		"target", s.config.Target.String(),
		"enabled", s.config.Enabled,
	)
	defer s.logger.Info("heartbeat scheduler stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-timer.C:
		}

		s.RunOnce(ctx)

		// The period counts from the end of a tick; missed ticks are not
		// made up.
		timer.Reset(s.config.Interval)
	}
}

// RunOnce performs a single tick at the current time.
func (s *Scheduler) RunOnce(ctx context.Context) TickResult {
	start := s.now()
	s.mu.Lock()
	s.last = start
	s.mu.Unlock()

	ctx, span := s.tracer.TraceHeartbeatTick(ctx)
	defer span.End()

	res := s.tick(ctx, start)
	res.Duration = s.now().Sub(start)

	span.SetAttributes(
		attribute.String("heartbeat.status", string(res.Status)),
		attribute.String("heartbeat.reason", res.Reason),
	)
	if res.Err != nil {
		observability.RecordError(span, res.Err)
	}
	s.metrics.HeartbeatTick(string(res.Status), res.Reason)

	attrs := []any{
		"status", string(res.Status),
		"reason", res.Reason,
		"duration", res.Duration,
	}
	if res.Status != StatusSkipped {
		attrs = append(attrs, "chat_id", int64(res.ChatID))
	}
	switch {
	case res.Err != nil:
		s.logger.Warn("heartbeat tick failed", append(attrs, "error", res.Err)...)
	case res.Status == StatusSkipped:
		s.logger.Info("heartbeat tick skipped", attrs...)
	default:
		s.logger.Info("heartbeat tick complete", attrs...)
	}
	return res
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) TickResult {
	if !s.config.ActiveHours.Contains(now) {
		return TickResult{Status: StatusSkipped, Reason: ReasonOutsideActiveHours}
	}
	if !s.config.Enabled {
		return TickResult{Status: StatusSkipped, Reason: ReasonDisabled}
	}
	chatID, reason, ok := s.config.Target.Resolve(s.resolver)
	if !ok {
		return TickResult{Status: StatusSkipped, Reason: reason}
	}

	ev := s.executor.Execute(ctx, agent.Request{
		ChatID:        chatID,
		Prompt:        s.prompt(),
		IsHeartbeat:   true,
		ModelOverride: s.config.Model,
	}, nil)

	if ev.Kind == agent.EventError {
		res := TickResult{Status: StatusFailed, Reason: string(ev.ErrorKind()), ChatID: chatID, Err: ev.Err}
		if s.config.DeliverErrors && ev.ErrorKind() != agent.KindCanceled {
			text := "Heartbeat check failed: " + ev.Err.Detail()
			if err := s.deliverWithRetry(ctx, chatID, text); err != nil {
				s.logger.Warn("failed to deliver heartbeat error", "chat_id", int64(chatID), "error", err)
			}
		}
		return res
	}

	decision := Classify(ev, s.config.AckMaxChars)
	if !decision.Deliver {
		return TickResult{Status: StatusRan, Reason: decision.Reason, ChatID: chatID}
	}

	if err := s.deliverWithRetry(ctx, chatID, decision.Text); err != nil {
		return TickResult{Status: StatusFailed, Reason: ReasonDeliveryFailed, ChatID: chatID, Text: decision.Text, Err: err}
	}
	s.history.Record(history.Entry{
		ChatID:    int64(chatID),
		Role:      history.RoleAssistant,
		Text:      decision.Text,
		Timestamp: s.now(),
	})
	return TickResult{Status: StatusRan, Reason: ReasonDelivered, ChatID: chatID, Text: decision.Text}
}

func (s *Scheduler) prompt() string {
	var checklist string
	if s.config.Checklist != nil {
		content, err := s.config.Checklist.Content()
		if err != nil {
			s.logger.Warn("heartbeat checklist unavailable", "error", err)
		}
		checklist = content
	}
	return BuildPrompt(s.config.Prompt, checklist)
}

// deliverWithRetry attempts delivery with exponential backoff.
func (s *Scheduler) deliverWithRetry(ctx context.Context, chatID sessions.ChatID, text string) error {
	policy := backoff.Policy{Initial: s.config.DeliveryRetryDelay, Factor: 2}
	return backoff.Retry(ctx, policy, s.config.DeliveryAttempts,
		func(ctx context.Context, _ int) error {
			attemptCtx, cancel := context.WithTimeout(ctx, s.config.DeliveryTimeout)
			defer cancel()
			return s.deliverer.DeliverHeartbeat(attemptCtx, chatID, text)
		},
		func(attempt int, err error) {
			s.metrics.RecordError("heartbeat", "delivery")
			s.logger.Debug("heartbeat delivery attempt failed", "chat_id", int64(chatID), "attempt", attempt, "error", err)
		},
	)
}
