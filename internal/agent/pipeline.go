package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/herald/internal/format"
	"github.com/haasonsaas/herald/internal/observability"
	"github.com/haasonsaas/herald/internal/sessions"
)

// DefaultSentinel is the heartbeat reply that means "nothing to report".
const DefaultSentinel = "HEARTBEAT_OK"

// PipelineConfig holds the run policy.
type PipelineConfig struct {
	// MinStreamLength is the rune count a trimmed chunk must exceed to be
	// forwarded as a fragment. Zero forwards every non-blank chunk.
	MinStreamLength int

	// PreResultTimeout is the idle window before the backend's result.
	PreResultTimeout time.Duration

	// PostResultTimeout is the idle window after the result while the
	// backend shuts down.
	PostResultTimeout time.Duration

	// Sentinel marks a heartbeat result as suppressed.
	Sentinel string

	// DefaultModel is used when a request carries no override.
	DefaultModel string
}

// DefaultPipelineConfig returns the production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinStreamLength:   200,
		PreResultTimeout:  30 * time.Minute,
		PostResultTimeout: 30 * time.Second,
		Sentinel:          DefaultSentinel,
	}
}

// Validate reports unusable settings.
func (c PipelineConfig) Validate() error {
	var errs []error
	if c.MinStreamLength < 0 {
		errs = append(errs, fmt.Errorf("min stream length must be >= 0, got %d", c.MinStreamLength))
	}
	if c.PreResultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pre-result timeout must be positive, got %s", c.PreResultTimeout))
	}
	if c.PostResultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("post-result timeout must be positive, got %s", c.PostResultTimeout))
	}
	return errors.Join(errs...)
}

// Pipeline runs one request against a backend under the idle-timeout policy.
//
// The pipeline holds no per-chat state. Callers serialize runs for a chat by
// holding its sessions.Lease while Run executes.
type Pipeline struct {
	backend Backend
	config  PipelineConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records run metrics.
func WithMetrics(metrics *observability.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// WithTracer wraps each run in a span.
func WithTracer(tracer *observability.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// NewPipeline creates a pipeline. An empty Sentinel falls back to
// DefaultSentinel.
func NewPipeline(backend Backend, config PipelineConfig, opts ...PipelineOption) (*Pipeline, error) {
	if backend == nil {
		return nil, ErrConfiguration("backend is required", nil)
	}
	if config.Sentinel == "" {
		config.Sentinel = DefaultSentinel
	}
	if err := config.Validate(); err != nil {
		return nil, ErrConfiguration("invalid pipeline config", err)
	}

	p := &Pipeline{
		backend: backend,
		config:  config,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline", "backend", backend.Name())
	return p, nil
}

// Config returns the pipeline's settings.
func (p *Pipeline) Config() PipelineConfig {
	return p.config
}

// Run executes req against session, calling onFragment for every forwarded
// fragment in backend order, and returns the single terminal event.
//
// The caller must hold the lease for session. onFragment is called from the
// calling goroutine and never after Run returns.
func (p *Pipeline) Run(ctx context.Context, session *sessions.ChatSession, req Request, onFragment func(string)) StreamEvent {
	start := time.Now()
	ctx, span := p.tracer.TraceRun(ctx, int64(req.ChatID), req.IsHeartbeat)
	defer span.End()

	ev := p.run(ctx, session, req, onFragment)

	origin := "user"
	if req.IsHeartbeat {
		origin = "heartbeat"
	}
	outcome := "result"
	switch {
	case ev.Kind == EventError:
		outcome = string(ev.Err.Kind)
		if ev.Err.Kind != KindCanceled {
			observability.RecordError(span, ev.Err)
		}
	case ev.Suppressed:
		outcome = "suppressed"
	}
	p.metrics.RecordRun(origin, outcome, time.Since(start).Seconds())

	p.logger.Debug("run finished",
		"chat_id", int64(req.ChatID),
		"origin", origin,
		"outcome", outcome,
		"duration", time.Since(start),
	)
	return ev
}

func (p *Pipeline) run(ctx context.Context, session *sessions.ChatSession, req Request, onFragment func(string)) StreamEvent {
	ev := p.attempt(ctx, req, session.AgentSessionToken, onFragment)

	if ev.ErrorKind() == KindSessionInvalid {
		p.logger.Warn("continuity token rejected, retrying with a fresh session",
			"chat_id", int64(req.ChatID),
			"had_token", session.AgentSessionToken != "",
		)
		session.AgentSessionToken = ""
		p.metrics.SessionRetry()
		ev = p.attempt(ctx, req, "", onFragment)
	}

	if ev.Kind != EventResult {
		return ev
	}
	if ev.SessionToken != "" {
		session.AgentSessionToken = ev.SessionToken
	}
	if req.IsHeartbeat && strings.TrimSpace(ev.Text) == p.config.Sentinel {
		ev.Suppressed = true
	}
	return ev
}

// attempt performs one backend submission. The backend is cancelled when
// attempt returns, whatever the outcome.
func (p *Pipeline) attempt(ctx context.Context, req Request, token string, onFragment func(string)) StreamEvent {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := req.ModelOverride
	if model == "" {
		model = p.config.DefaultModel
	}

	events, err := p.backend.Submit(runCtx, Submission{
		ChatID:       req.ChatID,
		Prompt:       req.Prompt,
		SessionToken: token,
		Model:        model,
	})
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx)
		}
		return Failure(asError(err))
	}

	clock := newIdleClock(p.config.PreResultTimeout, p.config.PostResultTimeout)
	defer clock.Stop()

	var captured *StreamEvent
	for {
		if ctx.Err() != nil {
			return canceled(ctx)
		}

		select {
		case <-ctx.Done():
			return canceled(ctx)

		case <-clock.C():
			if captured != nil {
				p.logger.Warn("backend still running after result, abandoning it",
					"chat_id", int64(req.ChatID),
					"post_result_timeout", p.config.PostResultTimeout,
				)
				return *captured
			}
			return Failure(ErrTimeout("No output for "+format.Duration(p.config.PreResultTimeout)+"."))

		case bev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return canceled(ctx)
				}
				if captured != nil {
					return *captured
				}
				return Failure(ErrProtocolViolation("backend stream ended without a result", nil))
			}

			switch bev.Type {
			case BackendText:
				clock.Touch()
				if captured == nil {
					p.forward(ctx, bev.Text, onFragment)
				}

			case BackendActivity:
				clock.Touch()

			case BackendResult:
				if captured != nil {
					clock.Touch()
					continue
				}
				result := Result(bev.Text, bev.SessionToken)
				captured = &result
				clock.EnterDraining()

			case BackendFailure:
				if captured != nil {
					p.logger.Debug("backend failed after result", "chat_id", int64(req.ChatID), "error", bev.Err)
					continue
				}
				if bev.Err == nil {
					return Failure(ErrProtocolViolation("backend failure without error", nil))
				}
				return Failure(asError(bev.Err))

			default:
				return Failure(ErrProtocolViolation(fmt.Sprintf("unknown backend event type %d", bev.Type), nil))
			}
		}
	}
}

// forward passes a chunk on as a fragment when it is long enough.
func (p *Pipeline) forward(ctx context.Context, text string, onFragment func(string)) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || utf8.RuneCountInString(trimmed) <= p.config.MinStreamLength {
		p.metrics.FragmentSwallowed()
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.metrics.FragmentForwarded()
	if onFragment != nil {
		onFragment(trimmed)
	}
}

func canceled(ctx context.Context) StreamEvent {
	return Failure(NewError(KindCanceled, "run canceled", ctx.Err()))
}
