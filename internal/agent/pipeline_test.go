package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/herald/internal/observability"
	"github.com/haasonsaas/herald/internal/sessions"
)

type step struct {
	delay time.Duration
	event BackendEvent
}

// scriptedBackend replays one script per Submit call.
type scriptedBackend struct {
	mu        sync.Mutex
	scripts   [][]step
	subs      []Submission
	hang      bool
	submitErr error
	cancelled int
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Submit(ctx context.Context, sub Submission) (<-chan BackendEvent, error) {
	b.mu.Lock()
	idx := len(b.subs)
	b.subs = append(b.subs, sub)
	var script []step
	if idx < len(b.scripts) {
		script = b.scripts[idx]
	}
	hang := b.hang
	submitErr := b.submitErr
	b.mu.Unlock()

	if submitErr != nil {
		return nil, submitErr
	}

	ch := make(chan BackendEvent)
	go func() {
		defer close(ch)
		for _, s := range script {
			if s.delay > 0 {
				select {
				case <-time.After(s.delay):
				case <-ctx.Done():
					b.markCancelled()
					return
				}
			}
			select {
			case ch <- s.event:
			case <-ctx.Done():
				b.markCancelled()
				return
			}
		}
		if hang {
			<-ctx.Done()
			b.markCancelled()
		}
	}()
	return ch, nil
}

func (b *scriptedBackend) markCancelled() {
	b.mu.Lock()
	b.cancelled++
	b.mu.Unlock()
}

func (b *scriptedBackend) submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Submission(nil), b.subs...)
}

func (b *scriptedBackend) cancelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

func text(s string) BackendEvent { return BackendEvent{Type: BackendText, Text: s} }

func result(s, token string) BackendEvent {
	return BackendEvent{Type: BackendResult, Text: s, SessionToken: token}
}

func failure(err error) BackendEvent { return BackendEvent{Type: BackendFailure, Err: err} }

func testConfig() PipelineConfig {
	return PipelineConfig{
		MinStreamLength:   10,
		PreResultTimeout:  time.Second,
		PostResultTimeout: time.Second,
	}
}

func newTestPipeline(t *testing.T, backend Backend, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	t.Helper()
	p, err := NewPipeline(backend, cfg, opts...)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p
}

type fragmentLog struct {
	mu    sync.Mutex
	items []string
}

func (f *fragmentLog) add(s string) {
	f.mu.Lock()
	f.items = append(f.items, s)
	f.mu.Unlock()
}

func (f *fragmentLog) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.items...)
}

func TestPipeline_ShortChunkSwallowedThenResult(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{{
		{delay: 500 * time.Millisecond, event: text(strings.Repeat("a", 50))},
		{delay: 500 * time.Millisecond, event: result("done", "tok")},
	}}}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	p := newTestPipeline(t, backend, PipelineConfig{
		MinStreamLength:   200,
		PreResultTimeout:  2 * time.Second,
		PostResultTimeout: time.Second,
	}, WithMetrics(metrics))

	var frags fragmentLog
	session := &sessions.ChatSession{ChatID: 1}
	ev := p.Run(context.Background(), session, Request{ChatID: 1, Prompt: "hi"}, frags.add)

	if len(frags.all()) != 0 {
		t.Errorf("fragments = %v, want none", frags.all())
	}
	if ev.Kind != EventResult || ev.Text != "done" {
		t.Fatalf("terminal = %+v, want Result(done)", ev)
	}
	if got := testutil.ToFloat64(metrics.Fragments.WithLabelValues("swallowed")); got != 1 {
		t.Errorf("swallowed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Runs.WithLabelValues("user", "result")); got != 1 {
		t.Errorf("runs = %v, want 1", got)
	}
}

func TestPipeline_ForwardsLongChunksInOrder(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{{
		{event: text("  first chunk that is long enough  ")},
		{event: text("short")},
		{event: BackendEvent{Type: BackendActivity}},
		{event: text("second chunk that is long enough")},
		{event: result("final", "")},
	}}}
	p := newTestPipeline(t, backend, testConfig())

	var frags fragmentLog
	ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{Prompt: "x"}, frags.add)

	want := []string{"first chunk that is long enough", "second chunk that is long enough"}
	got := frags.all()
	if len(got) != len(want) {
		t.Fatalf("fragments = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fragment[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if ev.Kind != EventResult || ev.Text != "final" {
		t.Errorf("terminal = %+v", ev)
	}
}

func TestPipeline_MinStreamLengthBoundary(t *testing.T) {
	tests := []struct {
		name    string
		chunk   string
		forward bool
	}{
		{"equal to minimum", strings.Repeat("x", 10), false},
		{"one above minimum", strings.Repeat("x", 11), true},
		{"runes not bytes", strings.Repeat("é", 10), false},
		{"whitespace padding ignored", "   " + strings.Repeat("x", 10) + "\n\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{scripts: [][]step{{
				{event: text(tt.chunk)},
				{event: result("ok", "")},
			}}}
			p := newTestPipeline(t, backend, testConfig())

			var frags fragmentLog
			p.Run(context.Background(), &sessions.ChatSession{}, Request{}, frags.add)
			if got := len(frags.all()) == 1; got != tt.forward {
				t.Errorf("forwarded = %v, want %v", got, tt.forward)
			}
		})
	}
}

func TestPipeline_PreResultTimeout(t *testing.T) {
	backend := &scriptedBackend{hang: true}
	cfg := testConfig()
	cfg.PreResultTimeout = 50 * time.Millisecond
	p := newTestPipeline(t, backend, cfg)

	ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{}, nil)
	if ev.ErrorKind() != KindTimeout {
		t.Fatalf("terminal = %+v, want timeout", ev)
	}

	deadline := time.Now().Add(time.Second)
	for backend.cancelCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if backend.cancelCount() != 1 {
		t.Error("backend was not cancelled after timeout")
	}
}

func TestPipeline_SwallowedChunksKeepRunAlive(t *testing.T) {
	script := make([]step, 0, 6)
	for i := 0; i < 5; i++ {
		script = append(script, step{delay: 40 * time.Millisecond, event: text("tiny")})
	}
	script = append(script, step{delay: 40 * time.Millisecond, event: result("made it", "")})

	backend := &scriptedBackend{scripts: [][]step{script}}
	cfg := testConfig()
	cfg.PreResultTimeout = 100 * time.Millisecond
	p := newTestPipeline(t, backend, cfg)

	ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{}, nil)
	if ev.Kind != EventResult || ev.Text != "made it" {
		t.Fatalf("terminal = %+v, want Result(made it)", ev)
	}
}

func TestPipeline_ResultThenHangReturnsResult(t *testing.T) {
	backend := &scriptedBackend{
		scripts: [][]step{{{event: result("answer", "tok-9")}}},
		hang:    true,
	}
	cfg := testConfig()
	cfg.PreResultTimeout = time.Hour
	cfg.PostResultTimeout = 50 * time.Millisecond
	p := newTestPipeline(t, backend, cfg)

	session := &sessions.ChatSession{}
	start := time.Now()
	ev := p.Run(context.Background(), session, Request{}, nil)

	if ev.Kind != EventResult || ev.Text != "answer" {
		t.Fatalf("terminal = %+v, want Result(answer)", ev)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %v, post-result clock not honoured", elapsed)
	}
	if session.AgentSessionToken != "tok-9" {
		t.Errorf("token = %q, want tok-9", session.AgentSessionToken)
	}
}

func TestPipeline_TrailingEventsAfterResult(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{{
		{event: result("answer", "")},
		{event: text("a long trailing chunk that must not be forwarded")},
		{event: failure(ErrBackendUnavailable("exit status 1", nil))},
	}}}
	p := newTestPipeline(t, backend, testConfig())

	var frags fragmentLog
	ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{}, frags.add)
	if ev.Kind != EventResult || ev.Text != "answer" {
		t.Fatalf("terminal = %+v", ev)
	}
	if len(frags.all()) != 0 {
		t.Errorf("fragments after result = %v", frags.all())
	}
}

func TestPipeline_HeartbeatSentinel(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		heartbeat  bool
		suppressed bool
	}{
		{"exact sentinel", "HEARTBEAT_OK", true, true},
		{"sentinel with whitespace", "  HEARTBEAT_OK\n", true, true},
		{"sentinel on user run", "HEARTBEAT_OK", false, false},
		{"lowercase", "heartbeat_ok", true, false},
		{"sentinel with extra text", "HEARTBEAT_OK all good", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{scripts: [][]step{{{event: result(tt.text, "")}}}}
			p := newTestPipeline(t, backend, testConfig())

			ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{IsHeartbeat: tt.heartbeat}, nil)
			if ev.Kind != EventResult {
				t.Fatalf("terminal = %+v", ev)
			}
			if ev.Suppressed != tt.suppressed {
				t.Errorf("Suppressed = %v, want %v", ev.Suppressed, tt.suppressed)
			}
		})
	}
}

func TestPipeline_TokenHandling(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{
		{{event: result("one", "tok-1")}},
		{{event: result("two", "")}},
	}}
	p := newTestPipeline(t, backend, testConfig())
	session := &sessions.ChatSession{}

	p.Run(context.Background(), session, Request{}, nil)
	if session.AgentSessionToken != "tok-1" {
		t.Fatalf("token = %q, want tok-1", session.AgentSessionToken)
	}

	p.Run(context.Background(), session, Request{}, nil)
	if session.AgentSessionToken != "tok-1" {
		t.Errorf("empty result token replaced session token: %q", session.AgentSessionToken)
	}

	subs := backend.submissions()
	if subs[0].SessionToken != "" || subs[1].SessionToken != "tok-1" {
		t.Errorf("submitted tokens = %q, %q", subs[0].SessionToken, subs[1].SessionToken)
	}
}

func TestPipeline_InvalidTokenRetriedOnce(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{
		{{event: failure(ErrSessionInvalid("No conversation found", nil))}},
		{{event: result("fresh", "tok-new")}},
	}}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	p := newTestPipeline(t, backend, testConfig(), WithMetrics(metrics))

	session := &sessions.ChatSession{AgentSessionToken: "tok-old"}
	ev := p.Run(context.Background(), session, Request{Prompt: "again"}, nil)

	if ev.Kind != EventResult || ev.Text != "fresh" {
		t.Fatalf("terminal = %+v", ev)
	}
	subs := backend.submissions()
	if len(subs) != 2 {
		t.Fatalf("submissions = %d, want 2", len(subs))
	}
	if subs[0].SessionToken != "tok-old" || subs[1].SessionToken != "" {
		t.Errorf("tokens = %q, %q", subs[0].SessionToken, subs[1].SessionToken)
	}
	if subs[1].Prompt != "again" {
		t.Errorf("retry prompt = %q", subs[1].Prompt)
	}
	if session.AgentSessionToken != "tok-new" {
		t.Errorf("token = %q, want tok-new", session.AgentSessionToken)
	}
	if got := testutil.ToFloat64(metrics.SessionRetries); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
}

func TestPipeline_InvalidTokenTwice(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{
		{{event: failure(ErrSessionInvalid("expired", nil))}},
		{{event: failure(ErrSessionInvalid("expired", nil))}},
		{{event: result("unreachable", "")}},
	}}
	p := newTestPipeline(t, backend, testConfig())

	session := &sessions.ChatSession{AgentSessionToken: "tok-old"}
	ev := p.Run(context.Background(), session, Request{}, nil)

	if ev.ErrorKind() != KindSessionInvalid {
		t.Fatalf("terminal = %+v, want session_invalid", ev)
	}
	if n := len(backend.submissions()); n != 2 {
		t.Errorf("submissions = %d, want 2", n)
	}
	if session.AgentSessionToken != "" {
		t.Errorf("token = %q, want cleared", session.AgentSessionToken)
	}
}

func TestPipeline_BackendFailureNotRetried(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{
		{{event: failure(errors.New("connection refused"))}},
	}}
	p := newTestPipeline(t, backend, testConfig())

	ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{}, nil)
	if ev.ErrorKind() != KindBackendUnavailable {
		t.Fatalf("terminal = %+v, want backend_unavailable", ev)
	}
	if n := len(backend.submissions()); n != 1 {
		t.Errorf("submissions = %d, want 1", n)
	}
}

func TestPipeline_SubmitError(t *testing.T) {
	backend := &scriptedBackend{submitErr: ErrBackendUnavailable("spawn failed", errors.New("no such file"))}
	p := newTestPipeline(t, backend, testConfig())

	ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{}, nil)
	if ev.ErrorKind() != KindBackendUnavailable {
		t.Fatalf("terminal = %+v", ev)
	}
}

func TestPipeline_StreamEndsWithoutResult(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{{{event: text("some words but no result at all")}}}}
	p := newTestPipeline(t, backend, testConfig())

	ev := p.Run(context.Background(), &sessions.ChatSession{}, Request{}, nil)
	if ev.ErrorKind() != KindProtocolViolation {
		t.Fatalf("terminal = %+v, want protocol_violation", ev)
	}
}

func TestPipeline_Cancellation(t *testing.T) {
	backend := &scriptedBackend{
		scripts: [][]step{{{event: text("a fragment long enough to forward")}}},
		hang:    true,
	}
	p := newTestPipeline(t, backend, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	var frags fragmentLog
	done := make(chan StreamEvent, 1)
	go func() {
		done <- p.Run(ctx, &sessions.ChatSession{}, Request{}, func(s string) {
			frags.add(s)
			cancel()
		})
	}()

	select {
	case ev := <-done:
		if ev.ErrorKind() != KindCanceled {
			t.Errorf("terminal = %+v, want canceled", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if n := len(frags.all()); n != 1 {
		t.Errorf("fragments = %d, want 1", n)
	}

	deadline := time.Now().Add(time.Second)
	for backend.cancelCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if backend.cancelCount() == 0 {
		t.Error("cancellation did not reach the backend")
	}
}

func TestPipeline_ModelSelection(t *testing.T) {
	backend := &scriptedBackend{scripts: [][]step{
		{{event: result("a", "")}},
		{{event: result("b", "")}},
	}}
	cfg := testConfig()
	cfg.DefaultModel = "sonnet"
	p := newTestPipeline(t, backend, cfg)

	p.Run(context.Background(), &sessions.ChatSession{}, Request{}, nil)
	p.Run(context.Background(), &sessions.ChatSession{}, Request{ModelOverride: "opus"}, nil)

	subs := backend.submissions()
	if subs[0].Model != "sonnet" || subs[1].Model != "opus" {
		t.Errorf("models = %q, %q", subs[0].Model, subs[1].Model)
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		cfg     PipelineConfig
	}{
		{"nil backend", nil, testConfig()},
		{"negative min length", &scriptedBackend{}, PipelineConfig{MinStreamLength: -1, PreResultTimeout: time.Second, PostResultTimeout: time.Second}},
		{"zero pre timeout", &scriptedBackend{}, PipelineConfig{PostResultTimeout: time.Second}},
		{"zero post timeout", &scriptedBackend{}, PipelineConfig{PreResultTimeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(tt.backend, tt.cfg)
			if KindOf(err) != KindConfiguration {
				t.Errorf("error = %v, want configuration_error", err)
			}
		})
	}
}

func TestNewPipeline_DefaultSentinel(t *testing.T) {
	p := newTestPipeline(t, &scriptedBackend{}, testConfig())
	if p.Config().Sentinel != DefaultSentinel {
		t.Errorf("Sentinel = %q", p.Config().Sentinel)
	}
}
