// Package sessions owns the per-chat agent sessions and the locks that
// serialize work on them.
package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ChatID identifies a chat on the messaging platform.
type ChatID int64

// ChatSession carries conversational continuity for one chat.
//
// A ChatSession is only mutated by the holder of the chat's Lease.
type ChatSession struct {
	ChatID            ChatID
	AgentSessionToken string
	LastActivityAt    time.Time
	InFlight          bool
}

// entry pairs a session with its lock. The lock is a one-slot channel so
// waiters can select on context cancellation.
type entry struct {
	lock    chan struct{}
	session *ChatSession

	// published is a copy of session taken at release, guarded by Registry.mu.
	published ChatSession
}

// Registry maps chat ids to sessions. There is no registry-wide lock held
// while a chat is in use; mu only guards the map and bookkeeping fields.
//
// Thread Safety:
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[ChatID]*entry

	lastActive    ChatID
	hasLastActive bool

	now    func() time.Time
	logger *slog.Logger
	onWait func(time.Duration)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWaitObserver registers a callback receiving how long each successful
// Acquire waited for the chat lock.
func WithWaitObserver(fn func(time.Duration)) RegistryOption {
	return func(r *Registry) {
		r.onWait = fn
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[ChatID]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "sessions")
	return r
}

func (r *Registry) entryFor(chatID ChatID) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[chatID]
	if !ok {
		session := &ChatSession{ChatID: chatID}
		e = &entry{
			lock:      make(chan struct{}, 1),
			session:   session,
			published: *session,
		}
		r.entries[chatID] = e
		r.logger.Debug("session created", "chat_id", int64(chatID))
	}
	return e
}

// Acquire blocks until no other holder has chatID, then returns a lease on
// the chat's session. The session is created on first use. If ctx ends
// before the lock is obtained, ctx.Err() is returned and nothing is held.
func (r *Registry) Acquire(ctx context.Context, chatID ChatID) (*Lease, error) {
	e := r.entryFor(chatID)
	start := r.now()

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Both cases may have been ready; a cancelled caller must not keep the lock.
	if err := ctx.Err(); err != nil {
		<-e.lock
		return nil, err
	}

	if r.onWait != nil {
		r.onWait(r.now().Sub(start))
	}

	e.session.InFlight = true
	r.mu.Lock()
	e.published.InFlight = true
	r.mu.Unlock()

	return &Lease{registry: r, entry: e}, nil
}

// RecordUserActivity marks chatID as the most recently active user chat.
func (r *Registry) RecordUserActivity(chatID ChatID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = chatID
	r.hasLastActive = true
}

// LastActive returns the chat of the most recently completed user run.
func (r *Registry) LastActive() (ChatID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive, r.hasLastActive
}

// Snapshot returns a copy of the chat's session as of its last release.
func (r *Registry) Snapshot(chatID ChatID) (ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[chatID]
	if !ok {
		return ChatSession{}, false
	}
	return e.published, true
}

// Len returns the number of known chats.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Lease is exclusive access to one chat's session.
type Lease struct {
	registry *Registry
	entry    *entry
	once     sync.Once
}

// Session returns the leased session. It must not be used after Release.
func (l *Lease) Session() *ChatSession {
	return l.entry.session
}

// Release returns the chat to the registry. Calling it more than once is a
// no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		s := l.entry.session
		s.InFlight = false
		s.LastActivityAt = l.registry.now()

		l.registry.mu.Lock()
		l.entry.published = *s
		l.registry.mu.Unlock()

		<-l.entry.lock
	})
}
