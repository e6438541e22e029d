package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore provides an in-memory TranscriptStore.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	closed        bool
	now           func() time.Time
}

// NewMemoryStore creates an in-memory transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		now:           time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, chatID int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := s.now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return cloneConversation(conv), nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) Append(ctx context.Context, id string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	for _, turn := range turns {
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = now
		}
		conv.Turns = append(conv.Turns, turn)
	}
	conv.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneConversation(conv *Conversation) *Conversation {
	clone := *conv
	clone.Turns = append([]Turn(nil), conv.Turns...)
	return &clone
}
