// Package memory provides thread-scoped conversation history for
// multi-turn mode. Append is the only mutator; reads observe a
// linearizable view of prior appends on the same thread.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// Store is the conversation memory contract. Implementations serialize
// appends per thread so a later turn observes all prior appends.
type Store interface {
	Append(ctx context.Context, threadID, role, content string) error
	Recent(ctx context.Context, threadID string, maxTurns int) ([]model.Message, error)
	Len(ctx context.Context, threadID string) (int, error)
	Reset(ctx context.Context, threadID string) error
}

// InProcess is the default ephemeral backend. Threads idle past the
// session timeout are evicted by a background sweep.
type InProcess struct {
	mu      sync.RWMutex
	threads map[string]*thread
	timeout time.Duration
	stopCh  chan struct{}
}

type thread struct {
	mu       sync.Mutex
	messages []model.Message
	updated  time.Time
}

// NewInProcess creates an in-process store and starts the eviction sweep.
func NewInProcess(sessionTimeout time.Duration) *InProcess {
	s := &InProcess{
		threads: make(map[string]*thread),
		timeout: sessionTimeout,
		stopCh:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Close stops the eviction sweep.
func (s *InProcess) Close() { close(s.stopCh) }

// getOrCreate returns the thread for id, creating it on first use.
func (s *InProcess) getOrCreate(threadID string) *thread {
	s.mu.RLock()
	t, ok := s.threads[threadID]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.threads[threadID]; ok {
		return t
	}
	t = &thread{}
	s.threads[threadID] = t
	return t
}

func (s *InProcess) Append(ctx context.Context, threadID, role, content string) error {
	t := s.getOrCreate(threadID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, model.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	t.updated = time.Now()
	return nil
}

func (s *InProcess) Recent(ctx context.Context, threadID string, maxTurns int) ([]model.Message, error) {
	s.mu.RLock()
	t, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 2 * maxTurns
	msgs := t.messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InProcess) Len(ctx context.Context, threadID string) (int, error) {
	s.mu.RLock()
	t, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages), nil
}

func (s *InProcess) Reset(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func (s *InProcess) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *InProcess) evictIdle() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.threads {
		t.mu.Lock()
		idle := now.Sub(t.updated) > s.timeout
		t.mu.Unlock()
		if idle {
			delete(s.threads, id)
		}
	}
}
