package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *InProcess {
	t.Helper()
	s := NewInProcess(30 * time.Minute)
	t.Cleanup(s.Close)
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, "t1", "user", "What is CCS?")
	s.Append(ctx, "t1", "assistant", "CCS is Child Care Services.")
	s.Append(ctx, "t1", "user", "How do I apply for it?")

	msgs, err := s.Recent(ctx, "t1", 5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "What is CCS?" || msgs[2].Role != "user" {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestRecent_LimitsToMaxTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		s.Append(ctx, "t1", "user", fmt.Sprintf("q%d", i))
		s.Append(ctx, "t1", "assistant", fmt.Sprintf("a%d", i))
	}

	msgs, _ := s.Recent(ctx, "t1", 3)
	if len(msgs) != 6 {
		t.Fatalf("len = %d, want 6 (last 3 turns)", len(msgs))
	}
	if msgs[0].Content != "q7" {
		t.Errorf("first message = %q, want q7", msgs[0].Content)
	}
}

func TestRecent_UnknownThread(t *testing.T) {
	s := newTestStore(t)
	msgs, err := s.Recent(context.Background(), "nope", 5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if msgs != nil {
		t.Errorf("expected nil for unknown thread, got %v", msgs)
	}
}

func TestLenAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, "t1", "user", "q")
	s.Append(ctx, "t1", "assistant", "a")

	n, _ := s.Len(ctx, "t1")
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}

	s.Reset(ctx, "t1")
	n, _ = s.Len(ctx, "t1")
	if n != 0 {
		t.Errorf("Len after reset = %d, want 0", n)
	}
}

func TestAppend_ConcurrentSameThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append(ctx, "t1", "user", fmt.Sprintf("m%d", i))
		}(i)
	}
	wg.Wait()

	n, _ := s.Len(ctx, "t1")
	if n != 50 {
		t.Errorf("Len = %d, want 50 (no lost appends)", n)
	}
}

func TestEvictIdle(t *testing.T) {
	s := NewInProcess(time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	s.Append(ctx, "t1", "user", "q")
	time.Sleep(5 * time.Millisecond)
	s.evictIdle()

	n, _ := s.Len(ctx, "t1")
	if n != 0 {
		t.Errorf("thread not evicted after timeout, Len = %d", n)
	}
}
