package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

func history(pairs ...string) []model.Message {
	msgs := make([]model.Message, 0, len(pairs))
	for i, content := range pairs {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, model.Message{Role: role, Content: content})
	}
	return msgs
}

func TestReformulate_ShortHistoryPassesThrough(t *testing.T) {
	client := &fakeLLM{responses: []string{"should not be called"}}
	r := NewReformulator(client, "reform-model")

	got, err := r.Reformulate(context.Background(), "What is CCS?", nil)
	if err != nil {
		t.Fatalf("Reformulate() error: %v", err)
	}
	if got != "What is CCS?" {
		t.Errorf("got %q, want passthrough", got)
	}
	if client.calls != 0 {
		t.Errorf("LLM called %d times for empty history", client.calls)
	}

	// One message of history is also not enough to resolve anything.
	got, _ = r.Reformulate(context.Background(), "How do I apply?", history("What is CCS?"))
	if got != "How do I apply?" || client.calls != 0 {
		t.Errorf("single-message history should pass through, got %q calls=%d", got, client.calls)
	}
}

func TestReformulate_ResolvesPronoun(t *testing.T) {
	client := &fakeLLM{responses: []string{
		"<reformulated_query>How do I apply for CCS?</reformulated_query>",
	}}
	r := NewReformulator(client, "reform-model")

	h := history("What is CCS?", "CCS is Child Care Services, a subsidy program.")
	got, err := r.Reformulate(context.Background(), "How do I apply for it?", h)
	if err != nil {
		t.Fatalf("Reformulate() error: %v", err)
	}
	if got != "How do I apply for CCS?" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(client.prompts[0], "What is CCS?") {
		t.Error("history missing from reformulation prompt")
	}
}

func TestReformulate_MissingTagReturnsOriginal(t *testing.T) {
	client := &fakeLLM{responses: []string{"I think the user means CCS"}}
	r := NewReformulator(client, "reform-model")

	h := history("What is CCS?", "CCS is a subsidy program.")
	got, err := r.Reformulate(context.Background(), "How do I apply for it?", h)
	if err != nil {
		t.Fatalf("Reformulate() error: %v", err)
	}
	if got != "How do I apply for it?" {
		t.Errorf("got %q, want original on extraction failure", got)
	}
}

func TestReformulate_ProviderErrorReturnsOriginal(t *testing.T) {
	client := &fakeLLM{err: fmt.Errorf("provider down")}
	r := NewReformulator(client, "reform-model")

	h := history("What is CCS?", "CCS is a subsidy program.")
	got, err := r.Reformulate(context.Background(), "How do I apply for it?", h)
	if err != nil {
		t.Fatalf("Reformulate() error: %v", err)
	}
	if got != "How do I apply for it?" {
		t.Errorf("got %q, want original on provider failure", got)
	}
}

func TestReformulate_MultilineTag(t *testing.T) {
	client := &fakeLLM{responses: []string{
		"Here you go:\n<reformulated_query>\nWhat is the income limit for CCS for a family of 4?\n</reformulated_query>",
	}}
	r := NewReformulator(client, "reform-model")

	h := history("What is the income limit for CCS for a family of 3?", "It is $83,000 annually.")
	got, err := r.Reformulate(context.Background(), "What about for a family of 4?", h)
	if err != nil {
		t.Fatalf("Reformulate() error: %v", err)
	}
	if got != "What is the income limit for CCS for a family of 4?" {
		t.Errorf("got %q", got)
	}
}

func TestConversationContext_ShortHistoryIsRawTranscript(t *testing.T) {
	client := &fakeLLM{responses: []string{"should not be called"}}
	s := NewSummarizer(client, "reform-model")

	h := history("What is CCS?", "A subsidy program.")
	got, err := s.ConversationContext(context.Background(), h)
	if err != nil {
		t.Fatalf("ConversationContext() error: %v", err)
	}
	if !strings.Contains(got, "user: What is CCS?") {
		t.Errorf("transcript = %q", got)
	}
	if client.calls != 0 {
		t.Error("summarizer should not call the LLM for short history")
	}
}

func TestConversationContext_LongHistorySummarized(t *testing.T) {
	client := &fakeLLM{responses: []string{"User is asking about CCS eligibility for a family of 4."}}
	s := NewSummarizer(client, "reform-model")

	var turns []string
	for i := 0; i < 8; i++ {
		turns = append(turns, fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}
	got, err := s.ConversationContext(context.Background(), history(turns...))
	if err != nil {
		t.Fatalf("ConversationContext() error: %v", err)
	}
	if got != "User is asking about CCS eligibility for a family of 4." {
		t.Errorf("got %q, want summary", got)
	}
	if client.calls != 1 {
		t.Errorf("LLM calls = %d, want 1", client.calls)
	}
}

func TestConversationContext_EmptyHistory(t *testing.T) {
	s := NewSummarizer(&fakeLLM{}, "reform-model")
	got, err := s.ConversationContext(context.Background(), nil)
	if err != nil {
		t.Fatalf("ConversationContext() error: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
