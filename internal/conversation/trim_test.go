package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/goatbytes/consoul/internal/consoulerr"
	"github.com/goatbytes/consoul/internal/models"
)

func msg(role models.Role, content string) models.Message {
	return models.Message{Role: role, Content: content}
}

func TestTrimKeepsSystemAndFitsBudget(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleSystem, "you are a helpful assistant"),
		msg(models.RoleUser, strings.Repeat("a", 4000)),
		msg(models.RoleAssistant, strings.Repeat("b", 4000)),
		msg(models.RoleUser, "recent question"),
	}

	out, err := Trim(messages, TrimConfig{ContextWindow: 1200, ReserveTokens: 100})
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if out[0].Role != models.RoleSystem {
		t.Fatalf("expected system message to survive at index 0, got %v", out[0])
	}
	if out[len(out)-1].Content != "recent question" {
		t.Fatalf("expected the most recent message to survive, got %q", out[len(out)-1].Content)
	}
}

func TestTrimNeverSplitsAnOversizedMessage(t *testing.T) {
	messages := []models.Message{msg(models.RoleUser, strings.Repeat("x", 100000))}
	out, err := Trim(messages, TrimConfig{ContextWindow: 100, ReserveTokens: 10})
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the single oversized message to be kept whole, got %d messages", len(out))
	}
}

func TestTrimRejectsReserveAtOrAboveWindow(t *testing.T) {
	_, err := Trim(nil, TrimConfig{ContextWindow: 1000, ReserveTokens: 1000})
	if !consoulerr.Is(err, consoulerr.KindTokenLimitExceeded) {
		t.Fatalf("expected KindTokenLimitExceeded, got %v", err)
	}
}

func TestTrimIsIdempotentWhenNothingNew(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleSystem, "system"),
		msg(models.RoleUser, "hello"),
		msg(models.RoleAssistant, "hi there"),
	}
	cfg := TrimConfig{ContextWindow: 100000, ReserveTokens: 100}

	first, err := Trim(messages, cfg)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	second, err := Trim(first, cfg)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected idempotent trim, got %d then %d messages", len(first), len(second))
	}
}

type fakeSummarizer struct {
	calls int
	text  string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	f.calls++
	return f.text, nil
}

func TestApplySummarizationCompactsOldPrefix(t *testing.T) {
	messages := []models.Message{msg(models.RoleSystem, "system")}
	for i := 0; i < 20; i++ {
		messages = append(messages, msg(models.RoleUser, "message"))
	}
	summarizer := &fakeSummarizer{text: "compacted summary"}

	out, err := ApplySummarization(context.Background(), messages, TrimConfig{
		Summarize:          true,
		SummarizeThreshold: 10,
		KeepRecent:         5,
	}, summarizer)
	if err != nil {
		t.Fatalf("ApplySummarization: %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected exactly one summarization call, got %d", summarizer.calls)
	}
	// system + summary + 5 kept recent
	if len(out) != 7 {
		t.Fatalf("expected 7 messages after summarization, got %d", len(out))
	}
	if !isSummary(out[1]) {
		t.Fatalf("expected the second message to be tagged as a summary")
	}
}

func TestApplySummarizationIsIdempotent(t *testing.T) {
	messages := []models.Message{msg(models.RoleSystem, "system")}
	for i := 0; i < 20; i++ {
		messages = append(messages, msg(models.RoleUser, "message"))
	}
	summarizer := &fakeSummarizer{text: "compacted summary"}
	cfg := TrimConfig{Summarize: true, SummarizeThreshold: 10, KeepRecent: 5}

	first, err := ApplySummarization(context.Background(), messages, cfg, summarizer)
	if err != nil {
		t.Fatalf("ApplySummarization: %v", err)
	}
	// A second pass with the same (unchanged) content should not summarize again.
	second, err := ApplySummarization(context.Background(), first, cfg, summarizer)
	if err != nil {
		t.Fatalf("ApplySummarization: %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected summarizer to be called once across both passes, got %d", summarizer.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("expected idempotent summarization, got %d then %d", len(first), len(second))
	}
}

func TestApplySummarizationSkippedBelowThreshold(t *testing.T) {
	messages := []models.Message{msg(models.RoleUser, "hello")}
	summarizer := &fakeSummarizer{text: "unused"}
	out, err := ApplySummarization(context.Background(), messages, TrimConfig{
		Summarize:          true,
		SummarizeThreshold: 10,
		KeepRecent:         5,
	}, summarizer)
	if err != nil {
		t.Fatalf("ApplySummarization: %v", err)
	}
	if summarizer.calls != 0 {
		t.Fatalf("expected no summarization below the threshold")
	}
	if len(out) != len(messages) {
		t.Fatalf("expected messages unchanged below threshold")
	}
}
