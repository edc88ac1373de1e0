package conversation

import (
	"context"
	"time"

	cwindow "github.com/goatbytes/consoul/internal/context"
	"github.com/goatbytes/consoul/internal/consoulerr"
	"github.com/goatbytes/consoul/internal/models"
)

// TrimConfig parameterizes history trimming and summarization for one
// session turn.
type TrimConfig struct {
	// ContextWindow is the model's total token budget.
	ContextWindow int
	// ReserveTokens is held back for the response and framing overhead.
	ReserveTokens int

	// Summarize enables prefix summarization once message count reaches
	// SummarizeThreshold.
	Summarize          bool
	SummarizeThreshold int
	// KeepRecent is how many trailing messages survive summarization
	// verbatim.
	KeepRecent int
}

// Summarizer compacts a message prefix into a single summary string, via a
// secondary model when configured or the main model otherwise.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

const summaryMetadataKey = "consoul_summary"

// Trim applies the keep-last strategy: the system message (if any, always
// at index 0) and as many of the most recent messages as fit the token
// budget survive; no message is ever split. A single oversized message is
// still kept alone rather than dropped, since a message can't be split.
//
// Grounded on internal/context/truncation.go's Truncator.truncateOldest
// (same "always keep the system/first entry, drop oldest first" shape),
// rewritten directly against models.Message instead of round-tripping
// through that package's own Message/TruncationResult types, since the
// keep-last strategy here never needs the middle-truncation or pinned-
// message branches that package also supports.
func Trim(messages []models.Message, cfg TrimConfig) ([]models.Message, error) {
	if cfg.ReserveTokens >= cfg.ContextWindow {
		return nil, consoulerr.New(consoulerr.KindTokenLimitExceeded, "reserve_tokens must be less than context_window")
	}
	budget := cfg.ContextWindow - cfg.ReserveTokens

	var system *models.Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		s := messages[0]
		system = &s
		rest = messages[1:]
	}

	systemTokens := 0
	if system != nil {
		systemTokens = tokensOf(*system)
	}

	kept := make([]models.Message, 0, len(rest))
	total := systemTokens
	for i := len(rest) - 1; i >= 0; i-- {
		t := tokensOf(rest[i])
		if total+t > budget && len(kept) > 0 {
			break
		}
		total += t
		kept = append([]models.Message{rest[i]}, kept...)
	}

	out := make([]models.Message, 0, len(kept)+1)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, kept...)
	return out, nil
}

func tokensOf(m models.Message) int {
	if m.Tokens > 0 {
		return m.Tokens
	}
	return cwindow.EstimateTokens(m.Content) + 4
}

// ApplySummarization compacts the oldest messages into a single summary
// message once the history grows past cfg.SummarizeThreshold, keeping the
// last cfg.KeepRecent messages verbatim. It is idempotent: a history whose
// prefix is already a single summary message (tagged via
// summaryMetadataKey) is returned unchanged on a repeat call with no new
// content, since there is nothing left to compact.
func ApplySummarization(ctx context.Context, messages []models.Message, cfg TrimConfig, summarizer Summarizer) ([]models.Message, error) {
	if !cfg.Summarize || summarizer == nil || cfg.SummarizeThreshold <= 0 || len(messages) < cfg.SummarizeThreshold {
		return messages, nil
	}
	keepRecent := cfg.KeepRecent
	if keepRecent <= 0 {
		keepRecent = 10
	}

	var system *models.Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		s := messages[0]
		system = &s
		rest = messages[1:]
	}
	if len(rest) <= keepRecent {
		return messages, nil
	}

	prefix := rest[:len(rest)-keepRecent]
	recent := rest[len(rest)-keepRecent:]

	if len(prefix) == 1 && isSummary(prefix[0]) {
		return messages, nil
	}

	summary, err := summarizer.Summarize(ctx, prefix)
	if err != nil {
		return nil, consoulerr.Wrap(consoulerr.KindProvider, "summarization failed", err)
	}

	summaryMsg := models.Message{
		Role:      models.RoleAssistant,
		Content:   summary,
		Metadata:  map[string]any{summaryMetadataKey: true},
		CreatedAt: time.Now(),
	}

	out := make([]models.Message, 0, len(recent)+2)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, summaryMsg)
	out = append(out, recent...)
	return out, nil
}

func isSummary(m models.Message) bool {
	v, ok := m.Metadata[summaryMetadataKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
