package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"relay-agent/internal/domain"
)

const (
	// BusyReply is returned when every model candidate has failed. It is
	// a terminal, user-facing outcome for the turn, not an error.
	BusyReply = "All AI servers are busy. Try again later."

	completionMaxTokens   = 4000
	completionTemperature = 0.7
)

// ChatCompleter issues one completion request against a specific model.
type ChatCompleter interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int, temperature float64) (string, error)
}

// Engine produces a reply by trying model candidates in priority order.
// Providers are flaky and rate-limited; serial fallback trades latency
// for availability without surfacing provider-specific errors to the
// caller.
type Engine struct {
	llm    ChatCompleter
	models []string
}

func NewEngine(llm ChatCompleter, models []string) (*Engine, error) {
	if llm == nil {
		return nil, errors.New("usecase: chat completer must not be nil")
	}
	if len(models) == 0 {
		return nil, errors.New("usecase: model candidate list must not be empty")
	}
	return &Engine{llm: llm, models: models}, nil
}

// Reply tries each candidate once with the system prompt prepended. The
// first non-empty trimmed answer wins; whitespace-only content counts as
// a failure. When all candidates fail the busy sentinel is returned.
func (e *Engine) Reply(ctx context.Context, systemPrompt string, messages []domain.ChatMessage) string {
	full := make([]domain.ChatMessage, 0, len(messages)+1)
	full = append(full, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	full = append(full, messages...)

	for _, model := range e.models {
		content, err := e.llm.Chat(ctx, model, full, completionMaxTokens, completionTemperature)
		if err != nil {
			slog.Warn("model candidate failed", "model", model, "err", err)
			continue
		}
		reply := strings.TrimSpace(content)
		if reply == "" {
			slog.Warn("model candidate returned empty content", "model", model)
			continue
		}
		return reply
	}

	slog.Warn("all model candidates failed", "candidates", len(e.models))
	return BusyReply
}
