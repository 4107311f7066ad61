package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"relay-agent/internal/domain"
)

// Questions answered without invoking the completion engine, matched by
// case-insensitive substring.
var (
	ownerKeywords    = []string{"who is owner", "owner name", "creator"}
	identityKeywords = []string{"what model", "which model", "who are you", "bot name", "your name", "ai name"}
)

// MemoryStore is the bounded per-user conversation log. Both operations
// degrade internally instead of failing the turn.
type MemoryStore interface {
	Load(ctx context.Context, userID string) []domain.ChatMessage
	Save(ctx context.Context, userID string, history []domain.ChatMessage)
}

// Replier produces one reply string for a conversation; provider
// failures are absorbed into a user-facing sentinel.
type Replier interface {
	Reply(ctx context.Context, systemPrompt string, messages []domain.ChatMessage) string
}

// Deliverer sends reply text to a chat within channel constraints.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Persona configures the fixed identity strings used in canned replies
// and the system prompt.
type Persona struct {
	BotName string
	Owner   string
}

// ChatService sequences one conversational turn: canned short-circuit
// checks, memory load, completion, memory append+save, delivery. It is
// stateless beyond its fixed configuration; concurrent turns for the
// same user may interleave load/save with last-writer-wins memory, which
// is accepted.
type ChatService struct {
	memory       MemoryStore
	engine       Replier
	deliver      Deliverer
	persona      Persona
	systemPrompt string
}

func NewChatService(memory MemoryStore, engine Replier, deliver Deliverer, persona Persona) (*ChatService, error) {
	if memory == nil {
		return nil, errors.New("usecase: memory store must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: completion engine must not be nil")
	}
	if deliver == nil {
		return nil, errors.New("usecase: deliverer must not be nil")
	}
	if strings.TrimSpace(persona.BotName) == "" {
		return nil, errors.New("usecase: persona bot name must not be empty")
	}
	return &ChatService{
		memory:       memory,
		engine:       engine,
		deliver:      deliver,
		persona:      persona,
		systemPrompt: buildSystemPrompt(persona.BotName),
	}, nil
}

// Handle answers one inbound text message from userID in chatID.
func (s *ChatService) Handle(ctx context.Context, chatID int64, userID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if reply, ok := s.cannedReply(text); ok {
		return s.deliver.Deliver(ctx, chatID, reply)
	}

	turnID := newTurnID()
	slog.Info("handling chat turn", "turn", turnID, "user", userID)

	history := s.memory.Load(ctx, userID)

	userMsg := domain.ChatMessage{Role: domain.RoleUser, Content: text}
	reply := s.engine.Reply(ctx, s.systemPrompt, append(history, userMsg))

	history = append(history, userMsg, domain.ChatMessage{Role: domain.RoleAssistant, Content: reply})
	s.memory.Save(ctx, userID, history)

	if err := s.deliver.Deliver(ctx, chatID, reply); err != nil {
		slog.Error("failed to deliver reply", "turn", turnID, "user", userID, "err", err)
		return err
	}
	return nil
}

// cannedReply short-circuits owner and identity questions so they never
// reach a model provider.
func (s *ChatService) cannedReply(text string) (string, bool) {
	lower := strings.ToLower(text)
	if containsAny(lower, ownerKeywords) {
		return fmt.Sprintf("My owner is %s.", s.persona.Owner), true
	}
	if containsAny(lower, identityKeywords) {
		return fmt.Sprintf("I am %s.", s.persona.BotName), true
	}
	return "", false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

var newTurnID = func() string {
	return uuid.NewString()
}
