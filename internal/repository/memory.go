package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"relay-agent/internal/domain"
)

const (
	// memoryWindow bounds the persisted history; oldest turns drop first.
	memoryWindow = 20

	memoryKeyPrefix = "memory/"
)

// blobStore is the narrow slice of the object store the memory layer needs.
type blobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// MemoryStore persists one bounded conversation history per user in the
// shared bucket. Persistence is best-effort: the chat flow must keep
// working when storage misbehaves, so Load degrades to an empty history
// and Save swallows write failures.
type MemoryStore struct {
	store blobStore
}

func NewMemoryStore(store blobStore) (*MemoryStore, error) {
	if store == nil {
		return nil, errors.New("repository: blob store must not be nil")
	}
	return &MemoryStore{store: store}, nil
}

func memoryKey(userID string) string {
	return memoryKeyPrefix + userID + ".json"
}

// Load returns the user's conversation history, oldest first. An absent,
// corrupt, or wrongly shaped record yields an empty history, never an
// error.
func (m *MemoryStore) Load(ctx context.Context, userID string) []domain.ChatMessage {
	raw, err := m.store.Get(ctx, memoryKey(userID))
	if err != nil {
		slog.Info("no stored memory for user", "user", userID, "err", err)
		return nil
	}

	var history []domain.ChatMessage
	if err := json.Unmarshal(raw, &history); err != nil {
		slog.Warn("discarding unreadable memory record", "user", userID, "err", err)
		return nil
	}
	return history
}

// Save persists the history trimmed to its most recent entries. Write
// failures are logged and dropped; losing memory must never block the
// reply.
func (m *MemoryStore) Save(ctx context.Context, userID string, history []domain.ChatMessage) {
	trimmed := trimHistory(history, memoryWindow)

	body, err := json.Marshal(trimmed)
	if err != nil {
		slog.Warn("failed to encode memory record", "user", userID, "err", err)
		return
	}
	if err := m.store.Put(ctx, memoryKey(userID), body, "application/json"); err != nil {
		slog.Warn("failed to persist memory record", "user", userID, "err", err)
	}
}

// trimHistory keeps the last max entries of history.
func trimHistory(history []domain.ChatMessage, max int) []domain.ChatMessage {
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
