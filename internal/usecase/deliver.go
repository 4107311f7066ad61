package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// maxMessageLen is the channel's rich-text message size limit.
	maxMessageLen = 4000

	continuationMarker = "...(continued)\n"

	defaultChunkPause = 500 * time.Millisecond
)

// MessageSender delivers one outbound message to a chat, optionally with
// rich markup rendering. A markup rejection surfaces as an error.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markdown bool) (int64, error)
}

// Formatter splits model output to fit the channel's message size limit
// and degrades markup rendering to plain text when the channel rejects
// it. Model output is not trusted to be well-formed markup.
type Formatter struct {
	sender MessageSender

	// pause between consecutive chunk sends; respects channel rate
	// limits. Tests shorten it.
	pause time.Duration
}

func NewFormatter(sender MessageSender) (*Formatter, error) {
	if sender == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	return &Formatter{sender: sender, pause: defaultChunkPause}, nil
}

// Deliver sends text to the chat in one or more messages. Empty text is
// a no-op. Long text is sliced into fixed-width chunks in order; every
// chunk after the first carries the continuation marker in both the
// markup attempt and the plaintext fallback.
func (f *Formatter) Deliver(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= maxMessageLen {
		return f.sendWithFallback(ctx, chatID, text)
	}

	for i := 0; i < len(runes); i += maxMessageLen {
		end := i + maxMessageLen
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[i:end])
		if i > 0 {
			chunk = continuationMarker + chunk
			time.Sleep(f.pause)
		}
		if err := f.sendWithFallback(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendWithFallback attempts markup rendering first and retries the same
// text as plain text when the channel rejects it.
func (f *Formatter) sendWithFallback(ctx context.Context, chatID int64, text string) error {
	if _, err := f.sender.SendMessage(ctx, chatID, text, true); err != nil {
		slog.Info("markup send rejected, retrying as plain text", "chat", chatID, "err", err)
		if _, err := f.sender.SendMessage(ctx, chatID, text, false); err != nil {
			return newError(ErrorDelivery, "send_failed", fmt.Errorf("plain text resend: %w", err))
		}
	}
	return nil
}
