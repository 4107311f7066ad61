// Package handler adapts the Telegram update stream onto the relay's
// use cases: chat turns, file uploads and the storage command surface.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"relay-agent/internal/domain"
	"relay-agent/internal/integrations/telegram"
	"relay-agent/internal/usecase"
)

const (
	defaultPollTimeout = 30 // seconds, getUpdates long poll
	listMaxKeys        = 20
	linkTTL            = time.Hour
)

// channelClient is the slice of the Telegram client the bot needs.
type channelClient interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, markdown bool) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markdown bool) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

type chatService interface {
	Handle(ctx context.Context, chatID int64, userID, text string) error
}

type uploadService interface {
	Upload(ctx context.Context, in usecase.UploadInput, progress func(stage string)) (usecase.UploadOutput, error)
}

// objectCommands is the slice of the object store behind the user-facing
// storage commands.
type objectCommands interface {
	List(ctx context.Context, max int) ([]domain.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Bot runs the long-poll loop and dispatches each update on its own
// goroutine. Turns for different users interleave freely; there is no
// per-user serialization.
type Bot struct {
	tg          channelClient
	chat        chatService
	uploads     uploadService
	objects     objectCommands
	botName     string
	pollTimeout int
}

func NewBot(tg channelClient, chat chatService, uploads uploadService, objects objectCommands, botName string) (*Bot, error) {
	if tg == nil {
		return nil, errors.New("handler: channel client must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if uploads == nil {
		return nil, errors.New("handler: upload service must not be nil")
	}
	if objects == nil {
		return nil, errors.New("handler: object store must not be nil")
	}
	if strings.TrimSpace(botName) == "" {
		return nil, errors.New("handler: bot name must not be empty")
	}
	return &Bot{
		tg:          tg,
		chat:        chat,
		uploads:     uploads,
		objects:     objects,
		botName:     botName,
		pollTimeout: defaultPollTimeout,
	}, nil
}

// Run polls for updates until ctx is cancelled. Cancellation stops the
// intake of new events; in-flight turns are not waited for.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := b.tg.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("poll failed, backing off", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			update := update
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update telegram.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := senderID(msg)

	if att := attachmentOf(msg); att != nil {
		b.handleUpload(ctx, chatID, userID, att)
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "":
		return
	case strings.HasPrefix(text, "/"):
		b.handleCommand(ctx, chatID, text)
	default:
		_ = b.tg.SendChatAction(ctx, chatID, "typing")
		if err := b.chat.Handle(ctx, chatID, userID, text); err != nil {
			slog.Error("chat turn failed", "chat", chatID, "user", userID, "err", err)
		}
	}
}

// attachment is one uploadable file reference extracted from a message.
type attachment struct {
	fileID   string
	fileName string
	photo    bool
}

// attachmentOf picks the message's document, video, audio, or the
// largest photo size.
func attachmentOf(msg *telegram.Message) *attachment {
	switch {
	case msg.Document != nil:
		return &attachment{fileID: msg.Document.FileID, fileName: msg.Document.FileName}
	case msg.Video != nil:
		return &attachment{fileID: msg.Video.FileID, fileName: msg.Video.FileName}
	case msg.Audio != nil:
		return &attachment{fileID: msg.Audio.FileID, fileName: msg.Audio.FileName}
	case len(msg.Photo) > 0:
		return &attachment{fileID: msg.Photo[len(msg.Photo)-1].FileID, photo: true}
	}
	return nil
}

func (b *Bot) handleUpload(ctx context.Context, chatID int64, userID string, att *attachment) {
	_ = b.tg.SendChatAction(ctx, chatID, "upload_document")

	statusID, err := b.tg.SendMessage(ctx, chatID, "Downloading attachment...", false)
	if err != nil {
		slog.Warn("could not send upload status message", "chat", chatID, "err", err)
	}
	editStatus := func(text string, markdown bool) {
		if statusID == 0 {
			return
		}
		if err := b.tg.EditMessageText(ctx, chatID, statusID, text, markdown); err != nil && markdown {
			_ = b.tg.EditMessageText(ctx, chatID, statusID, text, false)
		}
	}

	out, err := b.uploads.Upload(ctx, usecase.UploadInput{
		UserID:   userID,
		FileID:   att.fileID,
		FileName: att.fileName,
		Photo:    att.photo,
	}, func(stage string) {
		if stage == usecase.StageUploading {
			editStatus("Uploading to storage...", false)
		}
	})
	if err != nil {
		slog.Error("upload failed", "chat", chatID, "user", userID, "err", err)
		editStatus("Upload failed. Please try again.", false)
		return
	}

	editStatus(fmt.Sprintf("Upload complete.\n`%s`\n[Download link](%s)", out.Key, out.Link), true)
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	// Commands in group chats arrive as /cmd@botname.
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args := strings.Join(fields[1:], " ")

	switch command {
	case "/start":
		b.reply(ctx, chatID, b.helpText(), true)
	case "/list":
		b.listObjects(ctx, chatID)
	case "/delete":
		b.deleteObject(ctx, chatID, args)
	case "/link":
		b.linkObject(ctx, chatID, args)
	default:
		// Unknown commands are ignored.
	}
}

func (b *Bot) helpText() string {
	return fmt.Sprintf("*%s online*\n\nChat and code: just type.\nStorage: send me any file.\nCommands: /list, /delete, /link", b.botName)
}

func (b *Bot) listObjects(ctx context.Context, chatID int64) {
	_ = b.tg.SendChatAction(ctx, chatID, "typing")

	objects, err := b.objects.List(ctx, listMaxKeys)
	if err != nil {
		slog.Error("list objects failed", "chat", chatID, "err", err)
		b.reply(ctx, chatID, "Could not list storage files.", false)
		return
	}
	if len(objects) == 0 {
		b.reply(ctx, chatID, "Bucket is empty.", false)
		return
	}

	var sb strings.Builder
	sb.WriteString("*Recent storage files:*\n\n")
	for _, obj := range objects {
		fmt.Fprintf(&sb, "`%s` (%s)\n", obj.Key, readableSize(obj.Size))
	}
	b.reply(ctx, chatID, sb.String(), true)
}

func (b *Bot) deleteObject(ctx context.Context, chatID int64, key string) {
	if key == "" {
		b.reply(ctx, chatID, "Use: /delete filename.ext", false)
		return
	}
	if err := b.objects.Delete(ctx, key); err != nil {
		slog.Error("delete object failed", "chat", chatID, "key", key, "err", err)
		b.reply(ctx, chatID, "Failed to delete.", false)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("`%s` deleted.", key), true)
}

func (b *Bot) linkObject(ctx context.Context, chatID int64, key string) {
	if key == "" {
		return
	}
	url, err := b.objects.Presign(ctx, key, linkTTL)
	if err != nil {
		slog.Warn("presign failed", "chat", chatID, "key", key, "err", err)
		b.reply(ctx, chatID, "Could not generate link.", false)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("*Download link:*\n%s", url), true)
}

// reply sends one message, degrading markup to plain text when the
// channel rejects it.
func (b *Bot) reply(ctx context.Context, chatID int64, text string, markdown bool) {
	if _, err := b.tg.SendMessage(ctx, chatID, text, markdown); err != nil {
		if markdown {
			if _, err := b.tg.SendMessage(ctx, chatID, text, false); err == nil {
				return
			}
		}
		slog.Error("failed to send reply", "chat", chatID, "err", err)
	}
}

func senderID(msg *telegram.Message) string {
	if msg.From != nil {
		return strconv.FormatInt(msg.From.ID, 10)
	}
	return strconv.FormatInt(msg.Chat.ID, 10)
}

// readableSize renders a byte count the way humans read it.
func readableSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024.0 {
			return fmt.Sprintf("%.2f %s", value, unit)
		}
		value /= 1024.0
	}
	return fmt.Sprintf("%.2f TB", value)
}
