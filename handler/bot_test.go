package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay-agent/internal/domain"
	"relay-agent/internal/integrations/telegram"
	"relay-agent/internal/usecase"
)

type sentReply struct {
	chatID   int64
	text     string
	markdown bool
}

type fakeChannel struct {
	mu       sync.Mutex
	updates  [][]telegram.Update
	pollErr  error
	sent     []sentReply
	edits    []sentReply
	actions  []string
	nextID   int64
	sendFail func(text string, markdown bool) error
}

func (f *fakeChannel) GetUpdates(_ context.Context, _ int64, _ int) ([]telegram.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.updates) == 0 {
		return nil, nil
	}
	batch := f.updates[0]
	f.updates = f.updates[1:]
	return batch, nil
}

func (f *fakeChannel) SendMessage(_ context.Context, chatID int64, text string, markdown bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFail != nil {
		if err := f.sendFail(text, markdown); err != nil {
			return 0, err
		}
	}
	f.sent = append(f.sent, sentReply{chatID: chatID, text: text, markdown: markdown})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeChannel) EditMessageText(_ context.Context, chatID, _ int64, text string, markdown bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentReply{chatID: chatID, text: text, markdown: markdown})
	return nil
}

func (f *fakeChannel) SendChatAction(_ context.Context, _ int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

type fakeChat struct {
	mu     sync.Mutex
	calls  []string
	chatID int64
	userID string
}

func (f *fakeChat) Handle(_ context.Context, chatID int64, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatID = chatID
	f.userID = userID
	f.calls = append(f.calls, text)
	return nil
}

type fakeUploads struct {
	out    usecase.UploadOutput
	err    error
	gotIn  usecase.UploadInput
	stages []string
}

func (f *fakeUploads) Upload(_ context.Context, in usecase.UploadInput, progress func(string)) (usecase.UploadOutput, error) {
	f.gotIn = in
	for _, stage := range []string{usecase.StageDownloading, usecase.StageUploading} {
		f.stages = append(f.stages, stage)
		if progress != nil {
			progress(stage)
		}
	}
	return f.out, f.err
}

type fakeObjects struct {
	objects    []domain.ObjectInfo
	listErr    error
	deleteErr  error
	presignErr error
	url        string
	deletedKey string
	signedKey  string
}

func (f *fakeObjects) List(_ context.Context, _ int) ([]domain.ObjectInfo, error) {
	return f.objects, f.listErr
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.deletedKey = key
	return f.deleteErr
}

func (f *fakeObjects) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	f.signedKey = key
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return f.url, nil
}

func newTestBot(t *testing.T, tg *fakeChannel, chat *fakeChat, uploads *fakeUploads, objects *fakeObjects) *Bot {
	t.Helper()
	b, err := NewBot(tg, chat, uploads, objects, "Relay v1")
	require.NoError(t, err)
	return b
}

func textUpdate(updateID, chatID, userID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: updateID,
		Message: &telegram.Message{
			MessageID: updateID,
			From:      &telegram.User{ID: userID},
			Chat:      telegram.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func TestNewBot_Validation(t *testing.T) {
	tg := &fakeChannel{}
	chat := &fakeChat{}
	uploads := &fakeUploads{}
	objects := &fakeObjects{}

	_, err := NewBot(nil, chat, uploads, objects, "x")
	require.Error(t, err)
	_, err = NewBot(tg, nil, uploads, objects, "x")
	require.Error(t, err)
	_, err = NewBot(tg, chat, nil, objects, "x")
	require.Error(t, err)
	_, err = NewBot(tg, chat, uploads, nil, "x")
	require.Error(t, err)
	_, err = NewBot(tg, chat, uploads, objects, " ")
	require.Error(t, err)
}

func TestHandleUpdate_TextGoesToChatService(t *testing.T) {
	tg := &fakeChannel{}
	chat := &fakeChat{}
	b := newTestBot(t, tg, chat, &fakeUploads{}, &fakeObjects{})

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "hello there"))

	require.Equal(t, []string{"hello there"}, chat.calls)
	require.Equal(t, int64(9), chat.chatID)
	require.Equal(t, "42", chat.userID)
	require.Contains(t, tg.actions, "typing")
}

func TestHandleUpdate_EmptyAndNilMessagesIgnored(t *testing.T) {
	chat := &fakeChat{}
	b := newTestBot(t, &fakeChannel{}, chat, &fakeUploads{}, &fakeObjects{})

	b.handleUpdate(context.Background(), telegram.Update{UpdateID: 1})
	b.handleUpdate(context.Background(), textUpdate(2, 9, 42, "   "))
	require.Empty(t, chat.calls)
}

func TestHandleCommand_Start(t *testing.T) {
	tg := &fakeChannel{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, &fakeObjects{})

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/start"))
	require.Len(t, tg.sent, 1)
	require.Contains(t, tg.sent[0].text, "Relay v1")
	require.Contains(t, tg.sent[0].text, "/list")
}

func TestHandleCommand_List(t *testing.T) {
	tg := &fakeChannel{}
	objects := &fakeObjects{objects: []domain.ObjectInfo{
		{Key: "a.txt", Size: 532},
		{Key: "b.bin", Size: 5 << 20},
	}}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, objects)

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/list"))
	require.Len(t, tg.sent, 1)
	require.Contains(t, tg.sent[0].text, "a.txt")
	require.Contains(t, tg.sent[0].text, "532.00 B")
	require.Contains(t, tg.sent[0].text, "5.00 MB")
	require.True(t, tg.sent[0].markdown)
}

func TestHandleCommand_ListEmptyBucket(t *testing.T) {
	tg := &fakeChannel{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, &fakeObjects{})

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/list"))
	require.Len(t, tg.sent, 1)
	require.Equal(t, "Bucket is empty.", tg.sent[0].text)
}

func TestHandleCommand_ListFailure(t *testing.T) {
	tg := &fakeChannel{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, &fakeObjects{listErr: errors.New("down")})

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/list"))
	require.Len(t, tg.sent, 1)
	require.Equal(t, "Could not list storage files.", tg.sent[0].text)
}

func TestHandleCommand_Delete(t *testing.T) {
	tg := &fakeChannel{}
	objects := &fakeObjects{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, objects)

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/delete old report.pdf"))
	require.Equal(t, "old report.pdf", objects.deletedKey)
	require.Contains(t, tg.sent[0].text, "deleted")
}

func TestHandleCommand_DeleteWithoutArgsShowsUsage(t *testing.T) {
	tg := &fakeChannel{}
	objects := &fakeObjects{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, objects)

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/delete"))
	require.Empty(t, objects.deletedKey)
	require.Contains(t, tg.sent[0].text, "Use: /delete")
}

func TestHandleCommand_Link(t *testing.T) {
	tg := &fakeChannel{}
	objects := &fakeObjects{url: "https://store.example/signed"}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, objects)

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/link a.txt"))
	require.Equal(t, "a.txt", objects.signedKey)
	require.Contains(t, tg.sent[0].text, "https://store.example/signed")
}

func TestHandleCommand_LinkFailure(t *testing.T) {
	tg := &fakeChannel{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, &fakeObjects{presignErr: errors.New("outage")})

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/link a.txt"))
	require.Equal(t, "Could not generate link.", tg.sent[0].text)
}

func TestHandleCommand_LinkWithoutArgsIgnored(t *testing.T) {
	tg := &fakeChannel{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, &fakeObjects{})

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/link"))
	require.Empty(t, tg.sent)
}

func TestHandleCommand_BotSuffixAndUnknown(t *testing.T) {
	tg := &fakeChannel{}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, &fakeObjects{})

	b.handleUpdate(context.Background(), textUpdate(1, 9, 42, "/start@relaybot"))
	require.Len(t, tg.sent, 1)

	b.handleUpdate(context.Background(), textUpdate(2, 9, 42, "/bogus"))
	require.Len(t, tg.sent, 1, "unknown commands are ignored")
}

func TestHandleUpdate_DocumentUpload(t *testing.T) {
	tg := &fakeChannel{}
	uploads := &fakeUploads{out: usecase.UploadOutput{Key: "report.pdf", Link: "https://store.example/signed"}}
	b := newTestBot(t, tg, &fakeChat{}, uploads, &fakeObjects{})

	update := telegram.Update{UpdateID: 1, Message: &telegram.Message{
		From:     &telegram.User{ID: 42},
		Chat:     telegram.Chat{ID: 9},
		Document: &telegram.Document{FileID: "f1", FileName: "report.pdf"},
	}}
	b.handleUpdate(context.Background(), update)

	require.Equal(t, "f1", uploads.gotIn.FileID)
	require.Equal(t, "report.pdf", uploads.gotIn.FileName)
	require.Equal(t, "42", uploads.gotIn.UserID)
	require.False(t, uploads.gotIn.Photo)
	require.Contains(t, tg.actions, "upload_document")

	// Initial status message plus the uploading edit and the final edit.
	require.Len(t, tg.sent, 1)
	require.Equal(t, "Downloading attachment...", tg.sent[0].text)
	require.Len(t, tg.edits, 2)
	require.Equal(t, "Uploading to storage...", tg.edits[0].text)
	require.Contains(t, tg.edits[1].text, "report.pdf")
	require.Contains(t, tg.edits[1].text, "https://store.example/signed")
}

func TestHandleUpdate_PhotoPicksLargestSize(t *testing.T) {
	uploads := &fakeUploads{out: usecase.UploadOutput{Key: "k", Link: "l"}}
	b := newTestBot(t, &fakeChannel{}, &fakeChat{}, uploads, &fakeObjects{})

	update := telegram.Update{UpdateID: 1, Message: &telegram.Message{
		From: &telegram.User{ID: 42},
		Chat: telegram.Chat{ID: 9},
		Photo: []telegram.PhotoSize{
			{FileID: "thumb", FileSize: 100},
			{FileID: "full", FileSize: 90000},
		},
	}}
	b.handleUpdate(context.Background(), update)

	require.Equal(t, "full", uploads.gotIn.FileID)
	require.True(t, uploads.gotIn.Photo)
	require.Empty(t, uploads.gotIn.FileName)
}

func TestHandleUpdate_UploadFailureShowsGenericError(t *testing.T) {
	tg := &fakeChannel{}
	uploads := &fakeUploads{err: errors.New("storage down")}
	b := newTestBot(t, tg, &fakeChat{}, uploads, &fakeObjects{})

	update := telegram.Update{UpdateID: 1, Message: &telegram.Message{
		From:     &telegram.User{ID: 42},
		Chat:     telegram.Chat{ID: 9},
		Document: &telegram.Document{FileID: "f1"},
	}}
	b.handleUpdate(context.Background(), update)

	require.NotEmpty(t, tg.edits)
	require.Equal(t, "Upload failed. Please try again.", tg.edits[len(tg.edits)-1].text)
}

func TestReply_MarkdownFallsBackToPlain(t *testing.T) {
	tg := &fakeChannel{sendFail: func(_ string, markdown bool) error {
		if markdown {
			return errors.New("can't parse entities")
		}
		return nil
	}}
	b := newTestBot(t, tg, &fakeChat{}, &fakeUploads{}, &fakeObjects{})

	b.reply(context.Background(), 9, "*broken", true)
	require.Len(t, tg.sent, 1)
	require.False(t, tg.sent[0].markdown)
}

func TestRun_DispatchesAndStopsOnCancel(t *testing.T) {
	chat := &fakeChat{}
	tg := &fakeChannel{updates: [][]telegram.Update{{textUpdate(7, 9, 42, "hello")}}}
	b := newTestBot(t, tg, chat, &fakeUploads{}, &fakeObjects{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		chat.mu.Lock()
		defer chat.mu.Unlock()
		return len(chat.calls) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestReadableSize(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, "0.00 B"},
		{532, "532.00 B"},
		{1024, "1.00 KB"},
		{5 << 20, "5.00 MB"},
		{3 << 30, "3.00 GB"},
		{2 << 40, "2.00 TB"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, readableSize(tc.size), "size=%d", tc.size)
	}
}
