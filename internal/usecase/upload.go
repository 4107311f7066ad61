package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// Progress stages reported while an upload is in flight; they exist to
// mask multi-second network latency from the user.
const (
	StageDownloading = "downloading"
	StageUploading   = "uploading"
)

const presignTTL = 3600 * time.Second

// AttachmentFetcher downloads a channel attachment fully into memory.
type AttachmentFetcher interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// BlobStore is the slice of the object store the uploader needs.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// UploadInput describes one channel attachment to store.
type UploadInput struct {
	UserID   string
	FileID   string
	FileName string // declared name, may be empty
	Photo    bool   // photo attachments get a jpg extension when unnamed
}

type UploadOutput struct {
	Key  string
	Link string
}

// Uploader stores channel attachments in the shared bucket and hands
// back a presigned download link.
type Uploader struct {
	files AttachmentFetcher
	store BlobStore
}

func NewUploader(files AttachmentFetcher, store BlobStore) (*Uploader, error) {
	if files == nil {
		return nil, errors.New("usecase: attachment fetcher must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: blob store must not be nil")
	}
	return &Uploader{files: files, store: store}, nil
}

// Upload downloads the attachment, stores it under the derived filename
// and returns a presigned link. progress, when non-nil, is called with
// each stage before the corresponding network hop. Every failure comes
// back as a typed *Error so callers can reply with one generic sentence.
func (u *Uploader) Upload(ctx context.Context, in UploadInput, progress func(stage string)) (UploadOutput, error) {
	if strings.TrimSpace(in.FileID) == "" {
		return UploadOutput{}, newError(ErrorInvalidInput, "missing_file_id", nil)
	}
	key := deriveFileName(in)

	report(progress, StageDownloading)
	body, err := u.files.Download(ctx, in.FileID)
	if err != nil {
		return UploadOutput{}, newError(ErrorStorage, "attachment_download_failed", err)
	}

	report(progress, StageUploading)
	if err := u.store.Put(ctx, key, body, guessContentType(key)); err != nil {
		return UploadOutput{}, newError(ErrorStorage, "object_put_failed", err)
	}

	link, err := u.store.Presign(ctx, key, presignTTL)
	if err != nil {
		slog.Warn("stored upload but could not presign", "key", key, "err", err)
		return UploadOutput{}, newError(ErrorStorage, "presign_failed", err)
	}

	return UploadOutput{Key: key, Link: link}, nil
}

// deriveFileName uses the declared attachment name when present and
// otherwise synthesizes one from the user id, the current timestamp and
// the attachment kind.
func deriveFileName(in UploadInput) string {
	if name := strings.TrimSpace(in.FileName); name != "" {
		return name
	}
	ext := "bin"
	if in.Photo {
		ext = "jpg"
	}
	return fmt.Sprintf("upload_%s_%d.%s", in.UserID, now().Unix(), ext)
}

func guessContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func report(progress func(string), stage string) {
	if progress != nil {
		progress(stage)
	}
}

var now = time.Now
