package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"relay-agent/internal/domain"
)

// s3API is the minimal S3 interface required by ObjectStore.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// presignAPI is the minimal presigner interface required by ObjectStore.
// *s3.PresignClient satisfies this interface.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectStore wraps one shared S3-compatible bucket for blob storage.
// All operations run against network storage with unbounded latency, so
// callers are expected to invoke them off their hot path.
type ObjectStore struct {
	api       s3API
	presigner presignAPI
	bucket    string
}

// NewObjectStore creates an ObjectStore for the given bucket.
func NewObjectStore(api s3API, presigner presignAPI, bucket string) (*ObjectStore, error) {
	if api == nil {
		return nil, errors.New("repository: s3 api must not be nil")
	}
	if presigner == nil {
		return nil, errors.New("repository: presigner must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("repository: bucket name must not be empty")
	}
	return &ObjectStore{api: api, presigner: presigner, bucket: bucket}, nil
}

// EnsureBucket checks that the bucket exists and creates it when the
// head call fails. Idempotent; safe to run on every startup.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if _, err := s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("repository: EnsureBucket create %q: %w", s.bucket, err)
	}
	return nil
}

// Put stores bytes under key, overwriting any existing object.
func (s *ObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: Put: key must not be empty")
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("repository: Put %q: %w", key, err)
	}
	return nil
}

// Get fetches the object at key fully into memory.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("repository: Get %q read body: %w", key, err)
	}
	return body, nil
}

// Delete removes the object at key.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: Delete: key must not be empty")
	}
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("repository: Delete %q: %w", key, err)
	}
	return nil
}

// List returns up to max objects from the bucket.
func (s *ObjectStore) List(ctx context.Context, max int) ([]domain.ObjectInfo, error) {
	out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(int32(max)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: List: %w", err)
	}

	objects := make([]domain.ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		info := domain.ObjectInfo{}
		if obj.Key != nil {
			info.Key = *obj.Key
		}
		if obj.Size != nil {
			info.Size = *obj.Size
		}
		objects = append(objects, info)
	}
	return objects, nil
}

// Presign returns a time-limited GET URL for the object at key. Failures
// surface as errors, never panics, so callers can present a "could not
// generate link" message instead of crashing the turn.
func (s *ObjectStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("repository: Presign %q: %w", key, err)
	}
	if req == nil || req.URL == "" {
		return "", fmt.Errorf("repository: Presign %q: empty url", key)
	}
	return req.URL, nil
}
