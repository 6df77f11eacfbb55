// Package s3storage stores verified identity documents in MinIO or any
// S3-compatible service.
package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/AgeGate/internal/config"
)

// Storage wraps MinIO interactions for the document bucket.
type Storage struct {
	client   *minio.Client
	bucket   string
	region   string
	partSize uint64
}

// New creates a MinIO client from the Config. No request is made until the
// first call.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		Secure: cfg.S3.UseSSL,
		Region: cfg.S3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:   client,
		bucket:   cfg.S3.Bucket,
		region:   cfg.S3.Region,
		partSize: cfg.Upload.PartSize,
	}, nil
}

// EnsureBucket makes sure the document bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload writes the object in parts of the configured size. progress is
// called with the running count of bytes minio-go has read from reader.
// Bytes are counted when read, not when the server acknowledges them, and a
// part that is re-read for a retry is counted again, so the count can pass
// size.
// The returned reference URL is only valid once the call succeeds.
func (s *Storage) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string, progress func(int64)) (string, error) {
	opts := minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    s.partSize,
	}
	if progress != nil {
		opts.Progress = &progressReader{report: progress}
	}
	info, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, opts)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectKey, err)
	}
	if size >= 0 && info.Size != size {
		return "", fmt.Errorf("put object %s: stored %d of %d bytes", objectKey, info.Size, size)
	}
	return s.ReferenceURL(objectKey), nil
}

// ReferenceURL is the durable, unsigned address of an object.
func (s *Storage) ReferenceURL(objectKey string) string {
	return s.client.EndpointURL().JoinPath(s.bucket, objectKey).String()
}

// PresignURL returns a signed GET URL for viewing the object.
func (s *Storage) PresignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

// ObjectKey recovers the key from a URL produced by ReferenceURL.
func (s *Storage) ObjectKey(referenceURL string) (string, error) {
	prefix := s.client.EndpointURL().JoinPath(s.bucket).String() + "/"
	if len(referenceURL) <= len(prefix) || referenceURL[:len(prefix)] != prefix {
		return "", fmt.Errorf("reference url %q is not in bucket %s", referenceURL, s.bucket)
	}
	return referenceURL[len(prefix):], nil
}

// progressReader is the sink minio-go reads from after each read of the
// source. It never yields data; it only counts how much was asked for.
type progressReader struct {
	transferred atomic.Int64
	report      func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := p.transferred.Add(int64(len(b)))
	p.report(n)
	return len(b), nil
}
