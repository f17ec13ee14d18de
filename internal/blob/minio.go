package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements Store against MinIO or any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) Download(ctx context.Context, path string) ([]byte, Stat, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, Stat{}, mapMinioError(path, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, Stat{}, mapMinioError(path, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, Stat{}, fmt.Errorf("read %s: %w", path, err)
	}
	return data, Stat{ETag: info.ETag, Size: info.Size}, nil
}

func (s *MinioStore) Upload(ctx context.Context, path string, data []byte, contentType string, cond WriteCondition) (Stat, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if cond.IfMatch != "" {
		opts.SetMatchETag(cond.IfMatch)
	} else if cond.IfAbsent {
		opts.SetMatchETagExcept("*")
	}

	info, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return Stat{}, mapMinioError(path, err)
	}
	return Stat{ETag: info.ETag, Size: info.Size}, nil
}

func (s *MinioStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

func (s *MinioStore) PresignGet(ctx context.Context, path string, expiry time.Duration) (string, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, path, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return signed.String(), nil
}

func mapMinioError(path string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w", path, ErrPreconditionFailed)
	}
	return fmt.Errorf("blob %s: %w", path, err)
}
