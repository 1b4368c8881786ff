package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	BasePath        string
	Retry           retry.Config
}

type minioStore struct {
	client   *minio.Client
	bucket   string
	basePath string
}

// NewMinIOStore connects to MinIO, retrying until the bucket exists or attempts run out.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, logger *slog.Logger) (FileStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	}

	client, err := retry.Do(ctx, cfg.Retry, func(ctx context.Context) (*minio.Client, error) {
		c, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create MinIO client: %w", err)
		}
		if err := ensureBucket(ctx, c, cfg.Bucket); err != nil {
			return nil, err
		}
		return c, nil
	}, retry.WithObserver(func(attempt int, err error) {
		logger.Warn("storage.minio.init.retry", "attempt", attempt, "error", err)
	}))
	if err != nil {
		return nil, fmt.Errorf("init MinIO: %w", err)
	}

	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath != "" {
		basePath += "/"
	}
	return &minioStore{client: client, bucket: cfg.Bucket, basePath: basePath}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *minioStore) Save(ctx context.Context, filePath string, reader io.Reader, size int64) (int64, string, error) {
	objectName, err := s.objectName(filePath)
	if err != nil {
		return 0, "", err
	}

	hasher := sha256.New()
	putSize := size
	if putSize <= 0 {
		putSize = -1
	}
	info, err := s.client.PutObject(ctx, s.bucket, objectName, io.TeeReader(reader, hasher), putSize, minio.PutObjectOptions{})
	if err != nil {
		return 0, "", common.PersistenceError("put object", err)
	}
	return info.Size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *minioStore) Open(ctx context.Context, filePath string) (io.ReadCloser, int64, error) {
	objectName, err := s.objectName(filePath)
	if err != nil {
		return nil, 0, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, common.PersistenceError("get object", err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, 0, fmt.Errorf("%w: object %s", common.ErrNotFound, objectName)
		}
		return nil, 0, common.PersistenceError("stat object", err)
	}
	return obj, st.Size, nil
}

func (s *minioStore) Delete(ctx context.Context, filePath string) error {
	objectName, err := s.objectName(filePath)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return common.PersistenceError("remove object", err)
	}
	return nil
}

func (s *minioStore) objectName(filePath string) (string, error) {
	clean, err := cleanPath(filePath)
	if err != nil {
		return "", err
	}
	return s.basePath + clean, nil
}
