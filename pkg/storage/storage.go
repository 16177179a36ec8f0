package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/storage/gcs"
	"github.com/feichai0017/searchable-pdf/pkg/storage/local"
	"github.com/feichai0017/searchable-pdf/pkg/storage/minio"
	"github.com/feichai0017/searchable-pdf/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
	StorageTypeGCS   StorageType = "gcs"
	StorageTypeLocal StorageType = "local"
)

// Storage is an object store the final searchable PDF can be published to.
type Storage interface {
	// Store 存储文件
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects under prefix last modified before threshold.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error
}

// Options carries backend settings that do not come from credentials.
type Options struct {
	LocalDir string
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, storageType StorageType, opts Options, log logger.Logger) (Storage, error) {
	log = log.Named("storage")
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, log)
	case StorageTypeGCS:
		return gcs.NewGCSStorage(ctx, log)
	case StorageTypeLocal:
		return local.NewLocalStorage(opts.LocalDir, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// Publisher uploads finished documents under a key prefix.
type Publisher struct {
	storage Storage
	prefix  string
	logger  logger.Logger
}

func NewPublisher(st Storage, prefix string, log logger.Logger) *Publisher {
	return &Publisher{storage: st, prefix: prefix, logger: log.Named("publisher")}
}

// Key is the object key a local file is published under.
func (p *Publisher) Key(localPath string) string {
	return path.Join(p.prefix, filepath.Base(localPath))
}

// Publish uploads localPath and returns the stored key.
func (p *Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for publishing: %w", localPath, err)
	}
	defer f.Close()

	key, err := p.storage.Store(ctx, f, p.Key(localPath))
	if err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", localPath, err)
	}
	p.logger.Info("Published document",
		logger.String("path", localPath),
		logger.String("key", key),
	)
	return key, nil
}

// Prune removes published documents older than retention.
func (p *Publisher) Prune(ctx context.Context, retention time.Duration) error {
	threshold := time.Now().Add(-retention)
	if err := p.storage.CleanupBefore(ctx, p.prefix, threshold); err != nil {
		return fmt.Errorf("failed to prune published documents: %w", err)
	}
	p.logger.Info("Pruned published documents",
		logger.String("prefix", p.prefix),
		logger.Time("threshold", threshold),
	)
	return nil
}
