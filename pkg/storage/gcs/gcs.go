// Package gcs publishes documents to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	cfg "github.com/feichai0017/searchable-pdf/config"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

type GCSStorage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	logger logger.Logger
}

func NewGCSStorage(ctx context.Context, log logger.Logger) (*GCSStorage, error) {
	gcsConfig := cfg.GetGCSConfig()
	if gcsConfig.BucketName == "" {
		return nil, fmt.Errorf("GCS_BUCKET_NAME is not set")
	}

	var opts []option.ClientOption
	if gcsConfig.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcsConfig.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	bucket := client.Bucket(gcsConfig.BucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to verify bucket existence: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: bucket,
		name:   gcsConfig.BucketName,
		logger: log.Named("gcs"),
	}, nil
}

func (g *GCSStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		g.logger.Error("Failed to store file to GCS",
			logger.String("bucket", g.name),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return key, nil
}

func (g *GCSStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return r, nil
}

func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (g *GCSStorage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		if !attrs.Updated.Before(threshold) {
			continue
		}
		if err := g.Delete(ctx, attrs.Name); err != nil {
			g.logger.Error("Failed to delete expired object",
				logger.String("key", attrs.Name),
				logger.Error(err),
			)
			continue
		}
		g.logger.Info("Deleted expired object",
			logger.String("key", attrs.Name),
			logger.Time("lastModified", attrs.Updated),
		)
	}
}

// Close releases the underlying client.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}
