// Package local keeps objects in a directory. It serves as the upload inbox
// and as a publisher for single-host setups.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

type LocalStorage struct {
	root   string
	logger logger.Logger
}

func NewLocalStorage(root string, log logger.Logger) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStorage{root: root, logger: log.Named("local")}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

// Store writes through a temp file so readers never see a partial object.
func (l *LocalStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	dst, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	return key, nil
}

func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CleanupBefore removes files under prefix older than threshold. An empty
// prefix covers the whole root.
func (l *LocalStorage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error {
	dir := l.root
	if strings.Trim(prefix, "/") != "" {
		p, err := l.path(prefix)
		if err != nil {
			return err
		}
		dir = p
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(threshold) {
			if err := os.Remove(p); err != nil {
				l.logger.Error("Failed to delete expired object", logger.String("path", p), logger.Error(err))
				return nil
			}
			l.logger.Info("Deleted expired object", logger.String("path", p))
		}
		return nil
	})
}
