package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCorruptLedger wraps a ledger that exists but cannot be trusted.
var ErrCorruptLedger = errors.New("corrupt ledger")

// Store persists one ledger per document.
type Store interface {
	// Load returns the stored ledger, or an empty one when none exists.
	// A ledger that fails schema validation is reported as ErrCorruptLedger.
	Load(ctx context.Context, document string) (*Ledger, error)
	Save(ctx context.Context, l *Ledger) error
	Delete(ctx context.Context, document string) error
}

// FileStore keeps ledgers as <dir>/<document>.state.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(document string) string {
	return filepath.Join(s.dir, document+".state.json")
}

func (s *FileStore) Load(ctx context.Context, document string) (*Ledger, error) {
	raw, err := os.ReadFile(s.path(document))
	if errors.Is(err, os.ErrNotExist) {
		return NewLedger(document), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	l, err := decodeLedger(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptLedger, s.path(document), err)
	}
	return l, nil
}

// Save writes through a temp file and rename so a crash never leaves a
// half-written ledger behind.
func (s *FileStore) Save(ctx context.Context, l *Ledger) error {
	raw, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, l.Document+".state.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create ledger temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(l.Document)); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, document string) error {
	err := os.Remove(s.path(document))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}
	return nil
}

// RedisStore keeps ledgers under "<prefix><document>" so a worker fleet
// sharing an output volume shares resume state too.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ocrpdf:ledger:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, document string) (*Ledger, error) {
	raw, err := s.client.Get(ctx, s.prefix+document).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewLedger(document), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger from redis: %w", err)
	}
	l, err := decodeLedger(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %s%s: %v", ErrCorruptLedger, s.prefix, document, err)
	}
	return l, nil
}

func (s *RedisStore) Save(ctx context.Context, l *Ledger) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+l.Document, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, document string) error {
	if err := s.client.Del(ctx, s.prefix+document).Err(); err != nil {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}
	return nil
}
