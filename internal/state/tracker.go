package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

// Verifier checks that an unrecorded artifact is usable before it is adopted.
type Verifier func(path string) error

// Tracker decides whether a (stage, page) unit is already complete. Stages
// consult it before doing work and report back after producing output.
type Tracker interface {
	// Reload refreshes state at the start of a stage.
	Reload(ctx context.Context) error
	Complete(ctx context.Context, stage models.Stage, page int, path, fingerprint string, verify Verifier) (bool, error)
	MarkComplete(ctx context.Context, stage models.Stage, page int, path, fingerprint string) error
}

// present reports whether path exists at nonzero size.
func present(path string) (os.FileInfo, bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if fi.IsDir() || fi.Size() == 0 {
		return fi, false, nil
	}
	return fi, true, nil
}

// Present is the filesystem completeness proxy: exists at nonzero size.
func Present(path string) (bool, error) {
	_, ok, err := present(path)
	return ok, err
}

// FSTracker trusts output presence alone, with no ledger.
type FSTracker struct{}

func (FSTracker) Reload(ctx context.Context) error { return nil }

func (FSTracker) Complete(ctx context.Context, stage models.Stage, page int, path, fingerprint string, verify Verifier) (bool, error) {
	return Present(path)
}

func (FSTracker) MarkComplete(ctx context.Context, stage models.Stage, page int, path, fingerprint string) error {
	return nil
}

// LedgerTracker backs completeness decisions with checksummed records.
type LedgerTracker struct {
	mu       sync.Mutex
	store    Store
	document string
	source   string
	ledger   *Ledger
	logger   logger.Logger
}

// OpenLedger loads (or starts) the ledger for a document. A corrupt ledger is
// discarded and rebuilt from what is on disk.
func OpenLedger(ctx context.Context, store Store, doc models.Document, log logger.Logger) (*LedgerTracker, error) {
	t := &LedgerTracker{
		store:    store,
		document: doc.BaseName,
		source:   doc.SourcePath,
		logger:   log.Named("state").With(logger.String("document", doc.BaseName)),
	}
	if err := t.Reload(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *LedgerTracker) Reload(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.store.Load(ctx, t.document)
	if errors.Is(err, ErrCorruptLedger) {
		t.logger.Warn("Discarding corrupt ledger, state will be rebuilt from disk", logger.Error(err))
		l = NewLedger(t.document)
	} else if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	if l.Source == "" {
		l.Source = t.source
	}
	t.ledger = l
	return nil
}

// SetTotalPages records the resolved page count on the ledger.
func (t *LedgerTracker) SetTotalPages(ctx context.Context, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ledger.TotalPages == total {
		return nil
	}
	t.ledger.TotalPages = total
	t.ledger.UpdatedAt = time.Now().UTC()
	return t.store.Save(ctx, t.ledger)
}

// Complete is true iff the output exists at nonzero size and either matches
// its record, or has no record and passes verify (it is then adopted).
func (t *LedgerTracker) Complete(ctx context.Context, stage models.Stage, page int, path, fingerprint string, verify Verifier) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	log := t.logger.With(logger.String("stage", string(stage)), logger.Int("page", page))

	fi, ok, err := present(path)
	if err != nil {
		return false, err
	}
	rec, recorded := t.ledger.Get(stage, page)
	if !ok {
		if recorded {
			t.ledger.Delete(stage, page)
			if err := t.store.Save(ctx, t.ledger); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if recorded {
		if rec.Fingerprint != fingerprint {
			log.Info("Settings changed since page was produced, regenerating",
				logger.String("recorded", rec.Fingerprint),
				logger.String("current", fingerprint),
			)
			return false, t.dropLocked(ctx, stage, page)
		}
		if rec.Size != fi.Size() {
			log.Warn("Output size differs from ledger, regenerating",
				logger.Int64("recorded", rec.Size),
				logger.Int64("actual", fi.Size()),
			)
			return false, t.dropLocked(ctx, stage, page)
		}
		_, sum, err := FileChecksum(path)
		if err != nil {
			return false, err
		}
		if sum != rec.SHA256 {
			log.Warn("Output checksum differs from ledger, regenerating")
			return false, t.dropLocked(ctx, stage, page)
		}
		return true, nil
	}

	if verify != nil {
		if err := verify(path); err != nil {
			log.Warn("Unrecorded output failed verification, regenerating",
				logger.String("path", path),
				logger.Error(err),
			)
			return false, nil
		}
	}
	log.Info("Adopting unrecorded output", logger.String("path", path))
	return true, t.putLocked(ctx, stage, page, path, fingerprint)
}

func (t *LedgerTracker) MarkComplete(ctx context.Context, stage models.Stage, page int, path, fingerprint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.putLocked(ctx, stage, page, path, fingerprint)
}

// Snapshot returns a copy of the current ledger.
func (t *LedgerTracker) Snapshot() *Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *t.ledger
	cp.Records = make(map[string]Record, len(t.ledger.Records))
	for k, v := range t.ledger.Records {
		cp.Records[k] = v
	}
	return &cp
}

func (t *LedgerTracker) putLocked(ctx context.Context, stage models.Stage, page int, path, fingerprint string) error {
	size, sum, err := FileChecksum(path)
	if err != nil {
		return fmt.Errorf("failed to record %s page %d: %w", stage, page, err)
	}
	t.ledger.Put(Record{
		Stage:       stage,
		Page:        page,
		Path:        path,
		Size:        size,
		SHA256:      sum,
		Fingerprint: fingerprint,
		CompletedAt: time.Now().UTC(),
	})
	return t.store.Save(ctx, t.ledger)
}

func (t *LedgerTracker) dropLocked(ctx context.Context, stage models.Stage, page int) error {
	if !t.ledger.Delete(stage, page) {
		return nil
	}
	return t.store.Save(ctx, t.ledger)
}

// Opener yields the tracker for one document run.
type Opener func(ctx context.Context, doc models.Document, log logger.Logger) (Tracker, error)

// LedgerOpener opens ledger-backed trackers on store.
func LedgerOpener(store Store) Opener {
	return func(ctx context.Context, doc models.Document, log logger.Logger) (Tracker, error) {
		return OpenLedger(ctx, store, doc, log)
	}
}

// FSOpener opens presence-only trackers.
func FSOpener() Opener {
	return func(ctx context.Context, doc models.Document, log logger.Logger) (Tracker, error) {
		return FSTracker{}, nil
	}
}
