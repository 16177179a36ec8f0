package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/feichai0017/searchable-pdf/internal/models"
)

// LedgerVersion is bumped when the on-disk shape changes incompatibly.
const LedgerVersion = 1

// Record is one completed (stage, page) unit of work.
type Record struct {
	Stage       models.Stage `json:"stage"`
	Page        int          `json:"page"`
	Path        string       `json:"path"`
	Size        int64        `json:"size"`
	SHA256      string       `json:"sha256"`
	Fingerprint string       `json:"fingerprint"`
	CompletedAt time.Time    `json:"completedAt"`
}

// Ledger is the persistent per-document completion state.
type Ledger struct {
	Version    int               `json:"version"`
	Document   string            `json:"document"`
	Source     string            `json:"source,omitempty"`
	TotalPages int               `json:"totalPages,omitempty"`
	Records    map[string]Record `json:"records"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// NewLedger returns an empty ledger for a document.
func NewLedger(document string) *Ledger {
	return &Ledger{
		Version:  LedgerVersion,
		Document: document,
		Records:  make(map[string]Record),
	}
}

func recordKey(stage models.Stage, page int) string {
	return fmt.Sprintf("%s/%d", stage, page)
}

// Get returns the record for (stage, page).
func (l *Ledger) Get(stage models.Stage, page int) (Record, bool) {
	r, ok := l.Records[recordKey(stage, page)]
	return r, ok
}

// Put stores a record.
func (l *Ledger) Put(r Record) {
	l.Records[recordKey(r.Stage, r.Page)] = r
	l.UpdatedAt = time.Now().UTC()
}

// Delete removes the record for (stage, page).
func (l *Ledger) Delete(stage models.Stage, page int) bool {
	key := recordKey(stage, page)
	if _, ok := l.Records[key]; !ok {
		return false
	}
	delete(l.Records, key)
	l.UpdatedAt = time.Now().UTC()
	return true
}

// Pages lists the recorded page indices for a stage in ascending order.
func (l *Ledger) Pages(stage models.Stage) []int {
	var pages []int
	for _, r := range l.Records {
		if r.Stage == stage {
			pages = append(pages, r.Page)
		}
	}
	sort.Ints(pages)
	return pages
}

// Fingerprint joins settings into a stable string. Order matters, so callers
// pass settings in a fixed order.
func Fingerprint(settings ...string) string {
	h := sha256.Sum256([]byte(strings.Join(settings, "\x00")))
	return hex.EncodeToString(h[:8])
}

// FileChecksum returns the size and SHA-256 of a file.
func FileChecksum(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
