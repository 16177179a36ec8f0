package models

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Stage names a pipeline phase. Values double as ledger keys and log fields.
type Stage string

const (
	StageRaster Stage = "raster"
	StageOCR    Stage = "ocr"
	StageMerge  Stage = "merge"
)

// Document is the source PDF selected for one run.
type Document struct {
	SourcePath string `json:"sourcePath"`
	BaseName   string `json:"baseName"`
}

// NewDocument derives the base name from the source file name.
func NewDocument(sourcePath string) (Document, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return Document{}, fmt.Errorf("document path is empty")
	}
	name := filepath.Base(sourcePath)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" || base == "." {
		return Document{}, fmt.Errorf("cannot derive base name from %q", sourcePath)
	}
	return Document{SourcePath: sourcePath, BaseName: base}, nil
}

// Layout holds the directories every derived artifact lives in.
type Layout struct {
	InputDir  string `json:"inputDir" yaml:"inputDir"`
	RasterDir string `json:"rasterDir" yaml:"rasterDir"`
	OCRDir    string `json:"ocrDir" yaml:"ocrDir"`
	FinalDir  string `json:"finalDir" yaml:"finalDir"`
	StateDir  string `json:"stateDir" yaml:"stateDir"`
}

// PageNamer maps (document, page index) to artifact paths. The padding width
// depends only on the total page count, so stage N's output path is a pure
// function of (baseName, index) for a given document.
type PageNamer struct {
	doc    Document
	layout Layout
	total  int
	width  int
}

// NewPageNamer returns a namer for a document with total pages.
func NewPageNamer(doc Document, layout Layout, total int) PageNamer {
	return PageNamer{doc: doc, layout: layout, total: total, width: padWidth(total)}
}

func padWidth(total int) int {
	w := 3
	if total > 1 {
		if d := len(strconv.Itoa(total - 1)); d > w {
			w = d
		}
	}
	return w
}

// Total is the page count the namer was built for.
func (n PageNamer) Total() int { return n.total }

// Document returns the document the namer belongs to.
func (n PageNamer) Document() Document { return n.doc }

// Stem is "<base>-<zero padded index>".
func (n PageNamer) Stem(index int) string {
	return fmt.Sprintf("%s-%0*d", n.doc.BaseName, n.width, index)
}

// RasterPath is the final page image.
func (n PageNamer) RasterPath(index int) string {
	return filepath.Join(n.layout.RasterDir, n.Stem(index)+".jpg")
}

// RasterTempPath is where the converter writes before the page is finalized.
func (n PageNamer) RasterTempPath(index int) string {
	return filepath.Join(n.layout.RasterDir, n.Stem(index)+".partial.jpg")
}

// OCRBase is the output base handed to the OCR engine, which appends ".pdf".
func (n PageNamer) OCRBase(index int) string {
	return filepath.Join(n.layout.OCRDir, n.Stem(index))
}

// OCRPath is the single-page searchable PDF.
func (n PageNamer) OCRPath(index int) string {
	return n.OCRBase(index) + ".pdf"
}

// FinalPath is the merged searchable document.
func (n PageNamer) FinalPath() string {
	return FinalPath(n.doc, n.layout)
}

// FinalTempPath is where the merge tool writes before the final rename.
func (n PageNamer) FinalTempPath() string {
	return filepath.Join(n.layout.FinalDir, n.doc.BaseName+"_final.partial.pdf")
}

// FinalPath does not need the page count, so the runner can check it before
// the count is known.
func FinalPath(doc Document, layout Layout) string {
	return filepath.Join(layout.FinalDir, doc.BaseName+"_final.pdf")
}

// MergeManifest lists every per-page OCR PDF in ascending page order. The
// order dictates the final document's page order.
func (n PageNamer) MergeManifest() []string {
	paths := make([]string, n.total)
	for i := 0; i < n.total; i++ {
		paths[i] = n.OCRPath(i)
	}
	return paths
}

// StageReport counts what one stage pass did.
type StageReport struct {
	Stage       Stage `json:"stage"`
	Processed   int   `json:"processed"`
	Skipped     int   `json:"skipped"`
	Invocations int   `json:"invocations"`
}

// RunSummary is what a pipeline run reports back to its caller.
type RunSummary struct {
	RunID             string        `json:"runId"`
	Document          Document      `json:"document"`
	TotalPages        int           `json:"totalPages"`
	FinalPath         string        `json:"finalPath"`
	PublishedKey      string        `json:"publishedKey,omitempty"`
	AlreadyComplete   bool          `json:"alreadyComplete"`
	RasterInvocations int           `json:"rasterInvocations"`
	OCRInvocations    int           `json:"ocrInvocations"`
	Warnings          []string      `json:"warnings,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// JobStatus 任务状态
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Job is a queued pipeline run for server/worker mode.
type Job struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Document  string      `json:"document"`
	Levels    *Levels     `json:"levels,omitempty"`
	Error     string      `json:"error,omitempty"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}
