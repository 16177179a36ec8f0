package models

import (
	"errors"
	"fmt"
	"strings"
)

// maxOutput bounds how much captured tool output an error message carries.
const maxOutput = 4096

// ToolExecutionError is a nonzero exit from an external tool.
type ToolExecutionError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, clip(e.Output))
}

// ParseError means the tool succeeded but its output lacked the expected text.
type ParseError struct {
	Tool   string
	Path   string
	Want   string
	Output string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not find %q in %s output for %s: %s", e.Want, e.Tool, e.Path, clip(e.Output))
}

// ZeroPageError is a document that resolved to zero pages.
type ZeroPageError struct {
	Path string
}

func (e *ZeroPageError) Error() string {
	return fmt.Sprintf("%s reports zero pages (corrupt document or unexpected info output)", e.Path)
}

// ConfigurationError is an environmental problem a retry will not fix,
// currently missing OCR language data.
type ConfigurationError struct {
	Language string
	ExitCode int
	Output   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("OCR language data %q is not installed (exit code %d): %s", e.Language, e.ExitCode, clip(e.Output))
}

// OcrError is any other OCR engine failure, including a success exit that
// produced no output file.
type OcrError struct {
	Image    string
	ExitCode int
	Output   string
	Reason   string
}

func (e *OcrError) Error() string {
	return fmt.Sprintf("OCR of %s failed: %s (exit code %d): %s", e.Image, e.Reason, e.ExitCode, clip(e.Output))
}

// MissingPagesError blocks a merge when per-page OCR PDFs are absent.
type MissingPagesError struct {
	Total   int
	Missing []int
}

func (e *MissingPagesError) Error() string {
	idx := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		idx = append(idx, fmt.Sprint(m))
	}
	return fmt.Sprintf("%d of %d OCR pages missing, refusing to merge (pages %s)",
		len(e.Missing), e.Total, strings.Join(idx, ","))
}

// MergeError is a failed merge. The partial output has already been removed.
type MergeError struct {
	Output   string
	ExitCode int
	Reason   string
	Err      error
}

func (e *MergeError) Error() string {
	msg := fmt.Sprintf("merge failed: %s (exit code %d)", e.Reason, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + clip(e.Output)
	}
	return msg
}

func (e *MergeError) Unwrap() error { return e.Err }

// NoPage marks a StageError that is not tied to a single page.
const NoPage = -1

// StageError attributes a failure to a stage and page. It wraps the cause,
// so errors.As still finds ConfigurationError, OcrError and friends.
type StageError struct {
	Stage Stage
	Page  int
	Err   error
}

func (e *StageError) Error() string {
	if e.Page == NoPage {
		return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage, page %d: %v", e.Stage, e.Page, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrUpstreamMissing is wrapped by StageError when a stage finds its input
// artifact absent, which means the prior run's state is corrupt.
var ErrUpstreamMissing = errors.New("expected upstream artifact is missing")

// ErrOutputMissing is wrapped when a tool exits 0 without producing output.
var ErrOutputMissing = errors.New("tool reported success but output file is missing")

// ExitCode digs the external tool's exit code out of err, or -1.
func ExitCode(err error) int {
	var te *ToolExecutionError
	if errors.As(err, &te) {
		return te.ExitCode
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	var oe *OcrError
	if errors.As(err, &oe) {
		return oe.ExitCode
	}
	var me *MergeError
	if errors.As(err, &me) {
		return me.ExitCode
	}
	return -1
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutput {
		return s[:maxOutput] + "…(truncated)"
	}
	return s
}
