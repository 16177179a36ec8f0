// Package merge concatenates the per-page OCR PDFs into the final document.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/pageinfo"
	"github.com/feichai0017/searchable-pdf/internal/pdfutil"
	"github.com/feichai0017/searchable-pdf/internal/state"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

const (
	BackendTool   = "tool"
	BackendPdfcpu = "pdfcpu"
)

// unsafeChars may not appear in a path placed on a shell line, even quoted.
const unsafeChars = "\"`$\\\n\x00"

type Config struct {
	Tool    string
	Backend string
	// Shell assembles a single quoted command line and runs it through the
	// shell instead of passing an argument vector.
	Shell bool
}

// Outcome describes a finished merge.
type Outcome struct {
	Path     string
	Pages    int
	Warnings []string
}

type Stage struct {
	config   Config
	runner   toolexec.Runner
	resolver pageinfo.Resolver
	tracker  state.Tracker
	logger   logger.Logger
}

func NewStage(cfg Config, runner toolexec.Runner, resolver pageinfo.Resolver, tracker state.Tracker, log logger.Logger) (*Stage, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendTool
	}
	switch cfg.Backend {
	case BackendTool:
		if cfg.Tool == "" {
			return nil, fmt.Errorf("merge tool is empty")
		}
	case BackendPdfcpu:
	default:
		return nil, fmt.Errorf("unknown merge backend %q", cfg.Backend)
	}
	return &Stage{
		config:   cfg,
		runner:   runner,
		resolver: resolver,
		tracker:  tracker,
		logger:   log.Named("merge"),
	}, nil
}

// Missing lists page indices whose OCR PDF is absent or empty.
func Missing(namer models.PageNamer) ([]int, error) {
	var missing []int
	for i, p := range namer.MergeManifest() {
		ok, err := state.Present(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// Run merges every OCR page in order. It never invokes the merge tool unless
// all pages are present, and it never leaves a partial final document.
func (s *Stage) Run(ctx context.Context, namer models.PageNamer) (Outcome, models.StageReport, error) {
	report := models.StageReport{Stage: models.StageMerge}
	log := logger.FromContext(ctx, s.logger)
	final := namer.FinalPath()
	partial := namer.FinalTempPath()
	fail := func(err error) (Outcome, models.StageReport, error) {
		return Outcome{}, report, &models.StageError{Stage: models.StageMerge, Page: models.NoPage, Err: err}
	}

	missing, err := Missing(namer)
	if err != nil {
		return fail(err)
	}
	if len(missing) > 0 {
		log.Warn("Refusing to merge with missing pages", logger.Ints("missing", missing), logger.Int("total", namer.Total()))
		return fail(&models.MissingPagesError{Total: namer.Total(), Missing: missing})
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fail(fmt.Errorf("failed to create final directory: %w", err))
	}
	if err := pdfutil.RemoveIfExists(partial); err != nil {
		return fail(fmt.Errorf("failed to clear stale partial output: %w", err))
	}

	manifest := namer.MergeManifest()
	report.Invocations++
	if err := s.merge(ctx, manifest, partial); err != nil {
		s.discard(partial)
		return fail(err)
	}
	if err := os.Rename(partial, final); err != nil {
		s.discard(partial)
		return fail(&models.MergeError{Reason: "failed to move merged document into place", Err: err})
	}
	report.Processed = namer.Total()

	out := Outcome{Path: final, Pages: namer.Total()}
	pages, err := s.resolver.PageCount(ctx, final)
	switch {
	case err != nil:
		msg := fmt.Sprintf("could not verify page count of %s: %v", final, err)
		log.Warn("Could not verify merged page count", logger.String("path", final), logger.Error(err))
		out.Warnings = append(out.Warnings, msg)
	case pages != namer.Total():
		msg := fmt.Sprintf("merged document %s has %d pages, expected %d", final, pages, namer.Total())
		log.Warn("Merged page count mismatch",
			logger.String("path", final),
			logger.Int("expected", namer.Total()),
			logger.Int("actual", pages),
		)
		out.Warnings = append(out.Warnings, msg)
		out.Pages = pages
	}

	if err := s.tracker.MarkComplete(ctx, models.StageMerge, models.NoPage, final, state.Fingerprint(manifest...)); err != nil {
		log.Warn("Failed to record merge in ledger", logger.Error(err))
	}
	log.Info("Merged document", logger.String("path", final), logger.Int("pages", out.Pages))
	return out, report, nil
}

func (s *Stage) merge(ctx context.Context, inputs []string, output string) error {
	if s.config.Backend == BackendPdfcpu {
		if err := pdfutil.MergeFiles(inputs, output); err != nil {
			return &models.MergeError{Reason: "in-process merge failed", Err: err}
		}
		return s.checkOutput(output, toolexec.Result{})
	}

	var (
		res toolexec.Result
		err error
	)
	if s.config.Shell {
		line, lerr := ShellLine(s.config.Tool, inputs, output)
		if lerr != nil {
			return &models.MergeError{Reason: "refusing to build shell command", Err: lerr}
		}
		res, err = s.runner.RunLine(ctx, line)
	} else {
		res, err = s.runner.Run(ctx, s.config.Tool, Args(inputs, output)...)
	}
	if err != nil {
		return &models.MergeError{Reason: "failed to run merge tool", Err: err}
	}
	if !res.Success() {
		return &models.MergeError{Output: res.Output, ExitCode: res.ExitCode, Reason: "merge tool exited nonzero"}
	}
	return s.checkOutput(output, res)
}

func (s *Stage) checkOutput(output string, res toolexec.Result) error {
	ok, err := state.Present(output)
	if err != nil {
		return &models.MergeError{Output: res.Output, ExitCode: res.ExitCode, Reason: "failed to check output", Err: err}
	}
	if !ok {
		return &models.MergeError{Output: res.Output, ExitCode: res.ExitCode, Reason: "no output file", Err: models.ErrOutputMissing}
	}
	return nil
}

func (s *Stage) discard(path string) {
	if err := pdfutil.RemoveIfExists(path); err != nil {
		s.logger.Warn("Failed to remove partial merge output", logger.String("path", path), logger.Error(err))
	}
}

// Args is the argument vector "<pdf...> cat output <final>".
func Args(inputs []string, output string) []string {
	args := make([]string, 0, len(inputs)+3)
	args = append(args, inputs...)
	return append(args, "cat", "output", output)
}

// ErrUnsafePath rejects a path that cannot safely appear on a shell line.
var ErrUnsafePath = errors.New("path contains characters not allowed on a shell line")

// ShellLine quotes every path and assembles the merge command line.
func ShellLine(tool string, inputs []string, output string) (string, error) {
	words := append([]string{tool}, Args(inputs, output)...)
	for _, w := range words {
		if strings.ContainsAny(w, unsafeChars) {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, w)
		}
	}
	return shellquote.Join(words...), nil
}
