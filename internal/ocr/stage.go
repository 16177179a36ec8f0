// Package ocr turns each page image into a single-page searchable PDF with
// the external OCR engine.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/pdfutil"
	"github.com/feichai0017/searchable-pdf/internal/state"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

// languageMissing are the engine messages that mean the language data is not
// installed.
var languageMissing = []string{
	"Failed loading language",
	"Error opening data file",
	"Please make sure the TESSDATA_PREFIX",
}

type Config struct {
	Tool     string
	Language string
	// ExtraArgs are inserted before the trailing "pdf" config name.
	ExtraArgs []string
	// VerifyOutput parses each fresh PDF in-process before recording it.
	VerifyOutput bool
}

type Stage struct {
	config  Config
	runner  toolexec.Runner
	tracker state.Tracker
	logger  logger.Logger
}

func NewStage(cfg Config, runner toolexec.Runner, tracker state.Tracker, log logger.Logger) (*Stage, error) {
	if cfg.Tool == "" {
		return nil, fmt.Errorf("OCR tool is empty")
	}
	if strings.TrimSpace(cfg.Language) == "" {
		return nil, fmt.Errorf("OCR language is empty")
	}
	return &Stage{
		config:  cfg,
		runner:  runner,
		tracker: tracker,
		logger:  log.Named("ocr"),
	}, nil
}

// IsLanguageMissing reports whether engine output says the language data is
// not installed.
func IsLanguageMissing(output string) bool {
	for _, m := range languageMissing {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

func (s *Stage) fingerprint(imageSHA string) string {
	return state.Fingerprint("lang="+s.config.Language, "args="+strings.Join(s.config.ExtraArgs, " "), "image="+imageSHA)
}

// Run OCRs pages [0, total) in ascending order. The raster stage must have
// completed; a missing page image is a StageError.
func (s *Stage) Run(ctx context.Context, namer models.PageNamer) (models.StageReport, error) {
	report := models.StageReport{Stage: models.StageOCR}
	log := logger.FromContext(ctx, s.logger)

	if err := s.tracker.Reload(ctx); err != nil {
		return report, &models.StageError{Stage: models.StageOCR, Page: models.NoPage, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(namer.OCRPath(0)), 0o755); err != nil {
		return report, &models.StageError{Stage: models.StageOCR, Page: models.NoPage, Err: err}
	}

	for i := 0; i < namer.Total(); i++ {
		if err := ctx.Err(); err != nil {
			return report, &models.StageError{Stage: models.StageOCR, Page: i, Err: err}
		}

		image := namer.RasterPath(i)
		ok, err := state.Present(image)
		if err != nil {
			return report, &models.StageError{Stage: models.StageOCR, Page: i, Err: err}
		}
		if !ok {
			return report, &models.StageError{
				Stage: models.StageOCR,
				Page:  i,
				Err:   fmt.Errorf("%w: page image %s", models.ErrUpstreamMissing, image),
			}
		}
		_, imageSHA, err := state.FileChecksum(image)
		if err != nil {
			return report, &models.StageError{Stage: models.StageOCR, Page: i, Err: err}
		}
		fp := s.fingerprint(imageSHA)

		out := namer.OCRPath(i)
		done, err := s.tracker.Complete(ctx, models.StageOCR, i, out, fp, pdfutil.ValidatePDF)
		if err != nil {
			return report, &models.StageError{Stage: models.StageOCR, Page: i, Err: err}
		}
		if done {
			log.Info("Skipping OCR page", logger.Int("page", i), logger.String("path", out))
			report.Skipped++
			continue
		}

		report.Invocations++
		if err := s.recognize(ctx, image, namer.OCRBase(i), out); err != nil {
			return report, &models.StageError{Stage: models.StageOCR, Page: i, Err: err}
		}
		if err := s.tracker.MarkComplete(ctx, models.StageOCR, i, out, fp); err != nil {
			return report, &models.StageError{Stage: models.StageOCR, Page: i, Err: err}
		}
		report.Processed++
		log.Info("Recognized page",
			logger.Int("page", i),
			logger.Int("total", namer.Total()),
			logger.String("path", out),
		)
	}
	return report, nil
}

func (s *Stage) recognize(ctx context.Context, image, outBase, out string) error {
	args := make([]string, 0, 5+len(s.config.ExtraArgs))
	args = append(args, image, outBase, "-l", s.config.Language)
	args = append(args, s.config.ExtraArgs...)
	args = append(args, "pdf")

	res, err := s.runner.Run(ctx, s.config.Tool, args...)
	if err != nil {
		s.discard(out)
		return fmt.Errorf("failed to run OCR engine: %w", err)
	}
	if !res.Success() {
		s.discard(out)
		if IsLanguageMissing(res.Output) {
			return &models.ConfigurationError{Language: s.config.Language, ExitCode: res.ExitCode, Output: res.Output}
		}
		return &models.OcrError{Image: image, ExitCode: res.ExitCode, Output: res.Output, Reason: "engine exited nonzero"}
	}

	ok, err := state.Present(out)
	if err != nil {
		return err
	}
	if !ok {
		s.discard(out)
		return &models.OcrError{Image: image, ExitCode: res.ExitCode, Output: res.Output, Reason: models.ErrOutputMissing.Error()}
	}
	if s.config.VerifyOutput {
		if err := pdfutil.ValidatePDF(out); err != nil {
			s.discard(out)
			return &models.OcrError{Image: image, ExitCode: res.ExitCode, Output: res.Output, Reason: err.Error()}
		}
	}
	return nil
}

func (s *Stage) discard(path string) {
	if err := pdfutil.RemoveIfExists(path); err != nil {
		s.logger.Warn("Failed to remove partial OCR output", logger.String("path", path), logger.Error(err))
	}
}
