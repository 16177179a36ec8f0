// Package raster renders every page of the source PDF to a JPEG through the
// external converter, optionally followed by a levels pass.
package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/pdfutil"
	"github.com/feichai0017/searchable-pdf/internal/state"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

const (
	LevelsBackendTool   = "tool"
	LevelsBackendNative = "native"
)

// Config holds the converter settings for one run.
type Config struct {
	// Command is the converter binary plus any fixed leading args, e.g.
	// ["magick", "convert"].
	Command       []string
	Density       int
	Quality       int
	Background    string
	Levels        *models.Levels
	LevelsBackend string
}

// Fingerprint identifies the settings that shape a raster page.
func (c Config) Fingerprint() string {
	levels := "none"
	if c.Levels != nil {
		levels = c.Levels.Arg()
	}
	return state.Fingerprint(
		"density="+strconv.Itoa(c.Density),
		"quality="+strconv.Itoa(c.Quality),
		"background="+c.Background,
		"levels="+levels,
	)
}

type Stage struct {
	config  Config
	runner  toolexec.Runner
	tracker state.Tracker
	leveler ImagePreprocessor
	logger  logger.Logger
}

func NewStage(cfg Config, runner toolexec.Runner, tracker state.Tracker, log logger.Logger) (*Stage, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("converter command is empty")
	}
	if cfg.Density <= 0 {
		return nil, fmt.Errorf("density must be positive, got %d", cfg.Density)
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		return nil, fmt.Errorf("quality must be within 1..100, got %d", cfg.Quality)
	}
	if cfg.Background == "" {
		cfg.Background = "white"
	}
	if cfg.LevelsBackend == "" {
		cfg.LevelsBackend = LevelsBackendTool
	}

	s := &Stage{
		config:  cfg,
		runner:  runner,
		tracker: tracker,
		logger:  log.Named("raster"),
	}
	if cfg.Levels != nil {
		switch cfg.LevelsBackend {
		case LevelsBackendTool:
		case LevelsBackendNative:
			p, err := NewLevelsProcessor(*cfg.Levels)
			if err != nil {
				return nil, err
			}
			s.leveler = p
		default:
			return nil, fmt.Errorf("unknown levels backend %q", cfg.LevelsBackend)
		}
	}
	return s, nil
}

// Run rasterizes pages [0, total) in ascending order. The first failing page
// aborts the stage.
func (s *Stage) Run(ctx context.Context, namer models.PageNamer) (models.StageReport, error) {
	report := models.StageReport{Stage: models.StageRaster}
	doc := namer.Document()
	log := logger.FromContext(ctx, s.logger)

	if err := s.tracker.Reload(ctx); err != nil {
		return report, &models.StageError{Stage: models.StageRaster, Page: models.NoPage, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(namer.RasterPath(0)), 0o755); err != nil {
		return report, &models.StageError{Stage: models.StageRaster, Page: models.NoPage, Err: err}
	}

	fp := s.config.Fingerprint()
	for i := 0; i < namer.Total(); i++ {
		if err := ctx.Err(); err != nil {
			return report, &models.StageError{Stage: models.StageRaster, Page: i, Err: err}
		}

		out := namer.RasterPath(i)
		done, err := s.tracker.Complete(ctx, models.StageRaster, i, out, fp, pdfutil.ValidateImage)
		if err != nil {
			return report, &models.StageError{Stage: models.StageRaster, Page: i, Err: err}
		}
		if done {
			log.Info("Skipping rasterized page", logger.Int("page", i), logger.String("path", out))
			report.Skipped++
			continue
		}

		n, err := s.renderPage(ctx, doc.SourcePath, namer, i)
		report.Invocations += n
		if err != nil {
			return report, &models.StageError{Stage: models.StageRaster, Page: i, Err: err}
		}
		if err := s.tracker.MarkComplete(ctx, models.StageRaster, i, out, fp); err != nil {
			return report, &models.StageError{Stage: models.StageRaster, Page: i, Err: err}
		}
		report.Processed++
		log.Info("Rasterized page",
			logger.Int("page", i),
			logger.Int("total", namer.Total()),
			logger.String("path", out),
		)
	}
	return report, nil
}

// renderPage produces one page image and returns how many converter
// invocations it took. On failure no temp file is left behind.
func (s *Stage) renderPage(ctx context.Context, source string, namer models.PageNamer, i int) (int, error) {
	out := namer.RasterPath(i)
	tmp := namer.RasterTempPath(i)
	invocations := 0

	cleanup := func() {
		if err := pdfutil.RemoveIfExists(tmp); err != nil {
			s.logger.Warn("Failed to remove temp image", logger.String("path", tmp), logger.Error(err))
		}
	}
	if err := pdfutil.RemoveIfExists(tmp); err != nil {
		return 0, fmt.Errorf("failed to clear stale temp image: %w", err)
	}

	args := s.convertArgs(
		"-density", strconv.Itoa(s.config.Density),
		fmt.Sprintf("%s[%d]", source, i),
		"-quality", strconv.Itoa(s.config.Quality),
		"-background", s.config.Background,
		"-alpha", "remove",
		"-alpha", "off",
		tmp,
	)
	invocations++
	if err := s.invoke(ctx, args); err != nil {
		cleanup()
		return invocations, err
	}
	if ok, _ := state.Present(tmp); !ok {
		cleanup()
		return invocations, fmt.Errorf("%w: %s", models.ErrOutputMissing, tmp)
	}

	switch {
	case s.config.Levels == nil:
		if err := os.Rename(tmp, out); err != nil {
			cleanup()
			return invocations, fmt.Errorf("failed to move page image into place: %w", err)
		}
	case s.leveler != nil:
		if err := applyNative(s.leveler, tmp, out, s.config.Quality); err != nil {
			cleanup()
			_ = pdfutil.RemoveIfExists(out)
			return invocations, err
		}
		cleanup()
	default:
		invocations++
		if err := s.invoke(ctx, s.convertArgs(tmp, "-level", s.config.Levels.Arg(), out)); err != nil {
			cleanup()
			_ = pdfutil.RemoveIfExists(out)
			return invocations, err
		}
		cleanup()
	}

	if ok, err := state.Present(out); err != nil {
		return invocations, err
	} else if !ok {
		return invocations, fmt.Errorf("%w: %s", models.ErrOutputMissing, out)
	}
	return invocations, nil
}

func (s *Stage) convertArgs(args ...string) []string {
	full := make([]string, 0, len(s.config.Command)-1+len(args))
	full = append(full, s.config.Command[1:]...)
	return append(full, args...)
}

func (s *Stage) invoke(ctx context.Context, args []string) error {
	tool := s.config.Command[0]
	res, err := s.runner.Run(ctx, tool, args...)
	if err != nil {
		return fmt.Errorf("failed to run converter: %w", err)
	}
	if !res.Success() {
		return &models.ToolExecutionError{Tool: tool, Args: args, ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}
