// Package pipeline sequences page counting, rasterization, OCR and merge for
// one document, resuming from whatever a previous run left behind.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/searchable-pdf/internal/merge"
	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/ocr"
	"github.com/feichai0017/searchable-pdf/internal/pageinfo"
	"github.com/feichai0017/searchable-pdf/internal/raster"
	"github.com/feichai0017/searchable-pdf/internal/state"
	"github.com/feichai0017/searchable-pdf/internal/utils/validator"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

// Publisher uploads the finished document.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// Settings are the per-stage settings shared by every run.
type Settings struct {
	Layout models.Layout
	Raster raster.Config
	OCR    ocr.Config
	Merge  merge.Config
}

// Request is one document to process. Levels replaces Settings.Raster.Levels
// for this run; nil disables the levels pass.
type Request struct {
	SourcePath string
	Levels     *models.Levels
	RunID      string
}

type Runner struct {
	settings  Settings
	tools     toolexec.Runner
	resolver  pageinfo.Resolver
	trackers  state.Opener
	validator *validator.DocumentValidator
	publisher Publisher
	logger    logger.Logger
}

type Option func(*Runner)

// WithValidator checks the source document before anything runs.
func WithValidator(v *validator.DocumentValidator) Option {
	return func(r *Runner) { r.validator = v }
}

// WithPublisher uploads the final document after a successful run.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithTrackers sets how completion state is kept. The default trusts output
// presence alone.
func WithTrackers(o state.Opener) Option {
	return func(r *Runner) { r.trackers = o }
}

func NewRunner(settings Settings, tools toolexec.Runner, resolver pageinfo.Resolver, log logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		tools:    tools,
		resolver: resolver,
		trackers: state.FSOpener(),
		logger:   log.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes one document. The first stage error halts the run; the
// summary returned alongside an error reflects the work done until then.
func (r *Runner) Run(ctx context.Context, req Request) (*models.RunSummary, error) {
	start := time.Now()
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	doc, err := models.NewDocument(req.SourcePath)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithDocument(logger.WithRunID(ctx, runID), doc.BaseName)
	log := logger.FromContext(ctx, r.logger)

	summary := &models.RunSummary{
		RunID:     runID,
		Document:  doc,
		FinalPath: models.FinalPath(doc, r.settings.Layout),
	}
	defer func() { summary.Duration = time.Since(start) }()

	if r.validator != nil {
		result, err := r.validator.ValidatePath(doc.SourcePath)
		if err != nil {
			return summary, err
		}
		if err := result.Err(); err != nil {
			return summary, err
		}
	}

	total, err := r.resolver.PageCount(ctx, doc.SourcePath)
	if err != nil {
		return summary, fmt.Errorf("failed to resolve page count of %s: %w", doc.SourcePath, err)
	}
	summary.TotalPages = total
	log.Info("Starting run",
		logger.Int("pages", total),
		logger.String("source", doc.SourcePath),
		logger.Bool("levels", req.Levels != nil),
	)

	if r.alreadyComplete(ctx, summary.FinalPath, total) {
		log.Info("Final document already complete", logger.String("path", summary.FinalPath))
		summary.AlreadyComplete = true
		return summary, r.publish(ctx, summary)
	}

	tracker, err := r.trackers(ctx, doc, r.logger)
	if err != nil {
		return summary, fmt.Errorf("failed to open completion state: %w", err)
	}
	if lt, ok := tracker.(*state.LedgerTracker); ok {
		if err := lt.SetTotalPages(ctx, total); err != nil {
			log.Warn("Failed to record page count in ledger", logger.Error(err))
		}
	}

	namer := models.NewPageNamer(doc, r.settings.Layout, total)

	rasterCfg := r.settings.Raster
	rasterCfg.Levels = req.Levels
	rasterStage, err := raster.NewStage(rasterCfg, r.tools, tracker, r.logger)
	if err != nil {
		return summary, err
	}
	rep, err := rasterStage.Run(ctx, namer)
	summary.RasterInvocations = rep.Invocations
	if err != nil {
		return summary, err
	}

	ocrStage, err := ocr.NewStage(r.settings.OCR, r.tools, tracker, r.logger)
	if err != nil {
		return summary, err
	}
	rep, err = ocrStage.Run(ctx, namer)
	summary.OCRInvocations = rep.Invocations
	if err != nil {
		return summary, err
	}

	mergeStage, err := merge.NewStage(r.settings.Merge, r.tools, r.resolver, tracker, r.logger)
	if err != nil {
		return summary, err
	}
	outcome, _, err := mergeStage.Run(ctx, namer)
	if err != nil {
		return summary, err
	}
	summary.Warnings = append(summary.Warnings, outcome.Warnings...)

	if err := r.publish(ctx, summary); err != nil {
		return summary, err
	}
	log.Info("Run complete",
		logger.String("final", summary.FinalPath),
		logger.Int("raster_invocations", summary.RasterInvocations),
		logger.Int("ocr_invocations", summary.OCRInvocations),
		logger.Int("warnings", len(summary.Warnings)),
	)
	return summary, nil
}

// alreadyComplete reports whether the final document exists with the
// expected page count. Any doubt means the stages run.
func (r *Runner) alreadyComplete(ctx context.Context, final string, total int) bool {
	ok, err := state.Present(final)
	if err != nil || !ok {
		return false
	}
	pages, err := r.resolver.PageCount(ctx, final)
	if err != nil {
		r.logger.Warn("Could not read existing final document, rebuilding",
			logger.String("path", final),
			logger.Error(err),
		)
		return false
	}
	return pages == total
}

// Prune removes published documents older than retention. It is a no-op
// without a publisher that supports pruning.
func (r *Runner) Prune(ctx context.Context, retention time.Duration) error {
	p, ok := r.publisher.(interface {
		Prune(ctx context.Context, retention time.Duration) error
	})
	if !ok || retention <= 0 {
		return nil
	}
	return p.Prune(ctx, retention)
}

func (r *Runner) publish(ctx context.Context, summary *models.RunSummary) error {
	if r.publisher == nil {
		return nil
	}
	key, err := r.publisher.Publish(ctx, summary.FinalPath)
	if err != nil {
		return err
	}
	summary.PublishedKey = key
	return nil
}
