package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/searchable-pdf/internal/merge"
	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/ocr"
	"github.com/feichai0017/searchable-pdf/internal/pageinfo"
	"github.com/feichai0017/searchable-pdf/internal/raster"
	"github.com/feichai0017/searchable-pdf/internal/state"
	"github.com/feichai0017/searchable-pdf/internal/utils/validator"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/storage"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

// toolchain simulates pdfinfo, magick, tesseract and pdftk on the local
// filesystem. Merged documents record their page count in their body so the
// fake pdfinfo can report it back.
type toolchain struct {
	t           *testing.T
	sourcePages int
	// mergedPages overrides the page count written into merged output.
	mergedPages int
	// ocrFails returns a failing result for the given image, if set.
	ocrFails func(image string) *toolexec.Result
	runner   *toolexec.FakeRunner
}

func newToolchain(t *testing.T, pages int) *toolchain {
	tc := &toolchain{t: t, sourcePages: pages, runner: toolexec.NewFakeRunner()}
	tc.runner.
		Handle("pdfinfo", tc.pdfinfo).
		Handle("magick", tc.magick).
		Handle("tesseract", tc.tesseract).
		Handle("pdftk", tc.pdftk)
	return tc
}

func (tc *toolchain) pdfinfo(ctx context.Context, args []string) (toolexec.Result, error) {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return toolexec.Result{ExitCode: 1, Output: "I/O Error: Couldn't open file"}, nil
	}
	pages := tc.sourcePages
	if body := string(raw); strings.HasPrefix(body, "%PDF merged pages=") {
		pages, _ = strconv.Atoi(strings.TrimPrefix(body, "%PDF merged pages="))
	}
	return toolexec.Result{Output: fmt.Sprintf("Producer: test\nPages:          %d\nEncrypted: no\n", pages)}, nil
}

func (tc *toolchain) magick(ctx context.Context, args []string) (toolexec.Result, error) {
	out := args[len(args)-1]
	require.NoError(tc.t, os.WriteFile(out, []byte("jpeg "+filepath.Base(out)), 0o644))
	return toolexec.Result{}, nil
}

func (tc *toolchain) tesseract(ctx context.Context, args []string) (toolexec.Result, error) {
	if tc.ocrFails != nil {
		if res := tc.ocrFails(args[0]); res != nil {
			return *res, nil
		}
	}
	require.NoError(tc.t, os.WriteFile(args[1]+".pdf", []byte("%PDF ocr "+filepath.Base(args[0])), 0o644))
	return toolexec.Result{}, nil
}

func (tc *toolchain) pdftk(ctx context.Context, args []string) (toolexec.Result, error) {
	inputs := len(args) - 3
	if tc.mergedPages > 0 {
		inputs = tc.mergedPages
	}
	out := args[len(args)-1]
	require.NoError(tc.t, os.WriteFile(out, []byte(fmt.Sprintf("%%PDF merged pages=%d", inputs)), 0o644))
	return toolexec.Result{}, nil
}

type env struct {
	root   string
	layout models.Layout
	source string
	tools  *toolchain
}

func newEnv(t *testing.T, pages int) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root: root,
		layout: models.Layout{
			InputDir:  filepath.Join(root, "input"),
			RasterDir: filepath.Join(root, "raster"),
			OCRDir:    filepath.Join(root, "ocr"),
			FinalDir:  filepath.Join(root, "final"),
			StateDir:  filepath.Join(root, "state"),
		},
		tools: newToolchain(t, pages),
	}
	require.NoError(t, os.MkdirAll(e.layout.InputDir, 0o755))
	e.source = filepath.Join(e.layout.InputDir, "doc.pdf")
	require.NoError(t, os.WriteFile(e.source, []byte("%PDF-1.4\nscanned pages\n"), 0o644))
	return e
}

func (e *env) settings() Settings {
	return Settings{
		Layout: e.layout,
		Raster: raster.Config{Command: []string{"magick", "convert"}, Density: 300, Quality: 100},
		OCR:    ocr.Config{Tool: "tesseract", Language: "eng"},
		Merge:  merge.Config{Tool: "pdftk"},
	}
}

func (e *env) runner(t *testing.T, opts ...Option) *Runner {
	resolver := pageinfo.NewToolResolver("pdfinfo", e.tools.runner, logger.NewTestLogger())
	return NewRunner(e.settings(), e.tools.runner, resolver, logger.NewTestLogger(), opts...)
}

func (e *env) namer(total int) models.PageNamer {
	doc, _ := models.NewDocument(e.source)
	return models.NewPageNamer(doc, e.layout, total)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestThreePageScenario(t *testing.T) {
	e := newEnv(t, 3)
	summary, err := e.runner(t).Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalPages)
	assert.Equal(t, 3, summary.RasterInvocations)
	assert.Equal(t, 3, summary.OCRInvocations)
	assert.False(t, summary.AlreadyComplete)
	assert.Empty(t, summary.Warnings)
	assert.NotEmpty(t, summary.RunID)

	for _, name := range []string{"doc-000.jpg", "doc-001.jpg", "doc-002.jpg"} {
		assert.True(t, exists(filepath.Join(e.layout.RasterDir, name)), name)
	}
	for _, name := range []string{"doc-000.pdf", "doc-001.pdf", "doc-002.pdf"} {
		assert.True(t, exists(filepath.Join(e.layout.OCRDir, name)), name)
	}
	final := filepath.Join(e.layout.FinalDir, "doc_final.pdf")
	assert.Equal(t, final, summary.FinalPath)

	raw, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "%PDF merged pages=3", string(raw))
}

func TestSecondRunShortCircuits(t *testing.T) {
	e := newEnv(t, 4)
	r := e.runner(t)
	_, err := r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)
	e.tools.runner.Reset()

	summary, err := r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)
	assert.True(t, summary.AlreadyComplete)
	assert.Zero(t, summary.RasterInvocations)
	assert.Zero(t, summary.OCRInvocations)
	assert.Empty(t, e.tools.runner.CallsTo("magick"))
	assert.Empty(t, e.tools.runner.CallsTo("tesseract"))
	assert.Empty(t, e.tools.runner.CallsTo("pdftk"))
}

func TestFullResumeWithoutFinalDocument(t *testing.T) {
	for _, pages := range []int{1, 2, 5} {
		t.Run(strconv.Itoa(pages), func(t *testing.T) {
			e := newEnv(t, pages)
			r := e.runner(t)
			_, err := r.Run(context.Background(), Request{SourcePath: e.source})
			require.NoError(t, err)
			require.NoError(t, os.Remove(e.namer(pages).FinalPath()))
			e.tools.runner.Reset()

			summary, err := r.Run(context.Background(), Request{SourcePath: e.source})
			require.NoError(t, err)
			assert.Zero(t, summary.RasterInvocations)
			assert.Zero(t, summary.OCRInvocations)
			assert.Len(t, e.tools.runner.CallsTo("pdftk"), 1)

			raw, err := os.ReadFile(e.namer(pages).FinalPath())
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%%PDF merged pages=%d", pages), string(raw))
		})
	}
}

func TestDeletedRasterPageIsRegeneratedAlone(t *testing.T) {
	e := newEnv(t, 5)
	r := e.runner(t)
	_, err := r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)

	namer := e.namer(5)
	before := make(map[int]os.FileInfo)
	for i := 0; i < 5; i++ {
		fi, err := os.Stat(namer.RasterPath(i))
		require.NoError(t, err)
		before[i] = fi
	}
	require.NoError(t, os.Remove(namer.RasterPath(2)))
	require.NoError(t, os.Remove(namer.FinalPath()))
	e.tools.runner.Reset()

	summary, err := r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RasterInvocations)

	calls := e.tools.runner.CallsTo("magick")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args, e.source+"[2]")
	for _, i := range []int{0, 1, 3, 4} {
		fi, err := os.Stat(namer.RasterPath(i))
		require.NoError(t, err)
		assert.Equal(t, before[i].ModTime(), fi.ModTime(), "page %d untouched", i)
	}
}

func TestLanguageMissingHaltsPipeline(t *testing.T) {
	e := newEnv(t, 3)
	namer := e.namer(3)
	e.tools.ocrFails = func(image string) *toolexec.Result {
		if image == namer.RasterPath(1) {
			return &toolexec.Result{ExitCode: 1, Output: "Failed loading language 'eng'\nTesseract couldn't load any languages!"}
		}
		return nil
	}

	summary, err := e.runner(t).Run(context.Background(), Request{SourcePath: e.source})
	require.Error(t, err)
	var ce *models.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "eng", ce.Language)
	assert.Contains(t, err.Error(), "page 1")

	assert.True(t, exists(namer.OCRPath(0)))
	assert.False(t, exists(namer.OCRPath(1)))
	assert.False(t, exists(namer.OCRPath(2)))
	assert.Empty(t, e.tools.runner.CallsTo("pdftk"))
	assert.False(t, exists(namer.FinalPath()))
	assert.Equal(t, 2, summary.OCRInvocations)
}

func TestLevelsAdjustmentAddsSecondConverterCall(t *testing.T) {
	e := newEnv(t, 3)
	levels, err := models.NewLevels(10, 90)
	require.NoError(t, err)

	summary, err := e.runner(t).Run(context.Background(), Request{SourcePath: e.source, Levels: levels})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.RasterInvocations)

	namer := e.namer(3)
	calls := e.tools.runner.CallsTo("magick")
	require.Len(t, calls, 6)
	for i := 0; i < 3; i++ {
		capture, level := calls[2*i], calls[2*i+1]
		assert.Equal(t, namer.RasterTempPath(i), capture.Args[len(capture.Args)-1])
		assert.Equal(t, []string{"convert", namer.RasterTempPath(i), "-level", "10%,90%", namer.RasterPath(i)}, level.Args)
	}
}

func TestMergedPageCountMismatchWarns(t *testing.T) {
	e := newEnv(t, 3)
	e.tools.mergedPages = 2

	summary, err := e.runner(t).Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "expected 3")
	assert.True(t, exists(summary.FinalPath))
}

func TestLedgerBackedResume(t *testing.T) {
	e := newEnv(t, 3)
	store, err := state.NewFileStore(e.layout.StateDir)
	require.NoError(t, err)
	r := e.runner(t, WithTrackers(state.LedgerOpener(store)))

	_, err = r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)

	l, err := store.Load(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, 3, l.TotalPages)
	assert.Equal(t, []int{0, 1, 2}, l.Pages(models.StageRaster))
	assert.Equal(t, []int{0, 1, 2}, l.Pages(models.StageOCR))

	// Corrupt page 1's OCR output without changing its presence.
	namer := e.namer(3)
	require.NoError(t, os.WriteFile(namer.OCRPath(1), []byte("%PDF garbage!"), 0o644))
	require.NoError(t, os.Remove(namer.FinalPath()))
	e.tools.runner.Reset()

	summary, err := r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)
	assert.Zero(t, summary.RasterInvocations)
	assert.Equal(t, 1, summary.OCRInvocations)
	assert.Equal(t, namer.RasterPath(1), e.tools.runner.CallsTo("tesseract")[0].Args[0])
}

func TestPublishesFinalDocument(t *testing.T) {
	e := newEnv(t, 2)
	st, err := storage.NewStorage(context.Background(), storage.StorageTypeLocal,
		storage.Options{LocalDir: filepath.Join(e.root, "published")}, logger.NewTestLogger())
	require.NoError(t, err)
	r := e.runner(t, WithPublisher(storage.NewPublisher(st, "searchable", logger.NewTestLogger())))

	summary, err := r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)
	assert.Equal(t, "searchable/doc_final.pdf", summary.PublishedKey)
	assert.True(t, exists(filepath.Join(e.root, "published", "searchable", "doc_final.pdf")))
}

func TestValidatorRejectsBadSource(t *testing.T) {
	e := newEnv(t, 1)
	require.NoError(t, os.WriteFile(e.source, []byte("not a pdf"), 0o644))
	r := e.runner(t, WithValidator(validator.NewDocumentValidator(logger.NewTestLogger(), nil)))

	_, err := r.Run(context.Background(), Request{SourcePath: e.source})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_PDF_HEADER")
	assert.Empty(t, e.tools.runner.Calls())
}

func TestZeroPageSourceFails(t *testing.T) {
	e := newEnv(t, 0)
	_, err := e.runner(t).Run(context.Background(), Request{SourcePath: e.source})
	var zp *models.ZeroPageError
	require.True(t, errors.As(err, &zp))
	assert.Empty(t, e.tools.runner.CallsTo("magick"))
}

func TestPruneRemovesExpiredPublishedDocuments(t *testing.T) {
	e := newEnv(t, 1)
	published := filepath.Join(e.root, "published")
	st, err := storage.NewStorage(context.Background(), storage.StorageTypeLocal,
		storage.Options{LocalDir: published}, logger.NewTestLogger())
	require.NoError(t, err)
	r := e.runner(t, WithPublisher(storage.NewPublisher(st, "searchable", logger.NewTestLogger())))

	_, err = r.Run(context.Background(), Request{SourcePath: e.source})
	require.NoError(t, err)
	key := filepath.Join(published, "searchable", "doc_final.pdf")
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(key, past, past))

	require.NoError(t, r.Prune(context.Background(), 0), "zero retention keeps everything")
	assert.True(t, exists(key))
	require.NoError(t, r.Prune(context.Background(), 24*time.Hour))
	assert.False(t, exists(key))

	require.NoError(t, e.runner(t).Prune(context.Background(), time.Hour), "no publisher")
}
