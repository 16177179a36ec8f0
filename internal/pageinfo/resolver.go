package pageinfo

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

// Resolver returns the page count of a PDF.
type Resolver interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
}

// pagesLine matches the info tool's "Pages: <n>" line; the first match wins.
var pagesLine = regexp.MustCompile(`(?m)^\s*Pages:\s*(\d+)\s*$`)

// ToolResolver asks an external info tool (pdfinfo) for the page count.
type ToolResolver struct {
	tool   string
	runner toolexec.Runner
	logger logger.Logger
}

func NewToolResolver(tool string, runner toolexec.Runner, log logger.Logger) *ToolResolver {
	return &ToolResolver{
		tool:   tool,
		runner: runner,
		logger: log.Named("pageinfo"),
	}
}

func (r *ToolResolver) PageCount(ctx context.Context, pdfPath string) (int, error) {
	res, err := r.runner.Run(ctx, r.tool, pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to query page count: %w", err)
	}
	if !res.Success() {
		return 0, &models.ToolExecutionError{
			Tool:     r.tool,
			Args:     []string{pdfPath},
			ExitCode: res.ExitCode,
			Output:   res.Output,
		}
	}

	pages, err := ParsePageCount(res.Output)
	if err != nil {
		return 0, &models.ParseError{Tool: r.tool, Path: pdfPath, Want: "Pages: <integer>", Output: res.Output}
	}
	if pages == 0 {
		return 0, &models.ZeroPageError{Path: pdfPath}
	}

	r.logger.Debug("Resolved page count",
		logger.String("path", pdfPath),
		logger.Int("pages", pages),
	)
	return pages, nil
}

// ParsePageCount extracts the integer from the first "Pages:" line.
func ParsePageCount(output string) (int, error) {
	m := pagesLine.FindStringSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("no Pages line in output")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid page count %q: %w", m[1], err)
	}
	return n, nil
}
