package pageinfo

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

// NativeResolver counts pages in-process, for hosts without an info tool.
type NativeResolver struct {
	logger logger.Logger
}

func NewNativeResolver(log logger.Logger) *NativeResolver {
	return &NativeResolver{logger: log.Named("pageinfo")}
}

func (r *NativeResolver) PageCount(ctx context.Context, pdfPath string) (pages int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// the reader panics on some malformed xref tables
	defer func() {
		if rec := recover(); rec != nil {
			pages = 0
			err = &models.ParseError{Tool: "pdf-reader", Path: pdfPath, Want: "page tree", Output: fmt.Sprint(rec)}
		}
	}()

	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return 0, &models.ParseError{Tool: "pdf-reader", Path: pdfPath, Want: "page tree", Output: err.Error()}
	}
	defer f.Close()

	pages = reader.NumPage()
	if pages == 0 {
		return 0, &models.ZeroPageError{Path: pdfPath}
	}

	r.logger.Debug("Resolved page count natively",
		logger.String("path", pdfPath),
		logger.Int("pages", pages),
	)
	return pages, nil
}
