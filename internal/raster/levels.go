package raster

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/searchable-pdf/internal/models"
)

// ImagePreprocessor transforms a decoded page image.
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// LevelsProcessor stretches the range [black%, white%] to the full channel
// range, clamping values outside it. It matches the converter's -level.
type LevelsProcessor struct {
	levels models.Levels
	lut    [256]uint8
}

func NewLevelsProcessor(levels models.Levels) (*LevelsProcessor, error) {
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	p := &LevelsProcessor{levels: levels}
	lo := levels.BlackPoint / 100 * 255
	hi := levels.WhitePoint / 100 * 255
	for v := 0; v < 256; v++ {
		x := (float64(v) - lo) / (hi - lo) * 255
		switch {
		case x <= 0:
			p.lut[v] = 0
		case x >= 255:
			p.lut[v] = 255
		default:
			p.lut[v] = uint8(x + 0.5)
		}
	}
	return p, nil
}

func (p *LevelsProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: p.lut[c.R], G: p.lut[c.G], B: p.lut[c.B], A: c.A}
	}), nil
}

// applyNative runs the processor from src to dst as a JPEG at quality.
func applyNative(p ImagePreprocessor, src, dst string, quality int) error {
	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	out, err := p.Process(img)
	if err != nil {
		return fmt.Errorf("failed to adjust levels: %w", err)
	}
	if err := imaging.Save(out, dst, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to save %s: %w", dst, err)
	}
	return nil
}
