package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Levels is a black-point/white-point contrast remap, in percent, applied to
// every rasterized page of one run.
type Levels struct {
	BlackPoint float64 `json:"blackPoint" yaml:"blackPoint"`
	WhitePoint float64 `json:"whitePoint" yaml:"whitePoint"`
}

// NewLevels validates 0 <= black < white <= 100.
func NewLevels(black, white float64) (*Levels, error) {
	l := &Levels{BlackPoint: black, WhitePoint: white}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Validate rejects NaN along with out-of-range or inverted points.
func (l Levels) Validate() error {
	if !(l.BlackPoint >= 0 && l.WhitePoint <= 100) {
		return fmt.Errorf("levels must be within 0..100, got %s", l.Arg())
	}
	if !(l.BlackPoint < l.WhitePoint) {
		return fmt.Errorf("black point %s must be below white point %s",
			formatPercent(l.BlackPoint), formatPercent(l.WhitePoint))
	}
	return nil
}

// Arg renders the converter's -level argument, e.g. "10%,90%".
func (l Levels) Arg() string {
	return formatPercent(l.BlackPoint) + "%," + formatPercent(l.WhitePoint) + "%"
}

// ParseLevels accepts "B,W" or "B%,W%".
func ParseLevels(s string) (*Levels, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("levels must look like BLACK,WHITE, got %q", s)
	}
	vals := make([]float64, 2)
	for i, p := range parts {
		p = strings.TrimSuffix(strings.TrimSpace(p), "%")
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q: %w", parts[i], err)
		}
		vals[i] = v
	}
	return NewLevels(vals[0], vals[1])
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
