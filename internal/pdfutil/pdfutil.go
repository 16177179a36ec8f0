// Package pdfutil holds the in-process PDF and image checks used to decide
// whether an artifact found on disk is usable.
package pdfutil

import (
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// ValidatePDF checks that path parses as a PDF.
func ValidatePDF(path string) error {
	if err := api.ValidateFile(path, relaxedConfig()); err != nil {
		return fmt.Errorf("invalid PDF %s: %w", path, err)
	}
	return nil
}

// MergeFiles concatenates inFiles into outFile in order.
func MergeFiles(inFiles []string, outFile string) error {
	if len(inFiles) == 0 {
		return fmt.Errorf("nothing to merge")
	}
	if err := api.MergeCreateFile(inFiles, outFile, false, relaxedConfig()); err != nil {
		return fmt.Errorf("failed to merge into %s: %w", outFile, err)
	}
	return nil
}

// ValidateImage decodes path fully, which catches truncated JPEGs left by an
// interrupted converter.
func ValidateImage(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("invalid image %s: %w", path, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("invalid image %s: empty bounds", path)
	}
	return nil
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
