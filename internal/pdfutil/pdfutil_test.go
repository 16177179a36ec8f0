package pdfutil

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.jpg")
	img := imaging.New(4, 4, color.White)
	require.NoError(t, imaging.Save(img, good))
	assert.NoError(t, ValidateImage(good))

	bad := filepath.Join(dir, "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("\xff\xd8\xff not really"), 0o644))
	assert.Error(t, ValidateImage(bad))
}

func TestValidatePDFRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))
	assert.Error(t, ValidatePDF(path))
}

func TestMergeFilesRequiresInput(t *testing.T) {
	assert.Error(t, MergeFiles(nil, filepath.Join(t.TempDir(), "out.pdf")))
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")
	assert.NoError(t, RemoveIfExists(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
