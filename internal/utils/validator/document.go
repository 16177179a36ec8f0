// internal/utils/validator/document.go
package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/searchable-pdf/internal/pdfutil"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

// DocumentValidator checks a source PDF before a run starts.
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64               // bytes, 0 = unlimited
	AllowedTypes map[string][]string // {extension: []MIME}
	// DeepCheck parses the whole document in-process. Slow on large scans.
	DeepCheck bool
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

// Err folds the validation errors into one error, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Code + ": " + e.Message
	}
	return fmt.Errorf("invalid document %s: %s", r.FileInfo.Filename, strings.Join(msgs, "; "))
}

// DefaultConfig accepts PDFs up to 500MB.
func DefaultConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: 500 * 1024 * 1024,
		AllowedTypes: map[string][]string{
			".pdf": {"application/pdf"},
		},
	}
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = DefaultConfig()
	}
	return &DocumentValidator{
		logger: log.Named("validator"),
		config: config,
	}
}

// ValidatePath validates a document on disk.
func (v *DocumentValidator) ValidatePath(path string) (*ValidationResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	result, err := v.validate(f, filepath.Base(path), fi.Size())
	if err != nil {
		return nil, err
	}
	if result.IsValid && v.config.DeepCheck {
		if err := pdfutil.ValidatePDF(path); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Code:    "CORRUPT_PDF",
				Message: err.Error(),
				Field:   "content",
			})
		}
	}
	v.logResult(result)
	return result, nil
}

// ValidateFile validates an uploaded document.
func (v *DocumentValidator) ValidateFile(file *multipart.FileHeader) (*ValidationResult, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	result, err := v.validate(f, file.Filename, file.Size)
	if err != nil {
		return nil, err
	}
	v.logResult(result)
	return result, nil
}

func (v *DocumentValidator) validate(f io.ReadSeeker, name string, size int64) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  name,
			Size:      size,
			Extension: strings.ToLower(filepath.Ext(name)),
		},
	}

	hash, err := calculateHash(f)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	result.FileInfo.Hash = hash

	head, err := readHead(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}
	result.FileInfo.MimeType = http.DetectContentType(head)

	for _, check := range [][]ValidationError{
		v.performBasicValidation(result.FileInfo),
		v.validateMimeType(result.FileInfo),
		validatePDFHeader(head),
	} {
		if len(check) > 0 {
			result.IsValid = false
			result.Errors = append(result.Errors, check...)
		}
	}
	return result, nil
}

func (v *DocumentValidator) logResult(r *ValidationResult) {
	if r.IsValid {
		v.logger.Debug("Document validated",
			logger.String("file", r.FileInfo.Filename),
			logger.Int64("size", r.FileInfo.Size),
			logger.String("sha256", r.FileInfo.Hash),
		)
		return
	}
	v.logger.Warn("Document rejected",
		logger.String("file", r.FileInfo.Filename),
		logger.Any("errors", r.Errors),
	)
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(info FileInfo) []ValidationError {
	var errs []ValidationError

	if info.Size == 0 {
		errs = append(errs, ValidationError{
			Code:    "EMPTY_FILE",
			Message: "File is empty",
			Field:   "size",
		})
	}
	if v.config.MaxFileSize > 0 && info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
		errs = append(errs, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %s is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	return errs
}

// MIME类型验证
func (v *DocumentValidator) validateMimeType(info FileInfo) []ValidationError {
	allowed, ok := v.config.AllowedTypes[info.Extension]
	if !ok {
		return nil
	}
	for _, mime := range allowed {
		if mime == info.MimeType {
			return nil
		}
	}
	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("Invalid MIME type %s for extension %s", info.MimeType, info.Extension),
		Field:   "mimeType",
	}}
}

// validatePDFHeader looks for the %PDF- marker, which may be preceded by junk
// within the first kilobyte.
func validatePDFHeader(head []byte) []ValidationError {
	if bytes.Contains(head, []byte("%PDF-")) {
		return nil
	}
	return []ValidationError{{
		Code:    "MISSING_PDF_HEADER",
		Message: "File does not start with a PDF header",
		Field:   "content",
	}}
}

func readHead(f io.ReadSeeker) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, 1024)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// 计算文件哈希
func calculateHash(f io.ReadSeeker) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
