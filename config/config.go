// Package config loads pipeline settings from a YAML file, a .env file and
// OCRPDF_* environment overrides, in that order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

type Config struct {
	Layout    models.Layout   `yaml:"layout"`
	Tools     ToolsConfig     `yaml:"tools"`
	PageInfo  PageInfoConfig  `yaml:"pageinfo"`
	Raster    RasterConfig    `yaml:"raster"`
	Levels    LevelsConfig    `yaml:"levels"`
	OCR       OCRConfig       `yaml:"ocr"`
	Merge     MergeConfig     `yaml:"merge"`
	State     StateConfig     `yaml:"state"`
	Publish   PublishConfig   `yaml:"publish"`
	Validator ValidatorConfig `yaml:"validator"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Server    ServerConfig    `yaml:"server"`
	Logger    logger.Config   `yaml:"logger"`
}

// ToolsConfig names the external programs. Converter may carry leading
// arguments, e.g. ["magick", "convert"].
type ToolsConfig struct {
	PageInfo  string        `yaml:"pageinfo"`
	Converter []string      `yaml:"converter"`
	OCR       string        `yaml:"ocr"`
	Merge     string        `yaml:"merge"`
	Timeout   time.Duration `yaml:"timeout"`
	Shell     string        `yaml:"shell"`
	// SkipCheck disables the startup tool validation pass.
	SkipCheck bool `yaml:"skipCheck"`
}

type PageInfoConfig struct {
	Backend string `yaml:"backend"` // tool | native
}

type RasterConfig struct {
	Density    int    `yaml:"density"`
	Quality    int    `yaml:"quality"`
	Background string `yaml:"background"`
}

// LevelsConfig is the default levels adjustment. The CLI prompt overrides it.
type LevelsConfig struct {
	Enabled    bool    `yaml:"enabled"`
	BlackPoint float64 `yaml:"blackPoint"`
	WhitePoint float64 `yaml:"whitePoint"`
	Backend    string  `yaml:"backend"` // tool | native
}

// Adjustment returns the configured levels, or nil when disabled.
func (l LevelsConfig) Adjustment() *models.Levels {
	if !l.Enabled {
		return nil
	}
	return &models.Levels{BlackPoint: l.BlackPoint, WhitePoint: l.WhitePoint}
}

type OCRConfig struct {
	Language     string   `yaml:"language"`
	ExtraArgs    []string `yaml:"extraArgs"`
	VerifyOutput bool     `yaml:"verifyOutput"`
}

type MergeConfig struct {
	Backend string `yaml:"backend"` // tool | pdfcpu
	Shell   bool   `yaml:"shell"`
}

type StateConfig struct {
	Backend string        `yaml:"backend"` // file | redis | none
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
}

type PublishConfig struct {
	Backend  string `yaml:"backend"` // "" | local | s3 | minio | gcs
	Prefix   string `yaml:"prefix"`
	LocalDir string `yaml:"localDir"`
	// Retention prunes published documents older than this; zero keeps them.
	Retention time.Duration `yaml:"retention"`
}

type ValidatorConfig struct {
	MaxFileSize int64 `yaml:"maxFileSize"`
	DeepCheck   bool  `yaml:"deepCheck"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxRetry    int           `yaml:"maxRetry"`
	Timeout     time.Duration `yaml:"timeout"`
	Retention   time.Duration `yaml:"retention"`
	StatusTTL   time.Duration `yaml:"statusTTL"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	MaxUploadSize  int64    `yaml:"maxUploadSize"`
}

// Default returns a configuration that runs the classic tool chain against
// ./input, ./raster, ./ocr and ./final.
func Default() *Config {
	return &Config{
		Layout: models.Layout{
			InputDir:  "input",
			RasterDir: "raster",
			OCRDir:    "ocr",
			FinalDir:  "final",
			StateDir:  ".ocrpdf",
		},
		Tools: ToolsConfig{
			PageInfo:  "pdfinfo",
			Converter: []string{"magick", "convert"},
			OCR:       "tesseract",
			Merge:     "pdftk",
			Shell:     "/bin/sh",
		},
		PageInfo: PageInfoConfig{Backend: "tool"},
		Raster: RasterConfig{
			Density:    300,
			Quality:    100,
			Background: "white",
		},
		Levels: LevelsConfig{BlackPoint: 10, WhitePoint: 90, Backend: "tool"},
		OCR:    OCRConfig{Language: "eng"},
		Merge:  MergeConfig{Backend: "tool"},
		State:  StateConfig{Backend: "file", Prefix: "ocrpdf:ledger:"},
		Publish: PublishConfig{
			Prefix:   "searchable/",
			LocalDir: "published",
		},
		Validator: ValidatorConfig{MaxFileSize: 500 * 1024 * 1024},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{
			Concurrency: 1,
			MaxRetry:    3,
			Timeout:     2 * time.Hour,
			Retention:   24 * time.Hour,
			StatusTTL:   7 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
			MaxUploadSize:  500 * 1024 * 1024,
		},
		Logger: logger.Config{
			Level:       "info",
			Encoding:    "console",
			OutputPaths: []string{"stdout", "logs/ocrpdf.log"},
		},
	}
}

// Load reads path (optional) over the defaults, then applies the .env file
// and OCRPDF_* overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	loadDotEnv()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString("OCRPDF_INPUT_DIR", &c.Layout.InputDir)
	envString("OCRPDF_RASTER_DIR", &c.Layout.RasterDir)
	envString("OCRPDF_OCR_DIR", &c.Layout.OCRDir)
	envString("OCRPDF_FINAL_DIR", &c.Layout.FinalDir)
	envString("OCRPDF_STATE_DIR", &c.Layout.StateDir)

	envString("OCRPDF_PAGEINFO_TOOL", &c.Tools.PageInfo)
	envList("OCRPDF_CONVERTER", &c.Tools.Converter)
	envString("OCRPDF_OCR_TOOL", &c.Tools.OCR)
	envString("OCRPDF_MERGE_TOOL", &c.Tools.Merge)
	envString("OCRPDF_PAGEINFO_BACKEND", &c.PageInfo.Backend)
	envString("OCRPDF_OCR_LANGUAGE", &c.OCR.Language)
	envString("OCRPDF_MERGE_BACKEND", &c.Merge.Backend)
	envString("OCRPDF_STATE_BACKEND", &c.State.Backend)
	envString("OCRPDF_PUBLISH_BACKEND", &c.Publish.Backend)
	envString("OCRPDF_PUBLISH_PREFIX", &c.Publish.Prefix)
	envString("OCRPDF_LEVELS_BACKEND", &c.Levels.Backend)
	envString("OCRPDF_LOG_LEVEL", &c.Logger.Level)
	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)

	for _, fn := range []func() error{
		func() error { return envDuration("OCRPDF_TOOL_TIMEOUT", &c.Tools.Timeout) },
		func() error { return envDuration("OCRPDF_PUBLISH_RETENTION", &c.Publish.Retention) },
		func() error { return envInt("OCRPDF_DENSITY", &c.Raster.Density) },
		func() error { return envInt("OCRPDF_QUALITY", &c.Raster.Quality) },
		func() error { return envBool("OCRPDF_MERGE_SHELL", &c.Merge.Shell) },
		func() error { return envBool("OCRPDF_SKIP_TOOL_CHECK", &c.Tools.SkipCheck) },
		func() error { return envInt("OCRPDF_PORT", &c.Server.Port) },
		func() error { return envInt("OCRPDF_WORKER_CONCURRENCY", &c.Queue.Concurrency) },
		func() error { return envInt64("OCRPDF_MAX_FILE_SIZE", &c.Validator.MaxFileSize) },
		func() error { return envInt("REDIS_DB", &c.Redis.DB) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	l := c.Layout
	check(l.InputDir != "" && l.RasterDir != "" && l.OCRDir != "" && l.FinalDir != "",
		"layout: input, raster, ocr and final directories are required")
	check(c.State.Backend != "file" || l.StateDir != "", "layout.stateDir is required for the file state backend")

	check(len(c.Tools.Converter) > 0 && c.Tools.Converter[0] != "", "tools.converter is required")
	check(c.Tools.OCR != "", "tools.ocr is required")
	check(c.Tools.Timeout >= 0, "tools.timeout must not be negative")

	check(oneOf(c.PageInfo.Backend, "tool", "native"), "pageinfo.backend %q must be tool or native", c.PageInfo.Backend)
	check(c.PageInfo.Backend != "tool" || c.Tools.PageInfo != "", "tools.pageinfo is required for the tool backend")
	check(c.Raster.Density > 0, "raster.density must be positive")
	check(c.Raster.Quality > 0 && c.Raster.Quality <= 100, "raster.quality must be within 1..100")
	check(oneOf(c.Levels.Backend, "tool", "native"), "levels.backend %q must be tool or native", c.Levels.Backend)
	if c.Levels.Enabled {
		if err := c.Levels.Adjustment().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("levels: %w", err))
		}
	}
	check(c.OCR.Language != "", "ocr.language is required")
	check(oneOf(c.Merge.Backend, "tool", "pdfcpu"), "merge.backend %q must be tool or pdfcpu", c.Merge.Backend)
	check(c.Merge.Backend != "tool" || c.Tools.Merge != "", "tools.merge is required for the tool backend")
	check(!(c.Merge.Shell && c.Merge.Backend == "pdfcpu"), "merge.shell only applies to the tool backend")
	check(oneOf(c.State.Backend, "file", "redis", "none"), "state.backend %q must be file, redis or none", c.State.Backend)
	check(oneOf(c.Publish.Backend, "", "local", "s3", "minio", "gcs"), "publish.backend %q is not supported", c.Publish.Backend)
	check(c.Publish.Backend != "local" || c.Publish.LocalDir != "", "publish.localDir is required for the local backend")
	check(c.Publish.Retention >= 0, "publish.retention must not be negative")
	check(c.Validator.MaxFileSize >= 0, "validator.maxFileSize must not be negative")
	check(c.Queue.Concurrency > 0, "queue.concurrency must be positive")
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d is out of range", c.Server.Port)

	return errors.Join(errs...)
}

// EnsureDirs creates every working directory.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Layout.InputDir, c.Layout.RasterDir, c.Layout.OCRDir, c.Layout.FinalDir}
	if c.State.Backend == "file" {
		dirs = append(dirs, c.Layout.StateDir)
	}
	if c.Publish.Backend == "local" {
		dirs = append(dirs, c.Publish.LocalDir)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
