package pipeline

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/searchable-pdf/config"
	"github.com/feichai0017/searchable-pdf/internal/merge"
	"github.com/feichai0017/searchable-pdf/internal/ocr"
	"github.com/feichai0017/searchable-pdf/internal/pageinfo"
	"github.com/feichai0017/searchable-pdf/internal/raster"
	"github.com/feichai0017/searchable-pdf/internal/state"
	"github.com/feichai0017/searchable-pdf/internal/toolcheck"
	"github.com/feichai0017/searchable-pdf/internal/utils/validator"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/storage"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

// SettingsFromConfig maps the file configuration onto stage settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Layout: cfg.Layout,
		Raster: raster.Config{
			Command:       cfg.Tools.Converter,
			Density:       cfg.Raster.Density,
			Quality:       cfg.Raster.Quality,
			Background:    cfg.Raster.Background,
			LevelsBackend: cfg.Levels.Backend,
		},
		OCR: ocr.Config{
			Tool:         cfg.Tools.OCR,
			Language:     cfg.OCR.Language,
			ExtraArgs:    cfg.OCR.ExtraArgs,
			VerifyOutput: cfg.OCR.VerifyOutput,
		},
		Merge: merge.Config{
			Tool:    cfg.Tools.Merge,
			Backend: cfg.Merge.Backend,
			Shell:   cfg.Merge.Shell,
		},
	}
}

// Tools lists the external programs the configuration relies on.
func Tools(cfg *config.Config) []toolcheck.Tool {
	var tools []toolcheck.Tool
	if cfg.PageInfo.Backend == "tool" {
		tools = append(tools, toolcheck.Tool{Role: "pageinfo", Name: cfg.Tools.PageInfo})
	}
	tools = append(tools,
		toolcheck.Tool{Role: "raster", Name: cfg.Tools.Converter[0], VersionArgs: []string{"-version"}},
		toolcheck.Tool{Role: "ocr", Name: cfg.Tools.OCR, VersionArgs: []string{"--version"}},
	)
	if cfg.Merge.Backend == "tool" {
		tools = append(tools, toolcheck.Tool{Role: "merge", Name: cfg.Tools.Merge, VersionArgs: []string{"--version"}})
	}
	return tools
}

// Build wires a Runner from configuration. The returned cleanup closes any
// connections Build opened.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runner, func(), error) {
	cleanup := func() {}

	tools := toolexec.NewExecRunner(toolexec.Config{
		Timeout: cfg.Tools.Timeout,
		Shell:   cfg.Tools.Shell,
	}, log)

	if !cfg.Tools.SkipCheck {
		failures := toolcheck.NewChecker(tools, log).Validate(ctx, Tools(cfg), cfg.OCR.Language)
		if err := toolcheck.Report(failures); err != nil {
			return nil, cleanup, err
		}
	}

	var resolver pageinfo.Resolver
	switch cfg.PageInfo.Backend {
	case "native":
		resolver = pageinfo.NewNativeResolver(log)
	default:
		resolver = pageinfo.NewToolResolver(cfg.Tools.PageInfo, tools, log)
	}

	opts := []Option{
		WithValidator(validator.NewDocumentValidator(log, &validator.ValidatorConfig{
			MaxFileSize:  cfg.Validator.MaxFileSize,
			AllowedTypes: validator.DefaultConfig().AllowedTypes,
			DeepCheck:    cfg.Validator.DeepCheck,
		})),
	}

	switch cfg.State.Backend {
	case "file":
		store, err := state.NewFileStore(cfg.Layout.StateDir)
		if err != nil {
			return nil, cleanup, err
		}
		opts = append(opts, WithTrackers(state.LedgerOpener(store)))
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, cleanup, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cleanup = func() { client.Close() }
		opts = append(opts, WithTrackers(state.LedgerOpener(state.NewRedisStore(client, cfg.State.Prefix, cfg.State.TTL))))
	}

	if cfg.Publish.Backend != "" {
		st, err := storage.NewStorage(ctx, storage.StorageType(cfg.Publish.Backend), storage.Options{LocalDir: cfg.Publish.LocalDir}, log)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("failed to create %s publisher: %w", cfg.Publish.Backend, err)
		}
		opts = append(opts, WithPublisher(storage.NewPublisher(st, cfg.Publish.Prefix, log)))
	}

	return NewRunner(SettingsFromConfig(cfg), tools, resolver, log, opts...), cleanup, nil
}
