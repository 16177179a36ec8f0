package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/searchable-pdf/config"
	"github.com/feichai0017/searchable-pdf/internal/models"
	"github.com/feichai0017/searchable-pdf/internal/pipeline"
	"github.com/feichai0017/searchable-pdf/internal/prompt"
	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: ocrpdf [flags] [document.pdf]\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "Path to a YAML config file")
	levelsFlag := flag.String("levels", "", "Levels adjustment as BLACK,WHITE percent, e.g. 10,90")
	noLevels := flag.Bool("no-levels", false, "Disable the levels adjustment")
	batch := flag.Bool("batch", false, "Do not prompt; use the configured levels")
	skipCheck := flag.Bool("skip-check", false, "Skip the startup tool validation pass")
	flag.Parse()

	if err := run(*configPath, *levelsFlag, *noLevels, *batch, *skipCheck, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "ocrpdf: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, levelsFlag string, noLevels, batch, skipCheck bool, document string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if skipCheck {
		cfg.Tools.SkipCheck = true
	}

	log, err := logger.NewLogger(logger.WithConfig(cfg.Logger))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := pipeline.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	p := prompt.New(os.Stdin, os.Stdout)
	if document == "" {
		if batch {
			return errors.New("a document argument is required with -batch")
		}
		if document, err = p.SelectDocument(cfg.Layout.InputDir); err != nil {
			return err
		}
	}

	levels, err := chooseLevels(p, cfg, levelsFlag, noLevels, batch)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, pipeline.Request{SourcePath: document, Levels: levels})
	if err != nil {
		return err
	}
	report(summary)
	return nil
}

// chooseLevels resolves the run's levels from flags, then the prompt, then
// configuration.
func chooseLevels(p *prompt.Prompter, cfg *config.Config, levelsFlag string, noLevels, batch bool) (*models.Levels, error) {
	switch {
	case levelsFlag != "" && noLevels:
		return nil, errors.New("-levels and -no-levels are mutually exclusive")
	case levelsFlag != "":
		return models.ParseLevels(levelsFlag)
	case noLevels:
		return nil, nil
	case batch:
		return cfg.Levels.Adjustment(), nil
	}
	return p.AskLevels(models.Levels{BlackPoint: cfg.Levels.BlackPoint, WhitePoint: cfg.Levels.WhitePoint})
}

func report(s *models.RunSummary) {
	if s.AlreadyComplete {
		fmt.Printf("%s is already complete (%d pages)\n", s.FinalPath, s.TotalPages)
	} else {
		fmt.Printf("Wrote %s (%d pages, %d raster and %d OCR invocations, %s)\n",
			s.FinalPath, s.TotalPages, s.RasterInvocations, s.OCRInvocations, s.Duration.Round(time.Millisecond))
	}
	for _, w := range s.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if s.PublishedKey != "" {
		fmt.Printf("Published as %s\n", s.PublishedKey)
	}
}
