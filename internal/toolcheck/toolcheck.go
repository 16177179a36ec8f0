// Package toolcheck validates the external tools once at startup and reports
// every problem together.
package toolcheck

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/searchable-pdf/pkg/logger"
	"github.com/feichai0017/searchable-pdf/pkg/toolexec"
)

// Tool is one external program the pipeline depends on.
type Tool struct {
	Role string
	Name string
	// VersionArgs, when set, are run to confirm the tool actually starts.
	VersionArgs []string
}

// Failure is one tool that did not validate.
type Failure struct {
	Role   string
	Tool   string
	Reason string
}

func (f Failure) String() string {
	return fmt.Sprintf("%s (%s): %s", f.Role, f.Tool, f.Reason)
}

// Report joins failures into one message, or returns nil when there are none.
func Report(failures []Failure) error {
	if len(failures) == 0 {
		return nil
	}
	lines := make([]string, len(failures))
	for i, f := range failures {
		lines[i] = "  - " + f.String()
	}
	return fmt.Errorf("%d external tool check(s) failed:\n%s", len(failures), strings.Join(lines, "\n"))
}

type Checker struct {
	runner   toolexec.Runner
	lookPath func(string) (string, error)
	// languages lists installed OCR language data.
	languages func() ([]string, error)
	logger    logger.Logger
}

func NewChecker(runner toolexec.Runner, log logger.Logger) *Checker {
	return &Checker{
		runner:    runner,
		lookPath:  exec.LookPath,
		languages: gosseract.GetAvailableLanguages,
		logger:    log.Named("toolcheck"),
	}
}

// Validate checks every tool concurrently and returns the failures sorted by
// role. When language is non-empty the OCR language data is checked too.
func (c *Checker) Validate(ctx context.Context, tools []Tool, language string) []Failure {
	results := make([]*Failure, len(tools))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tools {
		i, t := i, t
		g.Go(func() error {
			results[i] = c.check(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	var failures []Failure
	for _, f := range results {
		if f != nil {
			failures = append(failures, *f)
		}
	}
	if language != "" {
		if f := c.checkLanguage(language); f != nil {
			failures = append(failures, *f)
		}
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Role < failures[j].Role })

	for _, f := range failures {
		c.logger.Error("Tool check failed",
			logger.String("role", f.Role),
			logger.String("tool", f.Tool),
			logger.String("reason", f.Reason),
		)
	}
	return failures
}

func (c *Checker) check(ctx context.Context, t Tool) *Failure {
	if t.Name == "" {
		return &Failure{Role: t.Role, Tool: t.Name, Reason: "no tool configured"}
	}
	path, err := c.lookPath(t.Name)
	if err != nil {
		return &Failure{Role: t.Role, Tool: t.Name, Reason: "not found on PATH"}
	}
	if len(t.VersionArgs) == 0 {
		return nil
	}
	res, err := c.runner.Run(ctx, t.Name, t.VersionArgs...)
	if err != nil {
		return &Failure{Role: t.Role, Tool: t.Name, Reason: fmt.Sprintf("failed to start %s: %v", path, err)}
	}
	if !res.Success() {
		return &Failure{
			Role:   t.Role,
			Tool:   t.Name,
			Reason: fmt.Sprintf("%q exited with code %d", strings.Join(t.VersionArgs, " "), res.ExitCode),
		}
	}
	return nil
}

// checkLanguage accepts "eng+deu" style lists. A failure to list languages is
// logged and ignored; the OCR stage still reports missing data per page.
func (c *Checker) checkLanguage(langs string) *Failure {
	installed, err := c.languages()
	if err != nil {
		c.logger.Warn("Could not list OCR languages, skipping preflight", logger.Error(err))
		return nil
	}
	have := make(map[string]bool, len(installed))
	for _, l := range installed {
		have[l] = true
	}
	var missing []string
	for _, l := range strings.Split(langs, "+") {
		if l = strings.TrimSpace(l); l != "" && !have[l] {
			missing = append(missing, l)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &Failure{
		Role:   "ocr-language",
		Tool:   langs,
		Reason: fmt.Sprintf("language data not installed: %s", strings.Join(missing, ", ")),
	}
}
