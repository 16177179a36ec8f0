// Package toolexec runs external programs synchronously and captures their
// combined output. A nonzero exit is reported in Result, not as an error:
// callers decide what an exit code means.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/feichai0017/searchable-pdf/pkg/logger"
)

// ErrTimeout is returned when an invocation exceeds the configured timeout.
// The process has been killed by then.
var ErrTimeout = errors.New("tool invocation timed out")

// Result is the outcome of one invocation.
type Result struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
	Duration time.Duration
}

// Success reports a zero exit code.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Runner is the process-invocation seam every stage depends on.
type Runner interface {
	// Run passes args as discrete argv elements, never through a shell.
	Run(ctx context.Context, tool string, args ...string) (Result, error)
	// RunLine hands a fully assembled command line to the shell. Only for
	// tools whose invocation convention requires it; the caller owns quoting.
	RunLine(ctx context.Context, line string) (Result, error)
}

// Config controls ExecRunner.
type Config struct {
	// Timeout bounds each invocation; zero waits forever.
	Timeout time.Duration
	// Shell and ShellFlag are used by RunLine, e.g. "/bin/sh" and "-c".
	Shell     string
	ShellFlag string
}

// ExecRunner is the os/exec backed Runner.
type ExecRunner struct {
	config Config
	logger logger.Logger
}

// NewExecRunner creates a runner. A nil logger discards debug output.
func NewExecRunner(cfg Config, log logger.Logger) *ExecRunner {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.ShellFlag == "" {
		cfg.ShellFlag = "-c"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ExecRunner{config: cfg, logger: log.Named("toolexec")}
}

func (r *ExecRunner) Run(ctx context.Context, tool string, args ...string) (Result, error) {
	return r.run(ctx, tool, args)
}

func (r *ExecRunner) RunLine(ctx context.Context, line string) (Result, error) {
	return r.run(ctx, r.config.Shell, []string{r.config.ShellFlag, line})
}

func (r *ExecRunner) run(ctx context.Context, tool string, args []string) (Result, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	// don't hang on grandchildren holding the output pipe after a kill
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Tool:     tool,
		Args:     args,
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.config.Timeout > 0 {
			res.ExitCode = -1
			r.logger.Error("Tool invocation timed out",
				logger.String("tool", tool),
				logger.Duration("timeout", r.config.Timeout),
			)
			return res, fmt.Errorf("%s after %s: %w", tool, r.config.Timeout, ErrTimeout)
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("failed to run %s: %w", tool, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("failed to start %s: %w", tool, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug("Tool invocation finished",
		logger.String("tool", tool),
		logger.Strings("args", args),
		logger.Int("exitCode", res.ExitCode),
		logger.Duration("duration", res.Duration),
	)
	return res, nil
}
