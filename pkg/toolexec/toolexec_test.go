package toolexec

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ensureShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed in PATH")
	}
}

func TestExecRunnerCapturesCombinedOutputAndExitCode(t *testing.T) {
	ensureShell(t)
	r := NewExecRunner(Config{}, nil)

	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success())
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
}

func TestExecRunnerPassesArgsVerbatim(t *testing.T) {
	ensureShell(t)
	r := NewExecRunner(Config{}, nil)

	// the argument with spaces and quotes must arrive as a single argv entry
	res, err := r.Run(context.Background(), "sh", "-c", `printf '%s|' "$@"`, "sh", `a b`, `"q"`)
	require.NoError(t, err)
	assert.Equal(t, `a b|"q"|`, res.Output)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r := NewExecRunner(Config{}, nil)
	_, err := r.Run(context.Background(), "definitely-not-a-real-tool-xyz")
	require.Error(t, err)
}

func TestExecRunnerTimeoutKillsProcess(t *testing.T) {
	ensureShell(t)
	r := NewExecRunner(Config{Timeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	_, err := r.Run(context.Background(), "sh", "-c", "exec sleep 5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecRunnerRunLine(t *testing.T) {
	ensureShell(t)
	r := NewExecRunner(Config{Shell: "sh"}, nil)

	res, err := r.RunLine(context.Background(), `echo "one two"`)
	require.NoError(t, err)
	assert.Equal(t, "one two\n", res.Output)
}

func TestFakeRunnerRecordsCalls(t *testing.T) {
	f := NewFakeRunner().Handle("tool", func(ctx context.Context, args []string) (Result, error) {
		return Result{ExitCode: 0, Output: "ok"}, nil
	})

	res, err := f.Run(context.Background(), "tool", "x", "y")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output)

	_, err = f.Run(context.Background(), "other")
	assert.Error(t, err)

	require.Len(t, f.CallsTo("tool"), 1)
	assert.Equal(t, []string{"x", "y"}, f.CallsTo("tool")[0].Args)
	f.Reset()
	assert.Empty(t, f.Calls())
}
