package toolexec

import (
	"context"
	"fmt"
	"sync"
)

// Handler simulates one external tool for FakeRunner.
type Handler func(ctx context.Context, args []string) (Result, error)

// Call is one recorded invocation.
type Call struct {
	Tool string
	Args []string
	Line string
}

// FakeRunner dispatches invocations to per-tool handlers and records every
// call. It is meant for tests in this module.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	// LineHandler serves RunLine; nil means RunLine fails.
	LineHandler func(ctx context.Context, line string) (Result, error)
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]Handler)}
}

// Handle registers a handler for tool.
func (f *FakeRunner) Handle(tool string, h Handler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[tool] = h
	return f
}

func (f *FakeRunner) Run(ctx context.Context, tool string, args ...string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Tool: tool, Args: append([]string(nil), args...)})
	h, ok := f.handlers[tool]
	f.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("failed to start %s: no fake handler registered", tool)
	}
	res, err := h(ctx, args)
	res.Tool = tool
	res.Args = args
	return res, err
}

func (f *FakeRunner) RunLine(ctx context.Context, line string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Line: line})
	h := f.LineHandler
	f.mu.Unlock()
	if h == nil {
		return Result{}, fmt.Errorf("failed to start shell: no line handler registered")
	}
	return h(ctx, line)
}

// Calls returns a copy of every recorded call.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls for one tool.
func (f *FakeRunner) CallsTo(tool string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls but keeps handlers.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
