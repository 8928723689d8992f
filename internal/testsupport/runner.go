package testsupport

import (
	"context"
	"strings"
	"sync"

	"chromite/internal/services"
)

// FakeRunner records commands and answers them from registered handlers.
// Unmatched commands succeed with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []services.Command
	handlers []fakeHandler
}

type fakeHandler struct {
	prefix []string
	fn     func(services.Command) (*services.Result, error)
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On registers fn for commands whose argv starts with prefix. Later
// registrations take precedence.
func (f *FakeRunner) On(prefix []string, fn func(services.Command) (*services.Result, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{prefix: prefix, fn: fn})
}

// Respond registers a canned exit code and stdout for commands matching prefix.
func (f *FakeRunner) Respond(prefix []string, exitCode int, stdout string) {
	f.On(prefix, func(c services.Command) (*services.Result, error) {
		return &services.Result{Args: c.Args, ExitCode: exitCode, Stdout: stdout}, nil
	})
}

// Run implements services.Runner.
func (f *FakeRunner) Run(_ context.Context, c services.Command) (*services.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var handler *fakeHandler
	for i := len(f.handlers) - 1; i >= 0; i-- {
		if hasPrefix(c.Args, f.handlers[i].prefix) {
			handler = &f.handlers[i]
			break
		}
	}
	f.mu.Unlock()

	res := &services.Result{Args: c.Args}
	if handler != nil {
		var err error
		res, err = handler.fn(c)
		if err != nil {
			return res, err
		}
	}
	if c.Check && !res.Success() {
		return res, &services.RunCommandError{Msg: "command failed", Result: res}
	}
	return res, nil
}

// Calls returns a snapshot of every recorded command.
func (f *FakeRunner) Calls() []services.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.Command(nil), f.calls...)
}

// CommandLines returns each recorded argv joined by spaces.
func (f *FakeRunner) CommandLines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = strings.Join(c.Args, " ")
	}
	return lines
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i := range prefix {
		if args[i] != prefix[i] {
			return false
		}
	}
	return true
}
