package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"chromite/internal/signals"
)

// waitDelay bounds how long Run waits for output pipes after the process
// has exited or been killed.
const waitDelay = 5 * time.Second

// Command describes a single external process invocation.
type Command struct {
	Args []string
	Dir  string
	// Env entries (KEY=VALUE) are appended to the parent environment.
	Env      []string
	Stdin    io.Reader
	Capture  bool
	Check    bool
	Timeout  time.Duration
	OnOutput func(line string)
}

// Result captures the outcome of a finished command.
type Result struct {
	Args     []string
	ExitCode int
	Signal   string
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited cleanly.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && r.Signal == ""
}

// Runner executes external commands. Services accept a Runner so tests can
// substitute canned results.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunCommandError reports a command that could not be run or that exited
// non-zero while Check was set.
type RunCommandError struct {
	Msg    string
	Result *Result
	Err    error
}

func (e *RunCommandError) Error() string {
	var b strings.Builder
	msg := e.Msg
	if msg == "" {
		msg = "command failed"
	}
	b.WriteString(msg)
	if e.Result != nil {
		b.WriteString(": ")
		b.WriteString(CmdString(e.Result.Args))
		if e.Result.Signal != "" {
			fmt.Fprintf(&b, " (killed by %s)", e.Result.Signal)
		} else {
			fmt.Fprintf(&b, " (exit code %d)", e.Result.ExitCode)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Result != nil {
		if tail := lastLines(e.Result.Stderr, 5); tail != "" {
			b.WriteString("\n")
			b.WriteString(tail)
		}
	}
	return b.String()
}

func (e *RunCommandError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExternalTool, e.Err}
	}
	return []error{ErrExternalTool}
}

// ExitCode returns the failing command's exit code, or -1 when it never ran.
func (e *RunCommandError) ExitCode() int {
	if e.Result == nil {
		return -1
	}
	return e.Result.ExitCode
}

// ExecRunner runs commands with os/exec, streaming output line by line.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner constructs a runner that logs each invocation at debug level.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecRunner{logger: logger}
}

// Run executes cmd. A non-zero exit is only an error when cmd.Check is set;
// failing to start the process is always an error.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if len(c.Args) == 0 {
		return nil, Wrap(ErrValidation, "runner", "run", "empty command", nil)
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	r.logger.Debug("running command",
		slog.String("command", CmdString(c.Args)),
		slog.String("dir", c.Dir))

	cmd := exec.CommandContext(runCtx, c.Args[0], c.Args[1:]...) //nolint:gosec
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	// Children share the process group so a timeout kills emerge workers too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
			if errors.Is(err, unix.ESRCH) {
				return os.ErrProcessDone
			}
			return err
		}
		return nil
	}
	cmd.WaitDelay = waitDelay

	res := &Result{Args: append([]string(nil), c.Args...), ExitCode: -1}

	var (
		mu     sync.Mutex
		outBuf bytes.Buffer
		errBuf bytes.Buffer
	)
	emitter := func(buf *bytes.Buffer, passthrough io.Writer) *lineWriter {
		return &lineWriter{emit: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			if c.Capture {
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
			if c.OnOutput != nil {
				c.OnOutput(line)
			} else if !c.Capture {
				fmt.Fprintln(passthrough, line)
			}
		}}
	}
	stdout := emitter(&outBuf, os.Stdout)
	stderr := emitter(&errBuf, os.Stderr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		marker := ErrExternalTool
		if errors.Is(err, exec.ErrNotFound) {
			marker = ErrNotFound
		}
		return res, Wrap(marker, "runner", c.Args[0], "unable to run command", &RunCommandError{Msg: "start command", Result: res, Err: err})
	}

	waitErr := cmd.Wait()
	stdout.flush()
	stderr.flush()
	res.Duration = time.Since(start)
	res.Stdout = outBuf.String()
	res.Stderr = errBuf.String()
	res.ExitCode = 0

	// A descendant that escaped the group and still holds the pipes only
	// delays Wait by waitDelay; the exit status itself is valid.
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		waitErr = nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			if sig, ok := signals.FromProcessState(exitErr.ProcessState); ok {
				res.Signal = signals.StrSignal(sig)
				res.ExitCode = signals.ExitCodeForSignal(sig)
			}
		case runCtx.Err() != nil && errors.Is(waitErr, runCtx.Err()):
			res.ExitCode = -1
		default:
			return res, &RunCommandError{Msg: "wait command", Result: res, Err: waitErr}
		}
	}

	if c.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, Wrap(ErrTimeout, "runner", c.Args[0], fmt.Sprintf("timed out after %s", c.Timeout),
			&RunCommandError{Msg: "command timed out", Result: res})
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	r.logger.Debug("command finished",
		slog.String("command", c.Args[0]),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration))

	if c.Check && !res.Success() {
		return res, &RunCommandError{Msg: "command failed", Result: res}
	}
	return res, nil
}

// lineWriter splits written bytes into lines, dropping the newline and any
// trailing carriage return.
type lineWriter struct {
	mu      sync.Mutex
	partial []byte
	emit    func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		w.emit(string(bytes.TrimSuffix(w.partial[:idx], []byte{'\r'})))
		w.partial = w.partial[idx+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(string(bytes.TrimSuffix(w.partial, []byte{'\r'})))
		w.partial = nil
	}
}

// Output runs args with output captured and exit status checked, returning stdout.
func Output(ctx context.Context, runner Runner, args ...string) (string, error) {
	res, err := runner.Run(ctx, Command{Args: args, Capture: true, Check: true})
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// CmdString renders argv for logs, quoting arguments that need it.
func CmdString(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$") {
			quoted[i] = strconv.Quote(arg)
			continue
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
