// Package signals names POSIX signals and translates signal terminations of
// child processes into shell-style exit codes.
package signals

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// StrSignal returns the conventional name for sig, e.g. "SIGTERM".
func StrSignal(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}

// ExitCodeForSignal mirrors the shell convention of 128+N for a process
// terminated by signal N.
func ExitCodeForSignal(sig syscall.Signal) int {
	return 128 + int(sig)
}

// FromProcessState reports the signal that terminated the process, if any.
func FromProcessState(state *os.ProcessState) (syscall.Signal, bool) {
	if state == nil {
		return 0, false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return ws.Signal(), true
}

// IsFatal reports whether sig normally terminates a build (interrupt,
// termination, or hangup) rather than being an incidental notification.
func IsFatal(sig syscall.Signal) bool {
	switch sig {
	case unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGKILL, unix.SIGQUIT:
		return true
	default:
		return false
	}
}
