// Package deps reports whether the external tools chromite shells out to
// are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external dependency chromite relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// HostRequirements lists the tools run from outside the SDK.
func HostRequirements() []Requirement {
	return []Requirement{
		{Name: "cros_sdk", Command: "cros_sdk", Description: "Creates and enters the SDK chroot"},
		{Name: "git", Command: "git", Description: "Source checkout management", Optional: true},
		{Name: "gsutil", Command: "gsutil", Description: "Manual Google Storage access; uploads use the client library", Optional: true},
	}
}

// SDKRequirements lists the tools stages run inside the SDK.
func SDKRequirements() []Requirement {
	return []Requirement{
		{Name: "setup_board", Command: "setup_board", Description: "Creates board sysroots"},
		{Name: "build_packages", Command: "build_packages", Description: "Builds board packages"},
		{Name: "emerge", Command: "emerge", Description: "Portage package manager"},
		{Name: "update_chroot", Command: "update_chroot", Description: "Updates SDK packages and toolchains"},
		{Name: "cgpt", Command: "cgpt", Description: "Reads image partition tables"},
		{Name: "cros_generate_breakpad_symbols", Command: "cros_generate_breakpad_symbols", Description: "Generates debug symbols", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements against PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := newStatus(req)
		if status.Command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(status.Command); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", status.Command)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

func newStatus(req Requirement) Status {
	return Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
}

// Missing returns the required (non-optional) entries that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
