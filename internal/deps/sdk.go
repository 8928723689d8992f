package deps

import (
	"fmt"
	"os"
	"path/filepath"

	"chromite/internal/chroot"
)

// sdkBinDirs are searched, in order, for SDK tools from outside the chroot.
var sdkBinDirs = []string{
	"usr/bin",
	"usr/sbin",
	"usr/local/bin",
	"mnt/host/source/chromite/bin",
}

// CheckSDKBinaries reports the SDK tools stages will execute. Inside the
// SDK they resolve from PATH. Outside, the binaries are looked up in the
// chroot tree, since cros_sdk runs them there.
func CheckSDKBinaries(sdk chroot.Chroot, requirements []Requirement) []Status {
	if chroot.IsInside() {
		return CheckBinaries(requirements)
	}
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, checkInChroot(sdk, req))
	}
	return results
}

func checkInChroot(sdk chroot.Chroot, req Requirement) Status {
	status := newStatus(req)
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	if !sdk.Exists() {
		status.Detail = fmt.Sprintf("chroot %s does not exist", sdk.Path)
		return status
	}
	if filepath.IsAbs(status.Command) {
		if isExecutable(sdk.FullPath(status.Command)) {
			status.Available = true
			return status
		}
		status.Detail = fmt.Sprintf("%s not found in chroot", status.Command)
		return status
	}
	name := status.Command
	for _, dir := range sdkBinDirs {
		if isExecutable(sdk.FullPath(dir, name)) {
			status.Available = true
			status.Command = "/" + filepath.ToSlash(filepath.Join(dir, name))
			return status
		}
	}
	status.Detail = fmt.Sprintf("binary %q not found in chroot %s", status.Command, sdk.Path)
	return status
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
