package portage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MetricsDirEnv points ebuild die hooks at a directory for status files.
	MetricsDirEnv = "CROS_METRICS_DIR"
	// DieHookStatusFile is written into MetricsDirEnv by the failure hook.
	DieHookStatusFile = "FAILED_PACKAGES"
	// StatusFileEnv names the file parallel_emerge records failures into.
	StatusFileEnv = "PARALLEL_EMERGE_STATUS_FILE"
)

// PackageInstallError reports a package build that failed, along with the
// packages that could be identified as failing.
type PackageInstallError struct {
	Msg            string
	FailedPackages []PackageInfo
	Cause          error
}

func (e *PackageInstallError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "package install failed"
	}
	if len(e.FailedPackages) > 0 {
		names := make([]string, len(e.FailedPackages))
		for i, pkg := range e.FailedPackages {
			names[i] = pkg.CPF()
		}
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(names, ", "))
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *PackageInstallError) Unwrap() error {
	return e.Cause
}

// ReadStatusFile parses a failed-packages status file. Each line holds a CPV
// optionally followed by the failing phase. A missing file yields no packages.
func ReadStatusFile(path string) ([]PackageInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open status file: %w", err)
	}
	defer f.Close()

	var pkgs []PackageInfo
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		pkg, err := ParseCPV(fields[0])
		if err != nil {
			return nil, fmt.Errorf("status file %s: %w", path, err)
		}
		pkgs = append(pkgs, pkg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read status file: %w", err)
	}
	return pkgs, nil
}

// ParseDieHookStatusFile reads the die hook's status file from metricsDir.
func ParseDieHookStatusFile(metricsDir string) ([]PackageInfo, error) {
	return ReadStatusFile(filepath.Join(metricsDir, DieHookStatusFile))
}
