package portage

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ParseLayoutConf reads key = value pairs from metadata/layout.conf. Comments
// and blank lines are ignored; values may be quoted.
func ParseLayoutConf(r io.Reader) (map[string]string, error) {
	values := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		values[strings.TrimSpace(key)] = value
	}
	return values, scanner.Err()
}

// RepoName returns the self-declared name of an overlay. layout.conf's
// repo-name wins over profiles/repo_name. An overlay with neither yields "".
func RepoName(overlay string) (string, error) {
	f, err := os.Open(filepath.Join(overlay, "metadata", "layout.conf"))
	switch {
	case err == nil:
		values, perr := ParseLayoutConf(f)
		f.Close()
		if perr != nil {
			return "", perr
		}
		if name := values["repo-name"]; name != "" {
			return name, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(overlay, "profiles", "repo_name"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	name, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(name), nil
}
