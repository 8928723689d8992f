package buildapi

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"chromite/internal/chroot"
	"chromite/internal/fileutil"
)

var (
	// ErrMissingChrootMessage is returned for a request without a Chroot.
	ErrMissingChrootMessage = errors.New("No chroot message found.")
	// ErrInvalidResultPath is returned for a malformed ResultPath.
	ErrInvalidResultPath = errors.New("invalid result path")
)

var (
	chrootType     = reflect.TypeOf(Chroot{})
	pathType       = reflect.TypeOf(Path{})
	resultPathType = reflect.TypeOf(ResultPath{})
)

// HandleChroot finds the request's Chroot field, searching one level of
// nested messages, and parses it over defaults. With clear set the field
// is reset so the request can be forwarded into the SDK.
func HandleChroot(req any, defaults chroot.Chroot, clear bool) (chroot.Chroot, error) {
	msg, ok := findChroot(reflect.ValueOf(req), clear, true)
	if !ok {
		return chroot.Chroot{}, ErrMissingChrootMessage
	}
	return msg.Parse(defaults), nil
}

func findChroot(v reflect.Value, clear, recurse bool) (*Chroot, bool) {
	v = indirect(v)
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return nil, false
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !v.Type().Field(i).IsExported() {
			continue
		}
		switch {
		case f.Type() == chrootType:
			msg := f.Interface().(Chroot)
			if clear {
				f.Set(reflect.Zero(chrootType))
			}
			return &msg, true
		case f.Type() == reflect.PointerTo(chrootType):
			msg, _ := f.Interface().(*Chroot)
			if msg == nil {
				msg = &Chroot{}
			} else {
				copied := *msg
				msg = &copied
			}
			if clear {
				f.Set(reflect.Zero(f.Type()))
			}
			return msg, true
		}
	}
	if recurse {
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if msg, ok := findChroot(v.Field(i), clear, false); ok {
				return msg, true
			}
		}
	}
	return nil, false
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// collectPaths returns every complete Path in msg. ResultPath values are
// skipped.
func collectPaths(v reflect.Value) []*Path {
	v = indirect(v)
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Struct:
		switch v.Type() {
		case resultPathType:
			return nil
		case pathType:
			p := v.Addr().Interface().(*Path)
			if p.Path == "" || p.Location == LocationUnspecified {
				return nil
			}
			return []*Path{p}
		}
		var out []*Path
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				out = append(out, collectPaths(v.Field(i))...)
			}
		}
		return out
	case reflect.Slice, reflect.Array:
		var out []*Path
		for i := 0; i < v.Len(); i++ {
			out = append(out, collectPaths(v.Index(i))...)
		}
		return out
	}
	return nil
}

func findResultPath(v reflect.Value) *ResultPath {
	v = indirect(v)
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < v.NumField(); i++ {
		f := indirect(v.Field(i))
		if f.IsValid() && f.Type() == resultPathType && f.CanAddr() {
			return f.Addr().Interface().(*ResultPath)
		}
	}
	return nil
}

// CopyPathsIn copies every outside Path in req into a temp dir under the
// chroot's tmp and rewrites the field to the inside location. The returned
// func restores the fields and removes the copies.
func CopyPathsIn(req any, sdk chroot.Chroot, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	type saved struct {
		field    *Path
		original Path
		cleanup  func()
	}
	var done []saved
	restore := func() {
		for _, s := range done {
			if s.cleanup != nil {
				s.cleanup()
			}
			*s.field = s.original
		}
	}
	for _, p := range collectPaths(reflect.ValueOf(req)) {
		if p.Location == LocationInside {
			continue
		}
		dir, cleanup, err := sdk.TempDir("path-")
		if err != nil {
			restore()
			return nil, err
		}
		done = append(done, saved{field: p, original: *p, cleanup: cleanup})
		dest, err := copyPath(p.Path, dir)
		if err != nil {
			restore()
			return nil, err
		}
		inside, err := sdk.ChrootPath(dest)
		if err != nil {
			restore()
			return nil, err
		}
		logger.Debug("copied path into chroot", slog.String("src", p.Path), slog.String("dst", inside))
		p.Path = inside
		p.Location = LocationInside
	}
	return restore, nil
}

// ExtractResults moves response Paths out of the SDK into the request's
// ResultPath, rewriting each to its outside location. Without a ResultPath,
// or with an empty copy destination, nothing happens.
func ExtractResults(req, resp any, sdk chroot.Chroot, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rp := findResultPath(reflect.ValueOf(req))
	if rp == nil {
		return nil
	}
	dest := rp.Path.Path
	if rp.Transfer == TransferTranslate {
		if dest != "" {
			return fmt.Errorf("%w: ResultPath.path must be empty for TRANSFER_TRANSLATE. Value=`%s`.", ErrInvalidResultPath, dest)
		}
	} else if dest == "" {
		return nil
	}
	for _, p := range collectPaths(reflect.ValueOf(resp)) {
		if p.Location == LocationOutside {
			continue
		}
		source := sdk.FullPath(p.Path)
		target := source
		if dest != "" {
			var err error
			target, err = copyPath(source, dest)
			if err != nil {
				return err
			}
		}
		logger.Debug("extracted result path", slog.String("src", p.Path), slog.String("dst", target))
		p.Path = target
		p.Location = LocationOutside
	}
	return nil
}

// copyPath copies a file into destDir under its base name, or a directory's
// contents into destDir, and returns the resulting path.
func copyPath(src, destDir string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	if !info.IsDir() {
		dst := filepath.Join(destDir, filepath.Base(src))
		return dst, fileutil.CopyFileVerified(src, dst, info.Mode().Perm())
	}
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return fileutil.CopyFileVerified(path, target, fi.Mode().Perm())
	})
	return destDir, err
}
