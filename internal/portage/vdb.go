package portage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VDBPath is the installed package database, relative to a root.
const VDBPath = "var/db/pkg"

// InstalledPackage is one entry of the installed package database.
type InstalledPackage struct {
	Info PackageInfo
	Dir  string
}

// ContentEntry is a line of a package's CONTENTS file.
type ContentEntry struct {
	Type string
	Path string
}

// ListInstalled returns every package recorded under root's VDB.
func ListInstalled(root string) ([]InstalledPackage, error) {
	vdb := filepath.Join(root, VDBPath)
	cats, err := os.ReadDir(vdb)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []InstalledPackage
	for _, cat := range cats {
		if !cat.IsDir() {
			continue
		}
		pkgs, err := os.ReadDir(filepath.Join(vdb, cat.Name()))
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			if !pkg.IsDir() || strings.HasPrefix(pkg.Name(), "-MERGING-") {
				continue
			}
			info, err := ParseCPV(cat.Name() + "/" + pkg.Name())
			if err != nil {
				continue
			}
			out = append(out, InstalledPackage{Info: info, Dir: filepath.Join(vdb, cat.Name(), pkg.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.CPF() < out[j].Info.CPF() })
	return out, nil
}

// FindInstalled returns installed packages matching query, which may be an
// atom (cat/pkg) or a full CPV.
func FindInstalled(root, query string) ([]InstalledPackage, error) {
	want, err := ParseCPV(query)
	if err != nil {
		return nil, err
	}
	all, err := ListInstalled(root)
	if err != nil {
		return nil, err
	}
	var out []InstalledPackage
	for _, pkg := range all {
		if pkg.Info.Atom() != want.Atom() {
			continue
		}
		if want.IsVersioned() && pkg.Info.PVR() != want.PVR() {
			continue
		}
		out = append(out, pkg)
	}
	return out, nil
}

// Contents lists the files, symlinks and directories the package installed.
func (p InstalledPackage) Contents() ([]ContentEntry, error) {
	f, err := os.Open(filepath.Join(p.Dir, "CONTENTS"))
	if err != nil {
		return nil, fmt.Errorf("read CONTENTS for %s: %w", p.Info.CPF(), err)
	}
	defer f.Close()

	var out []ContentEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kind, rest, ok := strings.Cut(scanner.Text(), " ")
		if !ok {
			continue
		}
		var path string
		switch kind {
		case "dir":
			path = rest
		case "obj":
			// obj <path> <md5> <mtime>
			fields := strings.Fields(rest)
			if len(fields) < 3 {
				continue
			}
			path = strings.Join(fields[:len(fields)-2], " ")
		case "sym":
			target, _, _ := strings.Cut(rest, " -> ")
			path = target
		default:
			continue
		}
		out = append(out, ContentEntry{Type: kind, Path: path})
	}
	return out, scanner.Err()
}

// FindOwners returns the installed packages that own any of paths.
func FindOwners(root string, paths []string) ([]PackageInfo, error) {
	wanted := map[string]bool{}
	for _, p := range paths {
		wanted[filepath.Clean("/"+strings.TrimPrefix(p, root))] = true
	}
	all, err := ListInstalled(root)
	if err != nil {
		return nil, err
	}
	var owners []PackageInfo
	for _, pkg := range all {
		contents, err := pkg.Contents()
		if err != nil {
			continue
		}
		for _, entry := range contents {
			if entry.Type != "dir" && wanted[entry.Path] {
				owners = append(owners, pkg.Info)
				break
			}
		}
	}
	return owners, nil
}
