package sdksubtools

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"chromite/internal/portage"
)

// LicenseFile is the bundle-relative path of the generated license summary.
const LicenseFile = "license.html.zst"

const unknownLicense = "unknown"

// PackageLicense pairs an installed package with its LICENSE expression.
type PackageLicense struct {
	Package string
	License string
}

// Licenses reads the LICENSE entry of each package from root's installed
// package database. Packages without one report "unknown".
func Licenses(root string, cpfs []string) ([]PackageLicense, error) {
	out := make([]PackageLicense, 0, len(cpfs))
	for _, cpf := range cpfs {
		data, err := os.ReadFile(filepath.Join(root, portage.VDBPath, cpf, "LICENSE"))
		license := strings.Join(strings.Fields(string(data)), " ")
		switch {
		case errors.Is(err, fs.ErrNotExist):
			license = unknownLicense
		case err != nil:
			return nil, err
		case license == "":
			license = unknownLicense
		}
		out = append(out, PackageLicense{Package: cpf, License: license})
	}
	return out, nil
}

// writeLicenses renders the source packages' licenses into the bundle root.
// The file is not part of the subtools hash.
func (s *Subtool) writeLicenses() error {
	licenses, err := Licenses(s.root, s.SourcePackages())
	if err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(s.BundleDir(), LicenseFile))
	if err != nil {
		return err
	}
	defer f.Close()
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if _, err := zw.Write([]byte(renderLicenses(s.Manifest.Name, licenses))); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func renderLicenses(name string, licenses []PackageLicense) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html><head><title>%s licenses</title></head><body>\n", html.EscapeString(name))
	b.WriteString("<table>\n<tr><th>Package</th><th>License</th></tr>\n")
	for _, l := range licenses {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>\n", html.EscapeString(l.Package), html.EscapeString(l.License))
	}
	b.WriteString("</table>\n</body></html>\n")
	return b.String()
}
