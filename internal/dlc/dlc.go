// Package dlc handles Downloadable Content (DLC) build artifacts: ebuild
// parameters, image hashing, artifact upload, and the artifacts metadata
// published for each sysroot.
package dlc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"chromite/internal/gs"
	"chromite/internal/services"
)

const (
	GSLocalmirrorBucket = "gs://chromeos-localmirror"
	GSDLCImagesDir      = "dlc-images"
	GSPublicReadACL     = "public-read"

	BuildDir              = "build/rootfs/dlc"
	BuildDirScaled        = "build/rootfs/dlc-scaled"
	BuildDirArtifactsMeta = "build/rootfs/dlc-meta"

	Image            = "dlc.img"
	Package          = "package"
	EbuildParameters = "ebuild_parameters.json"
	ImageloaderJSON  = "imageloader.json"
	URIPrefix        = "uri-prefix"

	// ImageloaderHashKey holds the image digest inside imageloader.json.
	ImageloaderHashKey = "image-sha256-hash"

	maxIDLength = 80
)

// IDPattern matches a DLC id or package name.
const IDPattern = `[a-zA-Z0-9][a-zA-Z0-9-]*`

var idRe = regexp.MustCompile(`^` + IDPattern + `$`)

// Error is returned for invalid DLC inputs.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return services.ErrValidation }

// ValidateIdentifier checks a DLC id or package name.
func ValidateIdentifier(name string) error {
	var problems []string
	if name == "" {
		problems = append(problems, "Must not be empty.")
	} else {
		if !isAlnum(name[0]) {
			problems = append(problems, "Must start with alphanumeric character.")
		}
		if !idRe.MatchString(name) {
			problems = append(problems, "Must only use alphanumeric and - (dash).")
		}
		if len(name) > maxIDLength {
			problems = append(problems, fmt.Sprintf("Must be within %d characters.", maxIDLength))
		}
	}
	if len(problems) > 0 {
		return &Error{Msg: fmt.Sprintf("%s is invalid:\n%s", name, strings.Join(problems, "\n"))}
	}
	return nil
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Artifacts are the generated files for one DLC.
type Artifacts struct {
	Image     string `json:"image"`
	ImageName string `json:"image_name"`
	ImageHash string `json:"image_hash"`
	Meta      string `json:"meta"`
	URIPath   string `json:"uri_path"`
}

// NewArtifacts validates the image name and hashes the image.
func NewArtifacts(image, meta, uriPath string) (*Artifacts, error) {
	name := filepath.Base(image)
	if name != Image {
		return nil, &Error{Msg: "DLC image names should only be named " + Image}
	}
	hash, err := HashFile(image)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "dlc", "hash image", image, err)
	}
	return &Artifacts{Image: image, ImageName: name, ImageHash: hash, Meta: meta, URIPath: uriPath}, nil
}

// Upload copies the image and meta into URIPath as public objects. Without a
// URIPath nothing is uploaded.
func (a *Artifacts) Upload(ctx context.Context, gsctx *gs.Context) error {
	if a.URIPath == "" {
		return nil
	}
	for _, local := range []string{a.Image, a.Meta} {
		if local == "" {
			continue
		}
		if _, err := gsctx.CopyInto(ctx, local, a.URIPath, GSPublicReadACL); err != nil {
			return fmt.Errorf("upload %s: %w", filepath.Base(local), err)
		}
	}
	return nil
}
