package dlc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FactoryInstallAllowlist names the DLCs permitted to be factory installed.
var FactoryInstallAllowlist = map[string]bool{
	"sample-dlc":      true,
	"termina-dlc":     true,
	"scanner-drivers": true,
}

// PowerwashSafeAllowlist names the DLCs permitted to survive powerwash.
var PowerwashSafeAllowlist = map[string]bool{
	"sample-dlc": true,
	"sample-pws": true,
}

// EbuildParams are the DLC settings an ebuild records at install time.
// Fields added later must tolerate absence in older stored files.
type EbuildParams struct {
	ID                  string `json:"dlc_id"`
	Package             string `json:"dlc_package"`
	FSType              string `json:"fs_type"`
	PreAllocatedBlocks  int64  `json:"pre_allocated_blocks"`
	Version             string `json:"version"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	Preload             bool   `json:"preload"`
	MountFileRequired   bool   `json:"mount_file_required"`
	FullNameRev         string `json:"fullnamerev"`
	Reserved            bool   `json:"reserved"`
	CriticalUpdate      bool   `json:"critical_update"`
	FactoryInstall      bool   `json:"factory_install"`
	LoadpinVerityDigest bool   `json:"loadpin_verity_digest"`
	Scaled              bool   `json:"scaled"`
	PowerwashSafe       bool   `json:"powerwash_safe"`
	UseLogicalVolume    bool   `json:"use_logical_volume"`
}

// URIPath is where the DLC's artifacts are published.
func (p EbuildParams) URIPath() (string, error) {
	switch {
	case p.ID == "":
		return "", &Error{Msg: "Missing DLC ID"}
	case p.Package == "":
		return "", &Error{Msg: "Missing DLC package"}
	case p.Version == "":
		return "", &Error{Msg: "Missing DLC version"}
	}
	return strings.Join([]string{GSLocalmirrorBucket, GSDLCImagesDir, p.ID, p.Package, p.Version}, "/"), nil
}

// Verify rejects options the DLC is not allowlisted for.
func (p EbuildParams) Verify() error {
	if p.FactoryInstall && !FactoryInstallAllowlist[p.ID] {
		return &Error{Msg: fmt.Sprintf("DLC=%s is not allowed to be factory installed.", p.ID)}
	}
	if p.PowerwashSafe && !PowerwashSafeAllowlist[p.ID] {
		return &Error{Msg: fmt.Sprintf("DLC=%s is not allowed to be powerwash safe.", p.ID)}
	}
	return nil
}

// ParamsPath returns where the parameters for id/pkg are stored.
func ParamsPath(installRoot, id, pkg string, scaled bool) string {
	dir := BuildDir
	if scaled {
		dir = BuildDirScaled
	}
	return filepath.Join(installRoot, dir, id, pkg, EbuildParameters)
}

// Store writes the parameters under installRoot.
func (p EbuildParams) Store(installRoot string) error {
	path := ParamsPath(installRoot, p.ID, p.Package, p.Scaled)
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadEbuildParams reads stored parameters. A missing file returns nil, nil.
func LoadEbuildParams(sysroot, id, pkg string, scaled bool) (*EbuildParams, error) {
	data, err := os.ReadFile(ParamsPath(sysroot, id, pkg, scaled))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var params EbuildParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse %s: %w", EbuildParameters, err)
	}
	return &params, nil
}
