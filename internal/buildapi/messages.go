package buildapi

import (
	"strings"

	"chromite/internal/buildtarget"
	"chromite/internal/chroot"
	"chromite/internal/portage"
)

// PathLocation says which side of the SDK boundary a Path refers to.
type PathLocation int

const (
	LocationUnspecified PathLocation = iota
	LocationInside
	LocationOutside
)

// Path is a file or directory reference in a request or response.
type Path struct {
	Path     string       `json:"path,omitempty"`
	Location PathLocation `json:"location,omitempty"`
}

// Transfer controls how response paths reach a ResultPath.
type Transfer int

const (
	TransferUnspecified Transfer = iota
	TransferCopy
	// TransferTranslate rewrites paths to their outside form without copying.
	TransferTranslate
)

// ResultPath asks for response artifacts to be delivered outside the SDK.
type ResultPath struct {
	Path     Path     `json:"path"`
	Transfer Transfer `json:"transfer,omitempty"`
}

// ChrootEnv carries USE flags and FEATURES for the SDK.
type ChrootEnv struct {
	UseFlags []UseFlag `json:"use_flags,omitempty"`
	Features []string  `json:"features,omitempty"`
}

// UseFlag is a single USE flag.
type UseFlag struct {
	Flag string `json:"flag,omitempty"`
}

// Chroot identifies the SDK a request runs against.
type Chroot struct {
	Path      string     `json:"path,omitempty"`
	OutPath   string     `json:"out_path,omitempty"`
	CacheDir  string     `json:"cache_dir,omitempty"`
	ChromeDir string     `json:"chrome_dir,omitempty"`
	Env       *ChrootEnv `json:"env,omitempty"`
}

// Parse converts the message into a chroot.Chroot, filling unset fields
// from defaults.
func (c *Chroot) Parse(defaults chroot.Chroot) chroot.Chroot {
	out := defaults
	if c == nil {
		return out
	}
	if c.Path != "" {
		out.Path = c.Path
	}
	if c.OutPath != "" {
		out.OutPath = c.OutPath
	}
	if c.CacheDir != "" {
		out.CacheDir = c.CacheDir
	}
	if c.ChromeDir != "" {
		out.ChromeRoot = c.ChromeDir
	}
	if c.Env != nil {
		env := map[string]string{}
		for k, v := range defaults.Env {
			env[k] = v
		}
		if len(c.Env.UseFlags) > 0 {
			flags := make([]string, len(c.Env.UseFlags))
			for i, f := range c.Env.UseFlags {
				flags[i] = f.Flag
			}
			env["USE"] = strings.Join(flags, " ")
		}
		if len(c.Env.Features) > 0 {
			env["FEATURES"] = strings.Join(c.Env.Features, " ")
		}
		out.Env = env
	}
	return out
}

// Profile names a board profile.
type Profile struct {
	Name string `json:"name,omitempty"`
}

// BuildTarget names a board.
type BuildTarget struct {
	Name    string   `json:"name,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}

// Parse converts the message into a buildtarget.BuildTarget.
func (b *BuildTarget) Parse() buildtarget.BuildTarget {
	if b == nil {
		return buildtarget.New("", "", "", false)
	}
	profile := ""
	if b.Profile != nil {
		profile = b.Profile.Name
	}
	return buildtarget.New(b.Name, profile, "", false)
}

// Sysroot is a sysroot path and its build target.
type Sysroot struct {
	Path        string       `json:"path,omitempty"`
	BuildTarget *BuildTarget `json:"build_target,omitempty"`
}

// PackageInfo identifies a package.
type PackageInfo struct {
	Category    string `json:"category,omitempty"`
	PackageName string `json:"package_name,omitempty"`
	Version     string `json:"version,omitempty"`
}

// PackageInfoFrom converts a portage package.
func PackageInfoFrom(p portage.PackageInfo) PackageInfo {
	return PackageInfo{Category: p.Category, PackageName: p.Package, Version: p.PVR()}
}

// Portage converts the message back into a portage package.
func (p PackageInfo) Portage() (portage.PackageInfo, error) {
	cpv := p.Category + "/" + p.PackageName
	if p.Version != "" {
		cpv += "-" + p.Version
	}
	return portage.ParseCPV(cpv)
}

// FailedPackageData pairs a failed package with its build log.
type FailedPackageData struct {
	Name    PackageInfo `json:"name"`
	LogPath Path        `json:"log_path"`
}
