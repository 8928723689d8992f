// Package config loads and validates the chromite TOML configuration.
//
// Load resolves the file (explicit path, ~/.config/chromite/config.toml, or
// ./chromite.toml), decodes it over Default(), expands ~ in every path, derives
// chroot/out paths from the source root, and validates the result.
package config
