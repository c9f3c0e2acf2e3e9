// Package module defines the module.Version type used to identify pinned
// source archives.
package module

import (
	"errors"
	"path/filepath"
	"strings"
)

// A Version identifies one pinned release of a native dependency.
type Version struct {
	Name    string // Dependency name, e.g. "SFML"
	Version string // Release string as published upstream, e.g. "2.4.2"
}

// String returns "name@version".
func (v Version) String() string {
	return v.Name + "@" + v.Version
}

// Dir returns the conventional top-level directory of the release's source
// archive: "<name>-<version>".
func (v Version) Dir() string {
	return v.Name + "-" + v.Version
}

// Parse parses "name@version". The version part is required.
func Parse(s string) (Version, error) {
	name, ver, ok := strings.Cut(s, "@")
	if !ok || name == "" || ver == "" {
		return Version{}, errors.New("module: expected name@version, got " + s)
	}
	return Version{Name: name, Version: ver}, nil
}

// EscapePath returns the escaped form of the given archive name as a valid
// file system path. It fails if the name is empty or escapes its parent.
func EscapePath(path string) (escaped string, err error) {
	return filepath.Localize(path)
}

// VersionComparator orders two version strings.
type VersionComparator func(v1, v2 string) int
