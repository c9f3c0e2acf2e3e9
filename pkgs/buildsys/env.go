package buildsys

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Env is an overlay of environment variables applied on top of the process
// environment when a driver starts a command.
type Env map[string]string

// Get returns the overlay value for key, falling back to the process
// environment.
func (e Env) Get(key string) string {
	if v, ok := e[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// PrependPath prepends value to a PATH-style variable.
func (e Env) PrependPath(key, value string) {
	sep := ":"
	if runtime.GOOS == "windows" {
		sep = ";"
	}
	if cur := e.Get(key); cur != "" {
		value += sep + cur
	}
	e[key] = value
}

// AppendFlag appends a space-separated flag to a variable.
func (e Env) AppendFlag(key, flag string) {
	if cur := e.Get(key); cur != "" {
		flag = strings.TrimSpace(cur + " " + flag)
	}
	e[key] = flag
}

// Environ merges the overlay into base and returns a sorted KEY=VALUE list.
func (e Env) Environ(base []string) []string {
	envMap := make(map[string]string, len(base)+len(e))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range e {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}

// UseRoot points compiler and pkg-config search variables at a dependency
// installed under root. Directories that do not exist are skipped.
func (e Env) UseRoot(root string) {
	includeDir := filepath.Join(root, "include")
	libDir := filepath.Join(root, "lib")
	pkgconfigDir := filepath.Join(libDir, "pkgconfig")

	if isDir(pkgconfigDir) {
		e.PrependPath("PKG_CONFIG_PATH", pkgconfigDir)
	}
	e.PrependPath("CMAKE_PREFIX_PATH", root)
	if isDir(includeDir) {
		e.PrependPath("CMAKE_INCLUDE_PATH", includeDir)
	}
	if isDir(libDir) {
		e.PrependPath("CMAKE_LIBRARY_PATH", libDir)
	}

	if runtime.GOOS == "windows" {
		if isDir(includeDir) {
			e.PrependPath("INCLUDE", includeDir)
		}
		if isDir(libDir) {
			e.PrependPath("LIB", libDir)
		}
		return
	}
	if isDir(includeDir) {
		e.AppendFlag("CPPFLAGS", "-I"+includeDir)
	}
	if isDir(libDir) {
		e.AppendFlag("LDFLAGS", "-L"+libDir)
	}
}

// OutputDir joins a destination root and an install prefix the way
// DESTDIR installs lay files out.
func OutputDir(destDir, prefix string) string {
	if destDir == "" {
		return prefix
	}
	if prefix == "" {
		return destDir
	}
	return filepath.Join(destDir, strings.TrimPrefix(filepath.Clean(prefix), filepath.VolumeName(prefix)))
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
