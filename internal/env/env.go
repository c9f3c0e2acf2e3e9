package env

import (
	"os"
	"path/filepath"
	"runtime"
)

// WorkDir returns the default work directory for downloads, sources and
// the staging prefix. It is created with 0700 permissions.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(userCacheDir, ".sfboot")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// StagingDir returns the default staging directory below workDir.
func StagingDir(workDir string) string {
	return filepath.Join(workDir, "staging")
}

// LibrarySearchVars returns the variables the dynamic loader and the linker
// consult for extra library directories on this platform.
func LibrarySearchVars() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"DYLD_LIBRARY_PATH", "LIBRARY_PATH"}
	case "windows":
		return []string{"PATH", "LIB"}
	default:
		return []string{"LD_LIBRARY_PATH", "LIBRARY_PATH"}
	}
}

// IsCI reports whether the process runs under a CI service.
func IsCI() bool {
	return os.Getenv("CI") == "true"
}
