package build

import (
	"path/filepath"

	"github.com/rotisserie/eris"
)

const lockFile = ".lock"

// ErrLocked is returned when another run holds the work dir.
var ErrLocked = eris.New("work dir is in use by another run")

// Lock takes an exclusive lock on a work dir without waiting.
func Lock(workDir string) (unlock func(), err error) {
	return lock(filepath.Join(workDir, lockFile))
}
