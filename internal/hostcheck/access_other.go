//go:build !unix

package hostcheck

import (
	"os"
)

func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".sfboot-probe-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}

func privileged() bool {
	return false
}
