//go:build unix

package hostcheck

import (
	"golang.org/x/sys/unix"
)

func writable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}

func privileged() bool {
	return unix.Geteuid() == 0
}
