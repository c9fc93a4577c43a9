//go:build linux

package header

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func openNoatime(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOATIME, 0)
	if err == nil {
		return f, nil
	}
	// O_NOATIME is only allowed for the file's owner; other processes get
	// EPERM and must read the old-fashioned way.
	if errors.Is(err, os.ErrPermission) {
		return os.Open(path)
	}
	return nil, err
}
