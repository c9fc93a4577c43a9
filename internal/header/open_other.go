//go:build !linux

package header

import "os"

// O_NOATIME is a Linux extension; elsewhere a plain open has to do.
func openNoatime(path string) (*os.File, error) {
	return os.Open(path)
}
