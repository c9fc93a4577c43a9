// Package safety validates the cache root before anything is deleted. The
// cleaner runs unattended from a timer, so a mistyped unit file must fail
// loudly here rather than empty a system directory.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProtectedPaths are directories a cache never lives in. Pointing the
// cleaner at one of them, or at a parent of one, is refused outright.
var ProtectedPaths = []string{
	"/bin",
	"/boot",
	"/dev",
	"/etc",
	"/home",
	"/lib",
	"/lib64",
	"/proc",
	"/root",
	"/sbin",
	"/sys",
	"/usr",
}

// CheckRoot reports whether path is an acceptable cache root. The returned
// reason explains a refusal. --force skips this check entirely; the check
// itself has no override hooks.
func CheckRoot(path string) (bool, string) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false, fmt.Sprintf("cannot resolve absolute path: %v", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, "cache root does not exist"
		}
		return false, fmt.Sprintf("cannot access cache root: %v", err)
	}
	if !info.IsDir() {
		return false, "cache root is not a directory"
	}

	if absPath == "/" {
		return false, "refusing to clean the filesystem root"
	}
	if home, err := os.UserHomeDir(); err == nil && absPath == filepath.Clean(home) {
		return false, "refusing to clean a home directory"
	}

	for _, protected := range ProtectedPaths {
		if absPath == protected {
			return false, fmt.Sprintf("refusing to clean system directory %s", protected)
		}
		if isParentOf(absPath, protected) {
			return false, fmt.Sprintf("path contains system directory %s", protected)
		}
	}

	return true, ""
}

// isParentOf reports whether child lies under parent.
func isParentOf(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}
