package testutil

import (
	"os"
	"path/filepath"

	"github.com/PapooSoftware/fasthtcacheclean/internal/fsprobe"
)

// TreeProber is a planner.Prober for tests: usage is computed from the
// files actually present under Root plus a fixed base, so deletions are
// reflected in the next snapshot the way a real partition would show them.
type TreeProber struct {
	Root       string
	Limits     fsprobe.Limits
	BaseBytes  uint64
	BaseInodes uint64
}

// Snapshot sums the tree. Races with concurrent deletion are tolerated the
// same way the production walker tolerates them.
func (p *TreeProber) Snapshot() (fsprobe.Snapshot, error) {
	var bytes, inodes uint64
	err := filepath.WalkDir(p.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		inodes++
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		bytes += uint64(info.Size())
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fsprobe.Snapshot{}, err
	}

	return fsprobe.Snapshot{
		BytesUsed:   bytes + p.BaseBytes,
		BytesLimit:  p.Limits.Bytes,
		InodesUsed:  inodes + p.BaseInodes,
		InodesLimit: p.Limits.Inodes,
	}, nil
}
