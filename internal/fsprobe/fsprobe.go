// Package fsprobe reports disk usage for the partition holding the cache.
// The planner polls it between deletions, so a snapshot is a single statfs
// call with no per-entry work.
package fsprobe

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Limits carries the configured ceilings for the cache partition. A zero
// value disables that dimension: with Bytes == 0 only inode pressure can
// trigger eviction and vice versa. At least one must be set; cfg validation
// enforces that before a Probe is ever built.
type Limits struct {
	Bytes  uint64
	Inodes uint64
}

// Snapshot is a point-in-time view of partition usage against the
// configured limits. Usage comes from the partition's own accounting
// rather than from summing cache entries, so space consumed by concurrent
// writers is included.
type Snapshot struct {
	BytesUsed   uint64
	BytesLimit  uint64
	InodesUsed  uint64
	InodesLimit uint64
}

// ByteUtil returns bytes used as a fraction of the byte limit, or 0 when
// byte-based eviction is disabled.
func (s Snapshot) ByteUtil() float64 {
	if s.BytesLimit == 0 {
		return 0
	}
	return float64(s.BytesUsed) / float64(s.BytesLimit)
}

// InodeUtil returns inodes used as a fraction of the inode limit, or 0 when
// inode-based eviction is disabled.
func (s Snapshot) InodeUtil() float64 {
	if s.InodesLimit == 0 {
		return 0
	}
	return float64(s.InodesUsed) / float64(s.InodesLimit)
}

// Util returns the more aggressive of the two utilisation signals.
func (s Snapshot) Util() float64 {
	return max(s.ByteUtil(), s.InodeUtil())
}

// InBand reports whether both configured dimensions have fallen to or below
// the upper edge of the target band.
func (s Snapshot) InBand(high float64) bool {
	return s.ByteUtil() <= high && s.InodeUtil() <= high
}

// Probe samples the partition containing root.
type Probe struct {
	root   string
	limits Limits
}

// New returns a Probe for the partition holding root.
func New(root string, limits Limits) *Probe {
	return &Probe{root: root, limits: limits}
}

// Snapshot performs the statfs call and folds in the configured limits.
// Failure here is fatal to the run: without usage numbers no eviction
// decision is sound.
func (p *Probe) Snapshot() (Snapshot, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.root, &st); err != nil {
		return Snapshot{}, fmt.Errorf("statfs %s: %w", p.root, err)
	}

	bsize := uint64(st.Bsize)
	s := Snapshot{
		BytesLimit:  p.limits.Bytes,
		InodesLimit: p.limits.Inodes,
	}
	// Bavail, not Bfree: the root-reserved blocks are not usable by the
	// cache producer, so from its perspective they are already spent.
	if st.Blocks >= st.Bavail {
		s.BytesUsed = (st.Blocks - st.Bavail) * bsize
	}
	if st.Files >= st.Ffree {
		s.InodesUsed = st.Files - st.Ffree
	}

	return s, nil
}
