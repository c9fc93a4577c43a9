package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PapooSoftware/fasthtcacheclean/internal/fsprobe"
	"github.com/PapooSoftware/fasthtcacheclean/internal/walker"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, formatNumber(tc.in))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m 3s", formatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h 0m 42s", formatDuration(time.Hour+42*time.Second))
	assert.Equal(t, "0s", formatDuration(-time.Second))
}

func TestSummary(t *testing.T) {
	res := &Result{
		Before:         fsprobe.Snapshot{BytesUsed: 99, BytesLimit: 100},
		After:          fsprobe.Snapshot{BytesUsed: 80, BytesLimit: 100},
		Walk:           walker.Stats{FilesScanned: 2000, DirsScanned: 64, Orphans: 3},
		EntriesDeleted: 150,
		BytesFreed:     1 << 20,
		Scanned:        true,
		Duration:       90 * time.Second,
	}

	out := res.Summary(false)

	assert.Contains(t, out, "2,000 files")
	assert.Contains(t, out, "Entries deleted: 150")
	assert.Contains(t, out, "99.0% -> 80.0%")

	dry := res.Summary(true)
	assert.Contains(t, dry, "would delete")
}
