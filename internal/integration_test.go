// Package internal holds integration tests that drive the scan and
// eviction pipeline end to end against synthetic cache trees, including
// concurrent mutation by another process.
package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PapooSoftware/fasthtcacheclean/internal/cfg"
	"github.com/PapooSoftware/fasthtcacheclean/internal/fsprobe"
	"github.com/PapooSoftware/fasthtcacheclean/internal/planner"
	"github.com/PapooSoftware/fasthtcacheclean/internal/queue"
	"github.com/PapooSoftware/fasthtcacheclean/internal/testutil"
	"github.com/PapooSoftware/fasthtcacheclean/internal/walker"
)

func buildCacheTree(t *testing.T, root string, dirs, perDir int, expiry time.Duration) {
	t.Helper()
	now := time.Now()
	for d := 0; d < dirs; d++ {
		dir := filepath.Join(root, fmt.Sprintf("%02x", d), "sub")
		require.NoError(t, os.MkdirAll(dir, 0755))
		for i := 0; i < perDir; i++ {
			testutil.WriteEntry(t, dir, testutil.Entry{
				Stem:     fmt.Sprintf("entry%03d", i),
				Expiry:   now.Add(expiry),
				Response: now.Add(expiry - time.Hour),
				BodySize: 256,
			})
		}
	}
}

// A full pass over a moderately deep tree: every entry scored, the oldest
// retained by a queue smaller than the entry count.
func TestScanPipelineBoundedQueue(t *testing.T) {
	root := t.TempDir()
	buildCacheTree(t, root, 8, 25, -2*time.Hour) // 200 entries, all expired

	q := queue.New(50)
	w := walker.New(walker.Config{
		Root:    root,
		Workers: 4,
		TempTTL: 15 * time.Minute,
		Queue:   q,
	})
	stats, err := w.Walk(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(400), stats.FilesScanned)
	assert.Equal(t, 50, q.Len())
	assert.Equal(t, uint64(150), q.Dropped())
}

// Another process adds and removes entries while the walker runs. Vanishing
// files are the normal case, never an error.
func TestScanTolerantOfConcurrentWriter(t *testing.T) {
	root := t.TempDir()
	buildCacheTree(t, root, 6, 30, -2*time.Hour)

	stopChurn := make(chan struct{})
	var churn sync.WaitGroup
	churn.Add(1)
	go func() {
		defer churn.Done()
		now := time.Now()
		i := 0
		for {
			select {
			case <-stopChurn:
				return
			default:
			}
			dir := filepath.Join(root, fmt.Sprintf("%02x", i%6), "sub")
			// Alternate between deleting scanned entries and storing new
			// ones, like a live cache producer.
			os.Remove(filepath.Join(dir, fmt.Sprintf("entry%03d.data", i%30)))
			os.Remove(filepath.Join(dir, fmt.Sprintf("entry%03d.header", i%30)))
			f := filepath.Join(dir, fmt.Sprintf("aptmp%d", i))
			os.WriteFile(f, []byte("partial"), 0644)
			hdr := testutil.EncodeHeader(0x01030107, 0, uint64(now.UnixMicro()), 0, 0, 8)
			os.WriteFile(filepath.Join(dir, fmt.Sprintf("new%03d.header", i)), hdr, 0644)
			i++
		}
	}()

	q := queue.New(1000)
	w := walker.New(walker.Config{
		Root:    root,
		Workers: 4,
		TempTTL: 15 * time.Minute,
		Queue:   q,
	})
	_, err := w.Walk(context.Background())
	close(stopChurn)
	churn.Wait()

	require.NoError(t, err, "concurrent mutation must stay benign")
}

// Heavy pressure end to end: uniform expiry ages, ladder rounds fire until
// the band is reached, recently expired entries survive.
func TestHeavyPressureEscalation(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	dir := filepath.Join(root, "aa")
	require.NoError(t, os.MkdirAll(dir, 0755))

	// Expiry ages spread from 24h down to minutes; bodies of 960 bytes
	// make each entry an even 1000 with its header.
	const entries = 40
	for i := 0; i < entries; i++ {
		age := time.Duration(i+1) * 36 * time.Minute // 36m .. 24h
		testutil.WriteEntry(t, dir, testutil.Entry{
			Stem:     fmt.Sprintf("e%02d", i),
			Expiry:   now.Add(-age),
			Response: now.Add(-age - time.Hour),
			BodySize: 960,
		})
	}

	// 40000 bytes on disk + 60200 base = 100200/100000: critical.
	c := &cfg.Config{
		CacheRoot: root,
		Limit:     cfg.ByteSize(100000),
		Threads:   4,
		QueueCap:  1000,
		TempTTL:   15 * time.Minute,
		Tuning:    cfg.DefaultTuning(),
	}
	c.Tuning.ReprobeStride = 1
	prober := &testutil.TreeProber{
		Root:      root,
		Limits:    fsprobe.Limits{Bytes: 100000},
		BaseBytes: 60200,
	}

	res := planner.New(c, prober).Run(context.Background())

	assert.Equal(t, planner.ExitOK, res.ExitCode)
	// One entry past the band edge: usage must be at or under 99500.
	assert.Equal(t, int64(1), res.EntriesDeleted)
	// The drain is oldest-first, so the 24h-expired entry goes first.
	assert.NoFileExists(t, filepath.Join(dir, fmt.Sprintf("e%02d.header", entries-1)))
	assert.FileExists(t, filepath.Join(dir, "e00.header"))
}
