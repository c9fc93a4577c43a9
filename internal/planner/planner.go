// Package planner sequences a cleaning run: pre-scan temp cleanup, the
// usage check that decides whether to scan at all, the parallel walk, and
// the multi-round drain that deletes the oldest candidates until usage
// falls back into the target band.
package planner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/PapooSoftware/fasthtcacheclean/internal/cfg"
	"github.com/PapooSoftware/fasthtcacheclean/internal/fsprobe"
	"github.com/PapooSoftware/fasthtcacheclean/internal/logging"
	"github.com/PapooSoftware/fasthtcacheclean/internal/queue"
	"github.com/PapooSoftware/fasthtcacheclean/internal/walker"
)

// Exit codes of the cleaner process.
const (
	ExitOK         = 0 // usage in band or below
	ExitIncomplete = 1 // ladder exhausted, usage still above target
	ExitUsage      = 2 // configuration error (assigned by the CLI layer)
	ExitProbe      = 3 // partition could not be probed
	ExitFatal      = 4 // unrecoverable I/O failure
)

// Prober is the planner's view of the filesystem probe; tests substitute a
// scripted implementation.
type Prober interface {
	Snapshot() (fsprobe.Snapshot, error)
}

// Result summarises one run.
type Result struct {
	ExitCode int

	Before fsprobe.Snapshot
	After  fsprobe.Snapshot
	Walk   walker.Stats

	EntriesDeleted int64 // candidates removed during the drain
	FilesDeleted   int64 // individual unlinks during the drain
	BytesFreed     int64 // drain bytes; walk garbage is in Walk.BytesFreed
	Denied         int64 // unlinks refused by permissions
	Scanned        bool  // whether a walk happened at all
	Duration       time.Duration
}

// Planner drives one batch run.
type Planner struct {
	cfg   *cfg.Config
	probe Prober
	now   func() time.Time
}

// New returns a planner over the given configuration and probe.
func New(c *cfg.Config, probe Prober) *Planner {
	return &Planner{cfg: c, probe: probe, now: time.Now}
}

// Run executes the full cleaning sequence. Errors are folded into the
// result's exit code; the process never panics out of a half-finished
// drain.
func (p *Planner) Run(ctx context.Context) *Result {
	start := p.now()
	res := &Result{ExitCode: ExitOK}
	defer func() { res.Duration = p.now().Sub(start) }()

	// Phase 0: abandoned partial writes live flat in the cache root by
	// producer convention; sweep them before looking at usage so their
	// space does not distort the decision.
	p.cleanRootTemps(res)

	before, err := p.probe.Snapshot()
	if err != nil {
		logging.Error("cannot probe cache partition", "error", err)
		res.ExitCode = ExitProbe
		return res
	}
	res.Before, res.After = before, before

	util := before.Util()
	t := &p.cfg.Tuning
	if util < t.ScanThreshold {
		logging.Info("usage below scan threshold, nothing to do",
			"util", util, "threshold", t.ScanThreshold)
		return res
	}

	// Phase 2: the walk feeds the bounded queue and sweeps garbage
	// (corrupt pairs, orphans, stale temp files) as a side effect.
	res.Scanned = true
	q := queue.New(p.cfg.QueueCap)
	workers := p.cfg.Threads
	if workers <= 0 {
		workers = cfg.DefaultThreads()
	}

	logging.ScanStarted(p.cfg.CacheRoot, workers)
	walkStart := p.now()
	w := walker.New(walker.Config{
		Root:    p.cfg.CacheRoot,
		Workers: workers,
		TempTTL: p.cfg.TempTTL,
		Now:     p.now(),
		DryRun:  p.cfg.DryRun,
		Queue:   q,
	})
	stats, err := w.Walk(ctx)
	res.Walk = stats
	logging.ScanFinished(stats.FilesScanned, stats.BytesFreed, p.now().Sub(walkStart))
	if err != nil {
		logging.Error("walk failed", "error", err)
		res.ExitCode = ExitFatal
		return res
	}
	if dropped := q.Dropped(); dropped > 0 {
		logging.Debug("candidate queue shed younger entries", "dropped", dropped)
	}

	// Phase 3: drain oldest-first, loosening the victim filter round by
	// round until usage re-enters the band or the ladder runs out.
	p.drain(ctx, q.Freeze(), util, res)
	return res
}

// cleanRootTemps removes abandoned aptmp* files directly under the cache
// root without recursing.
func (p *Planner) cleanRootTemps(res *Result) {
	entries, err := os.ReadDir(p.cfg.CacheRoot)
	if err != nil {
		// The walk will report the real problem if the root is gone.
		return
	}
	cutoff := p.now().Add(-p.cfg.TempTTL)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), walker.TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(p.cfg.CacheRoot, e.Name())
		if p.cfg.DryRun {
			logging.Evicted(path, info.Size(), true)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Skipped(path, err)
			continue
		}
		logging.Debug("removed stale temp file", "path", path)
	}
}

// rounds returns the victim-filter sequence for the observed utilisation.
func (p *Planner) rounds(util float64) []cfg.LadderRound {
	t := &p.cfg.Tuning
	switch {
	case util < t.MidThreshold:
		return []cfg.LadderRound{{Key: cfg.KeyExpiry, Age: t.GentleExpiry}}
	case util < t.CriticalThreshold:
		return []cfg.LadderRound{{Key: cfg.KeyExpiry, Age: t.MidExpiry}}
	default:
		return t.Ladder
	}
}

// drain walks the candidate list through the round filters, deleting
// matches oldest-first and re-probing every ReprobeStride deletions.
// Candidates that do not match a round are retained for the next, looser
// round. SIGTERM lets the current round finish and stops there.
//
// Below the critical threshold the run starts under the band floor, so the
// band cannot act as a stop condition there: the single gentle round simply
// clears every sufficiently expired entry. At or above critical, deletion
// stops the moment usage re-enters the band, and running out of rounds
// while still above it is the incomplete outcome.
func (p *Planner) drain(ctx context.Context, candidates []queue.Candidate, util float64, res *Result) {
	t := &p.cfg.Tuning
	aggressive := util >= t.AggressiveThreshold
	stopAtBand := util >= t.CriticalThreshold
	snap := res.Before
	now := p.now()

	if stopAtBand && snap.InBand(t.TargetHigh) {
		return
	}

	sinceProbe := 0
	for _, round := range p.rounds(util) {
		matched, rest := lo.FilterReject(candidates, roundFilter(round, now))
		candidates = rest

		for _, c := range matched {
			p.deleteCandidate(c, snap, aggressive, res)
			sinceProbe++
			if sinceProbe < t.ReprobeStride {
				continue
			}
			sinceProbe = 0
			var err error
			if snap, err = p.reprobe(res); err != nil {
				return
			}
			if stopAtBand && snap.InBand(t.TargetHigh) {
				return
			}
		}

		var err error
		if snap, err = p.reprobe(res); err != nil {
			return
		}
		if stopAtBand && snap.InBand(t.TargetHigh) {
			return
		}
		if ctx.Err() != nil {
			logging.Warn("interrupted, stopping after current round")
			break
		}
	}

	if !stopAtBand {
		return
	}

	// Out of rounds. Fresh entries are never deleted to force the band.
	logging.Warn("usage still above target after all rounds",
		"byte_util", snap.ByteUtil(), "inode_util", snap.InodeUtil(),
		"target", t.TargetHigh, "denied", res.Denied)
	res.ExitCode = ExitIncomplete
}

func (p *Planner) reprobe(res *Result) (fsprobe.Snapshot, error) {
	snap, err := p.probe.Snapshot()
	if err != nil {
		logging.Error("cannot re-probe cache partition", "error", err)
		res.ExitCode = ExitProbe
		return snap, err
	}
	res.After = snap
	return snap, nil
}

// roundFilter builds the eligibility predicate for one round. A zero time
// field means "infinitely old" and matches every round on that key.
func roundFilter(r cfg.LadderRound, now time.Time) func(queue.Candidate, int) bool {
	cutoff := now.Add(-r.Age).UnixMicro()
	switch r.Key {
	case cfg.KeyAccess:
		return func(c queue.Candidate, _ int) bool { return c.Score.Access <= cutoff }
	case cfg.KeyMtime:
		return func(c queue.Candidate, _ int) bool { return c.Score.Mtime <= cutoff }
	default:
		return func(c queue.Candidate, _ int) bool { return c.Score.Expiry <= cutoff }
	}
}

// deleteCandidate removes one entry, header before body so no reader ever
// sees a body without its metadata. Sizes are re-checked at deletion time;
// the producer may have replaced the entry since the scan.
//
// In aggressive mode the body alone is unlinked when it would carry usage
// across the band by itself: the surviving header keeps the entry's
// metadata visible and costs one inode, and the next run sweeps it as an
// orphan. An entry whose body is already gone loses its header regardless,
// reclaiming the inode.
func (p *Planner) deleteCandidate(c queue.Candidate, snap fsprobe.Snapshot, aggressive bool, res *Result) {
	headerPath, bodyPath := c.HeaderPath(), c.BodyPath()

	var bodySize, headerSize int64
	bodyExists := false
	if info, err := os.Lstat(bodyPath); err == nil {
		bodySize, bodyExists = info.Size(), true
	}
	if info, err := os.Lstat(headerPath); err == nil {
		headerSize = info.Size()
	}

	over := bytesOverTarget(snap, p.cfg.Tuning.TargetHigh)
	bodyOnly := aggressive && bodyExists && over > 0 && bodySize >= over

	deleted := false
	if !bodyOnly {
		if ok := p.unlink(headerPath, headerSize, res); !ok {
			// Leaving the body in place would orphan it behind a header we
			// could not remove; stop here and let a later run retry.
			return
		}
		deleted = true
	}
	if bodyExists {
		if ok := p.unlink(bodyPath, bodySize, res); ok {
			deleted = true
		}
	}

	if deleted {
		res.EntriesDeleted++
		logging.Evicted(filepath.Join(c.Dir, c.Stem), bodySize+headerSize, p.cfg.DryRun)
	}
}

// unlink removes a single file, honouring dry-run. ENOENT counts as
// success: a concurrent process already did the work.
func (p *Planner) unlink(path string, size int64, res *Result) bool {
	if p.cfg.DryRun {
		res.FilesDeleted++
		res.BytesFreed += size
		return true
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}
		if errors.Is(err, fs.ErrPermission) {
			res.Denied++
		}
		logging.Skipped(path, err)
		return false
	}
	res.FilesDeleted++
	res.BytesFreed += size
	return true
}

// bytesOverTarget is how many bytes must go for byte utilisation to reach
// the top of the band; zero when byte limits are off or already satisfied.
func bytesOverTarget(s fsprobe.Snapshot, targetHigh float64) int64 {
	if s.BytesLimit == 0 {
		return 0
	}
	target := int64(targetHigh * float64(s.BytesLimit))
	over := int64(s.BytesUsed) - target
	if over < 0 {
		return 0
	}
	return over
}
