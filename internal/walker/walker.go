// Package walker descends the cache tree with a fixed pool of workers,
// classifying every file it meets: abandoned temp files, corrupt pairs and
// orphan bodies are unlinked on the spot, live entries are scored and
// offered to the candidate queue. The cache is being mutated by other
// processes the whole time, so a vanished file is never an error here.
package walker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PapooSoftware/fasthtcacheclean/internal/header"
	"github.com/PapooSoftware/fasthtcacheclean/internal/logging"
	"github.com/PapooSoftware/fasthtcacheclean/internal/queue"
)

// Suffixes and prefixes of the on-disk layout.
const (
	HeaderSuffix = ".header"
	BodySuffix   = ".data"
	TempPrefix   = "aptmp"
)

// Directory reads that fail transiently are retried this many times with
// doubling backoff before the subtree is counted as skipped.
const (
	dirRetries    = 3
	dirRetryDelay = 100 * time.Millisecond
)

// Config parameterises one walk.
type Config struct {
	Root    string
	Workers int           // fixed pool size, >= 1
	TempTTL time.Duration // aptmp* older than this are abandoned
	Now     time.Time     // reference time for ages
	DryRun  bool          // classify and count, delete nothing
	Queue   *queue.Queue  // candidate sink
}

// Stats aggregates what a walk did. Workers keep their own copy and merge
// into the shared result when they finish, so there is no counter
// contention during the walk itself.
type Stats struct {
	DirsScanned  int64
	FilesScanned int64
	Candidates   int64
	CorruptPairs int64
	Orphans      int64
	TempRemoved  int64
	DirsRemoved  int64
	SkippedDirs  int64
	SkippedFiles int64
	BytesFreed   int64
	FilesRemoved int64
}

func (s *Stats) add(o Stats) {
	s.DirsScanned += o.DirsScanned
	s.FilesScanned += o.FilesScanned
	s.Candidates += o.Candidates
	s.CorruptPairs += o.CorruptPairs
	s.Orphans += o.Orphans
	s.TempRemoved += o.TempRemoved
	s.DirsRemoved += o.DirsRemoved
	s.SkippedDirs += o.SkippedDirs
	s.SkippedFiles += o.SkippedFiles
	s.BytesFreed += o.BytesFreed
	s.FilesRemoved += o.FilesRemoved
}

// dirQueue is the shared work queue of directories still to be read. Pop
// blocks until work arrives or the walk is quiescent: no pending
// directories and no worker still processing one (a processing worker may
// yet push subdirectories). The active counter plus the broadcast on the
// last done() is what detects termination.
type dirQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	dirs   []string
	active int
	closed bool
}

func newDirQueue(root string) *dirQueue {
	q := &dirQueue{dirs: []string{root}}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *dirQueue) push(dir string) {
	q.mu.Lock()
	q.dirs = append(q.dirs, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop returns the next directory, marking the caller active. ok is false
// once the walk is over; the caller must not call done() in that case.
func (q *dirQueue) pop() (dir string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.dirs) == 0 && q.active > 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed || len(q.dirs) == 0 {
		// Quiescent: wake everyone else up so they exit too.
		q.closed = true
		q.cond.Broadcast()
		return "", false
	}

	// LIFO order keeps the frontier small: a worker drills into the
	// subtree it just discovered instead of fanning the whole level out.
	dir = q.dirs[len(q.dirs)-1]
	q.dirs = q.dirs[:len(q.dirs)-1]
	q.active++
	return dir, true
}

func (q *dirQueue) done() {
	q.mu.Lock()
	q.active--
	if q.active == 0 && len(q.dirs) == 0 {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// close aborts the walk early (cancellation); blocked workers wake and
// return.
func (q *dirQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Walker runs one traversal.
type Walker struct {
	cfg  Config
	work *dirQueue

	mu    sync.Mutex
	stats Stats
}

// New returns a walker for the given configuration.
func New(cfg Config) *Walker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}
	return &Walker{cfg: cfg}
}

// Walk traverses the tree, feeding the candidate queue and unlinking
// garbage directly. It returns when every directory has been processed or
// the context is cancelled. Per-entry errors are counted, not returned;
// the error result is reserved for pool-level failures.
func (w *Walker) Walk(ctx context.Context) (Stats, error) {
	w.work = newDirQueue(w.cfg.Root)

	stop := context.AfterFunc(ctx, w.work.close)
	defer stop()

	g := new(errgroup.Group)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			local := &Stats{}
			defer func() {
				w.mu.Lock()
				w.stats.add(*local)
				w.mu.Unlock()
			}()
			for {
				dir, ok := w.work.pop()
				if !ok {
					return nil
				}
				w.processDir(dir, local)
				w.work.done()
			}
		})
	}

	err := g.Wait()
	return w.stats, err
}

// processDir reads one directory and classifies its entries. Orphan
// detection needs the directory's full name set, so classification happens
// in two passes over the listing: headers (and everything else) first,
// then bodies with no matching header.
func (w *Walker) processDir(dir string, st *Stats) {
	entries, err := w.readDirRetry(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Skipped(dir, err)
			st.SkippedDirs++
		}
		return
	}
	st.DirsScanned++

	headerStems := make(map[string]bool)
	var bodies []string

	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)

		if e.IsDir() {
			w.work.push(path)
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		st.FilesScanned++

		switch {
		case strings.HasPrefix(name, TempPrefix):
			w.handleTemp(path, e, st)
		case strings.HasSuffix(name, HeaderSuffix):
			stem := strings.TrimSuffix(name, HeaderSuffix)
			if w.handleHeader(dir, stem, path, st) {
				headerStems[stem] = true
			}
		case strings.HasSuffix(name, BodySuffix):
			bodies = append(bodies, name)
		default:
			// Not ours; the cache shares its tree with nothing by
			// convention, but deleting unknown files is not this tool's
			// call.
		}
	}

	// Second pass: a body whose header vanished (or never parsed) is an
	// orphan and can go immediately.
	for _, name := range bodies {
		stem := strings.TrimSuffix(name, BodySuffix)
		if headerStems[stem] {
			continue
		}
		path := filepath.Join(dir, name)
		if freed, ok := w.remove(path); ok {
			st.Orphans++
			st.FilesRemoved++
			st.BytesFreed += freed
			logging.Debug("removed orphan body", "path", path)
		}
	}

	// An emptied directory is itself garbage. The attempt is opportunistic:
	// ENOTEMPTY just means another process (or our own pending subdirs)
	// still has contents here.
	if dir != w.cfg.Root && !w.cfg.DryRun {
		if err := os.Remove(dir); err == nil {
			st.DirsRemoved++
		} else if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTEMPTY) && !errors.Is(err, syscall.EEXIST) {
			logging.Debug("rmdir failed", "path", dir, "error", err)
		}
	}
}

// readDirRetry reads a directory, retrying transient failures with
// doubling backoff.
func (w *Walker) readDirRetry(dir string) ([]os.DirEntry, error) {
	delay := dirRetryDelay
	for attempt := 0; ; attempt++ {
		entries, err := os.ReadDir(dir)
		if err == nil {
			return entries, nil
		}
		if errors.Is(err, fs.ErrNotExist) || attempt == dirRetries {
			return nil, err
		}
		time.Sleep(delay)
		delay *= 2
	}
}

// handleTemp unlinks an abandoned partial write. Fresh temp files belong
// to an in-flight producer store and are left strictly alone.
func (w *Walker) handleTemp(path string, e os.DirEntry, st *Stats) {
	info, err := e.Info()
	if err != nil {
		// Vanished mid-listing; the producer finished or cleaned it up.
		return
	}
	if w.cfg.Now.Sub(info.ModTime()) <= w.cfg.TempTTL {
		return
	}
	if freed, ok := w.remove(path); ok {
		st.TempRemoved++
		st.FilesRemoved++
		st.BytesFreed += freed
		logging.Debug("removed stale temp file", "path", path)
	}
}

// handleHeader parses one header file and either unlinks the corrupt pair
// or scores the entry into the queue. It returns true when the stem is
// accounted for (the header still stands, or the corrupt pair was removed
// here), so the orphan pass leaves the matching body alone.
func (w *Walker) handleHeader(dir, stem, path string, st *Stats) bool {
	h, err := header.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false
		}
		if errors.Is(err, header.ErrCorrupt) {
			// The pair is handled here; claiming the stem keeps the orphan
			// pass from counting the body a second time.
			w.removePair(dir, stem, st)
			return true
		}
		// Transient read failure: leave the entry for the next run.
		logging.Skipped(path, err)
		st.SkippedFiles++
		return true
	}

	cand := queue.Candidate{
		Dir:  dir,
		Stem: stem,
	}

	if info, err := os.Lstat(path); err == nil {
		cand.HeaderSize = info.Size()
		cand.Score = scoreFor(h, info)
	} else {
		cand.Score = scoreFor(h, nil)
	}

	if info, err := os.Lstat(filepath.Join(dir, stem+BodySuffix)); err == nil {
		cand.BodySize = info.Size()
	}

	if w.cfg.Queue.Insert(cand) {
		st.Candidates++
	}
	return true
}

// removePair unlinks a corrupt entry's header and body.
func (w *Walker) removePair(dir, stem string, st *Stats) {
	removed := false
	for _, suffix := range []string{HeaderSuffix, BodySuffix} {
		path := filepath.Join(dir, stem+suffix)
		if freed, ok := w.remove(path); ok {
			removed = true
			st.FilesRemoved++
			st.BytesFreed += freed
		}
	}
	if removed {
		st.CorruptPairs++
		logging.Debug("removed corrupt entry", "dir", dir, "stem", stem)
	}
}

// remove unlinks path, honouring dry-run, and reports the bytes it freed.
// A file already gone at the Lstat reports ok=false, so nothing is counted;
// one that vanishes between the Lstat and the unlink is success with zero
// bytes: another process got there first.
func (w *Walker) remove(path string) (freed int64, ok bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, false
	}
	if w.cfg.DryRun {
		return info.Size(), true
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, true
		}
		logging.Skipped(path, err)
		return 0, false
	}
	return info.Size(), true
}
