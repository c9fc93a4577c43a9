// Package testutil builds synthetic cache trees for tests: entries with
// chosen expiry and response times, abandoned temp files, orphan bodies,
// and corrupt headers.
package testutil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PapooSoftware/fasthtcacheclean/internal/header"
)

// Entry describes one synthetic cache entry.
type Entry struct {
	Stem     string
	Expiry   time.Time
	Request  time.Time
	Response time.Time
	BodySize int
	// NoBody leaves the .data file out, producing a header-only entry.
	NoBody bool
}

// EncodeHeader builds the fixed binary prefix for the given field values.
func EncodeHeader(magic uint32, flags uint32, expiry, request, response uint64, bodyLength uint64) []byte {
	buf := make([]byte, header.PrefixSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], flags)
	binary.LittleEndian.PutUint64(buf[8:16], expiry)
	binary.LittleEndian.PutUint64(buf[16:24], request)
	binary.LittleEndian.PutUint64(buf[24:32], response)
	binary.LittleEndian.PutUint64(buf[32:40], bodyLength)
	return buf
}

func micros(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	us := t.UnixMicro()
	if us < 0 {
		return 0
	}
	return uint64(us)
}

// WriteEntry writes the header (and unless NoBody, the body) of e into dir.
// File mtimes are set to the entry's response time so mtime-keyed rounds
// see consistent ages.
func WriteEntry(t *testing.T, dir string, e Entry) {
	t.Helper()

	hdr := EncodeHeader(header.Magic, 0, micros(e.Expiry), micros(e.Request), micros(e.Response), uint64(e.BodySize))
	headerPath := filepath.Join(dir, e.Stem+".header")
	if err := os.WriteFile(headerPath, hdr, 0644); err != nil {
		t.Fatalf("writing header %s: %v", headerPath, err)
	}

	paths := []string{headerPath}
	if !e.NoBody {
		bodyPath := filepath.Join(dir, e.Stem+".data")
		if err := os.WriteFile(bodyPath, make([]byte, e.BodySize), 0644); err != nil {
			t.Fatalf("writing body %s: %v", bodyPath, err)
		}
		paths = append(paths, bodyPath)
	}

	if !e.Response.IsZero() {
		for _, p := range paths {
			if err := os.Chtimes(p, e.Response, e.Response); err != nil {
				t.Fatalf("setting times on %s: %v", p, err)
			}
		}
	}
}

// WriteCorruptHeader writes a header file with a wrong magic plus its body.
func WriteCorruptHeader(t *testing.T, dir, stem string, bodySize int) {
	t.Helper()

	hdr := EncodeHeader(0xdeadbeef, 0, 0, 0, 0, uint64(bodySize))
	if err := os.WriteFile(filepath.Join(dir, stem+".header"), hdr, 0644); err != nil {
		t.Fatalf("writing corrupt header: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stem+".data"), make([]byte, bodySize), 0644); err != nil {
		t.Fatalf("writing corrupt body: %v", err)
	}
}

// WriteOrphanBody writes a .data file with no header.
func WriteOrphanBody(t *testing.T, dir, stem string, size int) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, stem+".data"), make([]byte, size), 0644); err != nil {
		t.Fatalf("writing orphan body: %v", err)
	}
}

// WriteTempFile writes an aptmp* file whose mtime lies age in the past.
func WriteTempFile(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("partial"), 0644); err != nil {
		t.Fatalf("writing temp file %s: %v", path, err)
	}
	when := time.Now().Add(-age)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("setting times on %s: %v", path, err)
	}
}

// CountFiles counts regular files under dir.
func CountFiles(t *testing.T, dir string) int {
	t.Helper()

	count := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("counting files in %s: %v", dir, err)
	}
	return count
}

// TreeSnapshot records every file under dir with its size (directories as
// -1), for before/after comparisons such as the dry-run invariant.
func TreeSnapshot(t *testing.T, dir string) map[string]int64 {
	t.Helper()

	snap := make(map[string]int64)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			snap[rel] = -1
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		snap[rel] = info.Size()
		return nil
	})
	if err != nil {
		t.Fatalf("snapshotting %s: %v", dir, err)
	}
	return snap
}
