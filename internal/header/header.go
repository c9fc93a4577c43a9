// Package header parses the fixed binary header that prefixes every cache
// entry's .header file. The layout is shared with the cache producer and
// must not change: little-endian, 40-byte prefix, variable-length request
// metadata after it that this tool never needs.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Magic is the expected format version word at offset 0. A mismatch means
// the file was written by an incompatible producer (or is garbage) and the
// entry is unconditionally deletable.
const Magic = 0x01030107

// PrefixSize is the number of bytes occupied by the fixed-layout prefix.
const PrefixSize = 40

// ErrCorrupt is returned when the header is too short or carries the wrong
// magic. Callers treat the entry as garbage.
var ErrCorrupt = errors.New("corrupt cache header")

// Header is the parsed fixed prefix of a cache entry header file.
// Time fields are microseconds since the Unix epoch. A zero or past expiry
// is valid (the entry is simply stale); values that would overflow int64
// are clamped so age comparisons never wrap.
type Header struct {
	FormatVersion uint32
	Flags         uint32
	Expiry        int64 // microseconds since epoch, 0 = infinitely old
	Request       int64
	Response      int64
	BodyLength    uint64
}

// ExpiryTime returns the expiry as wall-clock time.
func (h Header) ExpiryTime() time.Time { return microsToTime(h.Expiry) }

// ResponseTime returns the response timestamp as wall-clock time.
func (h Header) ResponseTime() time.Time { return microsToTime(h.Response) }

func microsToTime(us int64) time.Time {
	return time.UnixMicro(us)
}

// clampMicros saturates a raw on-disk u64 microsecond value into the int64
// range used for comparisons. Out-of-range values sort as infinitely old.
func clampMicros(raw uint64) int64 {
	if raw > math.MaxInt64 {
		return 0
	}
	return int64(raw)
}

// Parse reads and decodes the fixed prefix from r. It never reads past the
// prefix. A short read or a magic mismatch yields ErrCorrupt; any other
// read failure is returned as-is for the caller to classify as transient.
func Parse(r io.Reader) (Header, error) {
	var buf [PrefixSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: truncated at %d bytes", ErrCorrupt, PrefixSize)
		}
		return Header{}, fmt.Errorf("reading header prefix: %w", err)
	}

	h := Header{
		FormatVersion: binary.LittleEndian.Uint32(buf[0:4]),
		Flags:         binary.LittleEndian.Uint32(buf[4:8]),
		Expiry:        clampMicros(binary.LittleEndian.Uint64(buf[8:16])),
		Request:       clampMicros(binary.LittleEndian.Uint64(buf[16:24])),
		Response:      clampMicros(binary.LittleEndian.Uint64(buf[24:32])),
		BodyLength:    binary.LittleEndian.Uint64(buf[32:40]),
	}

	if h.FormatVersion != Magic {
		return Header{}, fmt.Errorf("%w: magic %#08x", ErrCorrupt, h.FormatVersion)
	}

	return h, nil
}

// ReadFile opens path and parses its header prefix. The open uses O_NOATIME
// when the kernel permits it, so scanning does not disturb the access times
// the eviction score depends on; EPERM on O_NOATIME falls back to a plain
// open.
func ReadFile(path string) (Header, error) {
	f, err := openNoatime(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return Parse(f)
}
