package walker

import (
	"os"

	"github.com/PapooSoftware/fasthtcacheclean/internal/header"
	"github.com/PapooSoftware/fasthtcacheclean/internal/queue"
)

// scoreFor builds the composite eviction score for an entry. Expiry is the
// primary key because an expired entry is always safe to drop; the later of
// access and response time is secondary, approximating freshness for
// entries the origin never marked stale; mtime breaks the remaining ties.
// All conversions clamp below at zero so pre-epoch timestamps sort as
// infinitely old instead of wrapping.
func scoreFor(h header.Header, info os.FileInfo) queue.Score {
	s := queue.Score{Expiry: h.Expiry}

	var access, mtime int64
	if info != nil {
		access = atimeMicros(info)
		mtime = clampToZero(info.ModTime().UnixMicro())
	}
	if h.Response > access {
		access = h.Response
	}

	s.Access = access
	s.Mtime = mtime
	return s
}

func clampToZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
