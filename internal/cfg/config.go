// Package cfg defines the cleaner's configuration: the flag/config-file
// surface, typed size parsing, tuning knobs, and fail-fast validation.
package cfg

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ByteSize is a byte count parsed from a human-readable string such as
// "512M" or "2G". Suffixes are binary multiples.
type ByteSize uint64

// Size suffix multipliers.
const (
	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
	TiB ByteSize = 1 << 40
)

// ParseByteSize parses a size string with an optional K/M/G/T suffix
// (case-insensitive, optional trailing B). A bare number is bytes.
func ParseByteSize(s string) (ByteSize, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := ByteSize(1)
	upper := strings.ToUpper(t)
	upper = strings.TrimSuffix(upper, "B")
	if upper == "" {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	switch upper[len(upper)-1] {
	case 'K':
		mult, upper = KiB, upper[:len(upper)-1]
	case 'M':
		mult, upper = MiB, upper[:len(upper)-1]
	case 'G':
		mult, upper = GiB, upper[:len(upper)-1]
	case 'T':
		mult, upper = TiB, upper[:len(upper)-1]
	}

	n, err := strconv.ParseUint(upper, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return ByteSize(n) * mult, nil
}

// String renders the size with the largest exact suffix, for logs and the
// completion report.
func (b ByteSize) String() string {
	switch {
	case b >= TiB && b%TiB == 0:
		return fmt.Sprintf("%dT", b/TiB)
	case b >= GiB && b%GiB == 0:
		return fmt.Sprintf("%dG", b/GiB)
	case b >= MiB && b%MiB == 0:
		return fmt.Sprintf("%dM", b/MiB)
	case b >= KiB && b%KiB == 0:
		return fmt.Sprintf("%dK", b/KiB)
	default:
		return strconv.FormatUint(uint64(b), 10)
	}
}

// LadderRound is one step of the escalation ladder: entries whose age on
// the given key is at least Age become eligible victims in that round.
type LadderRound struct {
	Key string        `mapstructure:"key"` // "expiry", "access" or "mtime"
	Age time.Duration `mapstructure:"age"`
}

// Ladder keys.
const (
	KeyExpiry = "expiry"
	KeyAccess = "access"
	KeyMtime  = "mtime"
)

// Tuning holds the empirically chosen thresholds. Defaults match the
// behaviour the cache producer was tuned against; deployments with unusual
// churn can override any of them from the config file.
type Tuning struct {
	// ScanThreshold is the utilisation below which no scan happens at all.
	ScanThreshold float64 `mapstructure:"scan-threshold"`
	// GentleExpiry is the minimum expiry age evicted between the scan
	// threshold and MidThreshold.
	GentleExpiry time.Duration `mapstructure:"gentle-expiry"`
	// MidThreshold switches from GentleExpiry to MidExpiry victims.
	MidThreshold float64       `mapstructure:"mid-threshold"`
	MidExpiry    time.Duration `mapstructure:"mid-expiry"`
	// CriticalThreshold engages the full escalation ladder.
	CriticalThreshold float64 `mapstructure:"critical-threshold"`
	// AggressiveThreshold additionally enables body-only deletion.
	AggressiveThreshold float64 `mapstructure:"aggressive-threshold"`
	// TargetLow and TargetHigh bound the utilisation band the drain
	// drives toward; deletion stops once usage is at or under TargetHigh.
	TargetLow  float64 `mapstructure:"target-low"`
	TargetHigh float64 `mapstructure:"target-high"`
	// ReprobeStride is how many deletions happen between statfs calls.
	ReprobeStride int `mapstructure:"reprobe-stride"`
	// Ladder is the ordered victim-filter escalation used at or above
	// CriticalThreshold.
	Ladder []LadderRound `mapstructure:"ladder"`
}

// DefaultTuning returns the stock thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		ScanThreshold:       0.90,
		GentleExpiry:        6 * time.Hour,
		MidThreshold:        0.95,
		MidExpiry:           3 * time.Hour,
		CriticalThreshold:   0.99,
		AggressiveThreshold: 1.05,
		TargetLow:           0.990,
		TargetHigh:          0.995,
		ReprobeStride:       256,
		Ladder: []LadderRound{
			{Key: KeyExpiry, Age: time.Hour},
			{Key: KeyExpiry, Age: 30 * time.Minute},
			{Key: KeyExpiry, Age: 10 * time.Minute},
			{Key: KeyExpiry, Age: time.Minute},
			{Key: KeyAccess, Age: 30 * time.Minute},
			{Key: KeyAccess, Age: 10 * time.Minute},
			{Key: KeyAccess, Age: 2 * time.Minute},
			{Key: KeyMtime, Age: 10 * time.Minute},
			{Key: KeyMtime, Age: 2 * time.Minute},
		},
	}
}

// Config is the full resolved configuration of one run. Flags take
// precedence over the config file, which takes precedence over defaults.
type Config struct {
	CacheRoot string `mapstructure:"-"`

	Limit      ByteSize      `mapstructure:"limit"`
	InodeLimit uint64        `mapstructure:"inode-limit"`
	Threads    int           `mapstructure:"threads"`
	DryRun     bool          `mapstructure:"dry-run"`
	Verbose    bool          `mapstructure:"verbose"`
	Quiet      bool          `mapstructure:"quiet"`
	TempTTL    time.Duration `mapstructure:"temp-ttl"`
	QueueCap   int           `mapstructure:"queue-cap"`
	LogFile    string        `mapstructure:"log-file"`
	Force      bool          `mapstructure:"force"`

	Tuning Tuning `mapstructure:"tuning"`
}

// DefaultThreads is the worker count used when --threads is not given:
// half the CPUs, at least one. Directory scanning is I/O bound, so more
// threads than that mostly adds seek contention.
func DefaultThreads() int {
	return max(1, runtime.NumCPU()/2)
}

// DefaultQueueCap bounds candidate memory: one million candidates is a few
// hundred MB worst case, far below the caches this tool is pointed at.
const DefaultQueueCap = 1_000_000

// DefaultTempTTL is how old an aptmp* partial write must be before it is
// considered abandoned.
const DefaultTempTTL = 15 * time.Minute

// Validate checks the resolved configuration, returning the first problem
// found. All validation errors are usage errors (exit 2).
func (c *Config) Validate() error {
	if c.CacheRoot == "" {
		return fmt.Errorf("cache root is required")
	}
	if c.Limit == 0 && c.InodeLimit == 0 {
		return fmt.Errorf("at least one of --limit and --inode-limit must be set")
	}
	if c.Threads < 0 {
		return fmt.Errorf("--threads must be >= 0 (got %d)", c.Threads)
	}
	if c.QueueCap < 0 {
		return fmt.Errorf("--queue-cap must be >= 0 (got %d)", c.QueueCap)
	}
	if c.TempTTL < 0 {
		return fmt.Errorf("--temp-ttl must be >= 0 (got %s)", c.TempTTL)
	}

	t := &c.Tuning
	if t.TargetHigh <= 0 || t.TargetHigh > 1 {
		return fmt.Errorf("tuning.target-high must be in (0, 1] (got %g)", t.TargetHigh)
	}
	if t.TargetLow > t.TargetHigh {
		return fmt.Errorf("tuning.target-low %g exceeds target-high %g", t.TargetLow, t.TargetHigh)
	}
	if !(t.ScanThreshold <= t.MidThreshold && t.MidThreshold <= t.CriticalThreshold) {
		return fmt.Errorf("tuning thresholds must be ordered scan <= mid <= critical")
	}
	if t.ReprobeStride <= 0 {
		return fmt.Errorf("tuning.reprobe-stride must be > 0 (got %d)", t.ReprobeStride)
	}
	for i, r := range t.Ladder {
		switch r.Key {
		case KeyExpiry, KeyAccess, KeyMtime:
		default:
			return fmt.Errorf("tuning.ladder[%d]: unknown key %q", i, r.Key)
		}
		if r.Age < 0 {
			return fmt.Errorf("tuning.ladder[%d]: negative age", i)
		}
	}

	return nil
}
