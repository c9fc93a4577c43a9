// Package logging provides the process-wide logger and the structured
// events the cleaner emits. It writes human-readable output to stderr and,
// when configured, a rotating log file for unattended timer runs.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the global logger.
type Options struct {
	Verbose bool   // enable debug output
	Quiet   bool   // errors only
	LogFile string // optional rotating file sink

	// Writer overrides the stderr sink. Tests use this to capture output.
	Writer io.Writer
}

var (
	log      = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	fileSink io.Closer
)

// Setup initialises the global logger. Verbose wins over Quiet if both are
// set. When a log file is given, output goes to both stderr and the file;
// the file is rotated so an unattended timer cannot fill the disk the tool
// exists to keep clear.
func Setup(opts Options) {
	level := slog.LevelInfo
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	if opts.Writer != nil {
		w = opts.Writer
	}

	noColor := opts.Writer != nil
	if opts.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 3,
		}
		fileSink = lj
		w = io.MultiWriter(w, lj)
		noColor = true
	}

	log = slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	}))
}

// Close flushes and closes the file sink if one was opened. Safe to call
// multiple times.
func Close() error {
	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	return err
}

// Debug logs a debug-level message with optional attributes.
func Debug(msg string, args ...any) { log.Debug(msg, args...) }

// Info logs an informational message with optional attributes.
func Info(msg string, args ...any) { log.Info(msg, args...) }

// Warn logs a warning with optional attributes.
func Warn(msg string, args ...any) { log.Warn(msg, args...) }

// Error logs an error-level message with optional attributes.
func Error(msg string, args ...any) { log.Error(msg, args...) }

// The cleaner's structured event vocabulary. Event names are stable; the
// logging transport is not part of the tool's contract, but downstream
// parsing relies on these exact names and keys.

// ScanStarted records the beginning of a cache walk.
func ScanStarted(root string, workers int) {
	log.Info("scan_started", "root", root, "workers", workers)
}

// ScanFinished records the completion of a cache walk.
func ScanFinished(files int64, bytes int64, elapsed time.Duration) {
	log.Info("scan_finished", "files", files, "bytes", bytes, "ms", elapsed.Milliseconds())
}

// Evicted records the deletion of one cache entry (or of a would-be
// deletion during a dry run).
func Evicted(path string, bytes int64, dryRun bool) {
	if dryRun {
		log.Info("evicted", "path", path, "bytes", bytes, "dry_run", true)
		return
	}
	log.Debug("evicted", "path", path, "bytes", bytes)
}

// Skipped records an entry that could not be processed and was left alone.
func Skipped(path string, err error) {
	log.Warn("skipped", "path", path, "error", err)
}
