package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PapooSoftware/fasthtcacheclean/internal/cfg"
	"github.com/PapooSoftware/fasthtcacheclean/internal/fsprobe"
	"github.com/PapooSoftware/fasthtcacheclean/internal/logging"
	"github.com/PapooSoftware/fasthtcacheclean/internal/planner"
	"github.com/PapooSoftware/fasthtcacheclean/internal/safety"
)

// exitCode is set by the command's RunE once a run completes; main turns
// it into the process exit status.
var exitCode int

// exitError carries an explicit exit code out of RunE for failures that
// happen before the planner takes over (config, safety). Probe failures
// reach the exit status through the planner's result.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func asExitError(err error, target **exitError) bool {
	return errors.As(err, target)
}

func newRootCmd() *cobra.Command {
	var configFile string

	v := viper.New()
	cfg.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "fasthtcacheclean [flags] CACHE_ROOT",
		Short: "Bound the disk footprint of an Apache-style disk HTTP cache",
		Long: `fasthtcacheclean deletes stale or least-valuable entries from a disk
HTTP cache until its byte and inode usage fall below the configured
limits. It is a batch tool: invoke it from a timer, not as a daemon.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return &exitError{planner.ExitUsage, fmt.Sprintf("reading config file: %v", err)}
				}
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return &exitError{planner.ExitUsage, err.Error()}
			}

			c, err := cfg.Unmarshal(v)
			if err != nil {
				return &exitError{planner.ExitUsage, fmt.Sprintf("resolving configuration: %v", err)}
			}

			root, err := filepath.Abs(args[0])
			if err != nil {
				return &exitError{planner.ExitUsage, fmt.Sprintf("resolving cache root: %v", err)}
			}
			c.CacheRoot = root

			if err := c.Validate(); err != nil {
				return &exitError{planner.ExitUsage, err.Error()}
			}

			logging.Setup(logging.Options{
				Verbose: c.Verbose,
				Quiet:   c.Quiet,
				LogFile: c.LogFile,
			})
			defer logging.Close()

			if !c.Force {
				if ok, reason := safety.CheckRoot(c.CacheRoot); !ok {
					return &exitError{planner.ExitUsage, reason}
				}
			}

			exitCode = execute(&c)
			return nil
		},
	}

	f := cmd.Flags()
	// Bound as a string so the value can carry a size suffix; the decode
	// hook turns it into a ByteSize.
	f.StringP("limit", "l", "", "byte limit for the cache partition (K/M/G/T suffixes)")
	f.Uint64P("inode-limit", "L", 0, "inode limit for the cache partition")
	f.IntP("threads", "t", cfg.DefaultThreads(), "parallel walker threads")
	f.BoolP("dry-run", "n", false, "report would-be deletions without unlinking anything")
	f.BoolP("verbose", "v", false, "enable debug logging")
	f.BoolP("quiet", "q", false, "suppress everything but errors")
	f.Duration("temp-ttl", cfg.DefaultTempTTL, "age before an aptmp* partial write counts as abandoned")
	f.Int("queue-cap", cfg.DefaultQueueCap, "maximum eviction candidates held in memory")
	f.String("log-file", "", "also write logs to this rotating file")
	f.StringVar(&configFile, "config-file", "", "YAML configuration file (flags take precedence)")
	f.Bool("force", false, "skip the cache-root safety check")

	return cmd
}

// execute runs the planner with signal-driven cancellation and prints the
// completion report.
func execute(c *cfg.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := fsprobe.New(c.CacheRoot, fsprobe.Limits{
		Bytes:  uint64(c.Limit),
		Inodes: c.InodeLimit,
	})

	res := planner.New(c, probe).Run(ctx)

	if !c.Quiet {
		fmt.Print(res.Summary(c.DryRun))
	}
	return res.ExitCode
}
