// Package main is the command-line entry point of fasthtcacheclean, a
// batch cleaner for Apache-style disk HTTP caches. It is meant to run from
// a systemd timer: probe the cache partition, and when usage is over the
// configured limits, scan the tree and evict the oldest entries until
// usage is back inside the target band.
package main

import (
	"fmt"
	"os"

	"github.com/PapooSoftware/fasthtcacheclean/internal/planner"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and maps every failure to the documented exit
// codes: 0 success, 1 work incomplete, 2 usage error, 3 probe failure,
// 4 fatal I/O error.
func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if ok := asExitError(err, &ee); ok {
			if ee.msg != "" {
				fmt.Fprintf(os.Stderr, "Error: %s\n", ee.msg)
			}
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\nRun '%s --help' for usage.\n", err, cmd.Name())
		return planner.ExitUsage
	}
	return exitCode
}
