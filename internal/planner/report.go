package planner

import (
	"fmt"
	"strings"
	"time"
)

// Summary renders the completion report printed at the end of a run
// (suppressed by --quiet).
func (r *Result) Summary(dryRun bool) string {
	var b strings.Builder

	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}

	fmt.Fprintf(&b, "=== Cache clean complete ===\n")
	fmt.Fprintf(&b, "Total time: %s\n", formatDuration(r.Duration))
	if !r.Scanned {
		fmt.Fprintf(&b, "Usage below scan threshold; no scan performed\n")
	} else {
		fmt.Fprintf(&b, "Scanned: %s files in %s directories\n",
			formatNumber(r.Walk.FilesScanned), formatNumber(r.Walk.DirsScanned))
		fmt.Fprintf(&b, "Entries %s: %s (%s bytes)\n",
			verb, formatNumber(r.EntriesDeleted), formatNumber(r.BytesFreed))
		fmt.Fprintf(&b, "Garbage swept: %s temp, %s orphans, %s corrupt, %s empty dirs\n",
			formatNumber(r.Walk.TempRemoved), formatNumber(r.Walk.Orphans),
			formatNumber(r.Walk.CorruptPairs), formatNumber(r.Walk.DirsRemoved))
	}
	if r.Denied > 0 {
		fmt.Fprintf(&b, "Unlinks denied by permissions: %s\n", formatNumber(r.Denied))
	}
	fmt.Fprintf(&b, "Utilisation: %.1f%% -> %.1f%%\n", r.Before.Util()*100, r.After.Util()*100)

	return b.String()
}

// formatNumber formats a count with thousands separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	str := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// formatDuration renders a duration as "Xh Ym Zs", dropping leading zero
// units.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
