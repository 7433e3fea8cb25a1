// Package stats formats engine.Stats into the Task-N reports the CLI
// prints to stdout. Kept separate from pkg/engine so the engine stays
// free of presentation concerns, and from cmd/nbaidx so the formatting
// is covered by its own package-level tests rather than only by CLI
// wiring.
package stats

import (
	"fmt"

	"github.com/qchong005/nbaidx/pkg/engine"
)

// FormatLoad renders Task 1/Task 2's load report: record/block counts
// from the heap append, rows the loader skipped, and index build timing.
func FormatLoad(s engine.Stats, rowsSkipped int) string {
	return fmt.Sprintf(
		"Task 1: loaded %d records into %d blocks (%d rows skipped)\nTask 2: index built in %.2fms",
		s.RecordsTouched, s.BlocksTouched, rowsSkipped, s.ElapsedMs,
	)
}

// FormatFind renders a point-lookup report for Engine.Find.
func FormatFind(key float64, s engine.Stats) string {
	return fmt.Sprintf(
		"found %d record(s) for ft_pct=%v (%d blocks touched, %.2fms)",
		s.RecordsTouched, key, s.BlocksTouched, s.ElapsedMs,
	)
}

// FormatRange renders a range_gt report for Engine.RangeGT.
func FormatRange(threshold float64, s engine.Stats) string {
	return fmt.Sprintf(
		"range_gt(%v): %d records, %d internal nodes touched, %d leaves touched, %.2fms",
		threshold, s.RecordsTouched, s.InternalNodesTouched, s.LeafNodesTouched, s.ElapsedMs,
	)
}

// FormatDelete renders Task 3's delete_range_gt report.
func FormatDelete(threshold float64, s engine.Stats) string {
	return fmt.Sprintf(
		"Task 3: delete_range_gt(%v) removed %d records (avg key %.4f), %d blocks touched, %.2fms\n"+
			"  index path: %d internal nodes, %d leaves touched during locate",
		threshold, s.RecordsTouched, s.AverageKeyOfDeleted, s.BlocksTouched, s.ElapsedMs,
		s.InternalNodesTouched, s.LeafNodesTouched,
	)
}

// FormatBruteCheck renders the --brute cross-check line, comparing a
// brute-force match count against the index path's RecordsTouched.
func FormatBruteCheck(bruteMatches, blocksScanned, indexMatches int) string {
	verdict := "MATCH"
	if bruteMatches != indexMatches {
		verdict = "MISMATCH"
	}
	return fmt.Sprintf(
		"  brute-force cross-check: %d matches over %d blocks scanned [%s]",
		bruteMatches, blocksScanned, verdict,
	)
}
