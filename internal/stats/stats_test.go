package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qchong005/nbaidx/pkg/engine"
)

func TestFormatLoad(t *testing.T) {
	out := FormatLoad(engine.Stats{RecordsTouched: 10, BlocksTouched: 2, ElapsedMs: 1.5}, 3)
	require.Contains(t, out, "Task 1: loaded 10 records into 2 blocks (3 rows skipped)")
	require.Contains(t, out, "Task 2: index built in 1.50ms")
}

func TestFormatFind(t *testing.T) {
	out := FormatFind(0.8, engine.Stats{RecordsTouched: 1, BlocksTouched: 1, ElapsedMs: 0.2})
	require.Contains(t, out, "found 1 record(s) for ft_pct=0.8")
	require.Contains(t, out, "1 blocks touched")
}

func TestFormatRange(t *testing.T) {
	out := FormatRange(0.7, engine.Stats{RecordsTouched: 3, InternalNodesTouched: 1, LeafNodesTouched: 2, ElapsedMs: 0.3})
	require.Contains(t, out, "range_gt(0.7): 3 records")
	require.Contains(t, out, "1 internal nodes touched")
	require.Contains(t, out, "2 leaves touched")
}

func TestFormatDelete(t *testing.T) {
	out := FormatDelete(0.5, engine.Stats{
		RecordsTouched:       99,
		BlocksTouched:        5,
		InternalNodesTouched: 2,
		LeafNodesTouched:     4,
		AverageKeyOfDeleted:  0.75,
		ElapsedMs:            12.3,
	})
	require.Contains(t, out, "removed 99 records (avg key 0.7500)")
	require.Contains(t, out, "5 blocks touched")
	require.Contains(t, out, "2 internal nodes, 4 leaves touched during locate")
}

func TestFormatBruteCheckMatch(t *testing.T) {
	out := FormatBruteCheck(10, 4, 10)
	require.Contains(t, out, "[MATCH]")
}

func TestFormatBruteCheckMismatch(t *testing.T) {
	out := FormatBruteCheck(9, 4, 10)
	require.Contains(t, out, "[MISMATCH]")
}
