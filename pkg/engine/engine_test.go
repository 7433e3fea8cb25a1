package engine

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qchong005/nbaidx/pkg/bptree"
	"github.com/qchong005/nbaidx/pkg/record"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Config{DataDir: t.TempDir(), DBFile: "games.heap", BTreeOrder: 4})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// S1: five rows with the given ft_pct values; find and range_gt behave
// as the scenario specifies.
func TestLoadFindRangeScenario(t *testing.T) {
	e := openTestEngine(t)

	values := []float32{0.80, 0.50, 0.90, 0.65, 0.75}
	var rows []record.Record
	for _, v := range values {
		rows = append(rows, record.Record{FTPct: v})
	}

	loadStats, err := e.Load(rows)
	require.NoError(t, err)
	require.Equal(t, 5, loadStats.RecordsTouched)

	found, _, err := e.Find(0.80)
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, _, err = e.Find(0.99)
	require.NoError(t, err)
	require.Empty(t, found)

	ranged, stats, err := e.RangeGT(0.70)
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	require.Equal(t, 3, stats.RecordsTouched)

	gotOrder := make([]float32, len(ranged))
	for i, r := range ranged {
		gotOrder[i] = record.Key(r)
	}
	require.Equal(t, []float32{0.75, 0.80, 0.90}, gotOrder)
}

// P5-style: after DeleteRangeGT(t), search above t is empty and search
// at or below t is unaffected.
func TestDeleteRangeGTThenFind(t *testing.T) {
	e := openTestEngine(t)

	var rows []record.Record
	for i := 0; i < 200; i++ {
		rows = append(rows, record.Record{FTPct: float32(i) / 200})
	}
	_, err := e.Load(rows)
	require.NoError(t, err)

	deleteStats, err := e.DeleteRangeGT(0.5)
	require.NoError(t, err)
	require.Equal(t, 99, deleteStats.RecordsTouched)
	require.Greater(t, deleteStats.AverageKeyOfDeleted, 0.5)

	for i := 101; i < 200; i++ {
		found, _, err := e.Find(float32(i) / 200)
		require.NoError(t, err)
		require.Empty(t, found)
	}
	for i := 0; i <= 100; i++ {
		found, _, err := e.Find(float32(i) / 200)
		require.NoError(t, err)
		require.Len(t, found, 1)
	}

	recordsLeft, _ := e.heap.Count()
	require.Equal(t, 101, recordsLeft)
}

// Duplicate keys collapse into one bucket even across the engine boundary.
func TestLoadDuplicateKeys(t *testing.T) {
	e := openTestEngine(t)

	var rows []record.Record
	for i := 0; i < 5; i++ {
		rows = append(rows, record.Record{FTPct: 0.75, Pts: uint8(i)})
	}
	_, err := e.Load(rows)
	require.NoError(t, err)

	found, _, err := e.Find(0.75)
	require.NoError(t, err)
	require.Len(t, found, 5)
}

func TestFindRejectsNaN(t *testing.T) {
	e := openTestEngine(t)
	_, _, err := e.Find(float32(math.NaN()))
	require.Error(t, err)
}

// Reopening an engine whose index was persisted on Close must recover
// the same search results without reloading records.
func TestReopenRecoversIndexFromCheckpoint(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	e, err := Open(Config{DataDir: dir, DBFile: "games.heap", BTreeOrder: 4})
	require.NoError(t, err)

	rows := []record.Record{{FTPct: 0.1}, {FTPct: 0.2}, {FTPct: 0.3}}
	_, err = e.Load(rows)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := Open(Config{DataDir: dir, DBFile: "games.heap", BTreeOrder: 4})
	require.NoError(t, err)
	defer reopened.Close()

	found, _, err := reopened.Find(0.2)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestBruteCountGTMatchesRangeGT(t *testing.T) {
	e := openTestEngine(t)

	var rows []record.Record
	for i := 0; i < 50; i++ {
		rows = append(rows, record.Record{FTPct: float32(i) / 50})
	}
	_, err := e.Load(rows)
	require.NoError(t, err)

	indexed, _, err := e.RangeGT(0.5)
	require.NoError(t, err)

	matches, blocks, err := e.BruteCountGT(0.5)
	require.NoError(t, err)
	require.Equal(t, len(indexed), matches)
	require.Equal(t, 1, blocks)
}

// The background checkpoint goroutine must persist the index image on
// its own, without any foreground Close/SaveIndex call.
func TestStartCheckpointPersistsIndexPeriodically(t *testing.T) {
	e := openTestEngine(t)

	rows := []record.Record{{FTPct: 0.1}, {FTPct: 0.2}, {FTPct: 0.3}}
	_, err := e.Load(rows)
	require.NoError(t, err)

	e.StartCheckpoint(20 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	e.StopCheckpoint()

	onDisk, err := bptree.Load(e.indexPath)
	require.NoError(t, err)

	locs, err := onDisk.Search(0.2)
	require.NoError(t, err)
	require.Len(t, locs, 1)
}

// Stopping twice, or stopping a checkpoint that was never started, must
// not panic.
func TestStopCheckpointIsIdempotent(t *testing.T) {
	e := openTestEngine(t)
	e.StopCheckpoint()
	e.StartCheckpoint(time.Hour)
	e.StopCheckpoint()
	e.StopCheckpoint()
}

func TestOperationsFailWhenNotOpen(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Close())

	_, err := e.Load(nil)
	require.ErrorIs(t, err, ErrNotOpen)

	_, _, err = e.Find(0.5)
	require.ErrorIs(t, err, ErrNotOpen)

	_, _, err = e.RangeGT(0.5)
	require.ErrorIs(t, err, ErrNotOpen)

	_, err = e.DeleteRangeGT(0.5)
	require.ErrorIs(t, err, ErrNotOpen)
}
