// Package engine composes the heap file and the B+-tree index behind a
// single call boundary, implementing bulk load, point search, range
// search, and range delete as described in the specification.
//
// It is grounded on ssargent/freyjadb's pkg/store.KVStore: the same
// config/mutex/isOpen shape, the same Open/Close lifecycle, and the same
// periodic-checkpoint goroutine lifted from pkg/bptree.StartCheckpoint.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qchong005/nbaidx/pkg/bptree"
	"github.com/qchong005/nbaidx/pkg/heap"
	"github.com/qchong005/nbaidx/pkg/record"
)

// Config holds construction options for an Engine.
type Config struct {
	DataDir    string // directory holding the heap and index files
	DBFile     string // heap file name, relative to DataDir
	BTreeOrder int    // n, per spec.md section 4.3; 0 uses bptree.DefaultOrder
	FsyncEvery bool   // fsync after every heap append
}

// Stats reports the cost of a single Engine operation, matching the
// fields named in spec.md section 4.4.
type Stats struct {
	RecordsTouched       int
	BlocksTouched        int
	InternalNodesTouched int
	LeafNodesTouched     int
	ElapsedMs            float64
	AverageKeyOfDeleted  float64 // only meaningful for DeleteRangeGT
}

// ErrNotOpen is returned by any operation attempted before Open or after Close.
var ErrNotOpen = fmt.Errorf("engine: not open")

// Engine is the single entry point into the storage engine: a heap file
// and a B+-tree index held open for the engine's lifetime, guarded by one
// mutex per spec.md section 5's single-threaded, blocking core.
type Engine struct {
	mu     sync.Mutex
	config Config
	heap   *heap.HeapFile
	tree   *bptree.BPlusTree
	isOpen bool

	indexPath string

	checkpointTicker *time.Ticker
	checkpointDone   chan bool
}

// Open creates the data directory if necessary, opens the heap file
// (recovering tail-block bookkeeping per heap.Open), and loads an
// existing index image or starts a fresh tree.
func Open(config Config) (*Engine, error) {
	if config.BTreeOrder <= 0 {
		config.BTreeOrder = bptree.DefaultOrder
	}

	heapPath := filepath.Join(config.DataDir, config.DBFile)
	h, err := heap.Open(heap.Config{Path: heapPath, FsyncEvery: config.FsyncEvery})
	if err != nil {
		return nil, fmt.Errorf("engine: open heap: %w", err)
	}

	indexPath := heapPath + ".idx"
	tree, err := bptree.Load(indexPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			h.Close()
			return nil, fmt.Errorf("engine: load index: %w", err)
		}
		tree = bptree.NewBPlusTree(config.BTreeOrder)
	}

	return &Engine{
		config:    config,
		heap:      h,
		tree:      tree,
		isOpen:    true,
		indexPath: indexPath,
	}, nil
}

// Close stops any background checkpoint, persists a final index image,
// and releases the heap file handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return nil
	}
	e.stopCheckpointLocked()

	if err := e.tree.Save(e.indexPath); err != nil {
		e.heap.Close()
		e.isOpen = false
		return fmt.Errorf("engine: save index on close: %w", err)
	}

	e.isOpen = false
	return e.heap.Close()
}

// Load appends every record to the heap in order, then bulk-loads the
// index from the resulting (key, locator) pairs sorted by key — the
// data flow named in spec.md section 2.
func (e *Engine) Load(records []record.Record) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if !e.isOpen {
		return Stats{}, ErrNotOpen
	}

	pairs := make([]bptree.KeyLocator, 0, len(records))
	for _, r := range records {
		loc, err := e.heap.Append(r)
		if err != nil {
			return Stats{}, fmt.Errorf("engine: load: %w", err)
		}
		pairs = append(pairs, bptree.KeyLocator{Key: record.Key(r), Locator: loc})
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	if err := e.tree.BulkLoad(pairs); err != nil {
		return Stats{}, fmt.Errorf("engine: bulk load index: %w", err)
	}

	_, blocks := e.heap.Count()
	return Stats{
		RecordsTouched: len(records),
		BlocksTouched:  blocks,
		ElapsedMs:      elapsedMs(start),
	}, nil
}

// Find performs a point lookup: BPlusTree.Search, then HeapFile.Read for
// each locator returned.
func (e *Engine) Find(key float32) ([]record.Record, Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if !e.isOpen {
		return nil, Stats{}, ErrNotOpen
	}

	locs, err := e.tree.Search(key)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("engine: find: %w", err)
	}

	records, blocks, err := e.readAllLocked(locs)
	if err != nil {
		return nil, Stats{}, err
	}

	return records, Stats{
		RecordsTouched: len(records),
		BlocksTouched:  blocks,
		ElapsedMs:      elapsedMs(start),
	}, nil
}

// RangeGT returns every record whose key is strictly greater than
// threshold, in ascending key order, alongside node-touch statistics.
func (e *Engine) RangeGT(threshold float32) ([]record.Record, Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if !e.isOpen {
		return nil, Stats{}, ErrNotOpen
	}

	result, err := e.tree.RangeGT(threshold)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("engine: range_gt: %w", err)
	}

	records, blocks, err := e.readAllLocked(result.Locators)
	if err != nil {
		return nil, Stats{}, err
	}

	return records, Stats{
		RecordsTouched:       len(records),
		BlocksTouched:        blocks,
		InternalNodesTouched: result.InternalNodesTouched,
		LeafNodesTouched:     result.LeafNodesTouched,
		ElapsedMs:            elapsedMs(start),
	}, nil
}

// BruteCountGT is the control-baseline cross-check named in spec.md
// section 4.1: a linear scan of every heap block, bypassing the index
// entirely, used by the CLI's --brute flag to validate range_gt and
// delete_range_gt results.
func (e *Engine) BruteCountGT(threshold float32) (matches int, blocksScanned int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return 0, 0, ErrNotOpen
	}
	return e.heap.BruteScanGT(threshold)
}

// DeleteRangeGT implements the four-step protocol from spec.md section
// 4.2/4.3: (1) range_gt locates the victims and counts nodes touched;
// (2) delete_one removes each victim from the index, grouped by key;
// (3) the heap compacts, invalidating every locator; (4) because the
// index would now reference stale locators, it is discarded and rebuilt
// by bulk-loading a fresh scan of the compacted heap — strategy (a) from
// spec.md section 4.2, the canonical baseline.
func (e *Engine) DeleteRangeGT(threshold float32) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if !e.isOpen {
		return Stats{}, ErrNotOpen
	}

	located, err := e.tree.RangeGT(threshold)
	if err != nil {
		return Stats{}, fmt.Errorf("engine: delete_range_gt: locate: %w", err)
	}

	byKey := make(map[float32][]heap.Locator)
	toDelete := make(map[heap.Locator]bool, len(located.Locators))
	for _, loc := range located.Locators {
		rec, err := e.heap.Read(loc)
		if err != nil {
			return Stats{}, fmt.Errorf("engine: delete_range_gt: reading victim: %w", err)
		}
		key := record.Key(rec)
		byKey[key] = append(byKey[key], loc)
		toDelete[loc] = true
	}

	keys := make([]float32, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		for _, loc := range byKey[k] {
			if err := e.tree.DeleteOne(k, loc); err != nil {
				return Stats{}, fmt.Errorf("engine: delete_range_gt: index delete: %w", err)
			}
		}
	}

	heapResult, err := e.heap.DeleteByLocators(toDelete)
	if err != nil {
		return Stats{}, fmt.Errorf("engine: delete_range_gt: compact heap: %w", err)
	}

	rebuilt := bptree.NewBPlusTree(e.config.BTreeOrder)
	var survivors []bptree.KeyLocator
	if err := e.heap.Scan(func(entry heap.Entry) error {
		survivors = append(survivors, bptree.KeyLocator{
			Key:     record.Key(entry.Record),
			Locator: entry.Locator,
		})
		return nil
	}); err != nil {
		return Stats{}, fmt.Errorf("engine: delete_range_gt: rescan heap: %w", err)
	}
	sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].Key < survivors[j].Key })
	if err := rebuilt.BulkLoad(survivors); err != nil {
		return Stats{}, fmt.Errorf("engine: delete_range_gt: rebuild index: %w", err)
	}
	e.tree = rebuilt

	avgKey := 0.0
	if heapResult.Deleted > 0 {
		avgKey = heapResult.KeySum / float64(heapResult.Deleted)
	}

	log.Debug().
		Int("deleted", heapResult.Deleted).
		Int("blocks_touched", heapResult.BlocksTouched).
		Float64("average_key_of_deleted", avgKey).
		Msg("engine: delete_range_gt complete, index rebuilt from compacted heap")

	return Stats{
		RecordsTouched:       heapResult.Deleted,
		BlocksTouched:        heapResult.BlocksTouched,
		InternalNodesTouched: located.InternalNodesTouched,
		LeafNodesTouched:     located.LeafNodesTouched,
		ElapsedMs:            elapsedMs(start),
		AverageKeyOfDeleted:  avgKey,
	}, nil
}

// readAllLocked resolves every locator to its record and reports the
// number of distinct blocks touched. Caller must hold e.mu.
func (e *Engine) readAllLocked(locs []heap.Locator) ([]record.Record, int, error) {
	records := make([]record.Record, 0, len(locs))
	blocks := make(map[uint32]bool)
	for _, loc := range locs {
		rec, err := e.heap.Read(loc)
		if err != nil {
			return nil, 0, fmt.Errorf("engine: reading locator: %w", err)
		}
		records = append(records, rec)
		blocks[loc.BlockID] = true
	}
	return records, len(blocks), nil
}

// SaveIndex persists the current index image to the engine's index path,
// usable standalone or from the checkpoint goroutine.
func (e *Engine) SaveIndex() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return ErrNotOpen
	}
	return e.tree.Save(e.indexPath)
}

// StartCheckpoint begins a background goroutine that periodically saves
// the index image, adapted from the teacher's BPlusTree.StartCheckpoint.
// The checkpoint goroutine only ever calls SaveIndex, which takes the same
// mutex a foreground caller would — periodic checkpointing is layered
// outside the single-threaded core call path, not a second writer.
func (e *Engine) StartCheckpoint(interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopCheckpointLocked()
	e.checkpointTicker = time.NewTicker(interval)
	e.checkpointDone = make(chan bool)

	ticker := e.checkpointTicker
	done := e.checkpointDone
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := e.SaveIndex(); err != nil {
					log.Warn().Err(err).Msg("engine: checkpoint save failed")
				}
			case <-done:
				return
			}
		}
	}()
}

// StopCheckpoint halts the background checkpoint goroutine, if running.
func (e *Engine) StopCheckpoint() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCheckpointLocked()
}

func (e *Engine) stopCheckpointLocked() {
	if e.checkpointTicker != nil {
		e.checkpointTicker.Stop()
		e.checkpointTicker = nil
	}
	if e.checkpointDone != nil {
		close(e.checkpointDone)
		e.checkpointDone = nil
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
