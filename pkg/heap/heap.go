// Package heap implements a block-packed heap file of fixed-size records.
//
// It is grounded on the append-only log writer/reader pairing in
// ssargent/freyjadb's pkg/store (LogWriter/LogReader), adapted from a
// variable-length CRC-checksummed log into a fixed-size, directory-free
// block file as required by the indexed storage engine.
package heap

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/qchong005/nbaidx/pkg/record"
)

// BlockSize is the fixed page size of the heap file, in bytes.
const BlockSize = 4096

// RecordsPerBlock is the maximum number of records a block can hold.
const RecordsPerBlock = BlockSize / record.Size

// Errors returned by HeapFile operations.
var (
	ErrOutOfRange  = fmt.Errorf("heap: locator out of range")
	ErrCorruptHeap = fmt.Errorf("heap: corrupt heap file")
)

// Locator identifies a record's position within the heap at a point in time.
// A compacting delete invalidates every Locator pointing into a rewritten
// block; see HeapFile.DeleteByLocators.
type Locator struct {
	BlockID uint32
	Slot    uint16
}

// Config holds construction options for a HeapFile.
type Config struct {
	Path string // path to the backing file
	// FsyncEvery, when true, fsyncs after every Append. Disabling this
	// trades durability for throughput on bulk loads, mirroring
	// LogWriterConfig.FsyncInterval == 0 in the teacher's log writer.
	FsyncEvery bool
}

// HeapFile is a persistent store of fixed-size Records packed into
// BlockSize-byte blocks over a single file, held open for the lifetime of
// the instance.
type HeapFile struct {
	mu         sync.Mutex
	file       *os.File
	config     Config
	blockCount uint32
	tailCount  uint16 // records currently in the last block
}

// Open opens (creating if necessary) the heap file at config.Path and
// rebuilds in-memory block/slot bookkeeping by inspecting the file length
// and the tail block's contents, per the on-disk format's lack of an
// in-file directory.
func Open(config Config) (*HeapFile, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o750); err != nil {
		return nil, fmt.Errorf("heap: create data dir: %w", err)
	}

	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("heap: open %s: %w", config.Path, err)
	}

	h := &HeapFile{file: f, config: config}
	if err := h.rebuildBookkeeping(); err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

func (h *HeapFile) rebuildBookkeeping() error {
	stat, err := h.file.Stat()
	if err != nil {
		return fmt.Errorf("heap: stat: %w", err)
	}

	size := stat.Size()
	if size%BlockSize != 0 {
		return fmt.Errorf("%w: file size %d is not a multiple of %d", ErrCorruptHeap, size, BlockSize)
	}

	blockCount := uint32(size / BlockSize)
	if blockCount == 0 {
		h.blockCount = 0
		h.tailCount = 0
		return nil
	}

	tailOffset := int64(blockCount-1) * BlockSize
	tail := make([]byte, BlockSize)
	if _, err := h.file.ReadAt(tail, tailOffset); err != nil {
		return fmt.Errorf("%w: reading tail block: %v", ErrCorruptHeap, err)
	}

	// Only trailing all-zero slots are unused; an all-zero record followed
	// by non-zero ones is still a record.
	var tailCount uint16
	for i := RecordsPerBlock - 1; i >= 0; i-- {
		slice := tail[i*record.Size : (i+1)*record.Size]
		if !record.IsZero(slice) {
			tailCount = uint16(i + 1)
			break
		}
	}

	h.blockCount = blockCount
	h.tailCount = tailCount
	return nil
}

// recordsInBlock returns how many slots of blockID are occupied. Only the
// last block may be partially filled.
func (h *HeapFile) recordsInBlock(blockID uint32) uint16 {
	if h.blockCount == 0 || blockID != h.blockCount-1 {
		return RecordsPerBlock
	}
	return h.tailCount
}

// Append places r into the tail block, allocating a new block if the tail
// is full, and returns the Locator assigned to it.
func (h *HeapFile) Append(r record.Record) (Locator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.blockCount == 0 || h.tailCount == RecordsPerBlock {
		h.blockCount++
		h.tailCount = 0
	}

	blockID := h.blockCount - 1
	slot := h.tailCount

	offset := int64(blockID)*BlockSize + int64(slot)*record.Size
	buf := record.Marshal(r)
	if _, err := h.file.WriteAt(buf, offset); err != nil {
		return Locator{}, fmt.Errorf("heap: write at block %d slot %d: %w", blockID, slot, err)
	}

	if h.config.FsyncEvery {
		if err := h.file.Sync(); err != nil {
			return Locator{}, fmt.Errorf("heap: fsync: %w", err)
		}
	}

	h.tailCount++
	return Locator{BlockID: blockID, Slot: slot}, nil
}

// Read decodes and returns the record at loc.
func (h *HeapFile) Read(loc Locator) (record.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readLocked(loc)
}

func (h *HeapFile) readLocked(loc Locator) (record.Record, error) {
	if loc.BlockID >= h.blockCount || loc.Slot >= h.recordsInBlock(loc.BlockID) {
		return record.Record{}, ErrOutOfRange
	}

	offset := int64(loc.BlockID)*BlockSize + int64(loc.Slot)*record.Size
	buf := make([]byte, record.Size)
	if _, err := h.file.ReadAt(buf, offset); err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", ErrCorruptHeap, err)
	}
	return record.Unmarshal(buf)
}

// Count returns the total number of records and blocks currently stored.
func (h *HeapFile) Count() (records int, blocks int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.blockCount == 0 {
		return 0, 0
	}
	full := int(h.blockCount-1) * RecordsPerBlock
	return full + int(h.tailCount), int(h.blockCount)
}

// Entry pairs a Locator with its decoded Record, yielded by Scan.
type Entry struct {
	Locator Locator
	Record  record.Record
}

// Scan performs a single-pass, whole-block read over every stored record,
// calling visit for each in ascending (block, slot) order. Scan stops and
// returns the first error either from I/O or from visit itself.
func (h *HeapFile) Scan(visit func(Entry) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	block := make([]byte, BlockSize)
	for b := uint32(0); b < h.blockCount; b++ {
		if _, err := h.file.ReadAt(block, int64(b)*BlockSize); err != nil {
			return fmt.Errorf("%w: scanning block %d: %v", ErrCorruptHeap, b, err)
		}
		n := h.recordsInBlock(b)
		for s := uint16(0); s < n; s++ {
			slice := block[int(s)*record.Size : int(s+1)*record.Size]
			rec, err := record.Unmarshal(slice)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptHeap, err)
			}
			if err := visit(Entry{Locator: Locator{BlockID: b, Slot: s}, Record: rec}); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteResult reports the statistics produced by DeleteByLocators.
type DeleteResult struct {
	Deleted       int
	BlocksTouched int
	KeySum        float64 // sum of record.Key over deleted records
}

// DeleteByLocators performs a compacting rewrite of the heap: every record
// whose Locator is in locs is dropped, survivors are repacked sequentially
// into fresh blocks, and the file is atomically replaced. This invalidates
// every Locator previously returned by the heap; callers must rebuild any
// external index after this call (see pkg/engine's rebuild-after-compact
// strategy).
func (h *HeapFile) DeleteByLocators(locs map[Locator]bool) (DeleteResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	compactPath := h.config.Path + ".compact"
	tmp, err := os.OpenFile(compactPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("heap: create compaction file: %w", err)
	}

	var result DeleteResult
	blocksTouchedRead := 0

	outBlock := make([]byte, BlockSize)
	outCount := 0
	flush := func() error {
		if outCount == 0 {
			return nil
		}
		if _, err := tmp.Write(outBlock); err != nil {
			return err
		}
		for i := range outBlock {
			outBlock[i] = 0
		}
		outCount = 0
		return nil
	}

	inBlock := make([]byte, BlockSize)
	for b := uint32(0); b < h.blockCount; b++ {
		if _, err := h.file.ReadAt(inBlock, int64(b)*BlockSize); err != nil {
			tmp.Close()
			os.Remove(compactPath)
			return DeleteResult{}, fmt.Errorf("%w: reading block %d: %v", ErrCorruptHeap, b, err)
		}
		blocksTouchedRead++
		n := h.recordsInBlock(b)
		for s := uint16(0); s < n; s++ {
			loc := Locator{BlockID: b, Slot: s}
			slice := inBlock[int(s)*record.Size : int(s+1)*record.Size]

			if locs[loc] {
				rec, err := record.Unmarshal(slice)
				if err != nil {
					tmp.Close()
					os.Remove(compactPath)
					return DeleteResult{}, fmt.Errorf("%w: %v", ErrCorruptHeap, err)
				}
				result.Deleted++
				result.KeySum += float64(record.Key(rec))
				continue
			}

			copy(outBlock[outCount*record.Size:(outCount+1)*record.Size], slice)
			outCount++
			if outCount == RecordsPerBlock {
				if err := flush(); err != nil {
					tmp.Close()
					os.Remove(compactPath)
					return DeleteResult{}, fmt.Errorf("heap: writing compacted block: %w", err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		tmp.Close()
		os.Remove(compactPath)
		return DeleteResult{}, fmt.Errorf("heap: writing final compacted block: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(compactPath)
		return DeleteResult{}, fmt.Errorf("heap: fsync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(compactPath)
		return DeleteResult{}, fmt.Errorf("heap: close compaction file: %w", err)
	}

	if err := h.file.Close(); err != nil {
		return DeleteResult{}, fmt.Errorf("heap: close original file: %w", err)
	}
	if err := os.Rename(compactPath, h.config.Path); err != nil {
		return DeleteResult{}, fmt.Errorf("heap: replace original file: %w", err)
	}

	f, err := os.OpenFile(h.config.Path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("heap: reopen compacted file: %w", err)
	}
	h.file = f
	if err := h.rebuildBookkeeping(); err != nil {
		return DeleteResult{}, err
	}

	result.BlocksTouched = blocksTouchedRead
	if int(h.blockCount) > result.BlocksTouched {
		result.BlocksTouched = int(h.blockCount)
	}

	log.Debug().
		Int("deleted", result.Deleted).
		Int("blocks_touched", result.BlocksTouched).
		Msg("heap: compaction complete")

	return result, nil
}

// BruteScanGT is the linear-scan control baseline: it returns the exact
// count of records whose key exceeds threshold and the number of blocks
// examined (always every block).
func (h *HeapFile) BruteScanGT(threshold float32) (matches int, blocksScanned int, err error) {
	h.mu.Lock()
	blockCount := h.blockCount
	h.mu.Unlock()

	err = h.Scan(func(e Entry) error {
		if record.Key(e.Record) > threshold {
			matches++
		}
		return nil
	})
	return matches, int(blockCount), err
}

// Close releases the underlying file handle.
func (h *HeapFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}
