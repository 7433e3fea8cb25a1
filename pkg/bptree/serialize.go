package bptree

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/qchong005/nbaidx/pkg/heap"
)

// magic identifies the on-disk index image format ("BPLU").
const magic uint32 = 0x42504C55

// ErrCorruptIndex is returned when an index image fails its magic,
// header, or structural checks on Load.
var ErrCorruptIndex = fmt.Errorf("bptree: corrupt index image")

// Save writes a durable binary image of the tree to path, grounded on the
// teacher's BFS node-numbering Save/Load pair in pkg/bptree.BPlusTree,
// adapted to the specification's self-describing per-node record format.
func (t *BPlusTree) Save(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("bptree: create index image: %w", err)
	}

	w := bufio.NewWriter(f)

	ids := make([]uint32, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	depth := t.depth()

	header := []any{magic, int32(t.order), int32(len(ids)), int32(depth), t.nextID, t.rootID}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("bptree: write index header: %w", err)
		}
	}

	for _, id := range ids {
		if err := writeNode(w, t.nodes[id]); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("bptree: write node %d: %w", id, err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("bptree: flush index image: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("bptree: fsync index image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("bptree: close index image: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("bptree: replace index image: %w", err)
	}
	return nil
}

// depth returns the tree's current height (1 for a single leaf root).
func (t *BPlusTree) depth() int {
	d := 1
	cur := t.node(t.rootID)
	for !cur.isLeaf {
		d++
		cur = t.node(cur.children[0])
	}
	return d
}

func writeNode(w io.Writer, n *node) error {
	kind := uint8(0)
	if n.isLeaf {
		kind = 1
	}

	isRoot := uint8(0)
	if n.isRoot {
		isRoot = 1
	}

	fields := []any{kind, n.id, uint16(len(n.keys)), isRoot}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, k := range n.keys {
		if err := binary.Write(w, binary.LittleEndian, k); err != nil {
			return err
		}
	}

	if n.isLeaf {
		if err := binary.Write(w, binary.LittleEndian, n.nextLeaf); err != nil {
			return err
		}
		for _, bucket := range n.buckets {
			if err := binary.Write(w, binary.LittleEndian, uint32(len(bucket))); err != nil {
				return err
			}
			for _, loc := range bucket {
				if err := binary.Write(w, binary.LittleEndian, loc.BlockID); err != nil {
					return err
				}
				if err := binary.Write(w, binary.LittleEndian, loc.Slot); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(n.children))); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := binary.Write(w, binary.LittleEndian, c); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a binary index image previously written by Save.
func Load(path string) (*BPlusTree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bptree: open index image: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("%w: reading magic: %v", ErrCorruptIndex, err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptIndex, gotMagic)
	}

	var order, totalNodes, treeDepth int32
	var nextID, rootID uint32
	for _, dst := range []any{&order, &totalNodes, &treeDepth, &nextID, &rootID} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptIndex, err)
		}
	}
	if totalNodes < 0 || order < 3 {
		return nil, fmt.Errorf("%w: invalid header (order=%d, nodes=%d)", ErrCorruptIndex, order, totalNodes)
	}

	t := &BPlusTree{
		order:  int(order),
		nodes:  make(map[uint32]*node, totalNodes),
		rootID: rootID,
		nextID: nextID,
	}

	for i := int32(0); i < totalNodes; i++ {
		n, err := readNode(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading node %d: %v", ErrCorruptIndex, i, err)
		}
		t.nodes[n.id] = n
	}

	if _, ok := t.nodes[rootID]; totalNodes > 0 && !ok {
		return nil, fmt.Errorf("%w: root id %d not present among %d nodes", ErrCorruptIndex, rootID, totalNodes)
	}
	if got := t.depth(); totalNodes > 0 && got != int(treeDepth) {
		return nil, fmt.Errorf("%w: tree depth mismatch: header says %d, actual %d", ErrCorruptIndex, treeDepth, got)
	}

	return t, nil
}

func readNode(r io.Reader) (*node, error) {
	var kind, isRootByte uint8
	var id uint32
	var numKeys uint16

	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &numKeys); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &isRootByte); err != nil {
		return nil, err
	}

	n := &node{id: id, isLeaf: kind == 1, isRoot: isRootByte == 1}
	n.keys = make([]float32, numKeys)
	for i := range n.keys {
		if err := binary.Read(r, binary.LittleEndian, &n.keys[i]); err != nil {
			return nil, err
		}
	}

	if n.isLeaf {
		if err := binary.Read(r, binary.LittleEndian, &n.nextLeaf); err != nil {
			return nil, err
		}
		n.buckets = make([][]heap.Locator, numKeys)
		for i := range n.buckets {
			var count uint32
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				return nil, err
			}
			bucket := make([]heap.Locator, count)
			for j := range bucket {
				if err := binary.Read(r, binary.LittleEndian, &bucket[j].BlockID); err != nil {
					return nil, err
				}
				if err := binary.Read(r, binary.LittleEndian, &bucket[j].Slot); err != nil {
					return nil, err
				}
			}
			n.buckets[i] = bucket
		}
		return n, nil
	}

	var numChildren uint32
	if err := binary.Read(r, binary.LittleEndian, &numChildren); err != nil {
		return nil, err
	}
	n.children = make([]uint32, numChildren)
	for i := range n.children {
		if err := binary.Read(r, binary.LittleEndian, &n.children[i]); err != nil {
			return nil, err
		}
	}
	return n, nil
}
