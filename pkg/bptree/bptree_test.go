package bptree

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qchong005/nbaidx/pkg/heap"
)

func loc(block uint32, slot uint16) heap.Locator {
	return heap.Locator{BlockID: block, Slot: slot}
}

func TestInsertAndSearch(t *testing.T) {
	tree := NewBPlusTree(4)

	require.NoError(t, tree.Insert(0.80, loc(0, 0)))
	require.NoError(t, tree.Insert(0.50, loc(0, 1)))
	require.NoError(t, tree.Insert(0.90, loc(0, 2)))

	got, err := tree.Search(0.80)
	require.NoError(t, err)
	require.Equal(t, []heap.Locator{loc(0, 0)}, got)

	got, err = tree.Search(0.99)
	require.NoError(t, err)
	require.Empty(t, got)
}

// S3: duplicate keys collapse into one bucket.
func TestDuplicateKeysShareBucket(t *testing.T) {
	tree := NewBPlusTree(4)

	for i := uint16(0); i < 5; i++ {
		require.NoError(t, tree.Insert(0.75, loc(0, i)))
	}

	got, err := tree.Search(0.75)
	require.NoError(t, err)
	require.Len(t, got, 5)

	root := tree.node(tree.rootID)
	require.True(t, root.isLeaf)
	require.Len(t, root.keys, 1)
}

// S4: order 4, keys 10..50 each with one locator, splits into a root with
// one separator (30) and two leaves [10,20] / [30,40,50].
func TestOrder4SplitShape(t *testing.T) {
	tree := NewBPlusTree(4)

	keys := []float32{10, 20, 30, 40, 50}
	for i, k := range keys {
		require.NoError(t, tree.Insert(k, loc(0, uint16(i))))
	}

	root := tree.node(tree.rootID)
	require.False(t, root.isLeaf)
	require.Equal(t, []float32{30}, root.keys)
	require.Len(t, root.children, 2)

	left := tree.node(root.children[0])
	right := tree.node(root.children[1])
	require.Equal(t, []float32{10, 20}, left.keys)
	require.Equal(t, []float32{30, 40, 50}, right.keys)
	require.Equal(t, right.id, left.nextLeaf)
	require.Equal(t, uint32(0), right.nextLeaf)

	for _, k := range keys {
		got, err := tree.Search(k)
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
}

func TestInsertRejectsNaN(t *testing.T) {
	tree := NewBPlusTree(4)
	err := tree.Insert(float32(math.NaN()), loc(0, 0))
	require.ErrorIs(t, err, ErrInvalidKey)
}

// S1-style: range_gt returns matches in ascending key order.
func TestRangeGTOrdering(t *testing.T) {
	tree := NewBPlusTree(4)
	values := []float32{0.80, 0.50, 0.90, 0.65, 0.75}
	for i, v := range values {
		require.NoError(t, tree.Insert(v, loc(0, uint16(i))))
	}

	result, err := tree.RangeGT(0.70)
	require.NoError(t, err)
	require.Len(t, result.Locators, 3)
	require.Equal(t, 3, result.UniqueKeys)

	wantOrder := []heap.Locator{loc(0, 4), loc(0, 0), loc(0, 2)} // 0.75, 0.80, 0.90
	require.Equal(t, wantOrder, result.Locators)
}

func TestDeleteOneThenSearchEmpty(t *testing.T) {
	tree := NewBPlusTree(4)
	require.NoError(t, tree.Insert(0.5, loc(0, 0)))

	require.NoError(t, tree.DeleteOne(0.5, loc(0, 0)))

	got, err := tree.Search(0.5)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteOneUnknownKey(t *testing.T) {
	tree := NewBPlusTree(4)
	err := tree.DeleteOne(0.5, loc(0, 0))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDeleteOneUnknownLocator(t *testing.T) {
	tree := NewBPlusTree(4)
	require.NoError(t, tree.Insert(0.5, loc(0, 0)))
	err := tree.DeleteOne(0.5, loc(0, 9))
	require.ErrorIs(t, err, ErrLocatorNotFound)
}

// P5-style: after delete_range_gt(t), search above t is empty and search
// at or below t is unaffected.
func TestDeleteRangeGTThenSearch(t *testing.T) {
	tree := NewBPlusTree(4)
	for i := 0; i < 200; i++ {
		require.NoError(t, tree.Insert(float32(i)/200, loc(0, uint16(i))))
	}

	removed, err := tree.DeleteRangeGT(0.5)
	require.NoError(t, err)
	require.Equal(t, 99, removed) // i/200 > 0.5 for i in 101..199

	for i := 101; i < 200; i++ {
		got, err := tree.Search(float32(i) / 200)
		require.NoError(t, err)
		require.Empty(t, got)
	}
	for i := 0; i <= 100; i++ {
		got, err := tree.Search(float32(i) / 200)
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
}

func TestInvariantsHoldAfterManyOps(t *testing.T) {
	tree := NewBPlusTree(4)
	for i := 0; i < 500; i++ {
		require.NoError(t, tree.Insert(float32(i%97), loc(0, uint16(i))))
	}
	assertInvariants(t, tree)

	_, err := tree.DeleteRangeGT(50)
	require.NoError(t, err)
	assertInvariants(t, tree)
}

func TestBulkLoadEquivalentToRepeatedInsert(t *testing.T) {
	pairs := []KeyLocator{}
	sequential := NewBPlusTree(4)
	for i := 0; i < 50; i++ {
		k := float32(i % 13)
		l := loc(0, uint16(i))
		pairs = append(pairs, KeyLocator{Key: k, Locator: l})
	}
	// pairs must be presented in sorted-by-key order for BulkLoad's contract;
	// sort a copy the way the engine would before bulk loading.
	sortPairsByKey(pairs)
	for _, p := range pairs {
		require.NoError(t, sequential.Insert(p.Key, p.Locator))
	}

	bulked := NewBPlusTree(4)
	require.NoError(t, bulked.BulkLoad(pairs))

	for k := float32(0); k < 13; k++ {
		want, err := sequential.Search(k)
		require.NoError(t, err)
		got, err := bulked.Search(k)
		require.NoError(t, err)
		require.ElementsMatch(t, want, got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tree := NewBPlusTree(4)
	for i := 0; i < 60; i++ {
		require.NoError(t, tree.Insert(float32(i)/60, loc(0, uint16(i))))
	}

	path := filepath.Join(t.TempDir(), "index.bplu")
	require.NoError(t, tree.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		k := float32(i) / 60
		want, err := tree.Search(k)
		require.NoError(t, err)
		got, err := loaded.Search(k)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bplu")
	require.NoError(t, os.WriteFile(path, []byte{0, 1, 2, 3, 4, 5, 6, 7}, 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrCorruptIndex)
}

func sortPairsByKey(pairs []KeyLocator) {
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].Key > pairs[j].Key; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
}

func assertInvariants(t *testing.T, tree *BPlusTree) {
	t.Helper()

	root := tree.node(tree.rootID)
	require.True(t, root.isRoot)

	var walk func(n *node, depth int) int
	leafDepths := map[int]bool{}
	walk = func(n *node, depth int) int {
		if !n.isRoot {
			require.GreaterOrEqual(t, len(n.keys), tree.minKeys())
		}
		require.LessOrEqual(t, len(n.keys), tree.order)

		for i := 1; i < len(n.keys); i++ {
			require.Less(t, n.keys[i-1], n.keys[i])
		}

		if n.isLeaf {
			leafDepths[depth] = true
			return depth
		}
		require.Equal(t, len(n.keys)+1, len(n.children))
		for _, c := range n.children {
			walk(tree.node(c), depth+1)
		}
		return depth
	}
	walk(root, 0)
	require.Len(t, leafDepths, 1, "all leaves must be at the same depth")
}
