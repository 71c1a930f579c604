package bptree

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/btree"
	fuzz "github.com/google/gofuzz"

	"ledgerdb/pkg/common"
)

func val(k common.KeyType) common.ValueType {
	return common.ValueType(fmt.Sprintf("v%d", k))
}

// checkInvariants walks the whole arena reachable from the root and fails the
// test on any structural violation.
func checkInvariants(t *testing.T, tr *Tree) {
	t.Helper()

	leafDepth := -1
	var leaves []nodeID
	var walk func(id nodeID, depth int, lo, hi *common.KeyType)
	walk = func(id nodeID, depth int, lo, hi *common.KeyType) {
		n := &tr.nodes[id]
		if id != tr.root {
			if len(n.keys) < tr.minKeys() || len(n.keys) > tr.maxKeys() {
				t.Fatalf("node %d holds %d keys, want [%d,%d]", id, len(n.keys), tr.minKeys(), tr.maxKeys())
			}
		} else if len(n.keys) > tr.maxKeys() {
			t.Fatalf("root holds %d keys, max %d", len(n.keys), tr.maxKeys())
		}
		for i := 1; i < len(n.keys); i++ {
			if n.keys[i-1] >= n.keys[i] {
				t.Fatalf("node %d keys not strictly ascending: %v", id, n.keys)
			}
		}
		for _, k := range n.keys {
			if (lo != nil && k < *lo) || (hi != nil && k >= *hi) {
				t.Fatalf("node %d key %d outside separator range", id, k)
			}
		}
		if n.leaf {
			if len(n.vals) != len(n.keys) {
				t.Fatalf("leaf %d has %d keys and %d values", id, len(n.keys), len(n.vals))
			}
			if leafDepth == -1 {
				leafDepth = depth
			} else if leafDepth != depth {
				t.Fatalf("leaf %d at depth %d, others at %d", id, depth, leafDepth)
			}
			leaves = append(leaves, id)
			return
		}
		if len(n.children) != len(n.keys)+1 {
			t.Fatalf("internal %d has %d keys and %d children", id, len(n.keys), len(n.children))
		}
		if id == tr.root && len(n.keys) == 0 {
			t.Fatalf("internal root without keys")
		}
		for i, c := range n.children {
			if tr.nodes[c].parent != id {
				t.Fatalf("child %d of %d points at parent %d", c, id, tr.nodes[c].parent)
			}
			clo, chi := lo, hi
			if i > 0 {
				clo = &n.keys[i-1]
			}
			if i < len(n.keys) {
				chi = &n.keys[i]
			}
			walk(c, depth+1, clo, chi)
		}
	}
	if tr.nodes[tr.root].parent != nilNode {
		t.Fatalf("root has a parent")
	}
	walk(tr.root, 0, nil, nil)

	for i, id := range leaves {
		want := nilNode
		if i+1 < len(leaves) {
			want = leaves[i+1]
		}
		if tr.nodes[id].next != want {
			t.Fatalf("leaf %d links to %d, want %d", id, tr.nodes[id].next, want)
		}
	}
}

func leafKeys(tr *Tree) [][]common.KeyType {
	var out [][]common.KeyType
	for id := tr.leftmostLeaf(); id != nilNode; id = tr.nodes[id].next {
		out = append(out, append([]common.KeyType(nil), tr.nodes[id].keys...))
	}
	return out
}

func TestOrderFourSplitAndRange(t *testing.T) {
	tr := New(4)
	for k := common.KeyType(1); k <= 4; k++ {
		if err := tr.Insert(k, val(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	got := leafKeys(tr)
	if fmt.Sprint(got) != "[[1 2] [3 4]]" {
		t.Fatalf("leaves after 4 inserts: %v", got)
	}
	if tr.Height() != 2 {
		t.Fatalf("height after split: %d", tr.Height())
	}

	if err := tr.Insert(5, val(5)); err != nil {
		t.Fatalf("insert 5: %v", err)
	}
	if got := leafKeys(tr); fmt.Sprint(got) != "[[1 2] [3 4 5]]" {
		t.Fatalf("leaves after 5 inserts: %v", got)
	}
	checkInvariants(t, tr)

	recs := tr.RangeSearch(2, 4)
	if len(recs) != 3 || recs[0].Key != 2 || recs[1].Key != 3 || recs[2].Key != 4 {
		t.Fatalf("range 2..4: %v", recs)
	}
	if string(recs[1].Value) != "v3" {
		t.Fatalf("range payload: %q", recs[1].Value)
	}
}

func TestDeleteKeepsNeighboursReachable(t *testing.T) {
	tr := New(4)
	for k := common.KeyType(1); k <= 5; k++ {
		tr.Insert(k, val(k))
	}
	if !tr.Delete(2) {
		t.Fatalf("delete 2 reported missing")
	}
	checkInvariants(t, tr)
	// [1] still meets the leaf minimum, so both leaves survive.
	if tr.Height() != 2 {
		t.Fatalf("height %d after delete", tr.Height())
	}
	if got := tr.RangeSearch(2, 4); len(got) != 2 || got[0].Key != 3 || got[1].Key != 4 {
		t.Fatalf("range from an absent low key: %v", got)
	}

	if _, ok := tr.Search(2); ok {
		t.Fatalf("key 2 still found")
	}
	for _, k := range []common.KeyType{1, 3, 4, 5} {
		if v, ok := tr.Search(k); !ok || string(v) != string(val(k)) {
			t.Fatalf("search %d: ok=%v v=%q", k, ok, v)
		}
	}

	// Emptying the first leaf forces a borrow from its right sibling.
	tr.Delete(1)
	checkInvariants(t, tr)
	if got := tr.Keys(); fmt.Sprint(got) != "[3 4 5]" {
		t.Fatalf("keys after deleting 1: %v", got)
	}

	// Draining the first leaf again ends in a merge that collapses the root.
	tr.Delete(3)
	tr.Delete(4)
	checkInvariants(t, tr)
	if tr.Height() != 1 {
		t.Fatalf("height after collapse: %d", tr.Height())
	}
	if v, ok := tr.Search(5); !ok || string(v) != "v5" {
		t.Fatalf("search 5 after collapse: ok=%v v=%q", ok, v)
	}
}

func TestDuplicateInsertRejected(t *testing.T) {
	tr := New(4)
	tr.Insert(7, common.ValueType("first"))
	err := tr.Insert(7, common.ValueType("second"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if v, _ := tr.Search(7); string(v) != "first" {
		t.Fatalf("duplicate insert changed payload to %q", v)
	}
	if tr.Size() != 1 {
		t.Fatalf("size after duplicate insert: %d", tr.Size())
	}

	if !tr.Update(7, common.ValueType("second")) {
		t.Fatalf("update of existing key failed")
	}
	if v, _ := tr.Search(7); string(v) != "second" {
		t.Fatalf("update did not replace payload: %q", v)
	}
	if tr.Update(8, nil) {
		t.Fatalf("update of missing key succeeded")
	}
}

func TestEmptyTree(t *testing.T) {
	tr := New(3)
	if tr.Size() != 0 || len(tr.Entries()) != 0 {
		t.Fatalf("new tree not empty")
	}
	if _, ok := tr.Search(1); ok {
		t.Fatalf("found key in empty tree")
	}
	if tr.Delete(1) {
		t.Fatalf("deleted key from empty tree")
	}
	if _, ok := tr.Max(); ok {
		t.Fatalf("max of empty tree")
	}
	if r := tr.RangeSearch(5, 1); r != nil {
		t.Fatalf("inverted range returned %v", r)
	}
}

func TestNewPanicsOnTinyOrder(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for order 2")
		}
	}()
	New(2)
}

func TestArenaSlotsAreRecycled(t *testing.T) {
	tr := New(3)
	for k := common.KeyType(0); k < 200; k++ {
		tr.Insert(k, val(k))
	}
	peak := len(tr.nodes)
	for k := common.KeyType(0); k < 200; k++ {
		tr.Delete(k)
	}
	checkInvariants(t, tr)
	for k := common.KeyType(0); k < 200; k++ {
		tr.Insert(k, val(k))
	}
	checkInvariants(t, tr)
	if len(tr.nodes) > peak {
		t.Fatalf("arena grew from %d to %d slots on refill", peak, len(tr.nodes))
	}
}

// TestRandomAgainstReference replays random insert/delete interleavings
// against google/btree and checks structure and contents after every step.
func TestRandomAgainstReference(t *testing.T) {
	for _, order := range []int{3, 4, 5, 8, 33} {
		for seed := int64(1); seed <= 4; seed++ {
			t.Run(fmt.Sprintf("order=%d/seed=%d", order, seed), func(t *testing.T) {
				var keys []int16
				fuzz.NewWithSeed(seed).NilChance(0).NumElements(50, 400).Fuzz(&keys)
				rnd := rand.New(rand.NewSource(seed))

				tr := New(order)
				ref := btree.NewOrderedG[common.KeyType](4)
				for _, raw := range keys {
					k := common.KeyType(raw % 512)
					if rnd.Intn(3) == 0 {
						_, had := ref.Delete(k)
						if got := tr.Delete(k); got != had {
							t.Fatalf("delete %d: tree=%v ref=%v", k, got, had)
						}
					} else {
						_, had := ref.ReplaceOrInsert(k)
						err := tr.Insert(k, val(k))
						if had != (err != nil) {
							t.Fatalf("insert %d: err=%v ref had=%v", k, err, had)
						}
					}
					checkInvariants(t, tr)
				}

				var want []common.KeyType
				ref.Ascend(func(k common.KeyType) bool {
					want = append(want, k)
					return true
				})
				if fmt.Sprint(tr.Keys()) != fmt.Sprint(want) {
					t.Fatalf("keys differ:\n tree=%v\n  ref=%v", tr.Keys(), want)
				}
				if tr.Size() != ref.Len() {
					t.Fatalf("size %d, ref %d", tr.Size(), ref.Len())
				}

				for i := 0; i < 50; i++ {
					a := common.KeyType(rnd.Intn(600) - 40)
					b := a + common.KeyType(rnd.Intn(120))
					var exp []common.KeyType
					for _, k := range want {
						if k >= a && k <= b {
							exp = append(exp, k)
						}
					}
					var got []common.KeyType
					for _, r := range tr.RangeSearch(a, b) {
						got = append(got, r.Key)
					}
					if fmt.Sprint(got) != fmt.Sprint(exp) {
						t.Fatalf("range %d..%d: got %v want %v", a, b, got, exp)
					}
				}

				for _, k := range want {
					if !tr.Delete(k) {
						t.Fatalf("final delete %d missing", k)
					}
					if _, ok := tr.Search(k); ok {
						t.Fatalf("key %d found after delete", k)
					}
					checkInvariants(t, tr)
				}
				if tr.Height() != 1 || tr.Size() != 0 {
					t.Fatalf("drained tree: height=%d size=%d", tr.Height(), tr.Size())
				}
			})
		}
	}
}

func TestAscendStopsEarly(t *testing.T) {
	tr := New(4)
	for k := common.KeyType(10); k > 0; k-- {
		tr.Insert(k, val(k))
	}
	var seen []common.KeyType
	tr.Ascend(func(k common.KeyType, _ common.ValueType) bool {
		seen = append(seen, k)
		return k < 3
	})
	if fmt.Sprint(seen) != "[1 2 3]" {
		t.Fatalf("ascend visited %v", seen)
	}
	if m, ok := tr.Max(); !ok || m != 10 {
		t.Fatalf("max: %d %v", m, ok)
	}
}
