// Package exthash implements the secondary index: an extensible hash
// multi-map from an int32 hash key to an unordered collection of payloads.
//
// The directory holds 2^globalDepth slots addressed by the low bits of the
// hash key. Overflowing buckets split locally and the directory doubles only
// when a split needs one more bit than it currently has. Removal never merges
// buckets or shrinks the directory.
package exthash

import (
	"bytes"
	"fmt"

	"ledgerdb/pkg/common"
)

const (
	DefaultCapacity = 16

	// MaxGlobalDepth caps the directory at 2^20 slots. Buckets that would need
	// more bits to split are left over capacity.
	MaxGlobalDepth = 20
)

type bucket struct {
	localDepth uint
	entries    []common.Entry
}

type Index struct {
	capacity    int
	globalDepth uint
	dir         []int
	buckets     []*bucket
	size        int
}

func New(capacity int) *Index {
	if capacity < 1 {
		panic(fmt.Sprintf("exthash: bucket capacity %d must be positive", capacity))
	}
	return &Index{
		capacity: capacity,
		dir:      []int{0},
		buckets:  []*bucket{{}},
	}
}

func (x *Index) slot(h common.KeyType) int {
	return int(uint32(h) & (1<<x.globalDepth - 1))
}

// Insert adds a (hash, payload) pair. Duplicates of either are kept.
func (x *Index) Insert(h common.KeyType, val common.ValueType) {
	id := x.dir[x.slot(h)]
	b := x.buckets[id]
	b.entries = append(b.entries, common.Entry{Hash: h, Value: val})
	x.size++
	x.splitIfFull(id)
}

// splitIfFull splits bucket id until neither half is over capacity or no
// further split is possible.
func (x *Index) splitIfFull(id int) {
	if len(x.buckets[id].entries) <= x.capacity {
		return
	}
	newID, ok := x.split(id)
	if !ok {
		return
	}
	x.splitIfFull(id)
	x.splitIfFull(newID)
}

// split divides bucket id on its next hash bit and returns the new bucket.
func (x *Index) split(id int) (int, bool) {
	b := x.buckets[id]
	if !distinguishable(b.entries) {
		return 0, false
	}
	if b.localDepth == x.globalDepth {
		if x.globalDepth >= MaxGlobalDepth {
			return 0, false
		}
		x.dir = append(x.dir, x.dir...)
		x.globalDepth++
	}

	bit := uint32(1) << b.localDepth
	b.localDepth++
	nb := &bucket{localDepth: b.localDepth}
	newID := len(x.buckets)
	x.buckets = append(x.buckets, nb)

	kept := b.entries[:0]
	for _, e := range b.entries {
		if uint32(e.Hash)&bit != 0 {
			nb.entries = append(nb.entries, e)
		} else {
			kept = append(kept, e)
		}
	}
	clear(b.entries[len(kept):])
	b.entries = kept

	for i, owner := range x.dir {
		if owner == id && uint32(i)&bit != 0 {
			x.dir[i] = newID
		}
	}
	return newID, true
}

func distinguishable(entries []common.Entry) bool {
	if len(entries) < 2 {
		return false
	}
	for _, e := range entries[1:] {
		if e.Hash != entries[0].Hash {
			return true
		}
	}
	return false
}

// Search returns every payload stored under exactly h.
func (x *Index) Search(h common.KeyType) []common.ValueType {
	var out []common.ValueType
	for _, e := range x.buckets[x.dir[x.slot(h)]].entries {
		if e.Hash == h {
			out = append(out, e.Value)
		}
	}
	return out
}

// RemoveSpecific drops one entry whose hash is h and whose payload equals val.
func (x *Index) RemoveSpecific(h common.KeyType, val common.ValueType) bool {
	b := x.buckets[x.dir[x.slot(h)]]
	for i, e := range b.entries {
		if e.Hash == h && bytes.Equal(e.Value, val) {
			last := len(b.entries) - 1
			b.entries[i] = b.entries[last]
			b.entries[last] = common.Entry{}
			b.entries = b.entries[:last]
			x.size--
			return true
		}
	}
	return false
}

// Entries lists every pair, bucket by bucket.
func (x *Index) Entries() []common.Entry {
	out := make([]common.Entry, 0, x.size)
	for _, b := range x.buckets {
		out = append(out, b.entries...)
	}
	return out
}

func (x *Index) Len() int {
	return x.size
}

func (x *Index) GlobalDepth() int {
	return int(x.globalDepth)
}

func (x *Index) BucketCount() int {
	return len(x.buckets)
}

func (x *Index) Capacity() int {
	return x.capacity
}

// String renders the directory for debugging.
func (x *Index) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "exthash global=%d buckets=%d entries=%d\n", x.globalDepth, len(x.buckets), x.size)
	for i, id := range x.dir {
		b := x.buckets[id]
		fmt.Fprintf(&buf, "  %0*b -> #%d local=%d n=%d\n", max(int(x.globalDepth), 1), i, id, b.localDepth, len(b.entries))
	}
	return buf.String()
}
