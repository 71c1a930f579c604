// Package bptree implements the primary index: an order-parameterized B+ tree
// mapping unique keys to opaque payloads, with chained leaves for ordered
// scans.
//
// Nodes live in an arena owned by the tree and refer to each other (parent,
// children, next leaf) by slot index. Slots released by merges are recycled.
// The tree does no locking; the owning table serializes access.
package bptree

import (
	"errors"
	"fmt"
	"sort"

	"ledgerdb/pkg/common"
)

var ErrDuplicateKey = errors.New("bptree: duplicate key")

const MinOrder = 3

type nodeID int32

const nilNode nodeID = -1

type node struct {
	leaf     bool
	keys     []common.KeyType
	vals     []common.ValueType // leaf only, parallel to keys
	children []nodeID           // internal only, len(keys)+1
	parent   nodeID
	next     nodeID // leaf only
}

type Tree struct {
	order int
	nodes []node
	free  []nodeID
	root  nodeID
}

// New returns an empty tree. Every non-root node holds at most order-1 keys.
func New(order int) *Tree {
	if order < MinOrder {
		panic(fmt.Sprintf("bptree: order %d below minimum %d", order, MinOrder))
	}
	t := &Tree{order: order}
	t.root = t.alloc(true)
	return t
}

func (t *Tree) Order() int {
	return t.order
}

func (t *Tree) maxKeys() int {
	return t.order - 1
}

// minKeys is ceil(order/2)-1, shared by leaves and internal nodes.
func (t *Tree) minKeys() int {
	m := (t.order+1)/2 - 1
	if m < 1 {
		m = 1
	}
	return m
}

func (t *Tree) alloc(leaf bool) nodeID {
	n := node{leaf: leaf, parent: nilNode, next: nilNode}
	if k := len(t.free); k > 0 {
		id := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return nodeID(len(t.nodes) - 1)
}

func (t *Tree) release(id nodeID) {
	t.nodes[id] = node{parent: nilNode, next: nilNode}
	t.free = append(t.free, id)
}

// childSlot returns the child index to descend into for key: the number of
// separators <= key, since a separator is the smallest key of its right child.
func childSlot(keys []common.KeyType, key common.KeyType) int {
	return sort.Search(len(keys), func(i int) bool { return keys[i] > key })
}

func keySlot(keys []common.KeyType, key common.KeyType) int {
	return sort.Search(len(keys), func(i int) bool { return keys[i] >= key })
}

func (t *Tree) findLeaf(key common.KeyType) nodeID {
	id := t.root
	for !t.nodes[id].leaf {
		n := &t.nodes[id]
		id = n.children[childSlot(n.keys, key)]
	}
	return id
}

func (t *Tree) leftmostLeaf() nodeID {
	id := t.root
	for !t.nodes[id].leaf {
		id = t.nodes[id].children[0]
	}
	return id
}

func (t *Tree) indexOfChild(parent, child nodeID) int {
	for i, c := range t.nodes[parent].children {
		if c == child {
			return i
		}
	}
	panic(fmt.Sprintf("bptree: node %d is not a child of its parent %d", child, parent))
}

// Search returns the payload stored under key.
func (t *Tree) Search(key common.KeyType) (common.ValueType, bool) {
	n := &t.nodes[t.findLeaf(key)]
	i := keySlot(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		return n.vals[i], true
	}
	return nil, false
}

// Insert adds key with its payload. An existing key is left untouched and
// ErrDuplicateKey is returned.
func (t *Tree) Insert(key common.KeyType, val common.ValueType) error {
	id := t.findLeaf(key)
	n := &t.nodes[id]
	i := keySlot(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, key)
	}
	n.keys = insertAt(n.keys, i, key)
	n.vals = insertAt(n.vals, i, val)
	if len(n.keys) > t.maxKeys() {
		t.splitLeaf(id)
	}
	return nil
}

// Update replaces the payload of an existing key.
func (t *Tree) Update(key common.KeyType, val common.ValueType) bool {
	n := &t.nodes[t.findLeaf(key)]
	i := keySlot(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		n.vals[i] = val
		return true
	}
	return false
}

func (t *Tree) splitLeaf(id nodeID) {
	rightID := t.alloc(true)
	n, r := &t.nodes[id], &t.nodes[rightID]

	mid := len(n.keys) / 2
	r.keys = append([]common.KeyType(nil), n.keys[mid:]...)
	r.vals = append([]common.ValueType(nil), n.vals[mid:]...)
	clear(n.vals[mid:])
	n.keys = n.keys[:mid]
	n.vals = n.vals[:mid]

	r.next = n.next
	n.next = rightID
	r.parent = n.parent

	t.insertIntoParent(id, r.keys[0], rightID)
}

func (t *Tree) splitInternal(id nodeID) {
	rightID := t.alloc(false)
	n, r := &t.nodes[id], &t.nodes[rightID]

	mid := len(n.keys) / 2
	sep := n.keys[mid]
	r.keys = append([]common.KeyType(nil), n.keys[mid+1:]...)
	r.children = append([]nodeID(nil), n.children[mid+1:]...)
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	r.parent = n.parent

	for _, c := range r.children {
		t.nodes[c].parent = rightID
	}
	t.insertIntoParent(id, sep, rightID)
}

func (t *Tree) insertIntoParent(left nodeID, sep common.KeyType, right nodeID) {
	p := t.nodes[left].parent
	if p == nilNode {
		rootID := t.alloc(false)
		root := &t.nodes[rootID]
		root.keys = []common.KeyType{sep}
		root.children = []nodeID{left, right}
		t.nodes[left].parent = rootID
		t.nodes[right].parent = rootID
		t.root = rootID
		return
	}

	i := t.indexOfChild(p, left)
	pn := &t.nodes[p]
	pn.keys = insertAt(pn.keys, i, sep)
	pn.children = insertAt(pn.children, i+1, right)
	t.nodes[right].parent = p

	if len(pn.keys) > t.maxKeys() {
		t.splitInternal(p)
	}
}

// Delete removes key and reports whether it was present.
func (t *Tree) Delete(key common.KeyType) bool {
	id := t.findLeaf(key)
	n := &t.nodes[id]
	i := keySlot(n.keys, key)
	if i >= len(n.keys) || n.keys[i] != key {
		return false
	}
	n.keys = removeAt(n.keys, i)
	n.vals = removeAt(n.vals, i)

	if id != t.root && len(n.keys) < t.minKeys() {
		t.rebalance(id)
	}
	return true
}

// rebalance fixes an underflowing non-root node: borrow from the left
// sibling, then from the right one, then merge left, then merge right.
func (t *Tree) rebalance(id nodeID) {
	p := t.nodes[id].parent
	i := t.indexOfChild(p, id)
	siblings := t.nodes[p].children

	if i > 0 && len(t.nodes[siblings[i-1]].keys) > t.minKeys() {
		t.borrowFromLeft(p, i)
		return
	}
	if i+1 < len(siblings) && len(t.nodes[siblings[i+1]].keys) > t.minKeys() {
		t.borrowFromRight(p, i)
		return
	}
	if i > 0 {
		t.merge(p, i-1)
	} else {
		t.merge(p, i)
	}
}

func (t *Tree) borrowFromLeft(p nodeID, i int) {
	pn := &t.nodes[p]
	curID, leftID := pn.children[i], pn.children[i-1]
	cur, left := &t.nodes[curID], &t.nodes[leftID]
	last := len(left.keys) - 1

	if cur.leaf {
		cur.keys = insertAt(cur.keys, 0, left.keys[last])
		cur.vals = insertAt(cur.vals, 0, left.vals[last])
		left.vals[last] = nil
		left.keys = left.keys[:last]
		left.vals = left.vals[:last]
		pn.keys[i-1] = cur.keys[0]
		return
	}

	moved := left.children[last+1]
	cur.keys = insertAt(cur.keys, 0, pn.keys[i-1])
	cur.children = insertAt(cur.children, 0, moved)
	pn.keys[i-1] = left.keys[last]
	left.keys = left.keys[:last]
	left.children = left.children[:last+1]
	t.nodes[moved].parent = curID
}

func (t *Tree) borrowFromRight(p nodeID, i int) {
	pn := &t.nodes[p]
	curID, rightID := pn.children[i], pn.children[i+1]
	cur, right := &t.nodes[curID], &t.nodes[rightID]

	if cur.leaf {
		cur.keys = append(cur.keys, right.keys[0])
		cur.vals = append(cur.vals, right.vals[0])
		right.keys = removeAt(right.keys, 0)
		right.vals = removeAt(right.vals, 0)
		pn.keys[i] = right.keys[0]
		return
	}

	moved := right.children[0]
	cur.keys = append(cur.keys, pn.keys[i])
	cur.children = append(cur.children, moved)
	pn.keys[i] = right.keys[0]
	right.keys = removeAt(right.keys, 0)
	right.children = removeAt(right.children, 0)
	t.nodes[moved].parent = curID
}

// merge folds child i+1 of p into child i and drops their separator.
func (t *Tree) merge(p nodeID, i int) {
	pn := &t.nodes[p]
	leftID, rightID := pn.children[i], pn.children[i+1]
	left, right := &t.nodes[leftID], &t.nodes[rightID]

	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.vals = append(left.vals, right.vals...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, pn.keys[i])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
		for _, c := range right.children {
			t.nodes[c].parent = leftID
		}
	}
	if len(left.keys) > t.maxKeys() {
		panic(fmt.Sprintf("bptree: merge produced %d keys with order %d", len(left.keys), t.order))
	}

	pn.keys = removeAt(pn.keys, i)
	pn.children = removeAt(pn.children, i+1)
	t.release(rightID)

	if p == t.root {
		if len(pn.keys) == 0 {
			t.root = leftID
			t.nodes[leftID].parent = nilNode
			t.release(p)
		}
		return
	}
	if len(pn.keys) < t.minKeys() {
		t.rebalance(p)
	}
}

// RangeSearch returns the records with low <= key <= high in ascending order.
func (t *Tree) RangeSearch(low, high common.KeyType) []common.Record {
	if low > high {
		return nil
	}
	var out []common.Record
	id := t.findLeaf(low)
	for id != nilNode {
		n := &t.nodes[id]
		for i := keySlot(n.keys, low); i < len(n.keys); i++ {
			if n.keys[i] > high {
				return out
			}
			out = append(out, common.Record{Key: n.keys[i], Value: n.vals[i]})
		}
		id = n.next
	}
	return out
}

// Ascend calls fn for every record in key order until fn returns false.
func (t *Tree) Ascend(fn func(key common.KeyType, val common.ValueType) bool) {
	for id := t.leftmostLeaf(); id != nilNode; id = t.nodes[id].next {
		n := &t.nodes[id]
		for i, k := range n.keys {
			if !fn(k, n.vals[i]) {
				return
			}
		}
	}
}

// Entries lists all records in ascending key order.
func (t *Tree) Entries() []common.Record {
	var out []common.Record
	t.Ascend(func(k common.KeyType, v common.ValueType) bool {
		out = append(out, common.Record{Key: k, Value: v})
		return true
	})
	return out
}

func (t *Tree) Keys() []common.KeyType {
	var out []common.KeyType
	t.Ascend(func(k common.KeyType, _ common.ValueType) bool {
		out = append(out, k)
		return true
	})
	return out
}

// Size counts records by walking the leaf chain. It is O(n).
func (t *Tree) Size() int {
	count := 0
	for id := t.leftmostLeaf(); id != nilNode; id = t.nodes[id].next {
		count += len(t.nodes[id].keys)
	}
	return count
}

// Max returns the largest key, if any.
func (t *Tree) Max() (common.KeyType, bool) {
	id := t.root
	for !t.nodes[id].leaf {
		n := &t.nodes[id]
		id = n.children[len(n.children)-1]
	}
	n := &t.nodes[id]
	if len(n.keys) == 0 {
		return 0, false
	}
	return n.keys[len(n.keys)-1], true
}

func (t *Tree) Height() int {
	h := 1
	for id := t.root; !t.nodes[id].leaf; id = t.nodes[id].children[0] {
		h++
	}
	return h
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	copy(s[i:], s[i+1:])
	var zero T
	s[len(s)-1] = zero
	return s[:len(s)-1]
}
