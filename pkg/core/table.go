package core

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"ledgerdb/pkg/common"
	"ledgerdb/pkg/core/bptree"
	"ledgerdb/pkg/core/exthash"
	"ledgerdb/pkg/storage"
)

var ErrKeysExhausted = errors.New("key counter exhausted")

// Table is one primary index plus its declared secondary indices, an
// auto-increment key counter and the raw record log everything is rebuilt
// from. All methods are safe for concurrent use.
type Table struct {
	store     *Store
	def       *TableDef
	mu        sync.RWMutex
	primary   *bptree.Tree
	secondary []*exthash.Index // parallel to def.indices
	counter   common.KeyType   // next key to hand out
	log       *storage.RecordLog

	dirty   atomic.Bool
	flushMu sync.Mutex
}

func newTable(s *Store, def *TableDef, log *storage.RecordLog) *Table {
	t := &Table{store: s, def: def, log: log}
	t.reset(1)
	return t
}

// reset drops all in-memory state. Callers hold mu or own t exclusively.
func (t *Table) reset(counter common.KeyType) {
	t.primary = bptree.New(t.store.opt.TreeOrder)
	t.secondary = make([]*exthash.Index, len(t.def.indices))
	for i := range t.secondary {
		t.secondary[i] = exthash.New(t.store.opt.BucketCapacity)
	}
	t.counter = max(counter, 1)
}

func (t *Table) Name() string {
	return t.def.name
}

func (t *Table) Def() *TableDef {
	return t.def
}

// NextKey reserves a fresh key. Reserved keys are never handed out again,
// whether or not a record is ever stored under them.
func (t *Table) NextKey() (common.KeyType, error) {
	t.mu.Lock()
	k, err := t.nextKeyLocked()
	if err == nil {
		t.dirty.Store(true)
	}
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}
	t.store.persist(t)
	return k, nil
}

func (t *Table) nextKeyLocked() (common.KeyType, error) {
	if t.counter == math.MaxInt32 {
		return 0, tableErrf(t.def.name, "", t.counter, ErrKeysExhausted, "")
	}
	k := t.counter
	t.counter++
	return k, nil
}

// Counter is the key the next insert will receive.
func (t *Table) Counter() common.KeyType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counter
}

// Insert stores val under a freshly allocated key.
func (t *Table) Insert(val common.ValueType) (common.KeyType, error) {
	t.mu.Lock()
	key, err := t.nextKeyLocked()
	if err == nil {
		err = t.insertLocked(key, val)
	}
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}
	t.store.afterWrite(t)
	return key, nil
}

// InsertWithKey stores val under a caller-chosen key, normally one obtained
// from NextKey. The counter moves past key if needed.
func (t *Table) InsertWithKey(key common.KeyType, val common.ValueType) error {
	t.mu.Lock()
	err := t.insertLocked(key, val)
	if err == nil && key >= t.counter {
		t.counter = key + 1
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.store.afterWrite(t)
	return nil
}

func (t *Table) insertLocked(key common.KeyType, val common.ValueType) error {
	if _, found := t.primary.Search(key); found {
		return tableErrf(t.def.name, "", key, bptree.ErrDuplicateKey, "insert")
	}
	val = clonePayload(val)
	entries, err := t.def.buildEntries(common.Record{Key: key, Value: val})
	if err != nil {
		return err
	}
	if err := t.log.AppendPut(key, val); err != nil {
		return tableErrf(t.def.name, "", key, err, "insert")
	}
	if err := t.primary.Insert(key, val); err != nil {
		panic(err)
	}
	t.applyEntries(key, nil, entries)
	t.dirty.Store(true)
	return nil
}

func (t *Table) Get(key common.KeyType) (common.ValueType, bool) {
	t.store.stats.RecordRead()
	t.mu.RLock()
	val, found := t.primary.Search(key)
	t.mu.RUnlock()
	if !found {
		return nil, false
	}
	t.store.stats.RecordHit()
	return clonePayload(val), true
}

// Payloads handed to callers are copies; the indices derive their entries
// from the stored bytes.
func clonePayload(v common.ValueType) common.ValueType {
	return append(common.ValueType{}, v...)
}

func cloneRecords(recs []common.Record) []common.Record {
	for i := range recs {
		recs[i].Value = clonePayload(recs[i].Value)
	}
	return recs
}

// Update replaces the payload of an existing record and moves its secondary
// entries to match. It reports false when key is absent.
func (t *Table) Update(key common.KeyType, val common.ValueType) (bool, error) {
	t.mu.Lock()
	ok, err := t.updateLocked(key, val)
	t.mu.Unlock()
	if ok && err == nil {
		t.store.afterWrite(t)
	}
	return ok, err
}

func (t *Table) updateLocked(key common.KeyType, val common.ValueType) (bool, error) {
	old, found := t.primary.Search(key)
	if !found {
		return false, nil
	}
	val = clonePayload(val)
	oldEntries, err := t.def.buildEntries(common.Record{Key: key, Value: old})
	if err != nil {
		return true, err
	}
	newEntries, err := t.def.buildEntries(common.Record{Key: key, Value: val})
	if err != nil {
		return true, err
	}
	if err := t.log.AppendPut(key, val); err != nil {
		return true, tableErrf(t.def.name, "", key, err, "update")
	}
	t.primary.Update(key, val)
	t.applyEntries(key, oldEntries, newEntries)
	t.dirty.Store(true)
	return true, nil
}

// Delete removes a record and its secondary entries. It reports false when
// key is absent.
func (t *Table) Delete(key common.KeyType) (bool, error) {
	t.mu.Lock()
	ok, err := t.deleteLocked(key)
	t.mu.Unlock()
	if ok && err == nil {
		t.store.afterWrite(t)
	}
	return ok, err
}

func (t *Table) deleteLocked(key common.KeyType) (bool, error) {
	old, found := t.primary.Search(key)
	if !found {
		return false, nil
	}
	oldEntries, err := t.def.buildEntries(common.Record{Key: key, Value: old})
	if err != nil {
		return true, err
	}
	if err := t.log.AppendDelete(key); err != nil {
		return true, tableErrf(t.def.name, "", key, err, "delete")
	}
	t.primary.Delete(key)
	t.applyEntries(key, oldEntries, nil)
	t.dirty.Store(true)
	return true, nil
}

func (t *Table) applyEntries(key common.KeyType, old, cur []IndexEntry) {
	removed, added := diffEntries(old, cur)
	payload := common.KeyPayload(key)
	for _, e := range removed {
		if !t.secondary[e.Index.pos].RemoveSpecific(e.Hash, payload) {
			panic(tableErrf(t.def.name, e.Index.name, key, nil, "secondary entry %d missing", e.Hash))
		}
	}
	for _, e := range added {
		t.secondary[e.Index.pos].Insert(e.Hash, payload)
	}
}

// Range returns the records with low <= key <= high in key order.
func (t *Table) Range(low, high common.KeyType) []common.Record {
	t.store.stats.RecordRead()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneRecords(t.primary.RangeSearch(low, high))
}

func (t *Table) All() []common.Record {
	t.store.stats.RecordRead()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneRecords(t.primary.Entries())
}

func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.primary.Size()
}

func (t *Table) index(name string) (*Index, error) {
	idx := t.def.indicesByName[name]
	if idx == nil {
		return nil, &TableError{Table: t.def.name, Index: name, Err: ErrUnknownIndex}
	}
	return idx, nil
}

// Lookup returns the primary keys stored under hash in the named index, in no
// particular order. When hash is a hash code the caller must check the
// records for collisions.
func (t *Table) Lookup(index string, hash common.KeyType) ([]common.KeyType, error) {
	idx, err := t.index(index)
	if err != nil {
		return nil, err
	}
	t.store.stats.RecordRead()
	t.mu.RLock()
	payloads := t.secondary[idx.pos].Search(hash)
	t.mu.RUnlock()

	keys := make([]common.KeyType, 0, len(payloads))
	for _, p := range payloads {
		k, ok := common.PayloadKey(p)
		if !ok {
			panic(tableErrf(t.def.name, index, hash, nil, "malformed secondary payload %x", p))
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// LookupRecords is Lookup followed by primary reads under one read lock.
func (t *Table) LookupRecords(index string, hash common.KeyType) ([]common.Record, error) {
	idx, err := t.index(index)
	if err != nil {
		return nil, err
	}
	t.store.stats.RecordRead()
	t.mu.RLock()
	defer t.mu.RUnlock()
	payloads := t.secondary[idx.pos].Search(hash)
	recs := make([]common.Record, 0, len(payloads))
	for _, p := range payloads {
		k, ok := common.PayloadKey(p)
		if !ok {
			panic(tableErrf(t.def.name, index, hash, nil, "malformed secondary payload %x", p))
		}
		if val, found := t.primary.Search(k); found {
			recs = append(recs, common.Record{Key: k, Value: clonePayload(val)})
		}
	}
	if len(recs) > 0 {
		t.store.stats.RecordHit()
	}
	return recs, nil
}

type IndexStats struct {
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	GlobalDepth int    `json:"global_depth"`
	Buckets     int    `json:"buckets"`
}

type TableStats struct {
	Name     string         `json:"name"`
	Records  int            `json:"records"`
	Height   int            `json:"height"`
	NextKey  common.KeyType `json:"next_key"`
	LogBytes int64          `json:"log_bytes"`
	Indices  []IndexStats   `json:"indices"`
}

func (t *Table) Stats() TableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := TableStats{
		Name:     t.def.name,
		Records:  t.primary.Size(),
		Height:   t.primary.Height(),
		NextKey:  t.counter,
		LogBytes: t.log.Size(),
	}
	for i, idx := range t.def.indices {
		x := t.secondary[i]
		st.Indices = append(st.Indices, IndexStats{
			Name:        idx.name,
			Entries:     x.Len(),
			GlobalDepth: x.GlobalDepth(),
			Buckets:     x.BucketCount(),
		})
	}
	return st
}

// tableImage is what one flush writes for a table.
type tableImage struct {
	logSize   int64
	nextKey   common.KeyType
	records   []common.Record
	secondary [][]common.Entry
}

func (t *Table) captureLocked() tableImage {
	img := tableImage{
		logSize: t.log.Size(),
		nextKey: t.counter,
		records: t.primary.Entries(),
	}
	for _, x := range t.secondary {
		img.secondary = append(img.secondary, x.Entries())
	}
	return img
}
