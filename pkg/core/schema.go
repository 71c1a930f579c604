package core

import (
	"fmt"
	"regexp"

	"ledgerdb/pkg/common"
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Index declares a named secondary index. Declarations are attached to exactly
// one table through Schema.AddTable.
type Index struct {
	name  string
	pos   int
	table *TableDef
}

func NewIndex(name string) *Index {
	if !validName.MatchString(name) {
		panic(fmt.Errorf("invalid index name %q", name))
	}
	return &Index{name: name}
}

func (idx *Index) Name() string {
	return idx.name
}

func (idx *Index) FullName() string {
	if idx.table == nil {
		return idx.name
	}
	return idx.table.name + "." + idx.name
}

// Indexer derives the secondary entries of one record. It must be a pure
// function of the record: the same record always yields the same entries.
type Indexer func(rec common.Record, ib *IndexBuilder) error

type TableDef struct {
	schema        *Schema
	name          string
	pos           int
	indices       []*Index
	indicesByName map[string]*Index
	indexer       Indexer
}

func (def *TableDef) Name() string {
	return def.name
}

func (def *TableDef) Indices() []*Index {
	return append([]*Index(nil), def.indices...)
}

func (def *TableDef) IndexNamed(name string) *Index {
	return def.indicesByName[name]
}

type Schema struct {
	tables       []*TableDef
	tablesByName map[string]*TableDef
}

func NewSchema() *Schema {
	return &Schema{tablesByName: make(map[string]*TableDef)}
}

// AddTable declares a table. A nil indexer is allowed only for tables without
// secondary indices.
func (scm *Schema) AddTable(name string, indexer Indexer, indices ...*Index) *TableDef {
	if !validName.MatchString(name) {
		panic(fmt.Errorf("invalid table name %q", name))
	}
	if scm.tablesByName[name] != nil {
		panic(fmt.Errorf("duplicate table %q", name))
	}
	if indexer == nil && len(indices) > 0 {
		panic(fmt.Errorf("%s: indices declared without an indexer", name))
	}
	def := &TableDef{
		schema:        scm,
		name:          name,
		pos:           len(scm.tables),
		indicesByName: make(map[string]*Index),
		indexer:       indexer,
	}
	for _, idx := range indices {
		if idx.table != nil {
			panic(fmt.Errorf("index %s already belongs to %s", idx.name, idx.table.name))
		}
		if def.indicesByName[idx.name] != nil {
			panic(fmt.Errorf("table %s already has index named %q", name, idx.name))
		}
		idx.pos = len(def.indices)
		idx.table = def
		def.indices = append(def.indices, idx)
		def.indicesByName[idx.name] = idx
	}
	scm.tables = append(scm.tables, def)
	scm.tablesByName[name] = def
	return def
}

func (scm *Schema) Tables() []*TableDef {
	return append([]*TableDef(nil), scm.tables...)
}

func (scm *Schema) TableNamed(name string) *TableDef {
	return scm.tablesByName[name]
}

// IndexEntry is one secondary entry produced by an indexer.
type IndexEntry struct {
	Index *Index
	Hash  common.KeyType
}

type IndexBuilder struct {
	def     *TableDef
	entries []IndexEntry
}

// Add emits an entry mapping hash to the record being indexed.
func (b *IndexBuilder) Add(idx *Index, hash common.KeyType) {
	if idx.table != b.def {
		panic(fmt.Errorf("%s: index %s does not belong to this table", b.def.name, idx.FullName()))
	}
	b.entries = append(b.entries, IndexEntry{idx, hash})
}

func (def *TableDef) buildEntries(rec common.Record) ([]IndexEntry, error) {
	if def.indexer == nil {
		return nil, nil
	}
	ib := IndexBuilder{def: def}
	if err := def.indexer(rec, &ib); err != nil {
		return nil, tableErrf(def.name, "", rec.Key, err, "indexer")
	}
	return ib.entries, nil
}

// diffEntries returns what must be removed from and added to the secondary
// indices when a record's entries change from old to cur. Entries are treated
// as multisets.
func diffEntries(old, cur []IndexEntry) (removed, added []IndexEntry) {
	counts := make(map[IndexEntry]int, len(old))
	for _, e := range old {
		counts[e]++
	}
	for _, e := range cur {
		if counts[e] > 0 {
			counts[e]--
		} else {
			added = append(added, e)
		}
	}
	for _, e := range old {
		if counts[e] > 0 {
			counts[e]--
			removed = append(removed, e)
		}
	}
	return removed, added
}
