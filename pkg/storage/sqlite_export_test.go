package storage

import (
	"path/filepath"
	"testing"

	"ledgerdb/pkg/common"
)

func TestSQLiteExportReplacesTable(t *testing.T) {
	exp, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer exp.Close()

	first := []common.Record{{Key: 2, Value: []byte("b")}, {Key: 1, Value: []byte("a")}}
	if err := exp.ExportTable("expenses", first); err != nil {
		t.Fatalf("export: %v", err)
	}
	second := []common.Record{{Key: 3, Value: []byte("c")}}
	if err := exp.ExportTable("expenses", second); err != nil {
		t.Fatalf("re-export: %v", err)
	}

	got, err := exp.LoadTable("expenses")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Key != 3 || string(got[0].Value) != "c" {
		t.Fatalf("unexpected rows %v", got)
	}

	if err := exp.ExportTable(`x"; DROP TABLE expenses; --`, nil); err == nil {
		t.Fatalf("accepted an unsafe table name")
	}
}
