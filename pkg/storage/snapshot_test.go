package storage

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"ledgerdb/pkg/common"
)

func TestPrimarySnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.pidx")
	in := []common.Record{
		{Key: 1, Value: []byte("one")},
		{Key: 2, Value: []byte{}},
		{Key: 70000, Value: []byte("big key")},
	}
	size, err := WritePrimarySnapshot(path, 1234, 71, in)
	if err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if size <= SnapshotHeaderSize {
		t.Fatalf("unexpected size %d", size)
	}

	var out []common.Record
	hdr, err := LoadPrimarySnapshot(path, func(rec common.Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if hdr.LogSize != 1234 || hdr.NextKey != 71 || hdr.Count != 3 || hdr.Kind != PrimarySnapshot {
		t.Fatalf("unexpected header %+v", hdr)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d records, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Key != in[i].Key || string(out[i].Value) != string(in[i].Value) {
			t.Fatalf("record %d: got %v want %v", i, out[i], in[i])
		}
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestSecondarySnapshotRoundTripAndKindCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.by_user.sidx")
	in := []common.Entry{
		{Hash: -5, Value: common.KeyPayload(3)},
		{Hash: -5, Value: common.KeyPayload(4)},
		{Hash: 9, Value: common.KeyPayload(3)},
	}
	if _, err := WriteSecondarySnapshot(path, 0, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	var n int
	if _, err := LoadSecondarySnapshot(path, func(e common.Entry) error {
		if e.Hash != in[n].Hash {
			t.Fatalf("entry %d hash %d", n, e.Hash)
		}
		n++
		return nil
	}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 3 {
		t.Fatalf("loaded %d entries", n)
	}

	_, err := LoadPrimarySnapshot(path, func(common.Record) error { return nil })
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("loading a secondary snapshot as primary: %v", err)
	}
}

func TestTruncatedSnapshotIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.pidx")
	recs := []common.Record{{Key: 1, Value: []byte("aaaa")}, {Key: 2, Value: []byte("bbbb")}}
	if _, err := WritePrimarySnapshot(path, 0, 3, recs); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(path)

	for _, cut := range []int{len(data) - 1, len(data) - 6, SnapshotHeaderSize + 3, 7} {
		if err := os.WriteFile(path, data[:cut], 0644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadPrimarySnapshot(path, func(common.Record) error { return nil })
		if !errors.Is(err, ErrCorruptSnapshot) {
			t.Fatalf("cut at %d: expected ErrCorruptSnapshot, got %v", cut, err)
		}
		var fe *FileError
		if !errors.As(err, &fe) || fe.Path != path {
			t.Fatalf("cut at %d: error lacks path: %v", cut, err)
		}
	}

	if err := os.WriteFile(path, append(data, 0), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPrimarySnapshot(path, func(common.Record) error { return nil }); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("trailing byte: %v", err)
	}
}

func TestMissingSnapshot(t *testing.T) {
	_, err := ReadSnapshotHeader(filepath.Join(t.TempDir(), "nope.pidx"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestFailedWriteKeepsPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.pidx")
	if _, err := WritePrimarySnapshot(path, 7, 2, []common.Record{{Key: 1, Value: []byte("x")}}); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	_, err := writeFileAtomic(path, func(w *bufio.Writer) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fill error, got %v", err)
	}
	hdr, err := ReadSnapshotHeader(path)
	if err != nil || hdr.LogSize != 7 || hdr.Count != 1 {
		t.Fatalf("previous snapshot damaged: %+v %v", hdr, err)
	}
}

func TestCountersDefaultToOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.snap")
	got, err := ReadCounters(path, 3)
	if err != nil || len(got) != 3 || got[0] != 1 || got[2] != 1 {
		t.Fatalf("missing file: %v %v", got, err)
	}
	if err := WriteCounters(path, []int32{5, 9}); err != nil {
		t.Fatal(err)
	}
	got, err = ReadCounters(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 5 || got[1] != 9 || got[2] != 1 || got[3] != 1 {
		t.Fatalf("trailing counters: %v", got)
	}
	got, _ = ReadCounters(path, 1)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("fewer tables than stored: %v", got)
	}
}
