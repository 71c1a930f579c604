package storage

import (
	"os"
	"path/filepath"
	"testing"

	"ledgerdb/pkg/common"
)

type frame struct {
	op  Op
	key common.KeyType
	val string
}

func replayAll(t *testing.T, l *RecordLog) ([]frame, ReplayResult) {
	t.Helper()
	var out []frame
	res, err := l.Replay(func(op Op, key common.KeyType, value common.ValueType) error {
		out = append(out, frame{op, key, string(value)})
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	return out, res
}

func TestRecordLogAppendReplayAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.log")
	l, err := OpenRecordLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.AppendPut(1, []byte("one")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.AppendPut(2, []byte("two")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.AppendDelete(1); err != nil {
		t.Fatalf("append delete: %v", err)
	}
	size := l.Size()
	if want := int64(3*RecordHeaderSize + 6); size != want {
		t.Fatalf("size %d, want %d", size, want)
	}
	l.Close()

	l, err = OpenRecordLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	if l.Size() != size {
		t.Fatalf("reopened size %d, want %d", l.Size(), size)
	}

	frames, res := replayAll(t, l)
	want := []frame{{OpPut, 1, "one"}, {OpPut, 2, "two"}, {OpDelete, 1, ""}}
	if len(frames) != len(want) {
		t.Fatalf("frames: %v", frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Fatalf("frame %d: got %v want %v", i, frames[i], want[i])
		}
	}
	if res.MaxKey != 2 || res.Truncated != 0 || res.ValidSize != size {
		t.Fatalf("result: %+v", res)
	}
}

func TestRecordLogDropsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	l, err := OpenRecordLog(path)
	if err != nil {
		t.Fatal(err)
	}
	l.AppendPut(1, []byte("keep"))
	good := l.Size()
	l.AppendPut(2, []byte("torn"))
	l.Close()

	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-2], 0644); err != nil {
		t.Fatal(err)
	}

	l, err = OpenRecordLog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	frames, res := replayAll(t, l)
	if len(frames) != 1 || frames[0].key != 1 {
		t.Fatalf("frames after torn tail: %v", frames)
	}
	if res.TailErr == nil || res.Truncated == 0 || l.Size() != good {
		t.Fatalf("tail not cut: %+v size=%d", res, l.Size())
	}

	// Appends after the cut are readable.
	l.AppendPut(3, []byte("after"))
	frames, res = replayAll(t, l)
	if len(frames) != 2 || frames[1].key != 3 || res.TailErr != nil {
		t.Fatalf("frames after repair: %v %+v", frames, res)
	}
}

func TestRecordLogCRCMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crc.log")
	l, _ := OpenRecordLog(path)
	l.AppendPut(1, []byte("abc"))
	l.Close()

	data, _ := os.ReadFile(path)
	data[len(data)-1] ^= 0xFF
	os.WriteFile(path, data, 0644)

	l, _ = OpenRecordLog(path)
	defer l.Close()
	frames, res := replayAll(t, l)
	if len(frames) != 0 || res.TailErr == nil || l.Size() != 0 {
		t.Fatalf("corrupt frame accepted: %v %+v", frames, res)
	}
}

func TestRecordLogRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	l, _ := OpenRecordLog(path)
	defer l.Close()
	for k := common.KeyType(1); k <= 10; k++ {
		l.AppendPut(k, []byte("v"))
		l.AppendDelete(k)
	}
	before := l.Size()

	if err := l.Rewrite([]common.Record{{Key: 4, Value: []byte("live")}}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if l.Size() >= before {
		t.Fatalf("rewrite did not shrink log: %d -> %d", before, l.Size())
	}
	l.AppendPut(11, []byte("new"))
	frames, _ := replayAll(t, l)
	if len(frames) != 2 || frames[0] != (frame{OpPut, 4, "live"}) || frames[1].key != 11 {
		t.Fatalf("frames after rewrite: %v", frames)
	}
}
