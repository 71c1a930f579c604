package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"ledgerdb/pkg/common"
)

// Snapshot file layout, all little-endian:
//
//	[Magic 4B] [Version 1B] [Kind 1B] [LogSize 8B] [NextKey 4B] [Count 4B]
//	Count x ( [Key 4B] [PayloadLen 4B] [Payload NB] )
//
// Primary snapshots list records in ascending key order; secondary snapshots
// list (hash, payload) entries in bucket order.
const (
	SnapshotMagic      = 0x4C444253 // "LDBS"
	SnapshotVersion    = 1
	SnapshotHeaderSize = 4 + 1 + 1 + 8 + 4 + 4
	entryHeaderSize    = 4 + 4
)

type SnapshotKind uint8

const (
	PrimarySnapshot   SnapshotKind = 1
	SecondarySnapshot SnapshotKind = 2
)

func (k SnapshotKind) String() string {
	switch k {
	case PrimarySnapshot:
		return "primary"
	case SecondarySnapshot:
		return "secondary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SnapshotHeader describes a snapshot file. LogSize is the size of the
// owning table's record log at the moment the snapshot was taken; NextKey is
// the table's key counter at that moment (primary snapshots only).
type SnapshotHeader struct {
	Kind    SnapshotKind
	LogSize int64
	NextKey int32
	Count   int32
}

// WritePrimarySnapshot atomically replaces path with the given records.
func WritePrimarySnapshot(path string, logSize int64, nextKey int32, records []common.Record) (int64, error) {
	return writeSnapshot(path, SnapshotHeader{PrimarySnapshot, logSize, nextKey, int32(len(records))}, func(i int) (common.KeyType, common.ValueType) {
		return records[i].Key, records[i].Value
	})
}

// WriteSecondarySnapshot atomically replaces path with the given entries.
func WriteSecondarySnapshot(path string, logSize int64, entries []common.Entry) (int64, error) {
	return writeSnapshot(path, SnapshotHeader{SecondarySnapshot, logSize, 0, int32(len(entries))}, func(i int) (common.KeyType, common.ValueType) {
		return entries[i].Hash, entries[i].Value
	})
}

func writeSnapshot(path string, hdr SnapshotHeader, at func(i int) (common.KeyType, common.ValueType)) (int64, error) {
	return writeFileAtomic(path, func(w *bufio.Writer) error {
		head := make([]byte, SnapshotHeaderSize)
		binary.LittleEndian.PutUint32(head[0:4], SnapshotMagic)
		head[4] = SnapshotVersion
		head[5] = byte(hdr.Kind)
		binary.LittleEndian.PutUint64(head[6:14], uint64(hdr.LogSize))
		binary.LittleEndian.PutUint32(head[14:18], uint32(hdr.NextKey))
		binary.LittleEndian.PutUint32(head[18:22], uint32(hdr.Count))
		if _, err := w.Write(head); err != nil {
			return err
		}

		var eh [entryHeaderSize]byte
		for i := 0; i < int(hdr.Count); i++ {
			k, v := at(i)
			binary.LittleEndian.PutUint32(eh[0:4], uint32(k))
			binary.LittleEndian.PutUint32(eh[4:8], uint32(len(v)))
			if _, err := w.Write(eh[:]); err != nil {
				return err
			}
			if _, err := w.Write(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadSnapshotHeader reads only the header, for cheap freshness checks.
func ReadSnapshotHeader(path string) (SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotHeader{}, fileErr("open", path, err)
	}
	defer f.Close()
	hdr, err := readHeader(bufio.NewReader(f))
	return hdr, fileErr("read", path, err)
}

func readHeader(r io.Reader) (SnapshotHeader, error) {
	head := make([]byte, SnapshotHeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return SnapshotHeader{}, fmt.Errorf("%w: short header: %v", ErrCorruptSnapshot, err)
	}
	if magic := binary.LittleEndian.Uint32(head[0:4]); magic != SnapshotMagic {
		return SnapshotHeader{}, fmt.Errorf("%w: bad magic %#x", ErrCorruptSnapshot, magic)
	}
	if head[4] != SnapshotVersion {
		return SnapshotHeader{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, head[4])
	}
	hdr := SnapshotHeader{
		Kind:    SnapshotKind(head[5]),
		LogSize: int64(binary.LittleEndian.Uint64(head[6:14])),
		NextKey: int32(binary.LittleEndian.Uint32(head[14:18])),
		Count:   int32(binary.LittleEndian.Uint32(head[18:22])),
	}
	if hdr.Count < 0 {
		return SnapshotHeader{}, fmt.Errorf("%w: negative count %d", ErrCorruptSnapshot, hdr.Count)
	}
	return hdr, nil
}

// LoadPrimarySnapshot streams the records of a primary snapshot into fn.
func LoadPrimarySnapshot(path string, fn func(rec common.Record) error) (SnapshotHeader, error) {
	return readSnapshot(path, PrimarySnapshot, func(k common.KeyType, v common.ValueType) error {
		return fn(common.Record{Key: k, Value: v})
	})
}

// LoadSecondarySnapshot streams the entries of a secondary snapshot into fn.
func LoadSecondarySnapshot(path string, fn func(e common.Entry) error) (SnapshotHeader, error) {
	return readSnapshot(path, SecondarySnapshot, func(k common.KeyType, v common.ValueType) error {
		return fn(common.Entry{Hash: k, Value: v})
	})
}

// readSnapshot validates the whole file: header, exactly Count entries and
// nothing after them. Entries already passed to fn before a failure must be
// discarded by the caller.
func readSnapshot(path string, kind SnapshotKind, fn func(common.KeyType, common.ValueType) error) (SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotHeader{}, fileErr("open", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return SnapshotHeader{}, fileErr("stat", path, err)
	}
	remaining := st.Size() - SnapshotHeaderSize

	r := bufio.NewReader(f)
	hdr, err := readHeader(r)
	if err != nil {
		return hdr, fileErr("read", path, err)
	}
	if hdr.Kind != kind {
		return hdr, fileErr("read", path, fmt.Errorf("%w: expected %v snapshot, found %v", ErrCorruptSnapshot, kind, hdr.Kind))
	}

	var eh [entryHeaderSize]byte
	for i := int32(0); i < hdr.Count; i++ {
		if _, err := io.ReadFull(r, eh[:]); err != nil {
			return hdr, fileErr("read", path, fmt.Errorf("%w: entry %d of %d: %v", ErrCorruptSnapshot, i, hdr.Count, err))
		}
		remaining -= entryHeaderSize
		key := common.KeyType(binary.LittleEndian.Uint32(eh[0:4]))
		n := int64(int32(binary.LittleEndian.Uint32(eh[4:8])))
		if n < 0 || n > remaining {
			return hdr, fileErr("read", path, fmt.Errorf("%w: entry %d claims %d payload bytes", ErrCorruptSnapshot, i, n))
		}
		val := make(common.ValueType, n)
		if _, err := io.ReadFull(r, val); err != nil {
			return hdr, fileErr("read", path, fmt.Errorf("%w: entry %d payload: %v", ErrCorruptSnapshot, i, err))
		}
		remaining -= n
		if err := fn(key, val); err != nil {
			return hdr, err
		}
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		return hdr, fileErr("read", path, fmt.Errorf("%w: trailing data after %d entries", ErrCorruptSnapshot, hdr.Count))
	}
	return hdr, nil
}
