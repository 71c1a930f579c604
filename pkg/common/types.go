package common

import (
	"encoding/binary"
	"fmt"
)

// KeyType is the primary key and hash key type of every index.
type KeyType int32

// ValueType is an opaque, already encoded payload.
type ValueType []byte

// Record is a primary index entry.
type Record struct {
	Key   KeyType
	Value ValueType
}

// String 方便调试打印
func (r *Record) String() string {
	return fmt.Sprintf("Record{Key: %d, ValLen: %d}", r.Key, len(r.Value))
}

// Entry is a secondary index entry. Several entries may share a Hash.
type Entry struct {
	Hash  KeyType
	Value ValueType
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry{Hash: %d, ValLen: %d}", e.Hash, len(e.Value))
}

// KeyPayload encodes a primary key as a 4-byte payload, the form secondary
// indices use to point back at table rows.
func KeyPayload(k KeyType) ValueType {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(k))
	return buf[:]
}

// PayloadKey is the inverse of KeyPayload.
func PayloadKey(v ValueType) (KeyType, bool) {
	if len(v) != 4 {
		return 0, false
	}
	return KeyType(binary.LittleEndian.Uint32(v)), true
}
