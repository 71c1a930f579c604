package finance

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"ledgerdb/pkg/common"
)

func encode(v any) common.ValueType {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return buf.Bytes()
}

func decodeInto(rec common.Record, v entity) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(rec.Value))
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return fmt.Errorf("failed to decode %T %d: %w", v, rec.Key, err)
	}
	v.setKey(rec.Key)
	return nil
}

// decode turns a stored record into its entity.
func decode[T any, P interface {
	*T
	entity
}](rec common.Record) (P, error) {
	p := P(new(T))
	if err := decodeInto(rec, p); err != nil {
		return nil, err
	}
	return p, nil
}
