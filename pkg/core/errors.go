package core

import (
	"errors"
	"fmt"
	"strings"

	"ledgerdb/pkg/common"
)

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrUnknownIndex = errors.New("unknown index")
	ErrClosed       = errors.New("store closed")
)

// TableError names the table, and when known the index and key, an operation
// failed on.
type TableError struct {
	Table  string
	Index  string
	Key    common.KeyType
	HasKey bool
	Msg    string
	Err    error
}

func tableErrf(table, index string, key common.KeyType, err error, format string, args ...any) error {
	return &TableError{table, index, key, true, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.HasKey {
		fmt.Fprintf(&buf, "/%d", e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
