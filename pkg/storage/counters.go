package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
)

// WriteCounters stores one int32 per table, in schema declaration order.
func WriteCounters(path string, counters []int32) error {
	_, err := writeFileAtomic(path, func(w *bufio.Writer) error {
		var b [4]byte
		for _, c := range counters {
			binary.LittleEndian.PutUint32(b[:], uint32(c))
			if _, err := w.Write(b[:]); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// ReadCounters returns n counters. Counters missing from the file, including
// a missing file, default to 1; a partial trailing value is ignored.
func ReadCounters(path string, n int) ([]int32, error) {
	out := make([]int32, n)
	for i := range out {
		out[i] = 1
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fileErr("read", path, err)
	}
	for i := 0; i < n && (i+1)*4 <= len(data); i++ {
		out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
