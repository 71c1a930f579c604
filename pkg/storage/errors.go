package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptSnapshot means a snapshot file could not be decoded in full.
	ErrCorruptSnapshot = errors.New("storage: corrupt snapshot")

	// ErrCorruptRecord means a record log frame failed its length or CRC check.
	ErrCorruptRecord = errors.New("storage: corrupt record")
)

// FileError attaches the operation and path to an I/O or decoding failure.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func fileErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &FileError{Op: op, Path: path, Err: err}
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
