package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"ledgerdb/pkg/common"
)

// [CRC32 4B] [Op 1B] [Key 4B] [ValSize 4B] [Value NB]
//
// The CRC covers everything after itself.
const (
	RecordHeaderSize = 4 + 1 + 4 + 4 // 13 Bytes
	MaxRecordSize    = 64 << 20
)

type Op byte

const (
	OpPut    Op = 1
	OpDelete Op = 2
)

// RecordLog is the raw record file of one table: an append-only sequence of
// put and delete frames from which every index of the table can be rebuilt.
type RecordLog struct {
	path string
	file *os.File
	mu   sync.Mutex
	buf  *bufio.Writer
	size int64
}

func OpenRecordLog(path string) (*RecordLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fileErr("open", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fileErr("stat", path, err)
	}
	return &RecordLog{
		path: path,
		file: f,
		buf:  bufio.NewWriter(f),
		size: st.Size(),
	}, nil
}

func (l *RecordLog) Path() string {
	return l.path
}

func (l *RecordLog) AppendPut(key common.KeyType, value common.ValueType) error {
	return l.append(OpPut, key, value)
}

func (l *RecordLog) AppendDelete(key common.KeyType) error {
	return l.append(OpDelete, key, nil)
}

func encodeFrame(op Op, key common.KeyType, value common.ValueType) []byte {
	frame := make([]byte, RecordHeaderSize+len(value))
	frame[4] = byte(op)
	binary.LittleEndian.PutUint32(frame[5:9], uint32(key))
	binary.LittleEndian.PutUint32(frame[9:13], uint32(len(value)))
	copy(frame[RecordHeaderSize:], value)
	binary.LittleEndian.PutUint32(frame[0:4], crc32.ChecksumIEEE(frame[4:]))
	return frame
}

func (l *RecordLog) append(op Op, key common.KeyType, value common.ValueType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	frame := encodeFrame(op, key, value)
	if _, err := l.buf.Write(frame); err != nil {
		return fileErr("append", l.path, err)
	}
	if err := l.buf.Flush(); err != nil {
		return fileErr("append", l.path, err)
	}
	l.size += int64(len(frame))
	return nil
}

// Size is the number of bytes of complete frames in the log.
func (l *RecordLog) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *RecordLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		return fileErr("sync", l.path, err)
	}
	return fileErr("sync", l.path, l.file.Sync())
}

func (l *RecordLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Flush()
	return fileErr("close", l.path, l.file.Close())
}

type ReplayResult struct {
	Frames    int
	MaxKey    common.KeyType // largest key seen in any frame, 0 if none
	ValidSize int64
	Truncated int64 // bytes of torn or corrupt tail dropped from the file
	TailErr   error // why the tail was dropped
}

// Replay feeds every intact frame to fn in log order. A torn or corrupt tail
// is cut off the file so later appends stay readable; the cut is reported in
// the result, not as an error.
func (l *RecordLog) Replay(fn func(op Op, key common.KeyType, value common.ValueType) error) (ReplayResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.buf.Flush(); err != nil {
		return ReplayResult{}, fileErr("replay", l.path, err)
	}
	f, err := os.Open(l.path)
	if err != nil {
		return ReplayResult{}, fileErr("replay", l.path, err)
	}
	defer f.Close()

	var res ReplayResult
	r := bufio.NewReader(f)
	for {
		op, key, value, n, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.TailErr = err
			break
		}
		if err := fn(op, key, value); err != nil {
			return res, err
		}
		res.Frames++
		res.ValidSize += n
		if res.Frames == 1 || key > res.MaxKey {
			res.MaxKey = key
		}
	}

	if res.ValidSize < l.size {
		res.Truncated = l.size - res.ValidSize
		if err := l.file.Truncate(res.ValidSize); err != nil {
			return res, fileErr("truncate", l.path, err)
		}
		l.size = res.ValidSize
	}
	return res, nil
}

func readFrame(r *bufio.Reader) (Op, common.KeyType, common.ValueType, int64, error) {
	header := make([]byte, RecordHeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return 0, 0, nil, 0, io.EOF
		}
		return 0, 0, nil, 0, fmt.Errorf("%w: torn header", ErrCorruptRecord)
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	op := Op(header[4])
	key := common.KeyType(binary.LittleEndian.Uint32(header[5:9]))
	valSize := binary.LittleEndian.Uint32(header[9:13])
	if op != OpPut && op != OpDelete {
		return 0, 0, nil, 0, fmt.Errorf("%w: unknown op %d", ErrCorruptRecord, op)
	}
	if valSize > MaxRecordSize {
		return 0, 0, nil, 0, fmt.Errorf("%w: value size %d", ErrCorruptRecord, valSize)
	}

	value := make([]byte, valSize)
	if _, err := io.ReadFull(r, value); err != nil {
		return 0, 0, nil, 0, fmt.Errorf("%w: torn value", ErrCorruptRecord)
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(value)
	if checksum.Sum32() != storedCRC {
		return 0, 0, nil, 0, fmt.Errorf("%w: crc mismatch", ErrCorruptRecord)
	}
	return op, key, value, int64(RecordHeaderSize) + int64(valSize), nil
}

// Rewrite replaces the log with one put frame per live record, in the order
// given. It is the compaction step; the swap is atomic.
func (l *RecordLog) Rewrite(records []common.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.buf.Flush(); err != nil {
		return fileErr("rewrite", l.path, err)
	}
	size, err := writeFileAtomic(l.path, func(w *bufio.Writer) error {
		for _, rec := range records {
			if _, err := w.Write(encodeFrame(OpPut, rec.Key, rec.Value)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The old handle still points at the replaced inode.
	l.file.Close()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fileErr("reopen", l.path, err)
	}
	l.file = f
	l.buf = bufio.NewWriter(f)
	l.size = size
	return nil
}
