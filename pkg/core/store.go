package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"ledgerdb/pkg/common"
	"ledgerdb/pkg/config"
	"ledgerdb/pkg/core/bptree"
	"ledgerdb/pkg/core/exthash"
	"ledgerdb/pkg/monitor"
	"ledgerdb/pkg/storage"
)

const countersFile = "counters.snap"

type Options struct {
	Dir                string
	TreeOrder          int
	BucketCapacity     int
	SyncMode           string // config.SyncImmediate or config.SyncInterval
	FlushInterval      time.Duration
	LogCompactionBytes int64 // 0 disables compaction
	Logger             *slog.Logger
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dir:                cfg.Storage.Path,
		TreeOrder:          cfg.Storage.TreeOrder,
		BucketCapacity:     cfg.Storage.BucketCapacity,
		SyncMode:           cfg.Storage.SyncMode,
		FlushInterval:      cfg.Storage.FlushInterval(),
		LogCompactionBytes: cfg.Storage.LogCompactionBytes,
	}
}

type LoadMode string

const (
	LoadedFromSnapshots LoadMode = "snapshots"
	RebuiltFromRecords  LoadMode = "rebuild"
)

// Store owns the tables of one schema inside one data directory.
type Store struct {
	schema       *Schema
	opt          Options
	logger       *slog.Logger
	tables       []*Table
	tablesByName map[string]*Table
	stats        *monitor.WorkloadStats
	loadMode     LoadMode

	countersMu sync.Mutex
	closed     atomic.Bool
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// Open loads every table of schema from opt.Dir, creating the directory if
// needed. Snapshots are used when all of them are present and current;
// otherwise every table is rebuilt from its record log and fresh snapshots
// are written.
func Open(schema *Schema, opt Options) (*Store, error) {
	if opt.Dir == "" {
		return nil, errors.New("core: data directory not set")
	}
	if opt.TreeOrder == 0 {
		opt.TreeOrder = config.Default().Storage.TreeOrder
	}
	if opt.TreeOrder < bptree.MinOrder {
		return nil, fmt.Errorf("core: tree order %d below %d", opt.TreeOrder, bptree.MinOrder)
	}
	if opt.BucketCapacity <= 0 {
		opt.BucketCapacity = exthash.DefaultCapacity
	}
	if opt.SyncMode == "" {
		opt.SyncMode = config.SyncImmediate
	}
	if opt.SyncMode != config.SyncImmediate && opt.SyncMode != config.SyncInterval {
		return nil, fmt.Errorf("core: unknown sync mode %q", opt.SyncMode)
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = config.Default().Storage.FlushInterval()
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if err := os.MkdirAll(opt.Dir, 0755); err != nil {
		return nil, fmt.Errorf("core: create data dir: %w", err)
	}

	s := &Store{
		schema:       schema,
		opt:          opt,
		logger:       opt.Logger,
		tablesByName: make(map[string]*Table),
		stats:        monitor.NewWorkloadStats(),
		closeCh:      make(chan struct{}),
	}
	for _, def := range schema.tables {
		rl, err := storage.OpenRecordLog(s.logPath(def))
		if err != nil {
			s.closeLogs()
			return nil, err
		}
		t := newTable(s, def, rl)
		s.tables = append(s.tables, t)
		s.tablesByName[def.name] = t
	}

	if err := s.load(); err != nil {
		s.closeLogs()
		return nil, err
	}

	if opt.SyncMode == config.SyncInterval {
		s.wg.Add(1)
		go s.backgroundFlush()
	}
	return s, nil
}

func (s *Store) logPath(def *TableDef) string {
	return filepath.Join(s.opt.Dir, def.name+".log")
}

func (s *Store) primaryPath(def *TableDef) string {
	return filepath.Join(s.opt.Dir, def.name+".pidx")
}

func (s *Store) secondaryPath(idx *Index) string {
	return filepath.Join(s.opt.Dir, idx.table.name+"."+idx.name+".sidx")
}

func (s *Store) countersPath() string {
	return filepath.Join(s.opt.Dir, countersFile)
}

func (s *Store) Dir() string {
	return s.opt.Dir
}

func (s *Store) LoadMode() LoadMode {
	return s.loadMode
}

func (s *Store) Logger() *slog.Logger {
	return s.logger
}

func (s *Store) Table(name string) (*Table, error) {
	t := s.tablesByName[name]
	if t == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// MustTable is Table for names known at compile time.
func (s *Store) MustTable(name string) *Table {
	t, err := s.Table(name)
	if err != nil {
		panic(err)
	}
	return t
}

func (s *Store) Tables() []*Table {
	return append([]*Table(nil), s.tables...)
}

func (s *Store) load() error {
	counters, err := storage.ReadCounters(s.countersPath(), len(s.tables))
	if err != nil {
		s.logger.Warn("counter snapshot unreadable, using record logs", "err", err)
	}

	if reason := s.snapshotsUnusable(); reason != "" {
		s.logger.Info("rebuilding from record logs", "reason", reason)
	} else {
		err := s.loadSnapshots(counters)
		if err == nil {
			s.loadMode = LoadedFromSnapshots
			s.logger.Info("loaded snapshots", "dir", s.opt.Dir, "tables", len(s.tables))
			return nil
		}
		s.logger.Warn("snapshot load failed, rebuilding from record logs", "err", err)
	}
	return s.rebuild(counters)
}

// snapshotsUnusable returns why a direct snapshot load is not possible, or
// "" when it is.
func (s *Store) snapshotsUnusable() string {
	for _, t := range s.tables {
		logSize := t.log.Size()
		paths := []string{s.primaryPath(t.def)}
		for _, idx := range t.def.indices {
			paths = append(paths, s.secondaryPath(idx))
		}
		for _, path := range paths {
			hdr, err := storage.ReadSnapshotHeader(path)
			if errors.Is(err, fs.ErrNotExist) {
				return "missing " + filepath.Base(path)
			}
			if err != nil {
				return err.Error()
			}
			if hdr.LogSize != logSize {
				return fmt.Sprintf("%s is stale (log %d bytes, snapshot taken at %d)", filepath.Base(path), logSize, hdr.LogSize)
			}
		}
	}
	return ""
}

func (s *Store) loadSnapshots(counters []int32) error {
	var g errgroup.Group
	for i, t := range s.tables {
		g.Go(func() error {
			return t.loadSnapshots(common.KeyType(counters[i]))
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range s.tables {
			t.reset(1)
		}
		return err
	}
	return nil
}

func (t *Table) loadSnapshots(counter common.KeyType) error {
	s := t.store
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(counter)

	hdr, err := storage.LoadPrimarySnapshot(s.primaryPath(t.def), func(rec common.Record) error {
		if err := t.primary.Insert(rec.Key, rec.Value); err != nil {
			return tableErrf(t.def.name, "", rec.Key, fmt.Errorf("%w: %v", storage.ErrCorruptSnapshot, err), "load")
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.counter = max(t.counter, common.KeyType(hdr.NextKey))
	if k, ok := t.primary.Max(); ok && k >= t.counter {
		t.counter = k + 1
	}

	for i, idx := range t.def.indices {
		x := t.secondary[i]
		_, err := storage.LoadSecondarySnapshot(s.secondaryPath(idx), func(e common.Entry) error {
			x.Insert(e.Hash, e.Value)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rebuild(counters []int32) error {
	var g errgroup.Group
	for i, t := range s.tables {
		g.Go(func() error {
			return t.rebuild(common.KeyType(counters[i]))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.loadMode = RebuiltFromRecords

	for _, t := range s.tables {
		t.dirty.Store(true)
	}
	if err := s.Flush(context.Background()); err != nil {
		s.logger.Error("writing snapshots after rebuild", "err", err)
	}
	return nil
}

func (t *Table) rebuild(counter common.KeyType) error {
	logger := t.store.logger.With("table", t.def.name)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(counter)

	res, err := t.log.Replay(func(op storage.Op, key common.KeyType, value common.ValueType) error {
		switch op {
		case storage.OpPut:
			if !t.primary.Update(key, value) {
				return t.primary.Insert(key, value)
			}
		case storage.OpDelete:
			t.primary.Delete(key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if res.Truncated > 0 {
		logger.Warn("dropped damaged record log tail",
			"kept_frames", res.Frames,
			"dropped", humanize.Bytes(uint64(res.Truncated)),
			"err", res.TailErr)
	}
	if res.Frames > 0 && res.MaxKey >= t.counter {
		t.counter = res.MaxKey + 1
	}

	skipped := 0
	t.primary.Ascend(func(key common.KeyType, val common.ValueType) bool {
		entries, err := t.def.buildEntries(common.Record{Key: key, Value: val})
		if err != nil {
			skipped++
			logger.Warn("record not indexed", "err", err)
			return true
		}
		t.applyEntries(key, nil, entries)
		return true
	})
	logger.Debug("rebuilt table", "frames", res.Frames, "records", t.primary.Size(), "unindexed", skipped)
	return nil
}

func (s *Store) afterWrite(t *Table) {
	s.stats.RecordWrite()
	s.persist(t)
}

// persist flushes t right away in immediate mode. Interval mode leaves it to
// the background flusher and Close.
func (s *Store) persist(t *Table) {
	if s.opt.SyncMode != config.SyncImmediate {
		return
	}
	if err := s.flushTable(t, false); err != nil {
		s.logger.Error("snapshot write failed", "table", t.def.name, "err", err)
	}
}

// Flush writes snapshots for every table changed since its last flush,
// concurrently across tables.
func (s *Store) Flush(ctx context.Context) error {
	return s.eachTable(ctx, func(t *Table) error {
		return s.flushTable(t, false)
	})
}

// Compact rewrites every record log as one put per live record and writes
// snapshots against the new logs.
func (s *Store) Compact(ctx context.Context) error {
	return s.eachTable(ctx, func(t *Table) error {
		return s.flushTable(t, true)
	})
}

func (s *Store) eachTable(ctx context.Context, fn func(t *Table) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tables {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(t)
		})
	}
	return g.Wait()
}

func (s *Store) flushTable(t *Table, compact bool) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	if !compact && !t.dirty.Load() {
		return nil
	}

	// Counters go first so no snapshot is ever ahead of them.
	if err := s.writeCounters(); err != nil {
		s.stats.RecordSnapshotFailure()
		return err
	}

	t.mu.RLock()
	if err := t.log.Sync(); err != nil {
		t.mu.RUnlock()
		return err
	}
	if compact || (s.opt.LogCompactionBytes > 0 && t.log.Size() > s.opt.LogCompactionBytes) {
		before := t.log.Size()
		if err := t.log.Rewrite(t.primary.Entries()); err != nil {
			t.mu.RUnlock()
			return err
		}
		s.stats.RecordCompaction()
		s.logger.Info("compacted record log", "table", t.def.name,
			"before", humanize.Bytes(uint64(before)),
			"after", humanize.Bytes(uint64(t.log.Size())))
	}
	img := t.captureLocked()
	t.dirty.Store(false)
	t.mu.RUnlock()

	if err := s.writeImage(t, img); err != nil {
		t.dirty.Store(true)
		s.stats.RecordSnapshotFailure()
		return err
	}
	return nil
}

func (s *Store) writeImage(t *Table, img tableImage) error {
	var total int64
	for i, idx := range t.def.indices {
		n, err := storage.WriteSecondarySnapshot(s.secondaryPath(idx), img.logSize, img.secondary[i])
		if err != nil {
			return err
		}
		s.stats.RecordSnapshot(n)
		total += n
	}
	n, err := storage.WritePrimarySnapshot(s.primaryPath(t.def), img.logSize, int32(img.nextKey), img.records)
	if err != nil {
		return err
	}
	s.stats.RecordSnapshot(n)
	total += n

	s.logger.Debug("wrote snapshots", "table", t.def.name,
		"records", len(img.records),
		"files", len(t.def.indices)+1,
		"size", humanize.Bytes(uint64(total)))
	return nil
}

func (s *Store) writeCounters() error {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	counters := make([]int32, len(s.tables))
	for i, t := range s.tables {
		counters[i] = int32(t.Counter())
	}
	return storage.WriteCounters(s.countersPath(), counters)
}

func (s *Store) backgroundFlush() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opt.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				s.logger.Error("background flush failed", "err", err)
			}
		case <-s.closeCh:
			return
		}
	}
}

// Close stops background flushing, writes pending snapshots and closes the
// record logs. The Store must not be used afterwards.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(s.closeCh)
	s.wg.Wait()

	err := s.Flush(context.Background())
	if cerr := s.closeLogs(); err == nil {
		err = cerr
	}
	return err
}

func (s *Store) closeLogs() error {
	var errs []error
	for _, t := range s.tables {
		if err := t.log.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type StoreStats struct {
	Dir           string                `json:"dir"`
	LoadMode      LoadMode              `json:"load_mode"`
	SyncMode      string                `json:"sync_mode"`
	Tables        []TableStats          `json:"tables"`
	Workload      monitor.WorkloadStats `json:"workload"`
	HitRatio      float64               `json:"hit_ratio"`
	ReadWrite     float64               `json:"read_write_ratio"`
	SnapshotBytes string                `json:"snapshot_bytes"`
}

func (s *Store) Stats() StoreStats {
	w := s.stats.Snapshot()
	st := StoreStats{
		Dir:           s.opt.Dir,
		LoadMode:      s.loadMode,
		SyncMode:      s.opt.SyncMode,
		Workload:      w,
		HitRatio:      s.stats.HitRatio(),
		ReadWrite:     s.stats.ReadWriteRatio(),
		SnapshotBytes: humanize.Bytes(w.SnapshotBytes),
	}
	for _, t := range s.tables {
		st.Tables = append(st.Tables, t.Stats())
	}
	return st
}
