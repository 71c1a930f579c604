package monitor

import (
	"sync/atomic"
)

// WorkloadStats counts engine activity. All methods are safe for concurrent use.
type WorkloadStats struct {
	ReadCount        uint64
	WriteCount       uint64
	HitCount         uint64
	SnapshotWrites   uint64
	SnapshotFailures uint64
	SnapshotBytes    uint64
	Compactions      uint64
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

func (ws *WorkloadStats) RecordRead() {
	atomic.AddUint64(&ws.ReadCount, 1)
}

func (ws *WorkloadStats) RecordWrite() {
	atomic.AddUint64(&ws.WriteCount, 1)
}

func (ws *WorkloadStats) RecordHit() {
	atomic.AddUint64(&ws.HitCount, 1)
}

func (ws *WorkloadStats) RecordSnapshot(bytes int64) {
	atomic.AddUint64(&ws.SnapshotWrites, 1)
	atomic.AddUint64(&ws.SnapshotBytes, uint64(bytes))
}

func (ws *WorkloadStats) RecordSnapshotFailure() {
	atomic.AddUint64(&ws.SnapshotFailures, 1)
}

func (ws *WorkloadStats) RecordCompaction() {
	atomic.AddUint64(&ws.Compactions, 1)
}

// Snapshot returns a consistent-enough copy for reporting.
func (ws *WorkloadStats) Snapshot() WorkloadStats {
	return WorkloadStats{
		ReadCount:        atomic.LoadUint64(&ws.ReadCount),
		WriteCount:       atomic.LoadUint64(&ws.WriteCount),
		HitCount:         atomic.LoadUint64(&ws.HitCount),
		SnapshotWrites:   atomic.LoadUint64(&ws.SnapshotWrites),
		SnapshotFailures: atomic.LoadUint64(&ws.SnapshotFailures),
		SnapshotBytes:    atomic.LoadUint64(&ws.SnapshotBytes),
		Compactions:      atomic.LoadUint64(&ws.Compactions),
	}
}

// ReadWriteRatio is reads per write. Before the first write it is the read
// count.
func (ws *WorkloadStats) ReadWriteRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	writes := atomic.LoadUint64(&ws.WriteCount)
	if writes == 0 {
		return float64(reads)
	}
	return float64(reads) / float64(writes)
}

// HitRatio is the share of reads that found what they looked for.
func (ws *WorkloadStats) HitRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	if reads == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&ws.HitCount)) / float64(reads)
}
