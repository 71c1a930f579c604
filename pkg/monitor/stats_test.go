package monitor

import (
	"sync"
	"testing"
)

func TestWorkloadStatsConcurrent(t *testing.T) {
	ws := NewWorkloadStats()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ws.RecordRead()
				ws.RecordWrite()
				if j%2 == 0 {
					ws.RecordHit()
				}
			}
		}()
	}
	wg.Wait()
	ws.RecordSnapshot(100)
	ws.RecordSnapshot(50)

	s := ws.Snapshot()
	if s.ReadCount != 800 || s.WriteCount != 800 || s.HitCount != 400 {
		t.Fatalf("counts: %+v", s)
	}
	if s.SnapshotWrites != 2 || s.SnapshotBytes != 150 {
		t.Fatalf("snapshot counts: %+v", s)
	}
	if ws.ReadWriteRatio() != 1 || ws.HitRatio() != 0.5 {
		t.Fatalf("ratios: %v %v", ws.ReadWriteRatio(), ws.HitRatio())
	}
}

func TestReadWriteRatioBeforeFirstWrite(t *testing.T) {
	ws := NewWorkloadStats()
	if r := ws.ReadWriteRatio(); r != 0 {
		t.Fatalf("idle ratio %v", r)
	}
	ws.RecordRead()
	ws.RecordRead()
	if r := ws.ReadWriteRatio(); r != 2 {
		t.Fatalf("reads only: %v", r)
	}
	ws.RecordWrite()
	ws.RecordWrite()
	ws.RecordWrite()
	ws.RecordWrite()
	if r := ws.ReadWriteRatio(); r != 0.5 {
		t.Fatalf("2 reads, 4 writes: %v", r)
	}
}
