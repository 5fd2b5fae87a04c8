package state

import (
	"fmt"
	"sync"
	"testing"
)

func heading(v float64) *float64 { return &v }

func TestVesselStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewVesselStore()
		if store.Len() != 0 {
			t.Errorf("Expected empty store, got %d vessels", store.Len())
		}
		if snap := store.Snapshot(); len(snap) != 0 {
			t.Errorf("Expected empty snapshot, got %d records", len(snap))
		}
		if _, ok := store.Get(1); ok {
			t.Error("Expected Get on empty store to miss")
		}
	})

	t.Run("last write wins regardless of embedded timestamp", func(t *testing.T) {
		store := NewVesselStore()

		store.Upsert(VesselRecord{VesselID: 316001234, VesselName: "FIRST", Timestamp: "20230808152257"})
		store.Upsert(VesselRecord{VesselID: 316001234, VesselName: "SECOND", Timestamp: "20200101000000"})

		got, ok := store.Get(316001234)
		if !ok {
			t.Fatal("Expected vessel to be present")
		}
		if got.VesselName != "SECOND" || got.Timestamp != "20200101000000" {
			t.Errorf("Expected second record to win, got %+v", got)
		}
		if store.Len() != 1 {
			t.Errorf("Expected one record per vessel, got %d", store.Len())
		}
	})

	t.Run("snapshot is sorted and detached", func(t *testing.T) {
		store := NewVesselStore()
		store.Upsert(VesselRecord{VesselID: 3})
		store.Upsert(VesselRecord{VesselID: 1})
		store.Upsert(VesselRecord{VesselID: 2})

		snap := store.Snapshot()
		for i, want := range []int64{1, 2, 3} {
			if snap[i].VesselID != want {
				t.Errorf("snapshot[%d]: got %d, want %d", i, snap[i].VesselID, want)
			}
		}

		snap[0].VesselName = "mutated"
		if got, _ := store.Get(1); got.VesselName == "mutated" {
			t.Error("Snapshot must not alias store contents")
		}
	})

	t.Run("upsert copies heading", func(t *testing.T) {
		store := NewVesselStore()
		h := heading(90)
		store.Upsert(VesselRecord{VesselID: 7, Heading: h})
		*h = 180

		got, _ := store.Get(7)
		if got.Direction() != "90" {
			t.Errorf("Expected stored heading 90, got %s", got.Direction())
		}
	})

	t.Run("concurrent upserts", func(t *testing.T) {
		store := NewVesselStore()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(shard int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					store.Upsert(VesselRecord{
						VesselID:   int64(j),
						VesselName: fmt.Sprintf("shard-%d", shard),
					})
					_ = store.Snapshot()
				}
			}(i)
		}
		wg.Wait()

		if store.Len() != 100 {
			t.Errorf("Expected 100 vessels, got %d", store.Len())
		}
	})
}

func TestVesselRecordRendering(t *testing.T) {
	rec := VesselRecord{VesselID: 316001234}
	if rec.Key() != "316001234" {
		t.Errorf("key: got %s", rec.Key())
	}
	if rec.Direction() != HeadingUnknown {
		t.Errorf("direction without heading: got %s, want %s", rec.Direction(), HeadingUnknown)
	}

	rec.Heading = heading(127.5)
	if rec.Direction() != "127.5" {
		t.Errorf("direction: got %s, want 127.5", rec.Direction())
	}
	if got := FormatNumber(-123.0); got != "-123" {
		t.Errorf("FormatNumber(-123.0): got %s", got)
	}
}
