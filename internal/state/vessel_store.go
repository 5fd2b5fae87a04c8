package state

import (
	"slices"
	"sync"
)

// VesselStore is the process-wide map from vessel id to its latest record.
// Every session's decoder writes to it, the snapshot writer reads it.
// Records are stored by value, so a reader never observes a half-written one.
type VesselStore struct {
	mu      sync.RWMutex
	vessels map[int64]VesselRecord
}

func NewVesselStore() *VesselStore {
	return &VesselStore{
		vessels: make(map[int64]VesselRecord),
	}
}

// Upsert inserts or replaces the record for rec.VesselID.
// Last write wins: embedded timestamps are not compared.
func (s *VesselStore) Upsert(rec VesselRecord) {
	if rec.Heading != nil {
		h := *rec.Heading
		rec.Heading = &h
	}

	s.mu.Lock()
	s.vessels[rec.VesselID] = rec
	s.mu.Unlock()
}

// Get returns the record for id, if any.
func (s *VesselStore) Get(id int64) (VesselRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.vessels[id]
	return rec, ok
}

// Snapshot returns a point-in-time copy of every record, ordered by id.
func (s *VesselStore) Snapshot() []VesselRecord {
	s.mu.RLock()
	out := make([]VesselRecord, 0, len(s.vessels))
	for _, rec := range s.vessels {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b VesselRecord) int {
		switch {
		case a.VesselID < b.VesselID:
			return -1
		case a.VesselID > b.VesselID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of vessels currently tracked.
func (s *VesselStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vessels)
}
