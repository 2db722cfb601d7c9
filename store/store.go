// Package store is the in-memory data model of a tracking run: the owning
// arena of eddy observations across all time steps, the track records linking
// them, merge/split lineage and the rejection log. Mutation is performed by a
// single logical writer (the linker); extraction is read-only and returns
// independent copies.
package store

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ls6468/py-eddy-tracker/eddy"
)

// TrackState is the lifecycle state of a track.
type TrackState uint8

const (
	// TrackOpen tracks are still eligible for extension.
	TrackOpen TrackState = iota
	// TrackClosed tracks are terminal: no successor within the allowed gap,
	// or absorbed by a merge.
	TrackClosed
)

func (s TrackState) String() string {
	if s == TrackOpen {
		return "open"
	}
	return "closed"
}

// NoTrack marks an unset track reference.
const NoTrack int64 = -1

// Track is a time-ordered lineage of observation ids believed to be the same
// physical eddy. It is a relation over the store, not an owning container:
// parent/child links are id references into the same track arena.
type Track struct {
	ID             int64
	State          TrackState
	ObservationIDs []uuid.UUID
	ParentIDs      []int64
	ChildIDs       []int64
	// MergedInto is the surviving track id when this track was absorbed.
	MergedInto int64
	StartStep  int
	LastStep   int
}

func (t Track) clone() Track {
	out := t
	out.ObservationIDs = append([]uuid.UUID(nil), t.ObservationIDs...)
	out.ParentIDs = append([]int64(nil), t.ParentIDs...)
	out.ChildIDs = append([]int64(nil), t.ChildIDs...)
	return out
}

// MergeEvent records two tracks becoming one.
type MergeEvent struct {
	Step     int
	Survivor int64
	Absorbed int64
	Obs      uuid.UUID
}

// SplitEvent records one track becoming two. The parent continues under its
// own id as the first child branch.
type SplitEvent struct {
	Step     int
	Parent   int64
	ChildIDs []int64
	Obs      uuid.UUID
}

// ConsistencyError signals a violated internal invariant: duplicate
// observation id, unknown reference or non-monotonic track extension. A
// correct pipeline never produces one.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("store consistency violation in %s: %s", e.Op, e.Detail)
}

type frameSpan struct {
	step   int
	lo, hi int // arena slot range [lo, hi)
}

// Store owns all observations and track records of one run.
type Store struct {
	mu sync.RWMutex

	arena []eddy.Observation
	byID  map[uuid.UUID]int
	spans []frameSpan

	tracks []Track
	merges []MergeEvent
	splits []SplitEvent

	rejections []eddy.Rejection
}

// New returns an empty store.
func New() *Store {
	return &Store{byID: make(map[uuid.UUID]int)}
}

// AppendObservations appends one time step's observation batch. Steps must be
// appended in strictly increasing order; a duplicate observation id is a
// fatal consistency violation.
func (s *Store) AppendObservations(step int, obs []eddy.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.spans); n > 0 && step <= s.spans[n-1].step {
		return &ConsistencyError{Op: "AppendObservations",
			Detail: fmt.Sprintf("step %d not after %d", step, s.spans[n-1].step)}
	}
	for _, o := range obs {
		if _, dup := s.byID[o.ID]; dup {
			return &ConsistencyError{Op: "AppendObservations",
				Detail: fmt.Sprintf("duplicate observation id %s", o.ID)}
		}
	}
	lo := len(s.arena)
	for _, o := range obs {
		s.byID[o.ID] = len(s.arena)
		s.arena = append(s.arena, o.Clone())
	}
	s.spans = append(s.spans, frameSpan{step: step, lo: lo, hi: len(s.arena)})
	return nil
}

// AppendRejections adds entries to the rejection log.
func (s *Store) AppendRejections(rejections []eddy.Rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = append(s.rejections, rejections...)
}

// NewTrack opens a track seeded with an already-stored observation and
// returns its id.
func (s *Store) NewTrack(step int, obsID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byID[obsID]
	if !ok {
		return NoTrack, &ConsistencyError{Op: "NewTrack",
			Detail: fmt.Sprintf("unknown observation id %s", obsID)}
	}
	id := int64(len(s.tracks))
	s.tracks = append(s.tracks, Track{
		ID:             id,
		State:          TrackOpen,
		ObservationIDs: []uuid.UUID{obsID},
		MergedInto:     NoTrack,
		StartStep:      step,
		LastStep:       step,
	})
	s.arena[slot].TrackID = id
	return id, nil
}

// AppendToTrack extends an open track with an observation at a later step.
func (s *Store) AppendToTrack(trackID int64, step int, obsID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.trackRef(trackID, "AppendToTrack")
	if err != nil {
		return err
	}
	if t.State != TrackOpen {
		return &ConsistencyError{Op: "AppendToTrack",
			Detail: fmt.Sprintf("track %d is closed", trackID)}
	}
	if step <= t.LastStep {
		return &ConsistencyError{Op: "AppendToTrack",
			Detail: fmt.Sprintf("step %d not after track %d's last step %d", step, trackID, t.LastStep)}
	}
	slot, ok := s.byID[obsID]
	if !ok {
		return &ConsistencyError{Op: "AppendToTrack",
			Detail: fmt.Sprintf("unknown observation id %s", obsID)}
	}
	t.ObservationIDs = append(t.ObservationIDs, obsID)
	t.LastStep = step
	s.arena[slot].TrackID = trackID
	return nil
}

// CloseTrack transitions a track to its terminal state.
func (s *Store) CloseTrack(trackID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.trackRef(trackID, "CloseTrack")
	if err != nil {
		return err
	}
	t.State = TrackClosed
	return nil
}

// RecordMerge registers a merge event and wires the lineage references on
// both sides. The absorbed track is closed.
func (s *Store) RecordMerge(ev MergeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	survivor, err := s.trackRef(ev.Survivor, "RecordMerge")
	if err != nil {
		return err
	}
	absorbed, err := s.trackRef(ev.Absorbed, "RecordMerge")
	if err != nil {
		return err
	}
	if _, ok := s.byID[ev.Obs]; !ok {
		return &ConsistencyError{Op: "RecordMerge",
			Detail: fmt.Sprintf("unknown observation id %s", ev.Obs)}
	}
	survivor.ParentIDs = append(survivor.ParentIDs, absorbed.ID)
	absorbed.ChildIDs = append(absorbed.ChildIDs, survivor.ID)
	absorbed.MergedInto = survivor.ID
	absorbed.State = TrackClosed
	s.merges = append(s.merges, ev)
	return nil
}

// RecordSplit registers a split event and wires the lineage references.
func (s *Store) RecordSplit(ev SplitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, err := s.trackRef(ev.Parent, "RecordSplit")
	if err != nil {
		return err
	}
	if _, ok := s.byID[ev.Obs]; !ok {
		return &ConsistencyError{Op: "RecordSplit",
			Detail: fmt.Sprintf("unknown observation id %s", ev.Obs)}
	}
	for _, childID := range ev.ChildIDs {
		if childID == ev.Parent {
			continue
		}
		child, err := s.trackRef(childID, "RecordSplit")
		if err != nil {
			return err
		}
		parent.ChildIDs = append(parent.ChildIDs, childID)
		child.ParentIDs = append(child.ParentIDs, ev.Parent)
	}
	s.splits = append(s.splits, ev)
	return nil
}

// trackRef returns a mutable reference; callers must hold the write lock.
func (s *Store) trackRef(id int64, op string) (*Track, error) {
	if id < 0 || id >= int64(len(s.tracks)) {
		return nil, &ConsistencyError{Op: op, Detail: fmt.Sprintf("unknown track id %d", id)}
	}
	return &s.tracks[id], nil
}

// ObservationByID returns a copy of the observation.
func (s *Store) ObservationByID(id uuid.UUID) (eddy.Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.byID[id]
	if !ok {
		return eddy.Observation{}, false
	}
	return s.arena[slot].Clone(), true
}

// Len returns the number of stored observations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena)
}

// Track returns a copy of one track record.
func (s *Store) Track(id int64) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 0 || id >= int64(len(s.tracks)) {
		return Track{}, false
	}
	return s.tracks[id].clone(), true
}

// Tracks returns copies of all track records in id order.
func (s *Store) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	for i := range s.tracks {
		out[i] = s.tracks[i].clone()
	}
	return out
}

// MergeEvents returns a copy of the merge lineage log.
func (s *Store) MergeEvents() []MergeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MergeEvent(nil), s.merges...)
}

// SplitEvents returns a copy of the split lineage log.
func (s *Store) SplitEvents() []SplitEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SplitEvent, len(s.splits))
	for i, ev := range s.splits {
		out[i] = ev
		out[i].ChildIDs = append([]int64(nil), ev.ChildIDs...)
	}
	return out
}

// Rejections returns a copy of the rejection log.
func (s *Store) Rejections() []eddy.Rejection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]eddy.Rejection(nil), s.rejections...)
}

// Subset is an independent extraction result, safe for concurrent reads and
// detached from the source store.
type Subset struct {
	Observations []eddy.Observation
	Tracks       []Track
}

// ExtractByIDs copies the observations with the given ids, in store order,
// silently skipping unknown ids.
func (s *Store) ExtractByIDs(ids []uuid.UUID) Subset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if slot, ok := s.byID[id]; ok {
			want[slot] = struct{}{}
		}
	}
	return s.extractSlots(func(slot int) bool {
		_, ok := want[slot]
		return ok
	})
}

// ExtractByTimeRange copies all observations with t0 <= Time <= t1.
func (s *Store) ExtractByTimeRange(t0, t1 time.Time) Subset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extractSlots(func(slot int) bool {
		t := s.arena[slot].Time
		return !t.Before(t0) && !t.After(t1)
	})
}

// ExtractByBBox copies all observations whose center falls inside the
// geographic bounding box, wrapping longitudes into the box's window.
func (s *Store) ExtractByBBox(lon0, lat0, lon1, lat1 float64) Subset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extractSlots(func(slot int) bool {
		o := &s.arena[slot]
		if o.CenterLat < lat0 || o.CenterLat > lat1 {
			return false
		}
		lon := math.Mod(o.CenterLon-lon0, 360.0)
		if lon < 0 {
			lon += 360.0
		}
		return lon0+lon <= lon1
	})
}

// TracksWithMinLength returns copies of all tracks holding at least n
// observations.
func (s *Store) TracksWithMinLength(n int) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, 0)
	for i := range s.tracks {
		if len(s.tracks[i].ObservationIDs) >= n {
			out = append(out, s.tracks[i].clone())
		}
	}
	return out
}

// extractSlots builds a subset from the selected arena slots plus the track
// records touching them; callers must hold at least the read lock.
func (s *Store) extractSlots(keep func(slot int) bool) Subset {
	sub := Subset{}
	trackSeen := make(map[int64]struct{})
	for slot := range s.arena {
		if !keep(slot) {
			continue
		}
		o := s.arena[slot].Clone()
		sub.Observations = append(sub.Observations, o)
		if o.TrackID != eddy.UnassignedTrack {
			if _, ok := trackSeen[o.TrackID]; !ok {
				trackSeen[o.TrackID] = struct{}{}
				sub.Tracks = append(sub.Tracks, s.tracks[o.TrackID].clone())
			}
		}
	}
	return sub
}
