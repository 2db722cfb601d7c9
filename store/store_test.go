package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ls6468/py-eddy-tracker/eddy"
)

func obsAt(step int, lon, lat float64) eddy.Observation {
	name := fmt.Sprintf("test|%d|%.3f|%.3f", step, lon, lat)
	return eddy.Observation{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		TimeStep:  step,
		Time:      time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, step),
		Sign:      eddy.Anticyclonic,
		CenterLon: lon,
		CenterLat: lat,
		Amplitude: 0.2,
		RadiusEff: 50e3,
		TrackID:   eddy.UnassignedTrack,
	}
}

func TestAppendObservations(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	b := obsAt(1, 12, 31)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a, b}))
	assert.Equal(t, 2, s.Len())

	got, ok := s.ObservationByID(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.CenterLon, got.CenterLon)

	_, ok = s.ObservationByID(uuid.New())
	assert.False(t, ok)
}

func TestAppendObservationsDuplicateID(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a}))

	err := s.AppendObservations(2, []eddy.Observation{a})
	require.Error(t, err)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "AppendObservations", ce.Op)
}

func TestAppendObservationsStepOrder(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendObservations(3, []eddy.Observation{obsAt(3, 10, 30)}))

	var ce *ConsistencyError
	err := s.AppendObservations(3, nil)
	require.True(t, errors.As(err, &ce), "repeated step")
	err = s.AppendObservations(2, nil)
	require.True(t, errors.As(err, &ce), "backwards step")

	// an empty frame at a later step is fine
	assert.NoError(t, s.AppendObservations(4, nil))
}

func TestTrackLifecycle(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	b := obsAt(2, 10.2, 30.1)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a}))

	id, err := s.NewTrack(1, a.ID)
	require.NoError(t, err)

	require.NoError(t, s.AppendObservations(2, []eddy.Observation{b}))
	require.NoError(t, s.AppendToTrack(id, 2, b.ID))

	tr, ok := s.Track(id)
	require.True(t, ok)
	assert.Equal(t, TrackOpen, tr.State)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, tr.ObservationIDs)
	assert.Equal(t, 1, tr.StartStep)
	assert.Equal(t, 2, tr.LastStep)
	assert.Equal(t, NoTrack, tr.MergedInto)

	// stored observations carry their assignment
	got, _ := s.ObservationByID(b.ID)
	assert.Equal(t, id, got.TrackID)

	require.NoError(t, s.CloseTrack(id))
	tr, _ = s.Track(id)
	assert.Equal(t, TrackClosed, tr.State)

	var ce *ConsistencyError
	c := obsAt(3, 10.4, 30.2)
	require.NoError(t, s.AppendObservations(3, []eddy.Observation{c}))
	assert.True(t, errors.As(s.AppendToTrack(id, 3, c.ID), &ce), "closed track")
}

func TestTrackConsistencyViolations(t *testing.T) {
	s := New()
	a := obsAt(5, 10, 30)
	require.NoError(t, s.AppendObservations(5, []eddy.Observation{a}))
	id, err := s.NewTrack(5, a.ID)
	require.NoError(t, err)

	var ce *ConsistencyError
	_, err = s.NewTrack(5, uuid.New())
	assert.True(t, errors.As(err, &ce), "unknown observation")
	assert.True(t, errors.As(s.AppendToTrack(99, 6, a.ID), &ce), "unknown track")
	assert.True(t, errors.As(s.AppendToTrack(id, 5, a.ID), &ce), "non-monotonic extension")
	assert.True(t, errors.As(s.CloseTrack(-1), &ce))
}

func TestMergeLineage(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	b := obsAt(1, 11, 30)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a, b}))
	survivor, err := s.NewTrack(1, a.ID)
	require.NoError(t, err)
	absorbed, err := s.NewTrack(1, b.ID)
	require.NoError(t, err)

	c := obsAt(2, 10.5, 30)
	require.NoError(t, s.AppendObservations(2, []eddy.Observation{c}))
	require.NoError(t, s.AppendToTrack(survivor, 2, c.ID))
	require.NoError(t, s.RecordMerge(MergeEvent{
		Step: 2, Survivor: survivor, Absorbed: absorbed, Obs: c.ID,
	}))

	sv, _ := s.Track(survivor)
	ab, _ := s.Track(absorbed)
	assert.Equal(t, TrackOpen, sv.State)
	assert.Contains(t, sv.ParentIDs, absorbed)
	assert.Equal(t, TrackClosed, ab.State)
	assert.Equal(t, survivor, ab.MergedInto)
	assert.Contains(t, ab.ChildIDs, survivor)

	events := s.MergeEvents()
	require.Len(t, events, 1)
	assert.Equal(t, survivor, events[0].Survivor)
}

func TestSplitLineage(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a}))
	parent, err := s.NewTrack(1, a.ID)
	require.NoError(t, err)

	b := obsAt(2, 10.1, 30)
	c := obsAt(2, 10.6, 30.2)
	require.NoError(t, s.AppendObservations(2, []eddy.Observation{b, c}))
	require.NoError(t, s.AppendToTrack(parent, 2, b.ID))
	child, err := s.NewTrack(2, c.ID)
	require.NoError(t, err)
	require.NoError(t, s.RecordSplit(SplitEvent{
		Step: 2, Parent: parent, ChildIDs: []int64{parent, child}, Obs: c.ID,
	}))

	pt, _ := s.Track(parent)
	ct, _ := s.Track(child)
	assert.Equal(t, []int64{child}, pt.ChildIDs, "parent branch is implicit")
	assert.Equal(t, []int64{parent}, ct.ParentIDs)

	events := s.SplitEvents()
	require.Len(t, events, 1)
	assert.Len(t, events[0].ChildIDs, 2)
}

func TestExtractByTimeRange(t *testing.T) {
	s := New()
	for step := 1; step <= 5; step++ {
		require.NoError(t, s.AppendObservations(step,
			[]eddy.Observation{obsAt(step, 10, 30)}))
	}
	t0 := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 2)
	t1 := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 4)

	sub := s.ExtractByTimeRange(t0, t1)
	require.Len(t, sub.Observations, 3, "range is inclusive on both ends")
	for _, o := range sub.Observations {
		assert.GreaterOrEqual(t, o.TimeStep, 2)
		assert.LessOrEqual(t, o.TimeStep, 4)
	}
}

func TestExtractByBBox(t *testing.T) {
	s := New()
	in := obsAt(1, 359.5, 30)
	wrapped := obsAt(1, 0.2, 30.5)
	out := obsAt(1, 10, 30)
	south := obsAt(1, 359.8, 10)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{in, wrapped, out, south}))

	sub := s.ExtractByBBox(359, 29, 361, 31)
	require.Len(t, sub.Observations, 2, "box spanning the seam catches wrapped centers")

	ids := map[uuid.UUID]bool{}
	for _, o := range sub.Observations {
		ids[o.ID] = true
	}
	assert.True(t, ids[in.ID])
	assert.True(t, ids[wrapped.ID])
}

func TestExtractByIDs(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	b := obsAt(1, 12, 31)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a, b}))
	id, err := s.NewTrack(1, a.ID)
	require.NoError(t, err)

	sub := s.ExtractByIDs([]uuid.UUID{a.ID, uuid.New()})
	require.Len(t, sub.Observations, 1, "unknown ids are skipped")
	require.Len(t, sub.Tracks, 1)
	assert.Equal(t, id, sub.Tracks[0].ID)

	// the extraction is detached from the store
	sub.Tracks[0].ObservationIDs[0] = uuid.New()
	tr, _ := s.Track(id)
	assert.Equal(t, a.ID, tr.ObservationIDs[0])
}

func TestTracksWithMinLength(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	b := obsAt(1, 12, 31)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a, b}))
	long, err := s.NewTrack(1, a.ID)
	require.NoError(t, err)
	_, err = s.NewTrack(1, b.ID)
	require.NoError(t, err)

	c := obsAt(2, 10.2, 30)
	require.NoError(t, s.AppendObservations(2, []eddy.Observation{c}))
	require.NoError(t, s.AppendToTrack(long, 2, c.ID))

	got := s.TracksWithMinLength(2)
	require.Len(t, got, 1)
	assert.Equal(t, long, got[0].ID)
	assert.Len(t, s.TracksWithMinLength(1), 2)
	assert.Empty(t, s.TracksWithMinLength(3))
}

func TestRejectionLog(t *testing.T) {
	s := New()
	s.AppendRejections([]eddy.Rejection{
		{TimeStep: 1, Reason: eddy.ReasonArea, Detail: "too small"},
		{TimeStep: 1, Reason: eddy.ReasonShape, Detail: "too stretched"},
	})
	got := s.Rejections()
	require.Len(t, got, 2)
	assert.Equal(t, eddy.ReasonArea, got[0].Reason)
}

func TestObservationCopiesAreIndependent(t *testing.T) {
	s := New()
	a := obsAt(1, 10, 30)
	require.NoError(t, s.AppendObservations(1, []eddy.Observation{a}))

	got, _ := s.ObservationByID(a.ID)
	got.CenterLon = -999
	again, _ := s.ObservationByID(a.ID)
	assert.Equal(t, 10.0, again.CenterLon)
}
