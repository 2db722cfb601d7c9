// Package track links eddy observations between consecutive time frames into
// continuous tracks, resolving merges and splits and aging out tracks that
// vanish for longer than the allowed temporal gap.
package track

import (
	"math"
	"sort"

	kalman_filter "github.com/LdDl/kalman-filter"
	hungarian "github.com/arthurkushman/go-hungarian"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ls6468/py-eddy-tracker/config"
	"github.com/ls6468/py-eddy-tracker/eddy"
	"github.com/ls6468/py-eddy-tracker/field"
	"github.com/ls6468/py-eddy-tracker/store"
)

// openTrack is the linker's working state for one open track: its latest
// observation, the Kalman smoother over the center position and the number of
// frames since the last match.
type openTrack struct {
	id   int64
	last eddy.Observation
	// kfLon keeps the longitude fed to the filter continuous across the
	// 0/360 seam.
	kfLon    float64
	kf       *kalman_filter.Kalman2D
	predLon  float64
	predLat  float64
	gap      int
}

func newOpenTrack(id int64, o eddy.Observation) *openTrack {
	kf := kalman_filter.NewKalman2D(1.0, 0.0, 0.0, 2.0, 0.1, 0.1,
		kalman_filter.WithState2D(o.CenterLon, o.CenterLat))
	return &openTrack{
		id:      id,
		last:    o,
		kfLon:   o.CenterLon,
		kf:      kf,
		predLon: o.CenterLon,
		predLat: o.CenterLat,
	}
}

// Linker consumes consecutive frames of observations and maintains the track
// state machine over a store. It is single-writer: one Linker per store.
type Linker struct {
	st     *store.Store
	params config.Parameters
	log    zerolog.Logger

	open     []*openTrack // creation order
	spawned  []*openTrack // tracks born this step, appended after aging
	lastStep int
	started  bool
}

// Option configures a Linker.
type Option func(*Linker)

// WithLogger attaches a structured logger for linking diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(lk *Linker) { lk.log = l }
}

// NewLinker validates the parameters and returns a linker writing into st.
func NewLinker(st *store.Store, params config.Parameters, opts ...Option) (*Linker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	lk := &Linker{st: st, params: params, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(lk)
	}
	return lk, nil
}

// Store returns the store the linker writes into.
func (lk *Linker) Store() *store.Store { return lk.st }

// OpenTrackCount returns the number of currently open tracks.
func (lk *Linker) OpenTrackCount() int { return len(lk.open) }

// Step ingests one time frame: it appends the observations to the store,
// matches them against the open tracks and updates track state and lineage.
// An empty frame is a valid step; it only ages the open tracks.
func (lk *Linker) Step(step int, observations []eddy.Observation) error {
	if lk.started && step <= lk.lastStep {
		return errors.Errorf("time step %d not after previous step %d", step, lk.lastStep)
	}
	lk.started = true
	lk.lastStep = step

	obs := make([]eddy.Observation, 0, len(observations))
	var malformed []eddy.Rejection
	for _, o := range observations {
		if !o.Valid() {
			malformed = append(malformed, eddy.Rejection{
				TimeStep: step,
				Sign:     o.Sign,
				Reason:   eddy.ReasonMalformed,
				Detail:   "observation missing required attributes, skipped at link time",
			})
			lk.log.Warn().Int("step", step).Str("id", o.ID.String()).
				Msg("skipping malformed observation")
			continue
		}
		obs = append(obs, o)
	}
	if len(malformed) > 0 {
		lk.st.AppendRejections(malformed)
	}
	if err := lk.st.AppendObservations(step, obs); err != nil {
		return err
	}

	// advance every open track's predicted position, matched or not, so
	// gap-skipping matches use the propagated center
	for _, t := range lk.open {
		t.kf.Predict()
		t.predLon, t.predLat = t.kf.GetState()
	}

	costs := lk.costMatrix(obs)
	pairs := solveAssignment(costs, lk.params.MaxMatchCost)

	rowMatched := make(map[int]bool)
	colOwner := make(map[int]int64)

	// 1. matched pairs extend their track
	for _, pr := range pairs {
		t := lk.open[pr.row]
		o := obs[pr.col]
		if err := lk.extend(t, step, o); err != nil {
			return err
		}
		rowMatched[pr.row] = true
		colOwner[pr.col] = t.id
	}

	// 2. unmatched observations eligible to an already-matched track spawn a
	// split branch
	for j := range obs {
		if _, taken := colOwner[j]; taken {
			continue
		}
		parent := -1
		best := math.Inf(1)
		for _, pr := range pairs {
			c := costs[pr.row][j]
			if c <= lk.params.MaxMatchCost && c < best {
				best = c
				parent = pr.row
			}
		}
		if parent < 0 {
			continue
		}
		child, err := lk.spawn(step, obs[j])
		if err != nil {
			return err
		}
		parentID := lk.open[parent].id
		if err := lk.st.RecordSplit(store.SplitEvent{
			Step:     step,
			Parent:   parentID,
			ChildIDs: []int64{parentID, child.id},
			Obs:      obs[j].ID,
		}); err != nil {
			return err
		}
		colOwner[j] = child.id
		lk.log.Debug().Int("step", step).Int64("parent", parentID).
			Int64("child", child.id).Msg("split detected")
	}

	// 3. remaining observations have no eligible predecessor: new tracks
	for j := range obs {
		if _, taken := colOwner[j]; taken {
			continue
		}
		t, err := lk.spawn(step, obs[j])
		if err != nil {
			return err
		}
		colOwner[j] = t.id
	}

	// 4. unmatched tracks: merge when their best candidate was won by another
	// track, otherwise age and possibly close
	survivors := lk.open[:0]
	for i, t := range lk.open {
		if rowMatched[i] {
			survivors = append(survivors, t)
			continue
		}
		bestCol := -1
		best := math.Inf(1)
		for j := range obs {
			if c := costs[i][j]; c <= lk.params.MaxMatchCost && c < best {
				best = c
				bestCol = j
			}
		}
		if bestCol >= 0 {
			survivorID := colOwner[bestCol]
			if err := lk.st.RecordMerge(store.MergeEvent{
				Step:     step,
				Survivor: survivorID,
				Absorbed: t.id,
				Obs:      obs[bestCol].ID,
			}); err != nil {
				return err
			}
			lk.log.Debug().Int("step", step).Int64("survivor", survivorID).
				Int64("absorbed", t.id).Msg("merge detected")
			continue
		}
		t.gap++
		if t.gap > lk.params.MaxTemporalGap {
			if err := lk.st.CloseTrack(t.id); err != nil {
				return err
			}
			lk.log.Debug().Int("step", step).Int64("track", t.id).
				Msg("track closed after temporal gap")
			continue
		}
		survivors = append(survivors, t)
	}
	lk.open = survivors
	lk.open = append(lk.open, lk.spawned...)
	lk.spawned = nil
	return nil
}

// Close terminates the run: every remaining open track transitions to Closed.
func (lk *Linker) Close() error {
	for _, t := range lk.open {
		if err := lk.st.CloseTrack(t.id); err != nil {
			return err
		}
	}
	lk.open = nil
	return nil
}

// extend appends the observation to the track and updates the smoother.
func (lk *Linker) extend(t *openTrack, step int, o eddy.Observation) error {
	if err := lk.st.AppendToTrack(t.id, step, o.ID); err != nil {
		return err
	}
	lonU := field.WrapLongitude(o.CenterLon, t.kfLon-180.0)
	if err := t.kf.Update(lonU, o.CenterLat); err != nil {
		return errors.Wrapf(err, "can't update position filter of track %d", t.id)
	}
	t.kfLon = lonU
	t.last = o
	t.gap = 0
	return nil
}

// spawn opens a new track seeded with the observation. It is appended to the
// open list at the end of the step so it cannot participate in this step's
// merge resolution as an absorbed side.
func (lk *Linker) spawn(step int, o eddy.Observation) (*openTrack, error) {
	id, err := lk.st.NewTrack(step, o.ID)
	if err != nil {
		return nil, err
	}
	t := newOpenTrack(id, o)
	lk.spawned = append(lk.spawned, t)
	return t, nil
}

// cost is the matching cost between an open track's latest observation and a
// current-frame observation: a weighted combination of great-circle distance
// (to the last or the predicted position, whichever is closer), relative
// amplitude difference and relative radius difference. Infinite cost marks a
// forbidden pair.
func (lk *Linker) cost(t *openTrack, o eddy.Observation) float64 {
	if t.last.Sign != o.Sign {
		return math.Inf(1)
	}
	d := field.Haversine(t.last.CenterLon, t.last.CenterLat, o.CenterLon, o.CenterLat)
	dPred := field.Haversine(t.predLon, t.predLat, o.CenterLon, o.CenterLat)
	d = math.Min(d, dPred)
	if d > lk.params.MaxSeparation {
		return math.Inf(1)
	}
	dAmp := math.Abs(o.Amplitude-t.last.Amplitude) / math.Max(o.Amplitude, t.last.Amplitude)
	dRad := math.Abs(o.RadiusEff-t.last.RadiusEff) / math.Max(o.RadiusEff, t.last.RadiusEff)
	w := lk.params.Weights
	return w.Distance*d/lk.params.DistanceRef + w.Amplitude*dAmp + w.Radius*dRad
}

func (lk *Linker) costMatrix(obs []eddy.Observation) [][]float64 {
	costs := make([][]float64, len(lk.open))
	for i, t := range lk.open {
		row := make([]float64, len(obs))
		for j := range obs {
			row[j] = lk.cost(t, obs[j])
		}
		costs[i] = row
	}
	return costs
}

type matchPair struct {
	row, col int
}

// solveAssignment turns the cost matrix into similarity scores (cutoff minus
// cost, forbidden pairs at zero), pads it square and solves the optimal
// assignment, keeping only pairs under the cutoff. The result is sorted by
// row for deterministic downstream processing.
func solveAssignment(costs [][]float64, cutoff float64) []matchPair {
	nRows := len(costs)
	if nRows == 0 {
		return nil
	}
	nCols := len(costs[0])
	if nCols == 0 {
		return nil
	}
	size := nRows
	if nCols > size {
		size = nCols
	}
	scores := make([][]float64, size)
	for i := range scores {
		scores[i] = make([]float64, size)
	}
	for i := 0; i < nRows; i++ {
		for j := 0; j < nCols; j++ {
			if c := costs[i][j]; c < cutoff {
				scores[i][j] = cutoff - c
			}
		}
	}
	assignments := hungarian.SolveMax(scores)
	pairs := make([]matchPair, 0, nRows)
	for row, cols := range assignments {
		for col := range cols {
			if row < nRows && col < nCols && scores[row][col] > 0 {
				pairs = append(pairs, matchPair{row: row, col: col})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].row < pairs[b].row })
	return pairs
}
