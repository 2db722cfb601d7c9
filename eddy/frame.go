package eddy

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ls6468/py-eddy-tracker/config"
	"github.com/ls6468/py-eddy-tracker/contour"
	"github.com/ls6468/py-eddy-tracker/field"
)

// defaultNamespace seeds the deterministic observation ids. Runs over
// partitioned regions should use WithNamespace to keep id spaces disjoint.
var defaultNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("eddy-observation"))

// FrameBuilder walks the threshold ladder over one time step's field and
// produces the de-duplicated set of eddy observations for one rotation sign.
type FrameBuilder struct {
	params config.Parameters
	log    zerolog.Logger
	ns     uuid.UUID
}

// Option configures a FrameBuilder.
type Option func(*FrameBuilder)

// WithLogger attaches a structured logger for per-contour diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(fb *FrameBuilder) { fb.log = l }
}

// WithNamespace changes the id namespace, keeping observation ids from
// independently processed regions collision-free.
func WithNamespace(ns uuid.UUID) Option {
	return func(fb *FrameBuilder) { fb.ns = ns }
}

// NewFrameBuilder validates the parameters and returns a builder.
func NewFrameBuilder(params config.Parameters, opts ...Option) (*FrameBuilder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	fb := &FrameBuilder{
		params: params,
		log:    zerolog.Nop(),
		ns:     defaultNamespace,
	}
	for _, opt := range opts {
		opt(fb)
	}
	return fb, nil
}

// candidate tracks the best-so-far state of one extremum across the ladder
// walk.
type candidate struct {
	inner measurement // finest accepted contour
	outer measurement // coarsest accepted contour, the observation boundary
	best  measurement // contour of maximal mean azimuthal speed
}

// Build extracts, characterizes and de-duplicates the observations of one
// time step for one rotation sign. Rejected candidates are returned in the
// side channel, never mixed with the accepted set. Output order and ids are
// deterministic for identical inputs.
func (fb *FrameBuilder) Build(step int, ts time.Time, fld *field.Field, sign Sign) ([]Observation, []Rejection, error) {
	levels, err := fb.params.Ladder.Levels()
	if err != nil {
		return nil, nil, err
	}
	// walk from the extreme level toward the background level
	sort.Float64s(levels)
	if sign == Anticyclonic {
		for l, r := 0, len(levels)-1; l < r; l, r = l+1, r-1 {
			levels[l], levels[r] = levels[r], levels[l]
		}
	}

	chr := NewCharacterizer(fld, fb.params)
	candidates := make(map[[2]int]*candidate)
	order := make([][2]int, 0)
	rejections := make([]Rejection, 0)

	reject := func(level float64, rej *Rejection) {
		rej.TimeStep = step
		rej.Sign = sign
		rej.Level = level
		rejections = append(rejections, *rej)
		fb.log.Debug().
			Int("step", step).
			Str("sign", sign.String()).
			Float64("level", level).
			Str("reason", string(rej.Reason)).
			Msg(rej.Detail)
	}

	for _, level := range levels {
		rings := contour.Extract(fld, level, fb.params.MinVertices)
		for _, ring := range rings {
			m, rej := chr.characterize(ring, sign)
			if rej != nil {
				reject(level, rej)
				continue
			}
			// a contour enclosing several detected cores is an envelope, not
			// a single eddy
			enclosed := 0
			for _, key := range order {
				c := candidates[key]
				if m.ring.ContainsPoint(c.inner.extLon, c.inner.extLat) {
					enclosed++
				}
			}
			if enclosed >= 2 {
				reject(level, &Rejection{
					Reason: ReasonMultipleCores,
					Detail: fmt.Sprintf("contour encloses %d detected cores", enclosed),
				})
				continue
			}
			key := [2]int{m.extI, m.extJ}
			c, ok := candidates[key]
			if !ok {
				candidates[key] = &candidate{inner: *m, outer: *m, best: *m}
				order = append(order, key)
				continue
			}
			if m.areaM2 >= c.outer.areaM2 {
				c.outer = *m
			}
			if m.meanSpeed > c.best.meanSpeed ||
				(m.meanSpeed == c.best.meanSpeed && m.radiusEff < c.best.radiusEff) {
				c.best = *m
			}
		}
	}

	observations := make([]Observation, 0, len(order))
	for _, key := range order {
		c := candidates[key]
		id := uuid.NewSHA1(fb.ns, []byte(fmt.Sprintf("%d|%s|%d|%d", step, sign, key[0], key[1])))
		obs := Observation{
			ID:          id,
			TimeStep:    step,
			Time:        ts,
			Sign:        sign,
			CenterLon:   c.best.centerLon,
			CenterLat:   c.best.centerLat,
			Outer:       c.outer.ring,
			Speed:       c.best.ring,
			Amplitude:   c.outer.amplitude,
			RadiusEff:   c.outer.radiusEff,
			RadiusSpeed: c.best.radiusEff,
			MaxSpeed:    c.best.meanSpeed,
			ShapeError:  c.outer.shapeErr,
			TrackID:     UnassignedTrack,
		}
		observations = append(observations, obs)
		fb.log.Debug().
			Int("step", step).
			Str("sign", sign.String()).
			Str("id", id.String()).
			Float64("lon", obs.CenterLon).
			Float64("lat", obs.CenterLat).
			Float64("amplitude", obs.Amplitude).
			Float64("radius", obs.RadiusEff).
			Msg("accepted observation")
	}
	return observations, rejections, nil
}
