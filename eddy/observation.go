// Package eddy characterizes closed field contours into eddy observations and
// assembles one time step's de-duplicated observation set across the
// threshold ladder.
package eddy

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ls6468/py-eddy-tracker/contour"
)

// Sign is the rotation sense of an eddy.
type Sign int8

const (
	// Cyclonic eddies rotate around a field minimum (depression).
	Cyclonic Sign = iota
	// Anticyclonic eddies rotate around a field maximum (elevation).
	Anticyclonic
)

func (s Sign) String() string {
	if s == Cyclonic {
		return "cyclonic"
	}
	return "anticyclonic"
}

// UnassignedTrack is the TrackID of an observation the linker has not claimed
// yet.
const UnassignedTrack int64 = -1

// Observation is one eddy detection at one time step. It is immutable after
// creation except for the track assignment.
type Observation struct {
	ID       uuid.UUID
	TimeStep int
	Time     time.Time
	Sign     Sign

	// CenterLon/CenterLat is the least-squares circle-fit center of the speed
	// contour.
	CenterLon float64
	CenterLat float64

	// Outer is the accepted observation boundary (coarsest accepted contour);
	// Speed is the nested contour of maximal mean azimuthal speed.
	Outer contour.Ring
	Speed contour.Ring

	Amplitude   float64
	RadiusEff   float64
	RadiusSpeed float64
	MaxSpeed    float64
	ShapeError  float64

	TrackID int64
}

// Clone returns an independent deep copy of the observation.
func (o Observation) Clone() Observation {
	out := o
	out.Outer = o.Outer.Clone()
	out.Speed = o.Speed.Clone()
	return out
}

// Valid reports whether the observation carries the attributes the linker
// requires.
func (o Observation) Valid() bool {
	return !math.IsNaN(o.CenterLon) && !math.IsNaN(o.CenterLat) &&
		o.RadiusEff > 0 && !math.IsNaN(o.Amplitude)
}

// Reason classifies why a candidate contour was rejected.
type Reason string

const (
	// ReasonArea: enclosed area outside the configured bounds.
	ReasonArea Reason = "area"
	// ReasonAmplitude: amplitude below the detectability floor.
	ReasonAmplitude Reason = "amplitude"
	// ReasonShape: circle-fit shape error above the threshold.
	ReasonShape Reason = "shape"
	// ReasonSelfIntersect: contour degenerate or self-intersecting after
	// simplification.
	ReasonSelfIntersect Reason = "self-intersect"
	// ReasonNoExtremum: no unmasked field extremum enclosed by the contour.
	ReasonNoExtremum Reason = "no-extremum"
	// ReasonMultipleCores: contour encloses more than one detected extremum.
	ReasonMultipleCores Reason = "multiple-cores"
	// ReasonMalformed: observation lacking required attributes at link time.
	ReasonMalformed Reason = "malformed"
)

// Rejection is one discarded candidate, kept in a side channel for diagnostic
// inspection and never merged into accepted observations.
type Rejection struct {
	TimeStep int
	Sign     Sign
	Level    float64
	Reason   Reason
	Detail   string
}
