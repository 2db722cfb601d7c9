package eddy

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ls6468/py-eddy-tracker/config"
	"github.com/ls6468/py-eddy-tracker/field"
)

func newTestNamespace() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("mediterranean-region"))
}

type bump struct {
	lon, lat, amp, sigma float64
}

// gaussianField builds a 41x41 quarter-degree grid over [0,10]x[25,35] with
// the given height anomalies.
func gaussianField(t *testing.T, bumps ...bump) *field.Field {
	t.Helper()
	lon := make([]float64, 41)
	lat := make([]float64, 41)
	for i := range lon {
		lon[i] = float64(i) * 0.25
		lat[i] = 25.0 + float64(i)*0.25
	}
	values := make([][]float64, len(lon))
	for i := range values {
		values[i] = make([]float64, len(lat))
		for j := range values[i] {
			for _, b := range bumps {
				dx := lon[i] - b.lon
				dy := lat[j] - b.lat
				values[i][j] += b.amp * math.Exp(-(dx*dx+dy*dy)/(2*b.sigma*b.sigma))
			}
		}
	}
	f, err := field.NewField(lon, lat, values, nil)
	require.NoError(t, err)
	return f
}

func frameParams() config.Parameters {
	p := config.Default()
	p.MaxArea = 1e12
	p.Ladder = config.Ladder{Start: 0.05, Stop: 0.45, Step: 0.05}
	return p
}

func TestBuildSingleAnticyclone(t *testing.T) {
	f := gaussianField(t, bump{lon: 5, lat: 30, amp: 0.5, sigma: 1.5})
	fb, err := NewFrameBuilder(frameParams())
	require.NoError(t, err)

	ts := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	obs, _, err := fb.Build(7, ts, f, Anticyclonic)
	require.NoError(t, err)
	require.Len(t, obs, 1, "one bump, one observation")

	o := obs[0]
	assert.Equal(t, 7, o.TimeStep)
	assert.Equal(t, ts, o.Time)
	assert.Equal(t, Anticyclonic, o.Sign)
	assert.Equal(t, UnassignedTrack, o.TrackID)
	assert.InDelta(t, 5.0, o.CenterLon, 0.2)
	assert.InDelta(t, 30.0, o.CenterLat, 0.2)
	// the boundary is the outermost surviving level, 0.05
	assert.InDelta(t, 0.45, o.Amplitude, 1e-9)
	assert.Greater(t, o.RadiusEff, 150e3)
	assert.Less(t, o.RadiusEff, 450e3)
	assert.GreaterOrEqual(t, o.RadiusEff, o.RadiusSpeed)
	assert.Greater(t, o.MaxSpeed, 0.0)
	assert.Less(t, o.ShapeError, 55.0)
	assert.True(t, o.Outer.ContainsPoint(5, 30))
	assert.True(t, o.Speed.ContainsPoint(5, 30))
	assert.True(t, o.Valid())
}

func TestBuildSingleCyclone(t *testing.T) {
	f := gaussianField(t, bump{lon: 5, lat: 30, amp: -0.5, sigma: 1.5})
	p := frameParams()
	p.Ladder = config.Ladder{Start: -0.45, Stop: -0.05, Step: 0.05}
	fb, err := NewFrameBuilder(p)
	require.NoError(t, err)

	obs, _, err := fb.Build(0, time.Time{}, f, Cyclonic)
	require.NoError(t, err)
	require.Len(t, obs, 1)

	o := obs[0]
	assert.Equal(t, Cyclonic, o.Sign)
	assert.InDelta(t, 5.0, o.CenterLon, 0.2)
	assert.InDelta(t, 30.0, o.CenterLat, 0.2)
	assert.InDelta(t, 0.45, o.Amplitude, 1e-9)
}

func TestBuildTwoCores(t *testing.T) {
	f := gaussianField(t,
		bump{lon: 3, lat: 30, amp: 0.5, sigma: 1.0},
		bump{lon: 7, lat: 30, amp: 0.5, sigma: 1.0})
	p := frameParams()
	// let envelope contours reach the core-count check
	p.MaxShapeError = 1000.0
	fb, err := NewFrameBuilder(p)
	require.NoError(t, err)

	obs, rejections, err := fb.Build(0, time.Time{}, f, Anticyclonic)
	require.NoError(t, err)
	require.Len(t, obs, 2, "two cores, two observations")
	assert.NotEqual(t, obs[0].ID, obs[1].ID)

	// low levels wrap both cores in one envelope, which must be rejected
	multiCore := 0
	for _, r := range rejections {
		if r.Reason == ReasonMultipleCores {
			multiCore++
		}
	}
	assert.Greater(t, multiCore, 0)

	for _, o := range obs {
		// the outermost per-core level is 0.15; below that the cores fuse
		assert.InDelta(t, 0.35, o.Amplitude, 0.01)
	}
}

func TestBuildRejectsWeakAmplitude(t *testing.T) {
	f := gaussianField(t, bump{lon: 5, lat: 30, amp: 0.009, sigma: 1.5})
	p := frameParams()
	p.Ladder = config.Ladder{Start: 0.005, Stop: 0.006, Step: 0.002}
	fb, err := NewFrameBuilder(p)
	require.NoError(t, err)

	obs, rejections, err := fb.Build(0, time.Time{}, f, Anticyclonic)
	require.NoError(t, err)
	assert.Empty(t, obs)
	require.Len(t, rejections, 1)
	assert.Equal(t, ReasonAmplitude, rejections[0].Reason)
	assert.Equal(t, 0.005, rejections[0].Level)
}

func TestBuildRejectsSmallArea(t *testing.T) {
	f := gaussianField(t, bump{lon: 5, lat: 30, amp: 0.5, sigma: 1.5})
	p := frameParams()
	p.MinArea = 1e11
	p.MaxArea = 1e12
	p.Ladder = config.Ladder{Start: 0.4, Stop: 0.45, Step: 0.05}
	fb, err := NewFrameBuilder(p)
	require.NoError(t, err)

	obs, rejections, err := fb.Build(0, time.Time{}, f, Anticyclonic)
	require.NoError(t, err)
	assert.Empty(t, obs)
	require.NotEmpty(t, rejections)
	for _, r := range rejections {
		assert.Equal(t, ReasonArea, r.Reason)
	}
}

func TestBuildEmptyField(t *testing.T) {
	f := gaussianField(t)
	fb, err := NewFrameBuilder(frameParams())
	require.NoError(t, err)

	obs, rejections, err := fb.Build(0, time.Time{}, f, Anticyclonic)
	require.NoError(t, err)
	assert.Empty(t, obs)
	assert.Empty(t, rejections)
}

func TestBuildDeterministic(t *testing.T) {
	f := gaussianField(t,
		bump{lon: 3, lat: 28, amp: 0.4, sigma: 1.0},
		bump{lon: 7, lat: 32, amp: 0.6, sigma: 1.2})
	fb, err := NewFrameBuilder(frameParams())
	require.NoError(t, err)

	ts := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	first, rej1, err := fb.Build(3, ts, f, Anticyclonic)
	require.NoError(t, err)
	second, rej2, err := fb.Build(3, ts, f, Anticyclonic)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, rej1, rej2)
}

func TestBuildNamespaceSeparation(t *testing.T) {
	f := gaussianField(t, bump{lon: 5, lat: 30, amp: 0.5, sigma: 1.5})
	p := frameParams()

	fb1, err := NewFrameBuilder(p)
	require.NoError(t, err)
	fb2, err := NewFrameBuilder(p, WithNamespace(defaultNamespace))
	require.NoError(t, err)
	fb3, err := NewFrameBuilder(p, WithNamespace(newTestNamespace()))
	require.NoError(t, err)

	a, _, err := fb1.Build(0, time.Time{}, f, Anticyclonic)
	require.NoError(t, err)
	b, _, err := fb2.Build(0, time.Time{}, f, Anticyclonic)
	require.NoError(t, err)
	c, _, err := fb3.Build(0, time.Time{}, f, Anticyclonic)
	require.NoError(t, err)

	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID, "same namespace, same id")
	assert.NotEqual(t, a[0].ID, c[0].ID, "different namespace, different id")
}
