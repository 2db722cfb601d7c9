// Package field models one time step of a gridded geophysical scalar (sea
// surface height or an equivalent anomaly) on a regular longitude/latitude
// grid, possibly cyclic in longitude, with a land/invalid mask.
package field

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// EarthRadius is the mean earth radius in meters used for all great-circle
	// distances.
	EarthRadius = 6370997.0
	// Gravity is the standard gravity in m/s².
	Gravity = 9.81

	deg2rad = math.Pi / 180.0

	// axisEps is the tolerance used when checking the grid axes for a regular
	// step.
	axisEps = 1e-6
)

// Field is a read-only 2-D sampled scalar over a regular geographic grid.
// Values and Mask are indexed [iLon][jLat]. Mask true means invalid/land.
type Field struct {
	Lon    []float64
	Lat    []float64
	Values [][]float64
	Mask   [][]bool
	// Circular reports whether the longitude axis wraps the full globe.
	Circular bool

	stepLon float64
	stepLat float64
}

// NewField validates the grid geometry and wraps it into a Field. The axes
// must be regular and strictly monotonic; values must be shaped
// [len(lon)][len(lat)]. A nil mask means every cell is valid.
func NewField(lon, lat []float64, values [][]float64, mask [][]bool) (*Field, error) {
	if len(lon) < 2 || len(lat) < 2 {
		return nil, errors.Errorf("grid too small: %d x %d", len(lon), len(lat))
	}
	stepLon, err := regularStep(lon)
	if err != nil {
		return nil, errors.Wrap(err, "longitude axis")
	}
	stepLat, err := regularStep(lat)
	if err != nil {
		return nil, errors.Wrap(err, "latitude axis")
	}
	if len(values) != len(lon) {
		return nil, errors.Errorf("values have %d columns, expected %d", len(values), len(lon))
	}
	for i := range values {
		if len(values[i]) != len(lat) {
			return nil, errors.Errorf("values column %d has %d rows, expected %d", i, len(values[i]), len(lat))
		}
	}
	if mask != nil {
		if len(mask) != len(lon) {
			return nil, errors.Errorf("mask has %d columns, expected %d", len(mask), len(lon))
		}
		for i := range mask {
			if len(mask[i]) != len(lat) {
				return nil, errors.Errorf("mask column %d has %d rows, expected %d", i, len(mask[i]), len(lat))
			}
		}
	}
	last := lon[len(lon)-1] + stepLon
	circular := math.Abs(math.Mod(last-lon[0], 360.0)) < axisEps ||
		math.Abs(math.Abs(math.Mod(last-lon[0], 360.0))-360.0) < axisEps
	return &Field{
		Lon:      lon,
		Lat:      lat,
		Values:   values,
		Mask:     mask,
		Circular: circular,
		stepLon:  stepLon,
		stepLat:  stepLat,
	}, nil
}

func regularStep(axis []float64) (float64, error) {
	step := axis[1] - axis[0]
	if step == 0 {
		return 0, errors.New("axis step is zero")
	}
	for i := 2; i < len(axis); i++ {
		if math.Abs((axis[i]-axis[i-1])-step) > axisEps {
			return 0, errors.Errorf("axis is not regular at index %d", i)
		}
	}
	return step, nil
}

// StepLon returns the longitude grid step in degrees.
func (f *Field) StepLon() float64 { return f.stepLon }

// StepLat returns the latitude grid step in degrees.
func (f *Field) StepLat() float64 { return f.stepLat }

// Masked reports whether node (i, j) is invalid.
func (f *Field) Masked(i, j int) bool {
	if f.Mask == nil {
		return false
	}
	return f.Mask[i][j]
}

// Interp bilinearly interpolates the field at geographic position (x, y),
// wrapping the longitude index when the grid is circular. It returns NaN when
// the position is out of bounds or any of the four support nodes is masked.
func (f *Field) Interp(x, y float64) float64 {
	nx := len(f.Lon)
	xi := (x - f.Lon[0]) / f.stepLon
	yi := (y - f.Lat[0]) / f.stepLat
	i0 := int(math.Floor(xi))
	i1 := i0 + 1
	xd := xi - float64(i0)
	if f.Circular {
		i0 = ((i0 % nx) + nx) % nx
		i1 = ((i1 % nx) + nx) % nx
	} else if i0 < 0 || i1 >= nx {
		return math.NaN()
	}
	j0 := int(math.Floor(yi))
	j1 := j0 + 1
	yd := yi - float64(j0)
	if j0 < 0 || j1 >= len(f.Lat) {
		return math.NaN()
	}
	if f.Masked(i0, j0) || f.Masked(i0, j1) || f.Masked(i1, j0) || f.Masked(i1, j1) {
		return math.NaN()
	}
	z00 := f.Values[i0][j0]
	z01 := f.Values[i0][j1]
	z10 := f.Values[i1][j0]
	z11 := f.Values[i1][j1]
	return (z00*(1-xd)+z10*xd)*(1-yd) + (z01*(1-xd)+z11*xd)*yd
}

// Haversine returns the great-circle distance in meters between two
// geographic positions.
func Haversine(lon0, lat0, lon1, lat1 float64) float64 {
	sinDLat := math.Sin((lat1 - lat0) * 0.5 * deg2rad)
	sinDLon := math.Sin((lon1 - lon0) * 0.5 * deg2rad)
	cosLat0 := math.Cos(lat0 * deg2rad)
	cosLat1 := math.Cos(lat1 * deg2rad)
	a := sinDLon*sinDLon*cosLat0*cosLat1 + sinDLat*sinDLat
	return EarthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WrapLongitude maps lon into the 360-degree window starting at ref.
func WrapLongitude(lon, ref float64) float64 {
	w := math.Mod(lon-ref, 360.0)
	if w < 0 {
		w += 360.0
	}
	return w + ref
}

// UniformResample redistributes the vertices of a polyline so they are
// (nearly) equally spaced along its great-circle arc length. The input is
// treated as an open polyline; closed contours should repeat their first
// vertex at the end before resampling.
func UniformResample(xs, ys []float64, n int) ([]float64, []float64) {
	m := len(xs)
	dist := make([]float64, m)
	for i := 1; i < m; i++ {
		d := Haversine(xs[i-1], ys[i-1], xs[i], ys[i])
		// keep the abscissa strictly monotonic
		if d < 1e-3 {
			d = 1e-3
		}
		dist[i] = dist[i-1] + d
	}
	total := dist[m-1]
	outX := make([]float64, n)
	outY := make([]float64, n)
	k := 0
	for i := 0; i < n; i++ {
		target := total * float64(i) / float64(n-1)
		for k < m-2 && dist[k+1] < target {
			k++
		}
		span := dist[k+1] - dist[k]
		t := 0.0
		if span > 0 {
			t = (target - dist[k]) / span
		}
		outX[i] = xs[k] + t*(xs[k+1]-xs[k])
		outY[i] = ys[k] + t*(ys[k+1]-ys[k])
	}
	return outX, outY
}
