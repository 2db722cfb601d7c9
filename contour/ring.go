// Package contour extracts closed iso-contours of a gridded scalar field at a
// ladder of threshold levels and reduces their vertex count with an
// area-based simplifier.
package contour

import (
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/pkg/errors"
	"github.com/wroge/wgs84"
)

// to3857 projects geographic coordinates to Web Mercator for metric area
// computation; from3857 inverts it.
var (
	to3857   = wgs84.EPSG().Transform(4326, 3857)
	from3857 = wgs84.EPSG().Transform(3857, 4326)
)

// ProjectMercator maps geographic vertex slices to Web Mercator meters.
func ProjectMercator(lons, lats []float64) (xs, ys []float64) {
	xs = make([]float64, len(lons))
	ys = make([]float64, len(lats))
	for i := range lons {
		xs[i], ys[i], _ = to3857(lons[i], lats[i], 0)
	}
	return xs, ys
}

// UnprojectMercator maps a Web Mercator position back to geographic
// coordinates.
func UnprojectMercator(x, y float64) (lon, lat float64) {
	lon, lat, _ = from3857(x, y, 0)
	return lon, lat
}

// Ring is a closed iso-value contour at one threshold level. Vertices are in
// geographic coordinates with the closure implicit (the first vertex is not
// repeated). Longitudes are kept continuous across the grid seam, so they may
// exceed the [0, 360) range.
type Ring struct {
	Level float64
	X     []float64
	Y     []float64

	minX, maxX, minY, maxY float64
}

// NewRing builds a ring from vertex slices and precomputes its bounding box.
func NewRing(level float64, xs, ys []float64) Ring {
	r := Ring{Level: level, X: xs, Y: ys}
	if len(xs) == 0 {
		return r
	}
	r.minX, r.maxX = xs[0], xs[0]
	r.minY, r.maxY = ys[0], ys[0]
	for i := 1; i < len(xs); i++ {
		r.minX = math.Min(r.minX, xs[i])
		r.maxX = math.Max(r.maxX, xs[i])
		r.minY = math.Min(r.minY, ys[i])
		r.maxY = math.Max(r.maxY, ys[i])
	}
	return r
}

// Len returns the vertex count.
func (r Ring) Len() int { return len(r.X) }

// BBox returns the ring's bounding box as (minLon, minLat, maxLon, maxLat).
func (r Ring) BBox() (minLon, minLat, maxLon, maxLat float64) {
	return r.minX, r.minY, r.maxX, r.maxY
}

// Clone returns an independent deep copy of the ring.
func (r Ring) Clone() Ring {
	xs := make([]float64, len(r.X))
	ys := make([]float64, len(r.Y))
	copy(xs, r.X)
	copy(ys, r.Y)
	out := r
	out.X = xs
	out.Y = ys
	return out
}

// PlanarArea returns the signed shoelace area in square degrees.
func (r Ring) PlanarArea() float64 {
	n := len(r.X)
	if n < 3 {
		return 0
	}
	area := 0.0
	for i := 0; i < n; i++ {
		k := (i + 1) % n
		area += r.X[i]*r.Y[k] - r.X[k]*r.Y[i]
	}
	return area * 0.5
}

// Centroid returns the polygon centroid in (possibly unwrapped) geographic
// coordinates.
func (r Ring) Centroid() (lon, lat float64) {
	n := len(r.X)
	a := r.PlanarArea()
	if n == 0 {
		return 0, 0
	}
	if a == 0 {
		// degenerate, fall back to vertex mean
		for i := 0; i < n; i++ {
			lon += r.X[i]
			lat += r.Y[i]
		}
		return lon / float64(n), lat / float64(n)
	}
	var cx, cy float64
	for i := 0; i < n; i++ {
		k := (i + 1) % n
		cross := r.X[i]*r.Y[k] - r.X[k]*r.Y[i]
		cx += (r.X[i] + r.X[k]) * cross
		cy += (r.Y[i] + r.Y[k]) * cross
	}
	return cx / (6 * a), cy / (6 * a)
}

// AreaM2 returns the enclosed area in square meters. Vertices are projected
// to Web Mercator and the shoelace result is corrected by the Mercator scale
// factor at the ring centroid.
func (r Ring) AreaM2() float64 {
	n := len(r.X)
	if n < 3 {
		return 0
	}
	px := make([]float64, n)
	py := make([]float64, n)
	for i := 0; i < n; i++ {
		x, y, _ := to3857(r.X[i], r.Y[i], 0)
		px[i] = x
		py[i] = y
	}
	area := 0.0
	for i := 0; i < n; i++ {
		k := (i + 1) % n
		area += px[i]*py[k] - px[k]*py[i]
	}
	area = math.Abs(area) * 0.5
	_, latC := r.Centroid()
	cos := math.Cos(latC * math.Pi / 180.0)
	return area * cos * cos
}

// ContainsPoint reports whether the geographic position lies inside the ring,
// bringing the test longitude into the ring's 360-degree window first.
func (r Ring) ContainsPoint(lon, lat float64) bool {
	n := len(r.X)
	if n < 3 {
		return false
	}
	x := math.Mod(lon-r.minX, 360.0)
	if x < 0 {
		x += 360.0
	}
	x += r.minX
	if x > r.maxX && x-360.0 >= r.minX {
		x -= 360.0
	}
	if x < r.minX || x > r.maxX || lat < r.minY || lat > r.maxY {
		return false
	}
	inside := false
	for i, k := 0, n-1; i < n; k, i = i, i+1 {
		if (r.Y[i] > lat) != (r.Y[k] > lat) &&
			x < (r.X[k]-r.X[i])*(lat-r.Y[i])/(r.Y[k]-r.Y[i])+r.X[i] {
			inside = !inside
		}
	}
	return inside
}

// Polygon converts the ring to a simplefeatures polygon (closing the shell).
func (r Ring) Polygon() geom.Polygon {
	n := len(r.X)
	coords := make([]float64, 0, (n+1)*2)
	for i := 0; i < n; i++ {
		coords = append(coords, r.X[i], r.Y[i])
	}
	coords = append(coords, r.X[0], r.Y[0])
	seq := geom.NewSequence(coords, geom.DimXY)
	shell := geom.NewLineString(seq)
	return geom.NewPolygon([]geom.LineString{shell})
}

// Validate checks that the ring is a usable simple closed polygon: at least
// three vertices, a non-degenerate area and no self-intersection.
func (r Ring) Validate() error {
	if r.Len() < 3 {
		return errors.Errorf("ring has %d vertices, need at least 3", r.Len())
	}
	if math.Abs(r.PlanarArea()) < 1e-12 {
		return errors.New("ring encloses a degenerate area")
	}
	if err := r.Polygon().Validate(); err != nil {
		return errors.Wrap(err, "ring is not a simple polygon")
	}
	return nil
}
