package eddy

import (
	"fmt"
	"math"

	"github.com/ls6468/py-eddy-tracker/config"
	"github.com/ls6468/py-eddy-tracker/contour"
	"github.com/ls6468/py-eddy-tracker/field"
)

// measurement is everything the frame builder needs to know about one
// accepted contour.
type measurement struct {
	ring   contour.Ring
	extI   int
	extJ   int
	extLon float64
	extLat float64
	extVal float64

	amplitude float64
	areaM2    float64
	radiusEff float64
	meanSpeed float64
	shapeErr  float64
	centerLon float64
	centerLat float64
}

// Characterizer derives physical attributes from candidate contours of one
// field and applies the acceptance criteria. The speed field is derived once
// per Characterizer.
type Characterizer struct {
	fld    *field.Field
	spd    *field.Field
	params config.Parameters
}

// NewCharacterizer prepares a characterizer for one time step's field.
func NewCharacterizer(fld *field.Field, params config.Parameters) *Characterizer {
	return &Characterizer{fld: fld, spd: fld.SpeedField(), params: params}
}

// characterize simplifies and measures one candidate ring. A nil rejection
// means the measurement was accepted. Rejections carry only reason and
// detail; the frame builder stamps step, sign and level.
func (c *Characterizer) characterize(ring contour.Ring, sign Sign) (*measurement, *Rejection) {
	p := c.params
	simplified := contour.Simplify(ring, p.SimplifyTolerance)
	if err := simplified.Validate(); err != nil {
		return nil, &Rejection{Reason: ReasonSelfIntersect, Detail: err.Error()}
	}
	area := simplified.AreaM2()
	if area < p.MinArea {
		return nil, &Rejection{Reason: ReasonArea, Detail: fmt.Sprintf("area %.3e below minimum %.3e", area, p.MinArea)}
	}
	if area > p.MaxArea {
		return nil, &Rejection{Reason: ReasonArea, Detail: fmt.Sprintf("area %.3e above maximum %.3e", area, p.MaxArea)}
	}

	// circle fit on the uniformly resampled contour, in the Mercator plane
	closedX := append(append([]float64{}, simplified.X...), simplified.X[0])
	closedY := append(append([]float64{}, simplified.Y...), simplified.Y[0])
	rx, ry := field.UniformResample(closedX, closedY, p.ResampleSize)
	px, py := contour.ProjectMercator(rx, ry)
	cx, cy, _, shapeErr, err := fitCircle(px, py)
	if err != nil {
		return nil, &Rejection{Reason: ReasonShape, Detail: err.Error()}
	}
	if shapeErr > p.MaxShapeError {
		return nil, &Rejection{Reason: ReasonShape, Detail: fmt.Sprintf("shape error %.1f%% above %.1f%%", shapeErr, p.MaxShapeError)}
	}

	m := &measurement{
		ring:      simplified,
		areaM2:    area,
		radiusEff: math.Sqrt(area / math.Pi),
		shapeErr:  shapeErr,
		meanSpeed: c.meanSpeed(simplified),
	}
	m.centerLon, m.centerLat = contour.UnprojectMercator(cx, cy)
	m.centerLon = field.WrapLongitude(m.centerLon, c.fld.Lon[0])

	if rej := c.locateExtremum(m, sign); rej != nil {
		return nil, rej
	}
	if sign == Anticyclonic {
		m.amplitude = m.extVal - simplified.Level
	} else {
		m.amplitude = simplified.Level - m.extVal
	}
	if m.amplitude < p.MinAmplitude {
		return nil, &Rejection{Reason: ReasonAmplitude, Detail: fmt.Sprintf("amplitude %.4f below minimum %.4f", m.amplitude, p.MinAmplitude)}
	}
	return m, nil
}

// locateExtremum scans the unmasked grid nodes enclosed by the ring for the
// field extremum matching the rotation sign.
func (c *Characterizer) locateExtremum(m *measurement, sign Sign) *Rejection {
	f := c.fld
	nx := len(f.Lon)
	minLon, minLat, maxLon, maxLat := m.ring.BBox()
	iLo := int(math.Ceil((minLon - f.Lon[0]) / f.StepLon()))
	iHi := int(math.Floor((maxLon - f.Lon[0]) / f.StepLon()))
	jLo := int(math.Ceil((minLat - f.Lat[0]) / f.StepLat()))
	jHi := int(math.Floor((maxLat - f.Lat[0]) / f.StepLat()))
	if !f.Circular {
		iLo = max(iLo, 0)
		iHi = min(iHi, nx-1)
	}
	jLo = max(jLo, 0)
	jHi = min(jHi, len(f.Lat)-1)

	found := false
	for i := iLo; i <= iHi; i++ {
		ci := ((i % nx) + nx) % nx
		lon := f.Lon[0] + float64(i)*f.StepLon()
		for j := jLo; j <= jHi; j++ {
			if f.Masked(ci, j) {
				continue
			}
			lat := f.Lat[j]
			if !m.ring.ContainsPoint(lon, lat) {
				continue
			}
			v := f.Values[ci][j]
			if math.IsNaN(v) {
				continue
			}
			better := !found ||
				(sign == Anticyclonic && v > m.extVal) ||
				(sign == Cyclonic && v < m.extVal)
			if better {
				m.extI, m.extJ = ci, j
				m.extLon, m.extLat = lon, lat
				m.extVal = v
				found = true
			}
		}
	}
	if !found {
		return &Rejection{Reason: ReasonNoExtremum, Detail: "no unmasked grid node enclosed by contour"}
	}
	return nil
}

// meanSpeed averages the interpolated azimuthal speed along the ring
// vertices, ignoring masked samples.
func (c *Characterizer) meanSpeed(r contour.Ring) float64 {
	var sum float64
	var n int
	for i := 0; i < r.Len(); i++ {
		v := c.spd.Interp(r.X[i], r.Y[i])
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
