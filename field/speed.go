package field

import "math"

// minCoriolisLat keeps the Coriolis parameter away from its equatorial zero
// when deriving geostrophic velocities.
const minCoriolisLat = 5.0

// SpeedField derives the magnitude of the geostrophic surface velocity from
// the height field: u = -(g/f)·∂h/∂y, v = (g/f)·∂h/∂x, with central
// differences over great-circle cell sizes. Nodes whose stencil touches the
// mask or the meridional grid edge are masked in the result; the zonal edge
// wraps when the grid is circular.
func (f *Field) SpeedField() *Field {
	nx := len(f.Lon)
	ny := len(f.Lat)
	values := make([][]float64, nx)
	mask := make([][]bool, nx)
	for i := range values {
		values[i] = make([]float64, ny)
		mask[i] = make([]bool, ny)
	}
	for i := 0; i < nx; i++ {
		im := i - 1
		ip := i + 1
		zonalEdge := false
		if f.Circular {
			im = ((im % nx) + nx) % nx
			ip = ip % nx
		} else if im < 0 || ip >= nx {
			zonalEdge = true
		}
		for j := 0; j < ny; j++ {
			if zonalEdge || j == 0 || j == ny-1 {
				mask[i][j] = true
				continue
			}
			if f.Masked(i, j) || f.Masked(im, j) || f.Masked(ip, j) ||
				f.Masked(i, j-1) || f.Masked(i, j+1) {
				mask[i][j] = true
				continue
			}
			lat := f.Lat[j]
			clamped := math.Max(math.Abs(lat), minCoriolisLat)
			coriolis := math.Copysign(4.0*math.Pi*math.Sin(clamped*deg2rad)/86400.0, lat)
			gof := Gravity / coriolis
			dx := Haversine(f.Lon[i]-f.stepLon, lat, f.Lon[i]+f.stepLon, lat)
			dy := Haversine(f.Lon[i], f.Lat[j-1], f.Lon[i], f.Lat[j+1])
			u := -gof * (f.Values[i][j+1] - f.Values[i][j-1]) / dy
			v := gof * (f.Values[ip][j] - f.Values[im][j]) / dx
			values[i][j] = math.Hypot(u, v)
		}
	}
	return &Field{
		Lon:      f.Lon,
		Lat:      f.Lat,
		Values:   values,
		Mask:     mask,
		Circular: f.Circular,
		stepLon:  f.stepLon,
		stepLat:  f.stepLat,
	}
}
