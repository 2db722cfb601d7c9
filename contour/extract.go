package contour

import (
	"math"

	"github.com/ls6468/py-eddy-tracker/field"
)

// edgeKey identifies a grid-cell edge. Vertical edges run from node (i, j) to
// (i, j+1); horizontal edges from (i, j) to (i+1, j) with i wrapping on
// circular grids.
type edgeKey struct {
	vertical bool
	i, j     int
}

type segment struct {
	a, b edgeKey
}

// Extract traces the closed iso-contours of f at the given threshold level
// using marching squares with linear edge interpolation. Cells touching
// masked or NaN nodes emit no segments, so any contour crossing them stays
// open and is discarded along with contours leaving the grid boundary. Rings
// shorter than minVertices are dropped. Output order is deterministic.
func Extract(f *field.Field, level float64, minVertices int) []Ring {
	nx := len(f.Lon)
	ny := len(f.Lat)
	nCellsX := nx - 1
	if f.Circular {
		nCellsX = nx
	}

	points := make(map[edgeKey][2]float64)
	adj := make(map[edgeKey][]edgeKey)
	segs := make([]segment, 0)

	inside := func(i, j int) bool { return f.Values[i][j] > level }

	// interpolated crossing point in grid coordinates
	crossing := func(k edgeKey) [2]float64 {
		if k.vertical {
			va := f.Values[k.i][k.j]
			vb := f.Values[k.i][k.j+1]
			t := (level - va) / (vb - va)
			return [2]float64{float64(k.i), float64(k.j) + t}
		}
		i1 := (k.i + 1) % nx
		va := f.Values[k.i][k.j]
		vb := f.Values[i1][k.j]
		t := (level - va) / (vb - va)
		return [2]float64{float64(k.i) + t, float64(k.j)}
	}

	addSeg := func(a, b edgeKey) {
		if _, ok := points[a]; !ok {
			points[a] = crossing(a)
		}
		if _, ok := points[b]; !ok {
			points[b] = crossing(b)
		}
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
		segs = append(segs, segment{a, b})
	}

	for i := 0; i < nCellsX; i++ {
		i1 := (i + 1) % nx
		for j := 0; j < ny-1; j++ {
			if f.Masked(i, j) || f.Masked(i1, j) || f.Masked(i1, j+1) || f.Masked(i, j+1) {
				continue
			}
			v00 := f.Values[i][j]
			v10 := f.Values[i1][j]
			v11 := f.Values[i1][j+1]
			v01 := f.Values[i][j+1]
			if math.IsNaN(v00) || math.IsNaN(v10) || math.IsNaN(v11) || math.IsNaN(v01) {
				continue
			}
			idx := 0
			if inside(i, j) {
				idx |= 1
			}
			if inside(i1, j) {
				idx |= 2
			}
			if inside(i1, j+1) {
				idx |= 4
			}
			if inside(i, j+1) {
				idx |= 8
			}
			if idx == 0 || idx == 15 {
				continue
			}
			bottom := edgeKey{false, i, j}
			top := edgeKey{false, i, j + 1}
			left := edgeKey{true, i, j}
			right := edgeKey{true, (i + 1) % nx, j}
			switch idx {
			case 1, 14:
				addSeg(left, bottom)
			case 2, 13:
				addSeg(bottom, right)
			case 3, 12:
				addSeg(left, right)
			case 4, 11:
				addSeg(right, top)
			case 6, 9:
				addSeg(bottom, top)
			case 7, 8:
				addSeg(left, top)
			case 5:
				// saddle, disambiguated by the cell-center mean
				if (v00+v10+v11+v01)*0.25 > level {
					addSeg(bottom, right)
					addSeg(left, top)
				} else {
					addSeg(left, bottom)
					addSeg(right, top)
				}
			case 10:
				if (v00+v10+v11+v01)*0.25 > level {
					addSeg(left, bottom)
					addSeg(right, top)
				} else {
					addSeg(bottom, right)
					addSeg(left, top)
				}
			}
		}
	}

	rings := make([]Ring, 0)
	visited := make(map[edgeKey]bool)
	for _, s := range segs {
		if visited[s.a] {
			continue
		}
		loop, closed := walkLoop(s.a, adj, visited)
		if !closed {
			continue
		}
		ring := buildRing(f, level, loop, points, nx)
		if ring.Len() >= minVertices {
			rings = append(rings, ring)
		}
	}
	return rings
}

// walkLoop follows the segment adjacency from start, marking every visited
// edge. It reports whether the chain closes back on itself. Open chains (mask
// holes or grid boundary) are consumed so they are not revisited.
func walkLoop(start edgeKey, adj map[edgeKey][]edgeKey, visited map[edgeKey]bool) ([]edgeKey, bool) {
	loop := []edgeKey{start}
	visited[start] = true
	prev := start
	cur := start
	for {
		var next edgeKey
		found := false
		for _, nb := range adj[cur] {
			if nb != prev {
				next = nb
				found = true
				break
			}
		}
		if !found {
			return loop, false
		}
		if next == start {
			return loop, len(loop) > 2
		}
		if visited[next] {
			return loop, false
		}
		visited[next] = true
		loop = append(loop, next)
		prev, cur = cur, next
	}
}

// buildRing converts a loop of edge keys to geographic coordinates, unwrapping
// longitudes across the circular seam and dropping coincident vertices.
func buildRing(f *field.Field, level float64, loop []edgeKey, points map[edgeKey][2]float64, nx int) Ring {
	gx := make([]float64, 0, len(loop))
	gy := make([]float64, 0, len(loop))
	for k, key := range loop {
		p := points[key]
		x, y := p[0], p[1]
		if k > 0 && f.Circular {
			dx := x - gx[len(gx)-1]
			if dx > float64(nx)/2 {
				x -= float64(nx)
			} else if dx < -float64(nx)/2 {
				x += float64(nx)
			}
		}
		if len(gx) > 0 && math.Abs(x-gx[len(gx)-1]) < 1e-9 && math.Abs(y-gy[len(gy)-1]) < 1e-9 {
			continue
		}
		gx = append(gx, x)
		gy = append(gy, y)
	}
	// drop a duplicated closing vertex
	if len(gx) > 1 && math.Abs(gx[0]-gx[len(gx)-1]) < 1e-9 && math.Abs(gy[0]-gy[len(gy)-1]) < 1e-9 {
		gx = gx[:len(gx)-1]
		gy = gy[:len(gy)-1]
	}
	xs := make([]float64, len(gx))
	ys := make([]float64, len(gy))
	for i := range gx {
		xs[i] = f.Lon[0] + gx[i]*f.StepLon()
		ys[i] = f.Lat[0] + gy[i]*f.StepLat()
	}
	return NewRing(level, xs, ys)
}
