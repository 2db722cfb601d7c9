package eddy

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// fitCircle fits a circle to the polygon vertices by linear least squares and
// returns its center, radius and the shape error: the percentage of area by
// which the polygon deviates from the fitted circle. Coordinates must be in a
// locally metric plane.
func fitCircle(xs, ys []float64) (cx, cy, radius, shapeErr float64, err error) {
	n := len(xs)
	if n < 3 {
		return 0, 0, 0, 0, errors.Errorf("need at least 3 vertices, got %d", n)
	}
	var xMean, yMean float64
	for i := 0; i < n; i++ {
		xMean += xs[i]
		yMean += ys[i]
	}
	xMean /= float64(n)
	yMean /= float64(n)

	norm := make([]float64, n)
	normMax := 0.0
	for i := 0; i < n; i++ {
		dx := xs[i] - xMean
		dy := ys[i] - yMean
		norm[i] = dx*dx + dy*dy
		normMax = math.Max(normMax, norm[i])
	}
	if normMax == 0 {
		return 0, 0, 0, 0, errors.New("vertices are coincident")
	}
	scale := math.Sqrt(normMax)

	data := make([]float64, n*3)
	rhs := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i*3] = 2.0 * (xs[i] - xMean) / scale
		data[i*3+1] = 2.0 * (ys[i] - yMean) / scale
		data[i*3+2] = 1.0
		rhs[i] = norm[i] / normMax
	}
	a := mat.NewDense(n, 3, data)
	b := mat.NewVecDense(n, rhs)
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "circle fit did not converge")
	}
	cx = sol.AtVec(0)
	cy = sol.AtVec(1)
	radius = sol.AtVec(2) + cx*cx + cy*cy
	if radius < 0 {
		radius = 0
	}
	radius = math.Sqrt(radius) * scale
	cx = cx*scale + xMean
	cy = cy*scale + yMean

	shapeErr = shapeError(xs, ys, cx, cy, radius)
	return cx, cy, radius, shapeErr, nil
}

// shapeError measures the relative area mismatch between the polygon and the
// circle: (circleArea - 2*sharedArea + polygonArea) / circleArea, in percent,
// where sharedArea approximates the polygon clipped to the circle by sliding
// outside vertices onto it.
func shapeError(xs, ys []float64, cx, cy, radius float64) float64 {
	n := len(xs)
	inX := make([]float64, n)
	inY := make([]float64, n)
	for i := 0; i < n; i++ {
		dist := math.Hypot(xs[i]-cx, ys[i]-cy)
		if dist > radius && dist > 0 {
			inX[i] = cx + radius*(xs[i]-cx)/dist
			inY[i] = cy + radius*(ys[i]-cy)/dist
		} else {
			inX[i] = xs[i]
			inY[i] = ys[i]
		}
	}
	var polyArea, sharedArea float64
	for i := 0; i < n; i++ {
		k := (i + 1) % n
		polyArea += xs[i]*ys[k] - xs[k]*ys[i]
		sharedArea += inX[i]*inY[k] - inX[k]*inY[i]
	}
	polyArea = math.Abs(polyArea) * 0.5
	sharedArea = math.Abs(sharedArea) * 0.5
	circleArea := radius * radius * math.Pi
	if circleArea == 0 {
		return math.Inf(1)
	}
	return (circleArea - 2*sharedArea + polyArea) * 100.0 / circleArea
}
