package contour

import (
	"container/heap"
	"math"
)

// vwVertex is a ring vertex with its effective area (the area change its
// removal would cause) for the Visvalingam-Whyatt simplifier.
type vwVertex struct {
	idx     int // original vertex index, also the tie-break key
	area    float64
	heapIdx int
	removed bool
}

// vwHeap is a min-heap by (effective area, original index).
type vwHeap []*vwVertex

func (h vwHeap) Len() int { return len(h) }

func (h vwHeap) Less(i, j int) bool {
	if h[i].area != h[j].area {
		return h[i].area < h[j].area
	}
	return h[i].idx < h[j].idx
}

func (h vwHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *vwHeap) Push(x any) {
	item := x.(*vwVertex)
	item.heapIdx = len(*h)
	*h = append(*h, item)
}

func (h *vwHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIdx = -1
	*h = old[0 : n-1]
	return item
}

func triangleArea(x0, y0, x1, y1, x2, y2 float64) float64 {
	return math.Abs((x1-x0)*(y2-y0)-(x2-x0)*(y1-y0)) * 0.5
}

// Simplify removes ring vertices in increasing order of their effective area
// until the cheapest remaining removal would change the enclosed area by more
// than tol (in square degrees), recomputing neighbor contributions after each
// removal. The result always keeps at least 3 vertices. Ties are broken by
// original vertex index, so the output is deterministic, and re-running with
// the same tolerance removes nothing further.
func Simplify(r Ring, tol float64) Ring {
	return simplify(r, tol, 3)
}

// SimplifyToCount removes vertices in the same order as Simplify until the
// ring is down to at most maxVertices (never below 3).
func SimplifyToCount(r Ring, maxVertices int) Ring {
	if maxVertices < 3 {
		maxVertices = 3
	}
	return simplify(r, math.Inf(1), maxVertices)
}

func simplify(r Ring, tol float64, minKeep int) Ring {
	n := r.Len()
	if n <= minKeep {
		return r
	}
	prev := make([]int, n)
	next := make([]int, n)
	items := make([]*vwVertex, n)
	h := make(vwHeap, 0, n)
	for i := 0; i < n; i++ {
		prev[i] = (i - 1 + n) % n
		next[i] = (i + 1) % n
		items[i] = &vwVertex{idx: i}
	}
	effArea := func(i int) float64 {
		return triangleArea(r.X[prev[i]], r.Y[prev[i]], r.X[i], r.Y[i], r.X[next[i]], r.Y[next[i]])
	}
	for i := 0; i < n; i++ {
		items[i].area = effArea(i)
		h = append(h, items[i])
		items[i].heapIdx = i
	}
	heap.Init(&h)

	remaining := n
	for remaining > minKeep && h.Len() > 0 {
		top := h[0]
		if top.area > tol {
			break
		}
		heap.Pop(&h)
		top.removed = true
		remaining--
		p, q := prev[top.idx], next[top.idx]
		next[p] = q
		prev[q] = p
		for _, nb := range []int{p, q} {
			if items[nb].removed {
				continue
			}
			items[nb].area = effArea(nb)
			heap.Fix(&h, items[nb].heapIdx)
		}
	}

	xs := make([]float64, 0, remaining)
	ys := make([]float64, 0, remaining)
	for i := 0; i < n; i++ {
		if !items[i].removed {
			xs = append(xs, r.X[i])
			ys = append(ys, r.Y[i])
		}
	}
	return NewRing(r.Level, xs, ys)
}
