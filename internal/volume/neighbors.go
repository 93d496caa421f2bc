package volume

// Direction offset tables for 26-connectivity. The first 8 entries are the
// in-plane directions used for 2D images, ordered clockwise from north so the
// mask border cleanup can walk adjacent directions; entries 8-16 step to the
// slice below and 17-25 to the slice above.
var (
	dirX = [26]int{0, 1, 1, 1, 0, -1, -1, -1, 0, 1, 1, 1, 0, -1, -1, -1, 0, 0, 1, 1, 1, 0, -1, -1, -1, 0}
	dirY = [26]int{-1, -1, 0, 1, 1, 1, 0, -1, -1, -1, 0, 1, 1, 1, 0, -1, 0, -1, -1, 0, 1, 1, 1, 0, -1, 0}
	dirZ = [26]int{0, 0, 0, 0, 0, 0, 0, 0, -1, -1, -1, -1, -1, -1, -1, -1, -1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
)

// Neighborhood precomputes linear offsets and bounds limits for one grid
// shape. It is valid only for grids with the dimensions it was built from.
type Neighborhood struct {
	offsets  [26]int
	flatEdge [26]bool
	n        int // 8 for 2D, 26 for 3D
	xlimit   int
	ylimit   int
	zlimit   int
}

// NewNeighborhood builds the offset table for a grid shape.
func NewNeighborhood(width, height, depth int) *Neighborhood {
	nb := &Neighborhood{
		n:      26,
		xlimit: width - 1,
		ylimit: height - 1,
		zlimit: depth - 1,
	}
	if depth == 1 {
		nb.n = 8
	}
	for d := 0; d < 26; d++ {
		nb.offsets[d] = width*height*dirZ[d] + width*dirY[d] + dirX[d]
		nb.flatEdge[d] = abs(dirX[d])+abs(dirY[d])+abs(dirZ[d]) == 1
	}
	return nb
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Len returns the number of directions (8 or 26).
func (nb *Neighborhood) Len() int {
	return nb.n
}

// Offset returns the linear index offset for direction d.
func (nb *Neighborhood) Offset(d int) int {
	return nb.offsets[d]
}

// FlatEdge reports whether direction d is axis-aligned (shares a face in 3D
// or an edge in 2D) rather than diagonal.
func (nb *Neighborhood) FlatEdge(d int) bool {
	return nb.flatEdge[d]
}

// Inner reports whether every direction from (x, y, z) stays in bounds, so
// the per-direction check can be skipped for interior pixels.
func (nb *Neighborhood) Inner(x, y, z int) bool {
	if x == 0 || x == nb.xlimit || y == 0 || y == nb.ylimit {
		return false
	}
	if nb.zlimit == 0 {
		return true
	}
	return z != 0 && z != nb.zlimit
}

// InBounds reports whether the neighbour of (x, y, z) in direction d lies
// inside the grid. The pixel itself is assumed to be in bounds.
func (nb *Neighborhood) InBounds(x, y, z, d int) bool {
	nx := x + dirX[d]
	if nx < 0 || nx > nb.xlimit {
		return false
	}
	ny := y + dirY[d]
	if ny < 0 || ny > nb.ylimit {
		return false
	}
	nz := z + dirZ[d]
	return nz >= 0 && nz <= nb.zlimit
}

// InBoundsXY is the 2D variant used by per-plane passes; it considers only
// the first 8 directions.
func (nb *Neighborhood) InBoundsXY(x, y, d int) bool {
	nx := x + dirX[d]
	if nx < 0 || nx > nb.xlimit {
		return false
	}
	ny := y + dirY[d]
	return ny >= 0 && ny <= nb.ylimit
}

// ForEachXY calls fn for every in-bounds in-plane neighbour, walking the 8
// directions in descending order.
func (nb *Neighborhood) ForEachXY(index, x, y int, fn func(d, neighbor int)) {
	if x != 0 && x != nb.xlimit && y != 0 && y != nb.ylimit {
		for d := 7; d >= 0; d-- {
			fn(d, index+nb.offsets[d])
		}
		return
	}
	for d := 7; d >= 0; d-- {
		if nb.InBoundsXY(x, y, d) {
			fn(d, index+nb.offsets[d])
		}
	}
}

// ForEach calls fn with the direction and neighbour index for every in-bounds
// neighbour of the pixel at index (whose coordinates are x, y, z). The inner
// fast path avoids per-direction bounds checks away from the grid faces.
func (nb *Neighborhood) ForEach(index, x, y, z int, fn func(d, neighbor int)) {
	if nb.Inner(x, y, z) {
		for d := nb.n - 1; d >= 0; d-- {
			fn(d, index+nb.offsets[d])
		}
		return
	}
	for d := nb.n - 1; d >= 0; d-- {
		if nb.InBounds(x, y, z, d) {
			fn(d, index+nb.offsets[d])
		}
	}
}
