package volume

import "fmt"

// Sample is the set of pixel types a Grid can hold: bounded unsigned integers
// as produced by 8/16-bit cameras, or IEEE floats for processed images.
type Sample interface {
	~uint8 | ~uint16 | ~uint32 | ~float32
}

// Grid is an immutable flat buffer of scalar samples with spatial dimensions.
// Depth is 1 for a plain 2D image. The peak finder never writes to Data; all
// mutable per-pixel state lives in separate parallel buffers.
type Grid[T Sample] struct {
	Data   []T
	Width  int
	Height int
	Depth  int
}

// New allocates a zero-filled grid of the given dimensions.
func New[T Sample](width, height, depth int) (*Grid[T], error) {
	if width < 1 || height < 1 || depth < 1 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%dx%d", width, height, depth)
	}
	return &Grid[T]{
		Data:   make([]T, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}, nil
}

// FromSlice wraps an existing sample slice. The slice is used directly, not
// copied; len(data) must equal width*height*depth.
func FromSlice[T Sample](data []T, width, height, depth int) (*Grid[T], error) {
	if width < 1 || height < 1 || depth < 1 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%dx%d", width, height, depth)
	}
	if len(data) != width*height*depth {
		return nil, fmt.Errorf("sample count %d does not match dimensions %dx%dx%d",
			len(data), width, height, depth)
	}
	return &Grid[T]{Data: data, Width: width, Height: height, Depth: depth}, nil
}

// Len returns the number of samples.
func (g *Grid[T]) Len() int {
	return len(g.Data)
}

// Index returns the linear index of (x, y, z).
func (g *Grid[T]) Index(x, y, z int) int {
	return g.Width*g.Height*z + g.Width*y + x
}

// XYZ decomposes a linear index into its coordinates.
func (g *Grid[T]) XYZ(index int) (x, y, z int) {
	plane := g.Width * g.Height
	z = index / plane
	mod := index % plane
	y = mod / g.Width
	x = mod % g.Width
	return x, y, z
}

// XY decomposes a linear index ignoring the slice, for per-plane passes.
func (g *Grid[T]) XY(index int) (x, y int) {
	mod := index % (g.Width * g.Height)
	return mod % g.Width, mod / g.Width
}

// Value returns the sample at index widened to float64.
func (g *Grid[T]) Value(index int) float64 {
	return float64(g.Data[index])
}

// SameShape reports whether two grids have identical dimensions.
func (g *Grid[T]) SameShape(o *Grid[T]) bool {
	return g.Width == o.Width && g.Height == o.Height && g.Depth == o.Depth
}

// Clone returns a deep copy of the grid.
func (g *Grid[T]) Clone() *Grid[T] {
	data := make([]T, len(g.Data))
	copy(data, g.Data)
	return &Grid[T]{Data: data, Width: g.Width, Height: g.Height, Depth: g.Depth}
}
