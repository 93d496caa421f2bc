// Package volume provides the flat scalar grid that the peak finder operates
// on, together with 8/26-connectivity neighbour iteration.
//
// A Grid stores samples in a single slice addressed by a linear index derived
// from (x, y, z) and the grid dimensions. The index convention matches the
// usual image layout: index = width*height*z + width*y + x, so (0,0,0) is the
// top-left pixel of the first slice, X increases rightward, Y downward and Z
// through the stack.
//
// # Connectivity
//
// Neighbour iteration is 8-connected for single-slice grids and 26-connected
// for stacks. The Neighborhood type precomputes the linear offset for each
// direction once per grid shape; callers iterate directions and receive only
// in-bounds neighbours, so the per-pixel bounds branching lives in one place.
//
// # Sample types
//
// Grids are generic over the Sample constraint (8/16/32-bit unsigned integers
// or float32). All comparisons in the peak finder use the native type; values
// are widened to float64 only for accumulated statistics.
package volume
