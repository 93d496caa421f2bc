// Package fitting estimates sub-pixel peak centres by fitting a 2D Gaussian
// to a small intensity patch. The peak finder treats the fit as an optional
// injected delegate and falls back silently when it fails, so every failure
// mode here reports ok=false rather than an error.
package fitting

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Gaussian2D fits an axis-aligned 2D Gaussian to the patch (w×h, row-major)
// and returns its centre. The fit is a weighted least-squares solve of the
// log-linearized model log(I) = a + b·x + c·y + d·x² + e·y², weighted by
// intensity so bright pixels dominate. ok is false when there are too few
// positive samples, the system is singular, the solution is not a maximum,
// or the centre falls outside the patch.
func Gaussian2D(patch []float32, w, h int) (cx, cy float64, ok bool) {
	if w < 3 || h < 3 || len(patch) != w*h {
		return 0, 0, false
	}

	var rows [][5]float64
	var rhs []float64
	var weights []float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(patch[y*w+x])
			if v <= 0 {
				continue
			}
			fx, fy := float64(x), float64(y)
			rows = append(rows, [5]float64{1, fx, fy, fx * fx, fy * fy})
			rhs = append(rhs, math.Log(v))
			weights = append(weights, v)
		}
	}
	if len(rows) < 6 {
		return 0, 0, false
	}

	a := mat.NewDense(len(rows), 5, nil)
	b := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		sw := math.Sqrt(weights[i])
		for j, v := range r {
			a.Set(i, j, v*sw)
		}
		b.SetVec(i, rhs[i]*sw)
	}

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return 0, 0, false
	}

	d, e := coef.AtVec(3), coef.AtVec(4)
	if d >= 0 || e >= 0 {
		// Not a peak along both axes.
		return 0, 0, false
	}
	cx = -coef.AtVec(1) / (2 * d)
	cy = -coef.AtVec(2) / (2 * e)
	if math.IsNaN(cx) || math.IsNaN(cy) ||
		cx < 0 || cx > float64(w-1) || cy < 0 || cy > float64(h-1) {
		return 0, 0, false
	}
	return cx, cy, true
}
