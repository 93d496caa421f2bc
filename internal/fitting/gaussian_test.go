package fitting

import (
	"math"
	"testing"
)

// gaussianPatch samples an axis-aligned Gaussian of the given centre and
// width onto a w x h patch.
func gaussianPatch(w, h int, cx, cy, sigma, amplitude float64) []float32 {
	patch := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			patch[y*w+x] = float32(amplitude * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
	return patch
}

func TestGaussian2DRecoversCentre(t *testing.T) {
	tests := []struct {
		cx, cy float64
	}{
		{4, 4},
		{4.3, 3.7},
		{2.8, 5.1},
	}
	for _, tc := range tests {
		patch := gaussianPatch(9, 9, tc.cx, tc.cy, 1.5, 100)
		cx, cy, ok := Gaussian2D(patch, 9, 9)
		if !ok {
			t.Errorf("fit at (%g,%g) failed", tc.cx, tc.cy)
			continue
		}
		if math.Abs(cx-tc.cx) > 0.05 || math.Abs(cy-tc.cy) > 0.05 {
			t.Errorf("fit at (%g,%g) gave (%g,%g)", tc.cx, tc.cy, cx, cy)
		}
	}
}

func TestGaussian2DRejectsBadInput(t *testing.T) {
	if _, _, ok := Gaussian2D(make([]float32, 4), 2, 2); ok {
		t.Error("accepted a patch below the minimum size")
	}
	if _, _, ok := Gaussian2D(make([]float32, 10), 3, 3); ok {
		t.Error("accepted a mis-sized patch")
	}
	if _, _, ok := Gaussian2D(make([]float32, 25), 5, 5); ok {
		t.Error("accepted an all-zero patch")
	}
}

func TestGaussian2DRejectsNonPeak(t *testing.T) {
	// Intensity rising away from the centre: curvature has the wrong sign.
	patch := make([]float32, 25)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			patch[y*5+x] = float32(math.Exp(float64(x*x) / 10))
		}
	}
	if _, _, ok := Gaussian2D(patch, 5, 5); ok {
		t.Error("accepted a patch with no maximum")
	}
}
