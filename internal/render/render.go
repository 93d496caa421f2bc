// Package render turns label masks into viewable images: raw 16-bit label
// planes for downstream tools, and colour overlays for eyes.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/lumicell/foci/internal/find"
	"github.com/lumicell/foci/internal/volume"
)

// Plane renders one z plane of the mask with the raw label values, so peak
// ranks survive a round trip through a 16-bit PNG or TIFF.
func Plane(m *find.Mask, z int) (*image.Gray16, error) {
	if z < 0 || z >= m.Depth {
		return nil, fmt.Errorf("plane %d outside mask depth %d", z, m.Depth)
	}
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	base := z * m.Width * m.Height
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: m.Labels[base+y*m.Width+x]})
		}
	}
	return img, nil
}

// goldenAngle spaces label hues so neighbouring ranks stay distinguishable.
const goldenAngle = 137.50776405003785

// Overlay blends label colours over the source plane. Each label gets a hue
// stepped by the golden angle; opacity in [0, 1] controls the blend, with 1
// painting pure label colour.
func Overlay(src *volume.Grid[uint16], m *find.Mask, z int, opacity float64) (*image.RGBA, error) {
	if src.Width != m.Width || src.Height != m.Height || src.Depth != m.Depth {
		return nil, fmt.Errorf("source %dx%dx%d does not match mask %dx%dx%d",
			src.Width, src.Height, src.Depth, m.Width, m.Height, m.Depth)
	}
	if z < 0 || z >= m.Depth {
		return nil, fmt.Errorf("plane %d outside mask depth %d", z, m.Depth)
	}
	opacity = math.Max(0, math.Min(1, opacity))

	maxV := uint16(0)
	for _, v := range src.Data {
		if v > maxV {
			maxV = v
		}
	}
	norm := 1.0
	if maxV > 0 {
		norm = 255.0 / float64(maxV)
	}

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	base := z * m.Width * m.Height
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			i := base + y*m.Width + x
			grey := float64(src.Data[i]) * norm

			r, g, b := grey, grey, grey
			if label := m.Labels[i]; label > 0 {
				hue := math.Mod(float64(label)*goldenAngle, 360)
				cr, cg, cb := colorful.Hsv(hue, 0.85, 1).RGB255()
				r = opacity*float64(cr) + (1-opacity)*grey
				g = opacity*float64(cg) + (1-opacity)*grey
				b = opacity*float64(cb) + (1-opacity)*grey
			}
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(r + 0.5),
				G: uint8(g + 0.5),
				B: uint8(b + 0.5),
				A: 255,
			})
		}
	}
	return img, nil
}
