package imgconv

import (
	"image"

	"github.com/anthonynsimon/bild/blur"

	"github.com/lumicell/foci/internal/volume"
)

// Blur returns a Gaussian-blurred copy of the grid for use as the search
// image. The filter runs per plane at 8-bit precision, which is enough for
// locating structure; intensity measurements still come from the original
// image.
func Blur(g *volume.Grid[uint16], sigma float64) *volume.Grid[uint16] {
	if sigma <= 0 {
		return g.Clone()
	}

	maxV := uint16(0)
	for _, v := range g.Data {
		if v > maxV {
			maxV = v
		}
	}
	out, _ := volume.New[uint16](g.Width, g.Height, g.Depth)
	if maxV == 0 {
		return out
	}
	scale := float64(maxV) / 255.0

	planeSize := g.Width * g.Height
	for z := 0; z < g.Depth; z++ {
		plane := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
		base := z * planeSize
		for i := 0; i < planeSize; i++ {
			plane.Pix[i] = uint8(float64(g.Data[base+i])/scale + 0.5)
		}

		blurred := blur.Gaussian(plane, sigma)
		for i := 0; i < planeSize; i++ {
			out.Data[base+i] = uint16(float64(blurred.Pix[i*4])*scale + 0.5)
		}
	}
	return out
}
