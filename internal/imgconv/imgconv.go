// Package imgconv bridges Go's image types and the scalar grids the peak
// finder operates on. Decoded images are reduced to 16-bit luminance; 3D
// stacks are assembled from one file per plane.
package imgconv

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"

	_ "golang.org/x/image/tiff" // Register TIFF format decoder

	"github.com/lumicell/foci/internal/volume"
)

// Load decodes one image file into a single-plane grid.
func Load(path string) (*volume.Grid[uint16], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return FromImage(img)
}

// LoadStack decodes one file per z plane into a 3D grid. All planes must
// share the same dimensions. A single path yields a 2D grid.
func LoadStack(paths []string) (*volume.Grid[uint16], error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input images")
	}

	first, err := Load(paths[0])
	if err != nil {
		return nil, err
	}
	if len(paths) == 1 {
		return first, nil
	}

	stack, err := volume.New[uint16](first.Width, first.Height, len(paths))
	if err != nil {
		return nil, err
	}
	copy(stack.Data, first.Data)

	planeSize := first.Width * first.Height
	for z, path := range paths[1:] {
		plane, err := Load(path)
		if err != nil {
			return nil, err
		}
		if plane.Width != first.Width || plane.Height != first.Height {
			return nil, fmt.Errorf("plane %s is %dx%d, expected %dx%d",
				path, plane.Width, plane.Height, first.Width, first.Height)
		}
		copy(stack.Data[(z+1)*planeSize:], plane.Data)
	}
	return stack, nil
}

// FromImage converts a decoded image into a single-plane 16-bit grid. Gray
// images keep their sample values (8-bit data is widened to the full range);
// colour images are reduced to Rec. 601 luminance.
func FromImage(img image.Image) (*volume.Grid[uint16], error) {
	bounds := img.Bounds()
	g, err := volume.New[uint16](bounds.Dx(), bounds.Dy(), 1)
	if err != nil {
		return nil, err
	}

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < g.Height; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < g.Width; x++ {
				g.Data[y*g.Width+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
			}
		}
	case *image.Gray:
		for y := 0; y < g.Height; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < g.Width; x++ {
				v := uint16(row[x])
				g.Data[y*g.Width+x] = v<<8 | v
			}
		}
	default:
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				r, gr, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				lum := 0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)
				g.Data[y*g.Width+x] = uint16(lum + 0.5)
			}
		}
	}
	return g, nil
}
