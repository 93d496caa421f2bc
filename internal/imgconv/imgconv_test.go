package imgconv

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestFromImageGray16(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, 3, 2))
	src.SetGray16(0, 0, color.Gray16{Y: 1234})
	src.SetGray16(2, 1, color.Gray16{Y: 65535})

	g, err := FromImage(src)
	if err != nil {
		t.Fatalf("FromImage failed: %v", err)
	}
	if g.Width != 3 || g.Height != 2 || g.Depth != 1 {
		t.Fatalf("grid is %dx%dx%d, want 3x2x1", g.Width, g.Height, g.Depth)
	}
	if g.Data[0] != 1234 {
		t.Errorf("sample (0,0) = %d, want 1234", g.Data[0])
	}
	if g.Data[g.Index(2, 1, 0)] != 65535 {
		t.Errorf("sample (2,1) = %d, want 65535", g.Data[g.Index(2, 1, 0)])
	}
}

func TestFromImageGrayWidens(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.SetGray(0, 0, color.Gray{Y: 0xFF})
	src.SetGray(1, 0, color.Gray{Y: 0x12})

	g, err := FromImage(src)
	if err != nil {
		t.Fatalf("FromImage failed: %v", err)
	}
	if g.Data[0] != 0xFFFF {
		t.Errorf("full-scale 8-bit sample = %d, want 65535", g.Data[0])
	}
	if g.Data[1] != 0x1212 {
		t.Errorf("sample = %#x, want 0x1212", g.Data[1])
	}
}

func TestFromImageColourLuminance(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.SetRGBA(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	src.SetRGBA(1, 0, color.RGBA{R: 255, A: 255}) // pure red

	g, err := FromImage(src)
	if err != nil {
		t.Fatalf("FromImage failed: %v", err)
	}
	if g.Data[0] != 65535 {
		t.Errorf("white = %d, want 65535", g.Data[0])
	}
	// Rec. 601: red carries 29.9% of luminance.
	want := uint16(math.Round(0.299 * 65535))
	if diff := int(g.Data[1]) - int(want); diff < -1 || diff > 1 {
		t.Errorf("red = %d, want about %d", g.Data[1], want)
	}
}

// writePNG saves a gray image for the loader tests.
func writePNG(t *testing.T, dir, name string, w, h int, v uint8) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s failed: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s failed: %v", name, err)
	}
	return path
}

func TestLoadStack(t *testing.T) {
	dir := t.TempDir()
	p0 := writePNG(t, dir, "z0.png", 4, 3, 10)
	p1 := writePNG(t, dir, "z1.png", 4, 3, 20)

	g, err := LoadStack([]string{p0, p1})
	if err != nil {
		t.Fatalf("LoadStack failed: %v", err)
	}
	if g.Width != 4 || g.Height != 3 || g.Depth != 2 {
		t.Fatalf("stack is %dx%dx%d, want 4x3x2", g.Width, g.Height, g.Depth)
	}
	if g.Data[g.Index(0, 0, 0)] != 0x0A0A || g.Data[g.Index(0, 0, 1)] != 0x1414 {
		t.Errorf("plane values = %#x, %#x, want 0x0A0A, 0x1414",
			g.Data[g.Index(0, 0, 0)], g.Data[g.Index(0, 0, 1)])
	}
}

func TestLoadStackRejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	p0 := writePNG(t, dir, "a.png", 4, 3, 0)
	p1 := writePNG(t, dir, "b.png", 5, 3, 0)

	if _, err := LoadStack([]string{p0, p1}); err == nil {
		t.Error("mismatched plane dimensions accepted")
	}
	if _, err := LoadStack(nil); err == nil {
		t.Error("empty path list accepted")
	}
	if _, err := Load(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("missing file accepted")
	}
}
