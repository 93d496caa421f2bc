package imgconv

import (
	"testing"

	"github.com/lumicell/foci/internal/volume"
)

func TestBlurZeroSigmaCopies(t *testing.T) {
	g, _ := volume.New[uint16](4, 4, 1)
	g.Data[5] = 1000

	out := Blur(g, 0)
	if out == g {
		t.Fatal("returned the input grid")
	}
	for i := range g.Data {
		if out.Data[i] != g.Data[i] {
			t.Fatalf("sample %d changed: %d != %d", i, out.Data[i], g.Data[i])
		}
	}
}

func TestBlurSpreadsPeak(t *testing.T) {
	g, _ := volume.New[uint16](15, 15, 1)
	centre := g.Index(7, 7, 0)
	g.Data[centre] = 60000

	out := Blur(g, 2)
	if out.Data[centre] == 0 {
		t.Fatal("centre blurred to zero")
	}
	if out.Data[centre] >= g.Data[centre] {
		t.Errorf("centre value %d not reduced from %d", out.Data[centre], g.Data[centre])
	}
	if out.Data[g.Index(8, 7, 0)] == 0 {
		t.Error("no spread into the neighbour pixel")
	}
	for i, v := range out.Data {
		if v > out.Data[centre] {
			t.Fatalf("pixel %d brighter than the original centre after blurring", i)
		}
	}
}

func TestBlurKeepsPlanesSeparate(t *testing.T) {
	g, _ := volume.New[uint16](9, 9, 2)
	g.Data[g.Index(4, 4, 0)] = 50000

	out := Blur(g, 1.5)
	for i := g.Width * g.Height; i < g.Len(); i++ {
		if out.Data[i] != 0 {
			t.Fatalf("blur leaked into the second plane at %d", i)
		}
	}
}

func TestBlurEmptyImage(t *testing.T) {
	g, _ := volume.New[uint16](8, 8, 1)
	out := Blur(g, 2)
	for i, v := range out.Data {
		if v != 0 {
			t.Fatalf("empty image produced %d at %d", v, i)
		}
	}
}
