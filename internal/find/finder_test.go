package find

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/lumicell/foci/internal/volume"
)

// newImage creates a zero-filled single-plane test image.
func newImage(t *testing.T, w, h int) *volume.Grid[uint16] {
	t.Helper()
	g, err := volume.New[uint16](w, h, 1)
	if err != nil {
		t.Fatalf("New grid failed: %v", err)
	}
	return g
}

// paintCone paints a square pyramid: value = height - slope*chebyshev(centre).
// Overlapping cones keep the maximum.
func paintCone(g *volume.Grid[uint16], cx, cy, height, slope int) {
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			d := absInt(x - cx)
			if dy := absInt(y - cy); dy > d {
				d = dy
			}
			v := height - slope*d
			if v <= 0 {
				continue
			}
			i := g.Index(x, y, 0)
			if uint16(v) > g.Data[i] {
				g.Data[i] = uint16(v)
			}
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// countAtOrAbove counts pixels at or above the level.
func countAtOrAbove(g *volume.Grid[uint16], level uint16) int {
	n := 0
	for _, v := range g.Data {
		if v >= level {
			n++
		}
	}
	return n
}

// testConfig uses an absolute background so expected values are exact.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackgroundMethod = BackgroundAbsolute
	cfg.BackgroundParameter = 5
	cfg.SearchMethod = SearchAboveBackground
	cfg.PeakMethod = PeakAbsolute
	cfg.PeakParameter = 30
	cfg.MinSize = 5
	return cfg
}

func findPeaks(t *testing.T, cfg Config, img *volume.Grid[uint16], opts ...Option[uint16]) *Result {
	t.Helper()
	f, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := f.FindPeaks(context.Background(), img)
	if err != nil {
		t.Fatalf("FindPeaks failed: %v", err)
	}
	return res
}

func TestFindPeaksFlatImages(t *testing.T) {
	for _, value := range []uint16{0, 7} {
		img := newImage(t, 8, 8)
		for i := range img.Data {
			img.Data[i] = value
		}
		res := findPeaks(t, testConfig(), img)
		if len(res.Peaks) != 0 {
			t.Errorf("flat image of %d: got %d peaks, want 0", value, len(res.Peaks))
		}
	}
}

func TestFindPeaksSingleCone(t *testing.T) {
	img := newImage(t, 32, 32)
	paintCone(img, 15, 15, 100, 10)

	res := findPeaks(t, testConfig(), img)
	if len(res.Peaks) != 1 {
		t.Fatalf("got %d peaks, want 1", len(res.Peaks))
	}

	p := res.Peaks[0]
	if p.ID != 1 {
		t.Errorf("peak id = %d, want 1", p.ID)
	}
	if p.X != 15 || p.Y != 15 || p.Z != 0 {
		t.Errorf("peak at (%d,%d,%d), want (15,15,0)", p.X, p.Y, p.Z)
	}
	if p.MaxValue != 100 {
		t.Errorf("max value = %g, want 100", p.MaxValue)
	}
	if want := countAtOrAbove(img, 5); p.Count != want {
		t.Errorf("count = %d, want %d (every pixel above background)", p.Count, want)
	}
	if got := p.Intensity / float64(p.Count); got != p.AverageIntensity {
		t.Errorf("average intensity = %g, want %g", p.AverageIntensity, got)
	}
	if p.SaddleNeighbourID != 0 || p.HighestSaddleValue != 0 {
		t.Errorf("lone peak has saddle neighbour %d @ %g", p.SaddleNeighbourID, p.HighestSaddleValue)
	}
	if p.CountAboveSaddle != p.Count {
		t.Errorf("count above saddle = %d, want %d for a lone peak", p.CountAboveSaddle, p.Count)
	}
}

// Two cones meeting in a valley of height 20: both survive a height criterion
// of 30; the lower one merges under a criterion of 50.
func twoConeImage(t *testing.T) *volume.Grid[uint16] {
	img := newImage(t, 32, 20)
	paintCone(img, 8, 10, 90, 10)
	paintCone(img, 20, 10, 60, 10)
	return img
}

func TestFindPeaksTwoCones(t *testing.T) {
	img := twoConeImage(t)
	total := countAtOrAbove(img, 5)

	res := findPeaks(t, testConfig(), img)
	if len(res.Peaks) != 2 {
		t.Fatalf("got %d peaks, want 2", len(res.Peaks))
	}
	p1, p2 := res.Peaks[0], res.Peaks[1]

	if p1.MaxValue != 90 || p2.MaxValue != 60 {
		t.Errorf("max values = %g, %g, want 90, 60", p1.MaxValue, p2.MaxValue)
	}
	if p1.Count+p2.Count != total {
		t.Errorf("counts %d+%d != %d pixels above background", p1.Count, p2.Count, total)
	}

	// The shared saddle reads the same from both sides.
	if p1.HighestSaddleValue != 20 || p2.HighestSaddleValue != 20 {
		t.Errorf("saddle values = %g, %g, want 20, 20", p1.HighestSaddleValue, p2.HighestSaddleValue)
	}
	if p1.SaddleNeighbourID != p2.ID || p2.SaddleNeighbourID != p1.ID {
		t.Errorf("saddle neighbours = %d, %d, want each other", p1.SaddleNeighbourID, p2.SaddleNeighbourID)
	}
	for _, p := range res.Peaks {
		if p.CountAboveSaddle >= p.Count {
			t.Errorf("peak %d: count above saddle %d not below count %d", p.ID, p.CountAboveSaddle, p.Count)
		}
	}
}

func TestFindPeaksMergesLowPeak(t *testing.T) {
	img := twoConeImage(t)
	total := countAtOrAbove(img, 5)

	cfg := testConfig()
	cfg.PeakParameter = 50 // 60 - 20 = 40 falls short
	res := findPeaks(t, cfg, img)
	if len(res.Peaks) != 1 {
		t.Fatalf("got %d peaks, want 1 after merge", len(res.Peaks))
	}

	p := res.Peaks[0]
	if p.MaxValue != 90 {
		t.Errorf("merged max value = %g, want 90", p.MaxValue)
	}
	if p.Count != total {
		t.Errorf("merged count = %d, want %d (pixels are conserved)", p.Count, total)
	}
	if p.SaddleNeighbourID != 0 {
		t.Errorf("merged peak still has saddle neighbour %d", p.SaddleNeighbourID)
	}
}

func TestFindPeaksDeterministic(t *testing.T) {
	img := twoConeImage(t)
	cfg := testConfig()
	a := findPeaks(t, cfg, img)
	b := findPeaks(t, cfg, img)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("two runs differ:\n%+v\n%+v", a, b)
	}
}

func TestPlateauSeedsAtCentroid(t *testing.T) {
	img := newImage(t, 8, 8)
	for y := 2; y <= 4; y++ {
		for x := 2; x <= 4; x++ {
			img.Data[img.Index(x, y, 0)] = 50
		}
	}

	res := findPeaks(t, testConfig(), img)
	if len(res.Peaks) != 1 {
		t.Fatalf("got %d peaks, want 1", len(res.Peaks))
	}
	p := res.Peaks[0]
	if p.X != 3 || p.Y != 3 {
		t.Errorf("plateau seed at (%d,%d), want centroid (3,3)", p.X, p.Y)
	}
	if p.Count != 9 {
		t.Errorf("plateau count = %d, want 9", p.Count)
	}
}

func TestFindPeaksCandidateCapacity(t *testing.T) {
	img := newImage(t, 32, 32)
	img.Data[img.Index(2, 2, 0)] = 100
	img.Data[img.Index(10, 10, 0)] = 100
	img.Data[img.Index(20, 20, 0)] = 100

	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxCandidates = 3

	f, err := New[uint16](cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = f.FindPeaks(context.Background(), img)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("got error %v, want ErrCapacityExceeded", err)
	}
}

func TestRemoveEdgeMaxima(t *testing.T) {
	img := newImage(t, 32, 32)
	paintCone(img, 2, 8, 100, 10) // spills over the left border

	cfg := testConfig()
	if res := findPeaks(t, cfg, img); len(res.Peaks) != 1 {
		t.Fatalf("without the filter: got %d peaks, want 1", len(res.Peaks))
	}

	cfg.RemoveEdgeMaxima = true
	if res := findPeaks(t, cfg, img); len(res.Peaks) != 0 {
		t.Errorf("with the filter: got %d peaks, want 0", len(res.Peaks))
	}
}

func TestFindPeaks3D(t *testing.T) {
	img, err := volume.New[uint16](8, 8, 3)
	if err != nil {
		t.Fatalf("New grid failed: %v", err)
	}
	img.Data[img.Index(4, 4, 1)] = 100

	cfg := testConfig()
	cfg.MinSize = 1
	res := findPeaks(t, cfg, img)
	if len(res.Peaks) != 1 {
		t.Fatalf("got %d peaks, want 1", len(res.Peaks))
	}
	p := res.Peaks[0]
	if p.X != 4 || p.Y != 4 || p.Z != 1 {
		t.Errorf("peak at (%d,%d,%d), want (4,4,1)", p.X, p.Y, p.Z)
	}
	if p.Count != 1 {
		t.Errorf("count = %d, want 1", p.Count)
	}
}

func TestFindPeaksWithMask(t *testing.T) {
	img := twoConeImage(t)

	// Exclude the right half so only the left cone remains.
	mask, err := volume.New[uint8](img.Width, img.Height, img.Depth)
	if err != nil {
		t.Fatalf("New mask failed: %v", err)
	}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < 16; x++ {
			mask.Data[mask.Index(x, y, 0)] = 1
		}
	}

	res := findPeaks(t, testConfig(), img, WithMask[uint16](mask))
	if len(res.Peaks) != 1 {
		t.Fatalf("got %d peaks, want 1", len(res.Peaks))
	}
	if res.Peaks[0].MaxValue != 90 {
		t.Errorf("max value = %g, want 90", res.Peaks[0].MaxValue)
	}
	for _, p := range res.Peaks {
		if p.X >= 16 {
			t.Errorf("peak at x=%d inside the excluded region", p.X)
		}
	}
}

func TestCentreOfMassSymmetricCone(t *testing.T) {
	img := newImage(t, 32, 32)
	paintCone(img, 15, 15, 100, 10)

	cfg := testConfig()
	cfg.CentreMethod = CentreOfMassSearch
	cfg.CentreParameter = 2
	res := findPeaks(t, cfg, img)
	if len(res.Peaks) != 1 {
		t.Fatalf("got %d peaks, want 1", len(res.Peaks))
	}
	if p := res.Peaks[0]; p.X != 15 || p.Y != 15 {
		t.Errorf("centre of mass at (%d,%d), want (15,15)", p.X, p.Y)
	}
}

func TestSortByMaxValue(t *testing.T) {
	img := newImage(t, 40, 20)
	paintCone(img, 10, 10, 90, 10) // broad, higher total intensity
	paintCone(img, 30, 10, 95, 30) // narrow, higher maximum

	cfg := testConfig()
	res := findPeaks(t, cfg, img)
	if len(res.Peaks) != 2 {
		t.Fatalf("got %d peaks, want 2", len(res.Peaks))
	}
	if res.Peaks[0].MaxValue != 90 {
		t.Errorf("intensity sort: first max value = %g, want 90", res.Peaks[0].MaxValue)
	}

	cfg.SortBy = SortMaxValue
	res = findPeaks(t, cfg, img)
	if res.Peaks[0].MaxValue != 95 {
		t.Errorf("max value sort: first max value = %g, want 95", res.Peaks[0].MaxValue)
	}
	if res.Peaks[0].ID != 1 || res.Peaks[1].ID != 2 {
		t.Errorf("ids not renumbered to sort order: %d, %d", res.Peaks[0].ID, res.Peaks[1].ID)
	}
}

func TestMaxPeaksTrimsResults(t *testing.T) {
	img := twoConeImage(t)
	cfg := testConfig()
	cfg.MaxPeaks = 1
	res := findPeaks(t, cfg, img)
	if len(res.Peaks) != 1 {
		t.Fatalf("got %d peaks, want 1", len(res.Peaks))
	}
	if res.Peaks[0].MaxValue != 90 {
		t.Errorf("kept peak max value = %g, want the best peak (90)", res.Peaks[0].MaxValue)
	}
}

func TestPipelineCloneRerunsMerge(t *testing.T) {
	img := twoConeImage(t)
	ctx := context.Background()

	f, err := New[uint16](testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p, err := f.Init(img)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := p.Search(ctx); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	strict := testConfig()
	strict.PeakParameter = 50
	c, err := p.Clone(strict)
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	for _, pl := range []*Pipeline[uint16]{p, c} {
		if err := pl.Merge(ctx); err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if err := pl.Localize(ctx); err != nil {
			t.Fatalf("Localize failed: %v", err)
		}
	}

	if got := len(p.Result().Peaks); got != 2 {
		t.Errorf("original pipeline: got %d peaks, want 2", got)
	}
	if got := len(c.Result().Peaks); got != 1 {
		t.Errorf("strict clone: got %d peaks, want 1", got)
	}
}

func peakPositions(p *Pipeline[uint16]) [][3]int {
	out := make([][3]int, len(p.s.peaks))
	for i, r := range p.s.peaks {
		out[i] = [3]int{r.X, r.Y, r.Z}
	}
	return out
}

func TestLocalizeRerunKeepsCentres(t *testing.T) {
	img := twoConeImage(t)
	ctx := context.Background()

	for _, method := range []CentreMethod{CentreMaxValueSearch, CentreOfMassSearch} {
		cfg := testConfig()
		cfg.CentreMethod = method

		f, err := New[uint16](cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		p, err := f.Init(img)
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}
		if err := p.Search(ctx); err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if err := p.Merge(ctx); err != nil {
			t.Fatalf("Merge failed: %v", err)
		}

		if err := p.Localize(ctx); err != nil {
			t.Fatalf("Localize failed: %v", err)
		}
		first := peakPositions(p)
		if err := p.Localize(ctx); err != nil {
			t.Fatalf("second Localize failed: %v", err)
		}
		if second := peakPositions(p); !reflect.DeepEqual(first, second) {
			t.Errorf("%s: rerunning localization moved centres from %v to %v",
				centreNames[method], first, second)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	img := twoConeImage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := New[uint16](testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := f.FindPeaks(ctx, img); !errors.Is(err, context.Canceled) {
		t.Errorf("got error %v, want context.Canceled", err)
	}
}
