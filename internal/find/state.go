package find

import (
	"github.com/lumicell/foci/internal/histogram"
	"github.com/lumicell/foci/internal/volume"
)

// Per-pixel status flags. Flags are not mutually exclusive; a pixel can be
// listed and plateau at the same time during a flood fill.
const (
	flagExcluded     byte = 1 << 0 // outside the inclusion mask, never processed
	flagMaximum      byte = 1 << 1 // a local maximum seed
	flagListed       byte = 1 << 2 // currently on a flood-fill working list
	flagMaxArea      byte = 1 << 3 // assigned to a peak region
	flagSaddle       byte = 1 << 4 // candidate saddle between peaks
	flagSaddlePoint  byte = 1 << 5 // confirmed saddle between peaks
	flagSaddleWithin byte = 1 << 6 // peak interior next to a saddle
	flagPlateau      byte = 1 << 7 // member of an equal-value plateau

	// flagBelowSaddle reuses the plateau bit once growing is complete; it
	// marks pixels under a mask display cut-off.
	flagBelowSaddle byte = 1 << 7

	flagIgnore = flagExcluded | flagListed
)

// Peak is one surviving focus: its reported position, size and intensity
// totals, and its relation to the highest neighbouring saddle.
type Peak struct {
	// X, Y, Z is the reported position (seed, centre of mass or fit).
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
	// ID is the dense peak id, renumbered to the sorted order on output.
	ID int `json:"id"`
	// MaxValue is the highest sample in the peak region.
	MaxValue float64 `json:"maxValue"`
	// Count is the number of pixels assigned to the peak.
	Count int `json:"count"`
	// Intensity is the sum of sample values over the peak region.
	Intensity                       float64 `json:"intensity"`
	AverageIntensity                float64 `json:"averageIntensity"`
	IntensityMinusBackground        float64 `json:"intensityMinusBackground"`
	AverageIntensityMinusBackground float64 `json:"averageIntensityMinusBackground"`
	// CountAboveSaddle and IntensityAboveSaddle cover only pixels strictly
	// above the highest saddle.
	CountAboveSaddle     int     `json:"countAboveSaddle"`
	IntensityAboveSaddle float64 `json:"intensityAboveSaddle"`
	// SaddleNeighbourID is the peak across the highest saddle, 0 if none.
	SaddleNeighbourID int `json:"saddleNeighbourId"`
	// HighestSaddleValue is the height of that saddle, 0 if none.
	HighestSaddleValue float64 `json:"highestSaddleValue"`
}

// peakRec tags a record as live or absorbed. Absorbed records stay in place
// until a phase boundary so iteration order and indices remain stable.
type peakRec struct {
	Peak
	removed bool
}

// saddleEdge records the highest contact value with one neighbouring peak.
// The id is the neighbour's original id and must be resolved through the
// merge remap table at read time.
type saddleEdge struct {
	id    int
	value float64
}

// Statistics summarizes the analyzed image and its background region.
type Statistics struct {
	// Whole analyzed region.
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Sum    float64 `json:"sum"`
	// Region used for the background estimate (equal to the above unless an
	// exclusion mask and a stats mode restricted it).
	BackgroundMin    float64 `json:"backgroundMin"`
	BackgroundMax    float64 `json:"backgroundMax"`
	BackgroundMean   float64 `json:"backgroundMean"`
	BackgroundStdDev float64 `json:"backgroundStdDev"`
	// Background is the computed background / search threshold level.
	Background float64 `json:"background"`
	// SumAboveBackground is the total intensity above Background over the
	// non-excluded pixels of the original image.
	SumAboveBackground float64 `json:"sumAboveBackground"`
}

// coordinate is a detected maximum before peak records exist.
type coordinate struct {
	index int
	id    int
	value float64
}

// state is the working state threaded through the passes. Each pass mutates
// only the buffers it owns for that stage; the grids are read-only.
type state[T volume.Sample] struct {
	search *volume.Grid[T] // image used for finding (possibly pre-blurred)
	orig   *volume.Grid[T] // image used for final intensity measurement
	nbh    *volume.Neighborhood

	types  []byte
	maxima []int32

	hist  *histogram.Histogram[T]
	stats Statistics

	peaks   []*peakRec
	saddles [][]*saddleEdge // indexed by original peak id, entry 0 unused

	originalPeakCount int
	exclusionCount    int
}

func (s *state[T]) value(i int) float64 {
	return float64(s.search.Data[i])
}

func (s *state[T]) origValue(i int) float64 {
	return float64(s.orig.Data[i])
}

// clone copies the buffers mutated after Init; the grids and histogram are
// shared read-only.
func (s *state[T]) clone() *state[T] {
	c := &state[T]{
		search:            s.search,
		orig:              s.orig,
		nbh:               s.nbh,
		hist:              s.hist,
		stats:             s.stats,
		originalPeakCount: s.originalPeakCount,
		exclusionCount:    s.exclusionCount,
	}
	c.types = make([]byte, len(s.types))
	copy(c.types, s.types)
	c.maxima = make([]int32, len(s.maxima))
	copy(c.maxima, s.maxima)
	c.peaks = make([]*peakRec, len(s.peaks))
	for i, p := range s.peaks {
		cp := *p
		c.peaks[i] = &cp
	}
	if s.saddles != nil {
		c.saddles = make([][]*saddleEdge, len(s.saddles))
		for i, edges := range s.saddles {
			if edges == nil {
				continue
			}
			c.saddles[i] = make([]*saddleEdge, len(edges))
			for j, e := range edges {
				ce := *e
				c.saddles[i][j] = &ce
			}
		}
	}
	return c
}

// findRec returns the live record with the given id, or nil.
func (s *state[T]) findRec(id int) *peakRec {
	for _, p := range s.peaks {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// searchThreshold derives the level below which no pixel is processed.
func searchThreshold(cfg Config, stats Statistics) float64 {
	switch cfg.BackgroundMethod {
	case BackgroundAbsolute:
		return cfg.BackgroundParameter
	case BackgroundMean:
		return stats.BackgroundMean
	case BackgroundStdDevAboveMean:
		return stats.BackgroundMean + cfg.BackgroundParameter*stats.BackgroundStdDev
	case BackgroundAuto:
		return stats.Background
	case BackgroundNone:
		return stats.Min
	}
	return stats.Background
}

// tolerance derives the per-peak stop level for region pruning.
func tolerance(cfg Config, stats Statistics, peakValue float64) float64 {
	switch cfg.SearchMethod {
	case SearchAboveBackground:
		return stats.Background
	case SearchFractionOfPeak:
		return stats.Background + cfg.SearchParameter*(peakValue-stats.Background)
	case SearchHalfPeakValue:
		return 0.5 * peakValue
	case SearchStdDevFromBackground:
		return stats.Background + cfg.SearchParameter*stats.StdDev
	}
	return stats.Background
}

// peakHeight derives the minimum height a peak must rise above its highest
// saddle. Integer images enforce a floor of one grey level.
func peakHeight(cfg Config, stats Statistics, peakValue float64, integral bool) float64 {
	var h float64
	switch cfg.PeakMethod {
	case PeakAbsolute:
		h = cfg.PeakParameter
	case PeakRelative:
		h = cfg.PeakParameter * peakValue
	case PeakRelativeAboveBackground:
		h = cfg.PeakParameter * (peakValue - stats.Background)
	}
	if integral && h < 1 {
		h = 1
	}
	return h
}
