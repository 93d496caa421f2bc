package find

import (
	"fmt"
	"math"

	"github.com/lumicell/foci/internal/histogram"
)

// Mask is the rendered label image. Labels run from nPeaks for the first
// peak in the result order down to 1 for the last, 0 for background. With the
// threshold option the labels collapse to a fixed palette: 1 saddle border,
// 2 inside a peak below its threshold, 3 above. Peak dots use one value above
// the highest label.
type Mask struct {
	Labels []uint16
	Width  int
	Height int
	Depth  int
	// MaxValue is the highest label present, including the peak dots.
	MaxValue int
}

// maskCapacity is the highest label a 16-bit mask can carry.
const maskCapacity = 65535

// generateMask renders the label mask for the current (sorted, trimmed) peak
// list. It consumes the maxima and types buffers, so it must run on a clone
// or as the final pass.
func (s *state[T]) generateMask(cfg Config, autoThreshold func(counts []int) int) (*Mask, error) {
	nMaxima := len(s.peaks)
	out := cfg.Output

	maximaValues := make([]int32, nMaxima)
	maximaPeakIds := make([]int32, nMaxima)
	displayValues := make([]float64, nMaxima)

	cutOff := out.AboveSaddle || out.FractionOfHeight || out.FractionOfIntensity
	fraction := cfg.FractionParameter
	if cutOff {
		if out.FractionOfHeight {
			fraction = math.Max(math.Min(1-fraction, 1), 0)
		}
		// New flags mark pixels below the cut-off; reset the rest.
		for i := len(s.types) - 1; i >= 0; i-- {
			s.types[i] &= flagSaddlePoint | flagMaxArea
		}
	} else {
		for i := range displayValues {
			displayValues[i] = s.stats.Min - 1
		}
	}

	integral := s.hist.IntegralData()
	for i, p := range s.peaks {
		maximaValues[i] = int32(nMaxima - i)
		maximaPeakIds[i] = int32(p.ID)
		if out.AboveSaddle {
			displayValues[i] = p.HighestSaddleValue
		} else if out.FractionOfHeight {
			displayValues[i] = fraction*(p.MaxValue-s.stats.Background) + s.stats.Background
			if integral {
				displayValues[i] = math.Round(displayValues[i])
			}
		}
	}

	if out.FractionOfIntensity {
		s.fractionOfIntensityCutoffs(cfg.FractionParameter, maximaPeakIds, displayValues)
	}

	// Relabel the assignments with display values, flagging pixels at or
	// below each peak's cut-off.
	displayOf := make([]int, s.originalPeakCount+1)
	for i := range displayOf {
		displayOf[i] = -1
	}
	for i, id := range maximaPeakIds {
		displayOf[id] = i
	}
	for index := len(s.maxima) - 1; index >= 0; index-- {
		if s.types[index]&flagMaxArea != 0 {
			if i := displayOf[s.maxima[index]]; i >= 0 {
				if s.value(index) <= displayValues[i] {
					s.types[index] |= flagBelowSaddle
				}
				s.maxima[index] = maximaValues[i]
				continue
			}
		}
		s.maxima[index] = 0
		s.types[index] = 0
	}

	maxValue := nMaxima

	if out.ThresholdMask {
		s.findBorders()
		for i := 0; i < nMaxima; i++ {
			s.thresholdRegion(maximaValues[i], autoThreshold)
		}
		// Negative marks flip to the fixed palette, then the borders go in.
		for i := len(s.maxima) - 1; i >= 0; i-- {
			if s.maxima[i] < 0 {
				s.maxima[i] = -s.maxima[i]
			}
		}
		for i := len(s.maxima) - 1; i >= 0; i-- {
			if s.types[i]&flagSaddlePoint != 0 {
				s.maxima[i] = 1
			}
		}
		maxValue = 3
	}

	if cutOff {
		for i := len(s.maxima) - 1; i >= 0; i-- {
			if s.types[i]&flagBelowSaddle != 0 {
				s.maxima[i] = 0
			}
		}
	}

	if !out.NoPeakDots {
		maxValue++
		for _, p := range s.peaks {
			s.maxima[s.search.Index(p.X, p.Y, p.Z)] = int32(maxValue)
		}
	}

	if maxValue > maskCapacity {
		return nil, fmt.Errorf("%w: %d labels do not fit a 16-bit mask", ErrCapacityExceeded, maxValue)
	}

	m := &Mask{
		Labels:   make([]uint16, len(s.maxima)),
		Width:    s.search.Width,
		Height:   s.search.Height,
		Depth:    s.search.Depth,
		MaxValue: maxValue,
	}
	for i, v := range s.maxima {
		m.Labels[i] = uint16(v)
	}
	return m, nil
}

// fractionOfIntensityCutoffs finds, per peak, the value above which the
// brightest pixels hold the requested fraction of the peak's cumulative
// intensity above background.
func (s *state[T]) fractionOfIntensityCutoffs(fraction float64, ids []int32, displayValues []float64) {
	bg := s.stats.Background
	for i, id := range ids {
		hist := s.regionHistogram(id)
		if hist.Empty() {
			continue
		}

		sum := 0.0
		for bin := hist.MinBin; bin <= hist.MaxBin; bin++ {
			sum += float64(hist.Counts[bin]) * (hist.Value(bin) - bg)
		}
		total := sum * fraction

		sum = 0
		bin := hist.MaxBin
		for bin >= hist.MinBin {
			sum += float64(hist.Counts[bin]) * (hist.Value(bin) - bg)
			if sum > total {
				break
			}
			bin--
		}
		if bin < hist.MinBin {
			bin = hist.MinBin
		}
		displayValues[i] = hist.Value(bin)
	}
}

// thresholdRegion re-thresholds one relabelled peak region, marking pixels -3
// above the threshold and -2 at or below it.
func (s *state[T]) thresholdRegion(label int32, autoThreshold func(counts []int) int) {
	hist := s.regionHistogram(label)
	if hist.Empty() {
		return
	}
	counts, valueOf := hist.Compact(65536)
	t := valueOf(autoThreshold(counts))

	for i := len(s.maxima) - 1; i >= 0; i-- {
		if s.maxima[i] == label {
			if s.value(i) > t {
				s.maxima[i] = -3
			} else {
				s.maxima[i] = -2
			}
		}
	}
}

// regionHistogram builds a histogram of the search-image values currently
// labelled with the given value.
func (s *state[T]) regionHistogram(label int32) *histogram.Histogram[T] {
	var values []T
	for i, m := range s.maxima {
		if m == label {
			values = append(values, s.search.Data[i])
		}
	}
	return histogram.FromValues(values, nil)
}

// findBorders confirms which flagged contact pixels still separate two
// different labels and thins the confirmed borders plane by plane. Works on
// the XY planes only, which is an accepted approximation for 3D data.
func (s *state[T]) findBorders() {
	w, h := s.search.Width, s.search.Height
	for index := len(s.maxima) - 1; index >= 0; index-- {
		if s.maxima[index] == 0 {
			s.types[index] = 0
			continue
		}
		if s.types[index]&flagSaddle == 0 {
			continue
		}
		s.types[index] &= flagBelowSaddle

		x, y, _ := s.search.XYZ(index)
		s.nbh.ForEachXY(index, x, y, func(d, index2 int) {
			if s.maxima[index] != s.maxima[index2] && s.maxima[index2] > 0 &&
				s.types[index2]&flagSaddlePoint == 0 {
				s.types[index] |= flagSaddlePoint
			}
		})

		if s.types[index]&flagSaddlePoint == 0 {
			s.types[index] |= flagSaddleWithin
		}
	}

	planeSize := w * h
	for z := s.search.Depth - 1; z >= 0; z-- {
		s.cleanupExtraLines(z * planeSize)
		s.cleanupExtraCornerPixels(z * planeSize)
	}
}

// cleanupExtraLines removes border points with fewer than two 4-connected
// lines radiating from them: isolated points and dead-end lines that do not
// divide two regions.
func (s *state[T]) cleanupExtraLines(base int) {
	planeSize := s.search.Width * s.search.Height
	for i := planeSize - 1; i >= 0; i-- {
		index := base + i
		if s.types[index]&flagSaddlePoint == 0 {
			continue
		}
		switch s.countRadii(index) {
		case 0:
			s.types[index] &^= flagSaddlePoint
			s.types[index] |= flagSaddleWithin
		case 1:
			s.removeLineFrom(index)
		}
	}
}

// removeLineFrom erases a dead-end border line up to the next 4-connected
// vertex.
func (s *state[T]) removeLineFrom(index int) {
	s.types[index] &^= flagSaddlePoint
	s.types[index] |= flagSaddleWithin

	for {
		continues := false
		x, y, _ := s.search.XYZ(index)
		for d := 0; d < 8; d += 2 {
			if !s.nbh.InBoundsXY(x, y, d) {
				continue
			}
			index2 := index + s.nbh.Offset(d)
			v := s.types[index2]
			if v&flagSaddleWithin == 0 && v&flagSaddlePoint != 0 {
				if n := s.countRadii(index2); n <= 1 {
					index = index2
					s.types[index] &^= flagSaddlePoint
					s.types[index] |= flagSaddleWithin
					continues = n == 1
					break
				}
			}
		}
		if !continues {
			return
		}
	}
}

// countRadii walks the 8 in-plane neighbours clockwise and counts the
// 4-connected line segments radiating from the pixel. Out-of-bounds
// neighbours count as set. Zero means the point is embedded in either
// region or border.
func (s *state[T]) countRadii(index int) int {
	transitions := 0
	prevSet := true
	firstSet := true
	x, y, _ := s.search.XYZ(index)

	for d := 0; d < 8; d++ {
		set := prevSet
		if s.nbh.InBoundsXY(x, y, d) {
			isSet := s.types[index+s.nbh.Offset(d)]&flagSaddleWithin != 0
			if d&1 == 0 {
				set = isSet
			} else if !isSet {
				// A diagonal can separate two lines but cannot join one.
				set = false
			}
		} else {
			set = true
		}
		if set && !prevSet {
			transitions++
		}
		prevSet = set
		if d == 0 {
			firstSet = set
		}
	}
	if firstSet && !prevSet {
		transitions++
	}
	return transitions
}

// cleanupExtraCornerPixels drops border pixels whose two clockwise-adjacent
// flat-edge neighbours are also border pixels, which form a redundant
// staircase corner.
func (s *state[T]) cleanupExtraCornerPixels(base int) int {
	removed := 0
	planeSize := s.search.Width * s.search.Height
	for i := planeSize - 1; i >= 0; i-- {
		index := base + i
		if s.types[index]&flagSaddlePoint == 0 {
			continue
		}
		x, y, _ := s.search.XYZ(index)

		var edgesSet [8]bool
		for d := 0; d < 8; d++ {
			if s.nbh.InBoundsXY(x, y, d) {
				edgesSet[d] = s.types[index+s.nbh.Offset(d)]&flagSaddlePoint != 0
			}
		}

		for d := 0; d < 8; d += 2 {
			if edgesSet[d] && edgesSet[(d+2)%8] && !edgesSet[(d+5)%8] {
				removed++
				s.types[index] &^= flagSaddlePoint
				s.types[index] |= flagSaddleWithin
			}
		}
	}
	return removed
}
