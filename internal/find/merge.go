package find

import (
	"context"
	"sort"
)

// mergeSubPeaks runs the merge phases. Phase one removes peaks that do not
// rise far enough above their highest saddle, highest saddle first. Phase two
// removes peaks below the minimum size, smallest first. The optional third
// phase repeats the size filter using only the pixels above the saddle,
// recounting after every merge. Absorbed peaks transfer their pixels,
// statistics and saddle edges to the neighbour across the highest saddle.
func (s *state[T]) mergeSubPeaks(ctx context.Context, cfg Config, integral bool) error {
	remap := make([]int, s.originalPeakCount+1)
	for i := range remap {
		remap[i] = i
	}

	// Minimum height above the saddle, processed in saddle height order.
	s.sortPeaks(SortSaddleHeight)
	for _, rec := range s.peaks {
		if rec.ID != remap[rec.ID] {
			continue
		}
		highest := findHighestNeighbourSaddle(remap, s.saddles[rec.ID], rec.ID)
		peakBase := s.stats.Background
		if highest != nil {
			peakBase = highest.value
		}
		if rec.MaxValue-peakBase < peakHeight(cfg, s.stats, rec.MaxValue, integral) {
			s.absorb(remap, rec, highest, false)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Minimum size, smallest first.
	s.sortPeaksAsc(SortCount)
	for _, rec := range s.peaks {
		if rec.ID != remap[rec.ID] {
			continue
		}
		if rec.Count < cfg.MinSize {
			highest := findHighestNeighbourSaddle(remap, s.saddles[rec.ID], rec.ID)
			s.absorb(remap, rec, highest, false)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Minimum size above the saddle. Needs a recount after every merge, so it
	// is optional.
	if cfg.MinimumAboveSaddle {
		s.updateSaddleDetails(remap)
		s.reassignMaxima(remap)
		s.measureAboveSaddle()

		s.sortPeaksAsc(SortCountAboveSaddle)
		for _, rec := range s.peaks {
			if rec.ID != remap[rec.ID] {
				continue
			}
			if rec.CountAboveSaddle < cfg.MinSize {
				highest := findHighestNeighbourSaddle(remap, s.saddles[rec.ID], rec.ID)
				s.absorb(remap, rec, highest, true)
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
	}

	s.removeFlagged()
	s.reassignMaxima(remap)
	s.updateSaddleDetails(remap)
	return nil
}

// absorb merges rec into the live neighbour across the given saddle, or
// removes it outright when it has no remaining neighbour.
func (s *state[T]) absorb(remap []int, rec *peakRec, highest *saddleEdge, updateAboveSaddle bool) {
	if highest == nil {
		s.mergePeak(remap, rec, 0, nil, updateAboveSaddle)
		return
	}
	neighbourID := remap[highest.id]
	s.mergePeak(remap, rec, neighbourID, s.findRec(neighbourID), updateAboveSaddle)
}

// mergePeak assigns rec's statistics, pixels and saddle edges to the
// neighbour, remaps rec's id, and refreshes the neighbour's highest saddle.
// A transferred saddle only ever raises the neighbour's edge value.
func (s *state[T]) mergePeak(remap []int, rec *peakRec, neighbourID int, neighbour *peakRec, updateAboveSaddle bool) {
	peakID := rec.ID

	if neighbour != nil {
		neighbour.Intensity += rec.Intensity
		neighbour.Count += rec.Count
		neighbour.AverageIntensity = neighbour.Intensity / float64(neighbour.Count)

		// The absorbed maximum may be the higher one.
		if neighbour.MaxValue < rec.MaxValue {
			neighbour.MaxValue = rec.MaxValue
			neighbour.X, neighbour.Y, neighbour.Z = rec.X, rec.Y, rec.Z
		}

		for _, edge := range s.saddles[peakID] {
			sid := remap[edge.id]
			if existing := findHighestSaddle(remap, s.saddles[neighbourID], sid); existing == nil {
				s.saddles[neighbourID] = append(s.saddles[neighbourID], edge)
			} else if existing.value < edge.value {
				existing.value = edge.value
			}
		}
		s.saddles[peakID] = nil
	}

	for i := len(remap) - 1; i >= 0; i-- {
		if remap[i] == peakID {
			remap[i] = neighbourID
		}
	}
	rec.removed = true

	if neighbour != nil {
		if nh := findHighestNeighbourSaddle(remap, s.saddles[neighbourID], neighbourID); nh != nil {
			s.reanalysePeak(remap, neighbourID, nh, neighbour, updateAboveSaddle)
		} else {
			clearSaddle(neighbour)
		}
	}
}

// reanalysePeak refreshes a peak's saddle fields after a merge and, when
// requested, recounts the pixels above the new saddle while folding the remap
// into the maxima buffer.
func (s *state[T]) reanalysePeak(remap []int, peakID int, saddle *saddleEdge, rec *peakRec, updateAboveSaddle bool) {
	if updateAboveSaddle {
		count := 0
		intensity := 0.0
		h := saddle.value
		for i := len(s.maxima) - 1; i >= 0; i-- {
			if s.maxima[i] > 0 {
				s.maxima[i] = int32(remap[s.maxima[i]])
				if int(s.maxima[i]) == peakID {
					if v := s.value(i); v > h {
						intensity += v
						count++
					}
				}
			}
		}
		rec.CountAboveSaddle = count
		rec.IntensityAboveSaddle = intensity
	}
	rec.SaddleNeighbourID = remap[saddle.id]
	rec.HighestSaddleValue = saddle.value
}

// findHighestNeighbourSaddle returns the highest saddle leading away from the
// peak, resolving edge ids through the remap and skipping self and removed.
func findHighestNeighbourSaddle(remap []int, edges []*saddleEdge, peakID int) *saddleEdge {
	var best *saddleEdge
	max := 0.0
	for _, e := range edges {
		nid := remap[e.id]
		if nid != peakID && nid != 0 && max < e.value {
			max = e.value
			best = e
		}
	}
	return best
}

// findHighestSaddle returns the highest saddle edge currently resolving to
// the given peak.
func findHighestSaddle(remap []int, edges []*saddleEdge, peakID int) *saddleEdge {
	var best *saddleEdge
	max := 0.0
	for _, e := range edges {
		if remap[e.id] == peakID && max < e.value {
			max = e.value
			best = e
		}
	}
	return best
}

// clearSaddle resets a peak to the no-neighbour state where the whole region
// counts as above the saddle.
func clearSaddle(rec *peakRec) {
	rec.CountAboveSaddle = rec.Count
	rec.IntensityAboveSaddle = rec.Intensity
	rec.SaddleNeighbourID = 0
	rec.HighestSaddleValue = 0
}

// removeFlagged drops absorbed records and restores descending intensity
// order.
func (s *state[T]) removeFlagged() {
	live := s.peaks[:0]
	for _, p := range s.peaks {
		if !p.removed {
			live = append(live, p)
		}
	}
	s.peaks = live
	s.sortPeaks(SortIntensity)
}

// reassignMaxima folds the remap table into the pixel assignments.
func (s *state[T]) reassignMaxima(remap []int) {
	for i := len(s.maxima) - 1; i >= 0; i-- {
		if s.maxima[i] != 0 {
			s.maxima[i] = int32(remap[s.maxima[i]])
		}
	}
}

// updateSaddleDetails re-resolves every record's saddle neighbour through the
// remap, clearing saddles that now point at the peak itself or at nothing.
func (s *state[T]) updateSaddleDetails(remap []int) {
	for _, rec := range s.peaks {
		nid := 0
		if rec.SaddleNeighbourID > 0 {
			nid = remap[rec.SaddleNeighbourID]
		}
		if nid == rec.ID {
			nid = 0
		}
		if nid == 0 {
			clearSaddle(rec)
		} else {
			rec.SaddleNeighbourID = nid
		}
	}
}

// countLive reports the number of peaks not yet absorbed.
func (s *state[T]) countLive() int {
	n := 0
	for _, p := range s.peaks {
		if !p.removed {
			n++
		}
	}
	return n
}

// removeEdgeMaxima removes every peak owning a pixel on the XY border of any
// plane, then compacts the survivors.
func (s *state[T]) removeEdgeMaxima() {
	remap := make([]int, s.originalPeakCount+1)
	for i := range remap {
		remap[i] = i
	}

	w, h, d := s.search.Width, s.search.Height, s.search.Depth
	for z := 0; z < d; z++ {
		base := z * w * h
		for y := 0; y < h; y++ {
			remap[s.maxima[base+y*w]] = 0
			remap[s.maxima[base+y*w+w-1]] = 0
		}
		last := base + (h-1)*w
		for x := 0; x < w; x++ {
			remap[s.maxima[base+x]] = 0
			remap[s.maxima[last+x]] = 0
		}
	}
	remap[0] = 0

	for _, rec := range s.peaks {
		if remap[rec.ID] == 0 {
			rec.removed = true
		}
	}

	s.removeFlagged()
	s.reassignMaxima(remap)
	s.updateSaddleDetails(remap)
}

// renumberPeaks assigns dense ids following the current record order and
// remaps the saddle neighbours to match. The maxima buffer is left alone:
// after mask rendering it holds display values, not peak ids.
func (s *state[T]) renumberPeaks() {
	remap := make([]int, s.originalPeakCount+1)
	for i, p := range s.peaks {
		remap[p.ID] = i + 1
	}
	for _, p := range s.peaks {
		p.ID = remap[p.ID]
		if p.SaddleNeighbourID > 0 {
			p.SaddleNeighbourID = remap[p.SaddleNeighbourID]
		}
	}
}

// sortPeaks orders the records by the key, descending except for the spatial
// keys which ascend. The sort is stable so equal keys keep the previous
// order, which earlier passes rely on for deterministic ids.
func (s *state[T]) sortPeaks(key SortKey) {
	asc := key == SortX || key == SortY || key == SortZ
	s.sortRecords(key, asc)
}

func (s *state[T]) sortPeaksAsc(key SortKey) {
	s.sortRecords(key, true)
}

func (s *state[T]) sortRecords(key SortKey, asc bool) {
	value := s.sortValue(key)
	sort.SliceStable(s.peaks, func(i, j int) bool {
		a, b := value(s.peaks[i]), value(s.peaks[j])
		if asc {
			return a < b
		}
		return a > b
	})
}

func (s *state[T]) sortValue(key SortKey) func(*peakRec) float64 {
	background := s.stats.Background
	switch key {
	case SortIntensityMinusBackground:
		return func(p *peakRec) float64 { return p.IntensityMinusBackground }
	case SortCount:
		return func(p *peakRec) float64 { return float64(p.Count) }
	case SortMaxValue:
		return func(p *peakRec) float64 { return p.MaxValue }
	case SortAverageIntensity:
		return func(p *peakRec) float64 { return p.AverageIntensity }
	case SortAverageIntensityMinusBackground:
		return func(p *peakRec) float64 { return p.AverageIntensityMinusBackground }
	case SortX:
		return func(p *peakRec) float64 { return float64(p.X) }
	case SortY:
		return func(p *peakRec) float64 { return float64(p.Y) }
	case SortZ:
		return func(p *peakRec) float64 { return float64(p.Z) }
	case SortSaddleHeight:
		return func(p *peakRec) float64 { return p.HighestSaddleValue }
	case SortCountAboveSaddle:
		return func(p *peakRec) float64 { return float64(p.CountAboveSaddle) }
	case SortIntensityAboveSaddle:
		return func(p *peakRec) float64 { return p.IntensityAboveSaddle }
	case SortAbsoluteHeight:
		return func(p *peakRec) float64 { return absoluteHeight(&p.Peak, background) }
	case SortRelativeHeightAboveBackground:
		return func(p *peakRec) float64 {
			return absoluteHeight(&p.Peak, background) / (p.MaxValue - background)
		}
	default:
		return func(p *peakRec) float64 { return p.Intensity }
	}
}

// absoluteHeight is the rise above the highest saddle, or above the floor
// when the peak has no saddle above it.
func absoluteHeight(p *Peak, floor float64) float64 {
	if p.HighestSaddleValue > floor {
		return p.MaxValue - p.HighestSaddleValue
	}
	return p.MaxValue - floor
}
