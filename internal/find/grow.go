package find

import "context"

// growRegions assigns every unassigned pixel above the background level to
// the peak of its highest already-assigned neighbour, processing intensity
// levels in strictly descending order. Within a level, pixels with no
// assigned neighbour yet are deferred and retried; a level that stalls is
// carried down into the next lower non-empty level so a single descending
// sweep assigns everything reachable.
func (s *state[T]) growRegions(ctx context.Context, progress func(float64)) error {
	hist := s.hist
	if hist.Empty() {
		return nil
	}
	counts := append([]int(nil), hist.Counts...)
	minBin := hist.FirstBinAtOrAbove(s.stats.Background)
	maxBin := hist.MaxBin
	if minBin >= maxBin {
		return nil
	}

	// Bucket every candidate pixel by level. The top level is excluded: its
	// pixels are the already-seeded maxima.
	arraySize := 0
	for bin := minBin; bin < maxBin; bin++ {
		arraySize += counts[bin]
	}
	if arraySize == 0 {
		return nil
	}

	coords := make([]int, arraySize)
	levelStart := make([]int, maxBin+1)
	highestBin := minBin
	offset := 0
	for bin := minBin; bin < maxBin; bin++ {
		levelStart[bin] = offset
		offset += counts[bin]
		if counts[bin] != 0 {
			highestBin = bin
		}
	}
	levelOffset := make([]int, maxBin+1)
	for i := len(s.types) - 1; i >= 0; i-- {
		if s.types[i]&flagExcluded != 0 {
			continue
		}
		bin := hist.BinOf(s.search.Data[i])
		if bin >= minBin && bin < maxBin {
			coords[levelStart[bin]+levelOffset[bin]] = i
			levelOffset[bin]++
		}
	}

	levelSpan := float64(highestBin - minBin + 1)
	for level := highestBin; level >= minBin; level-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(float64(highestBin-level) / levelSpan)
		}

		remaining := counts[level]
		if remaining == 0 {
			continue
		}
		for remaining > 0 {
			n := s.processLevel(levelStart[level], remaining, coords)
			remaining -= n
			if n == 0 {
				break
			}
		}

		if remaining > 0 && level > minBin {
			// The level stalled: these pixels have no assigned neighbour at
			// or above this value. Retry them with the next lower level.
			nextLevel := level - 1
			for nextLevel > minBin && counts[nextLevel] == 0 {
				nextLevel--
			}
			if counts[nextLevel] == 0 {
				continue
			}
			end := levelStart[nextLevel] + counts[nextLevel]
			for i, p := 0, levelStart[level]; i < remaining; i, p = i+1, p+1 {
				coords[end] = coords[p]
				end++
			}
			counts[nextLevel] = end - levelStart[nextLevel]
		}
	}
	return nil
}

// processLevel makes one pass over a level's bucket. Deferred pixels are
// compacted to the front of the bucket for the retry. Returns the number of
// pixels consumed (assigned or skippable).
func (s *state[T]) processLevel(start, nPoints int, coords []int) int {
	nChanged := 0
	nUnchanged := 0

	for i, p := 0, start; i < nPoints; i, p = i+1, p+1 {
		index := coords[p]

		if s.types[index]&(flagExcluded|flagMaxArea) != 0 {
			nChanged++
			continue
		}

		x, y, z := s.search.XYZ(index)
		v := s.value(index)

		// Choose the highest neighbour. Ties favour flat edges over
		// diagonals; among equal-to-self neighbours only assigned ones
		// qualify. The precedence order is load-bearing for deterministic
		// results and must not change.
		dMax := -1
		vMax := v
		s.nbh.ForEach(index, x, y, z, func(d, n int) {
			vn := s.value(n)
			switch {
			case vMax < vn:
				vMax = vn
				dMax = d
			case vMax == vn:
				if v != vn {
					if s.nbh.FlatEdge(d) {
						dMax = d
					}
				} else if s.types[n]&flagMaxArea != 0 {
					if dMax < 0 || s.nbh.FlatEdge(d) {
						dMax = d
					}
				}
			}
		})

		if dMax < 0 {
			// No assigned neighbour yet; retry on the next pass.
			coords[start+nUnchanged] = index
			nUnchanged++
			continue
		}

		s.types[index] |= flagMaxArea
		s.maxima[index] = s.maxima[index+s.nbh.Offset(dMax)]
		nChanged++
	}
	return nChanged
}

// pruneRegions clears the assignment of any pixel whose value falls below
// its peak's stop tolerance, so a peak's final extent can be smaller than
// its raw flood reach.
func (s *state[T]) pruneRegions(cfg Config) {
	peakThreshold := make([]float64, len(s.peaks)+1)
	for _, p := range s.peaks {
		peakThreshold[p.ID] = tolerance(cfg, s.stats, p.MaxValue)
	}
	for i := len(s.maxima) - 1; i >= 0; i-- {
		if s.maxima[i] > 0 && s.value(i) < peakThreshold[s.maxima[i]] {
			s.maxima[i] = 0
			s.types[i] &^= flagMaxArea
		}
	}
}

// measureRegions sums the size and intensity of each grown region.
func (s *state[T]) measureRegions() {
	count := make([]int, len(s.peaks)+1)
	intensity := make([]float64, len(s.peaks)+1)
	for i := len(s.maxima) - 1; i >= 0; i-- {
		if id := s.maxima[i]; id > 0 {
			count[id]++
			intensity[id] += s.value(i)
		}
	}
	for _, p := range s.peaks {
		p.Count = count[p.ID]
		p.Intensity = intensity[p.ID]
		if p.Count > 0 {
			p.AverageIntensity = p.Intensity / float64(p.Count)
		}
	}
}
