package find

import (
	"fmt"
	"sort"
)

// findMaxima locates all strict and plateau local maxima above the search
// threshold, seeds the maxima buffer, and returns the coordinates sorted by
// descending value with dense ids starting at 1.
//
// The scan runs from the highest linear index down. A pixel is a candidate
// when no in-bounds neighbour is strictly greater; an equal-valued neighbour
// makes it a plateau candidate whose whole component is flood-filled before
// the verdict, since a higher pixel can appear anywhere in the fill. Rejected
// plateaus are still labelled so the scan never re-enters them.
func (s *state[T]) findMaxima(threshold, globalMin float64, maxCandidates int) ([]coordinate, error) {
	var maxPoints []coordinate
	var pList []int // shared working list for plateau expansion

	id := 0
	for i := s.search.Len() - 1; i >= 0; i-- {
		if s.types[i]&(flagExcluded|flagMaxArea|flagPlateau) != 0 {
			continue
		}
		v := s.value(i)
		if v < threshold || v == globalMin {
			continue
		}

		x, y, z := s.search.XYZ(i)
		isMax, equalNeighbour := true, false
		s.nbh.ForEach(i, x, y, z, func(d, n int) {
			if !isMax {
				return
			}
			vn := s.value(n)
			if vn > v {
				isMax = false
			} else if vn == v {
				equalNeighbour = true
			}
		})
		if !isMax {
			continue
		}

		id++
		if id >= maxCandidates {
			return nil, fmt.Errorf("%w: more than %d candidate maxima", ErrCapacityExceeded, maxCandidates)
		}

		if equalNeighbour {
			if pList == nil {
				pList = make([]int, i+1)
			}
			if seed, ok := s.expandPlateauMaximum(i, v, id, pList); ok {
				maxPoints = append(maxPoints, coordinate{index: seed, id: id, value: v})
			} else {
				id--
			}
		} else {
			s.types[i] |= flagMaximum | flagMaxArea
			s.maxima[i] = int32(id)
			maxPoints = append(maxPoints, coordinate{index: i, id: id, value: v})
		}
	}

	sort.SliceStable(maxPoints, func(a, b int) bool {
		return maxPoints[a].value > maxPoints[b].value
	})

	// Renumber densely in sorted order and relabel the seeded buffer.
	idMap := make([]int32, len(maxPoints)+1)
	for i := range maxPoints {
		idMap[maxPoints[i].id] = int32(i + 1)
		maxPoints[i].id = i + 1
	}
	for i := range s.maxima {
		if s.maxima[i] != 0 {
			s.maxima[i] = idMap[s.maxima[i]]
		}
	}
	return maxPoints, nil
}

// expandPlateauMaximum flood-fills the equal-value component at index0. The
// whole component is always labelled plateau and, when accepted, max-area
// with the given id. ok is false when the component touches a strictly
// higher pixel. The accepted seed is the plateau pixel nearest the plateau
// centroid, ties resolved by the fill's visit order.
func (s *state[T]) expandPlateauMaximum(index0 int, v0 float64, id int, pList []int) (seed int, ok bool) {
	s.types[index0] |= flagListed | flagPlateau
	pList[0] = index0
	listLen := 1
	isPlateau := true

	for listI := 0; listI < listLen; listI++ {
		index1 := pList[listI]
		x1, y1, z1 := s.search.XYZ(index1)
		s.nbh.ForEach(index1, x1, y1, z1, func(d, n int) {
			if s.types[n]&flagIgnore != 0 {
				return
			}
			vn := s.value(n)
			if vn > v0 {
				// Not a true maximum, but keep filling so the whole
				// plateau is labelled and never rescanned.
				isPlateau = false
			} else if vn == v0 {
				pList[listLen] = n
				listLen++
				s.types[n] |= flagListed | flagPlateau
			}
		})
	}

	var cx, cy, cz float64
	if isPlateau {
		for i := 0; i < listLen; i++ {
			x, y, z := s.search.XYZ(pList[i])
			cx += float64(x)
			cy += float64(y)
			cz += float64(z)
		}
		cx /= float64(listLen)
		cy /= float64(listLen)
		cz /= float64(listLen)
	}

	dMin := -1.0
	iMin := 0
	for i := listLen - 1; i >= 0; i-- {
		index := pList[i]
		s.types[index] &^= flagListed
		if !isPlateau {
			continue
		}
		x, y, z := s.search.XYZ(index)
		d := (cx-float64(x))*(cx-float64(x)) + (cy-float64(y))*(cy-float64(y)) + (cz-float64(z))*(cz-float64(z))
		if dMin < 0 || d < dMin {
			dMin = d
			iMin = i
		}
		s.types[index] |= flagMaxArea
		s.maxima[index] = int32(id)
	}

	if !isPlateau {
		return 0, false
	}
	seed = pList[iMin]
	s.types[seed] |= flagMaximum
	return seed, true
}

// seedPeaks turns sorted maxima coordinates into initial peak records.
func (s *state[T]) seedPeaks(maxPoints []coordinate) {
	s.peaks = make([]*peakRec, 0, len(maxPoints))
	for _, m := range maxPoints {
		x, y, z := s.search.XYZ(m.index)
		s.maxima[m.index] = int32(m.id)
		s.peaks = append(s.peaks, &peakRec{Peak: Peak{
			X: x, Y: y, Z: z,
			ID:        m.id,
			MaxValue:  m.value,
			Intensity: m.value,
			Count:     1,
		}})
	}
	s.originalPeakCount = len(maxPoints)
}
