package find

import "context"

// findSaddles flood-fills each peak region from its maximum and records, per
// neighbouring peak, the highest contact value along the shared boundary. A
// contact's value is the lower of the two touching pixels. The highest saddle
// over all neighbours becomes the peak's saddle point.
func (s *state[T]) findSaddles(ctx context.Context) error {
	n := s.originalPeakCount
	s.saddles = make([][]*saddleEdge, n+1)

	maxPeakSize := 0
	for _, p := range s.peaks {
		if p.Count > maxPeakSize {
			maxPeakSize = p.Count
		}
	}
	pList := make([]int, maxPeakSize)
	highest := make([]float64, n+1)

	for _, p := range s.peaks {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := int32(p.ID)
		index0 := s.search.Index(p.X, p.Y, p.Z)

		for i := range highest {
			highest[i] = 0
		}

		s.types[index0] |= flagListed
		pList[0] = index0
		listLen := 1

		for listI := 0; listI < listLen; listI++ {
			index1 := pList[listI]
			v1 := s.value(index1)
			x1, y1, z1 := s.search.XYZ(index1)

			s.nbh.ForEach(index1, x1, y1, z1, func(d, index2 int) {
				if s.types[index2]&flagIgnore != 0 {
					return
				}
				id2 := s.maxima[index2]
				if id2 == id {
					pList[listLen] = index2
					listLen++
					s.types[index2] |= flagListed
					return
				}
				if id2 == 0 {
					return
				}
				// Contact with another peak. The saddle sits at the lower of
				// the two pixels.
				v2 := s.value(index2)
				var minV float64
				if v1 < v2 {
					s.types[index1] |= flagSaddle
					minV = v1
				} else {
					s.types[index2] |= flagSaddle
					minV = v2
				}
				if highest[id2] < minV {
					highest[id2] = minV
				}
			})
		}

		for i := listLen - 1; i >= 0; i-- {
			s.types[pList[i]] &^= flagListed
		}

		highestID := 0
		highestValue := 0.0
		for id2 := 1; id2 <= n; id2++ {
			if highest[id2] <= 0 {
				continue
			}
			s.saddles[p.ID] = append(s.saddles[p.ID], &saddleEdge{id: id2, value: highest[id2]})
			if highestValue < highest[id2] {
				highestValue = highest[id2]
				highestID = id2
			}
		}
		if highestID > 0 {
			p.SaddleNeighbourID = highestID
			p.HighestSaddleValue = highestValue
		}
	}
	return nil
}

// measureAboveSaddle recounts each peak's size and intensity restricted to
// pixels strictly above its highest saddle.
func (s *state[T]) measureAboveSaddle() {
	n := s.originalPeakCount
	count := make([]int, n+1)
	intensity := make([]float64, n+1)
	saddleHeight := make([]float64, n+1)
	for _, p := range s.peaks {
		saddleHeight[p.ID] = p.HighestSaddleValue
	}

	for i := len(s.maxima) - 1; i >= 0; i-- {
		if id := s.maxima[i]; id > 0 {
			if v := s.value(i); v > saddleHeight[id] {
				intensity[id] += v
				count[id]++
			}
		}
	}

	for _, p := range s.peaks {
		p.CountAboveSaddle = count[p.ID]
		p.IntensityAboveSaddle = intensity[p.ID]
	}
}
