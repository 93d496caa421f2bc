package find

import "math"

// measureOriginal re-sums each peak's intensity and maximum on the original
// image. Used when a pre-processed search image found the peaks, so reported
// intensities reflect the unprocessed data. Saddle values deliberately keep
// the search-image measurements.
func (s *state[T]) measureOriginal() {
	n := s.originalPeakCount
	intensity := make([]float64, n+1)
	max := make([]float64, n+1)

	for i := len(s.maxima) - 1; i >= 0; i-- {
		if id := s.maxima[i]; id > 0 {
			v := s.origValue(i)
			intensity[id] += v
			if max[id] < v {
				max[id] = v
			}
		}
	}

	for _, p := range s.peaks {
		if intensity[p.ID] > 0 {
			p.Intensity = intensity[p.ID]
			p.MaxValue = max[p.ID]
		}
	}
}

// sumAboveBackground totals the original-image intensity above the background
// level over the non-excluded pixels.
func (s *state[T]) sumAboveBackground() {
	bg := s.stats.Background
	sum := 0.0
	for i := len(s.types) - 1; i >= 0; i-- {
		if s.types[i]&flagExcluded != 0 {
			continue
		}
		if v := s.origValue(i); v > bg {
			sum += v - bg
		}
	}
	s.stats.SumAboveBackground = sum
}

// GaussianFitFunc fits a 2D Gaussian to a row-major patch and returns the
// fitted centre. ok is false when the fit fails or diverges.
type GaussianFitFunc func(patch []float32, w, h int) (cx, cy float64, ok bool)

// locateCentres recomputes each peak's reported position using the configured
// centre method, working on the sub-image of the peak's pixels above its
// highest saddle. A failed Gaussian fit leaves the position unchanged.
func (s *state[T]) locateCentres(cfg Config, fit GaussianFitFunc) {
	if cfg.CentreMethod == CentreMaxValueSearch {
		return
	}

	get := s.origValue
	switch cfg.CentreMethod {
	case CentreGaussianSearch, CentreOfMassSearch:
		get = s.value
	}

	var pList []int
	for _, p := range s.peaks {
		if len(pList) < p.Count {
			pList = make([]int, p.Count)
		}

		index0 := s.search.Index(p.X, p.Y, p.Z)
		listLen := s.collectAboveSaddle(index0, int32(p.ID), p.HighestSaddleValue, pList)

		// Bounding box of the collected pixels.
		minXYZ := [3]int{s.search.Width, s.search.Height, s.search.Depth}
		maxXYZ := [3]int{}
		for i := listLen - 1; i >= 0; i-- {
			x, y, z := s.search.XYZ(pList[i])
			for j, c := range [3]int{x, y, z} {
				if minXYZ[j] > c {
					minXYZ[j] = c
				}
				if maxXYZ[j] < c {
					maxXYZ[j] = c
				}
			}
		}
		var dims [3]int
		for j := range dims {
			dims[j] = maxXYZ[j] - minXYZ[j] + 1
		}

		sub := s.extractSubImage(get, minXYZ, dims, int32(p.ID), p.HighestSaddleValue)

		var centre [3]int
		ok := true
		switch cfg.CentreMethod {
		case CentreGaussianSearch, CentreGaussianOriginal:
			centre, ok = findCentreGaussian(sub, dims, roundInt(cfg.CentreParameter), fit)
		case CentreOfMassSearch, CentreOfMassOriginal:
			centre = findCentreOfMass(sub, dims, roundInt(cfg.CentreParameter))
		default:
			centre = findCentreMaxValue(sub, dims)
		}
		if ok {
			p.X = centre[0] + minXYZ[0]
			p.Y = centre[1] + minXYZ[1]
			p.Z = centre[2] + minXYZ[2]
		}
	}
}

// collectAboveSaddle flood-fills the peak's connected pixels at or above the
// saddle value, starting at the maximum.
func (s *state[T]) collectAboveSaddle(index0 int, id int32, saddleValue float64, pList []int) int {
	s.types[index0] |= flagListed
	pList[0] = index0
	listLen := 1

	for listI := 0; listI < listLen; listI++ {
		index1 := pList[listI]
		x1, y1, z1 := s.search.XYZ(index1)
		s.nbh.ForEach(index1, x1, y1, z1, func(d, index2 int) {
			if s.types[index2]&flagIgnore != 0 || s.maxima[index2] != id {
				return
			}
			if s.value(index2) >= saddleValue {
				pList[listLen] = index2
				listLen++
				s.types[index2] |= flagListed
			}
		})
	}

	for i := listLen - 1; i >= 0; i-- {
		s.types[pList[i]] &^= flagListed
	}
	return listLen
}

// extractSubImage copies the peak's pixels into a dense box with the saddle
// value subtracted. Pixels of other peaks or below the saddle stay zero.
func (s *state[T]) extractSubImage(get func(int) float64, minXYZ, dims [3]int, id int32, minValue float64) []float32 {
	sub := make([]float32, dims[0]*dims[1]*dims[2])
	offset := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			index := s.search.Index(minXYZ[0], y+minXYZ[1], z+minXYZ[2])
			for x := 0; x < dims[0]; x++ {
				if s.maxima[index] == id {
					if v := get(index); v > minValue {
						sub[offset] = float32(v - minValue)
					}
				}
				index++
				offset++
			}
		}
	}
	return sub
}

// findCentreMaxValue returns the brightest pixel of the box. When several
// pixels share the maximum, the one nearest their geometric mean wins.
func findCentreMaxValue(sub []float32, dims [3]int) [3]int {
	maxValue := float32(0)
	count := 0
	index := 0
	for i := len(sub) - 1; i >= 0; i-- {
		if maxValue < sub[i] {
			maxValue = sub[i]
			index = i
			count = 1
		} else if maxValue == sub[i] {
			count++
		}
	}

	blockSize := dims[0] * dims[1]
	toXYZ := func(i int) [3]int {
		mod := i % blockSize
		return [3]int{mod % dims[0], mod / dims[0], i / blockSize}
	}

	if count == 1 {
		return toXYZ(index)
	}

	var centre [3]float64
	for i := len(sub) - 1; i >= 0; i-- {
		if sub[i] == maxValue {
			xyz := toXYZ(i)
			for j := range centre {
				centre[j] += float64(xyz[j])
			}
		}
	}
	for j := range centre {
		centre[j] /= float64(count)
	}

	dMin := math.MaxFloat64
	closest := [3]int{roundInt(centre[0]), roundInt(centre[1]), roundInt(centre[2])}
	for i := len(sub) - 1; i >= 0; i-- {
		if sub[i] == maxValue {
			xyz := toXYZ(i)
			d := 0.0
			for j := range centre {
				dj := float64(xyz[j]) - centre[j]
				d += dj * dj
			}
			if dMin > d {
				dMin = d
				closest = xyz
			}
		}
	}
	return closest
}

// findCentreOfMass iterates a windowed centre of mass seeded at the maximum
// until it moves less than one pixel or ten iterations pass.
func findCentreOfMass(sub []float32, dims [3]int, rng int) [3]int {
	centre := findCentreMaxValue(sub, dims)
	com := [3]float64{float64(centre[0]), float64(centre[1]), float64(centre[2])}

	for iter := 0; iter < 10; iter++ {
		next := centreOfMassStep(sub, dims, rng, com)
		distance := 0.0
		for j := range com {
			dj := next[j] - com[j]
			distance += dj * dj
		}
		com = next
		if distance <= 1 {
			break
		}
	}
	return [3]int{roundInt(com[0]), roundInt(com[1]), roundInt(com[2])}
}

func centreOfMassStep(sub []float32, dims [3]int, rng int, com [3]float64) [3]float64 {
	if rng < 1 {
		rng = 1
	}
	var min, max [3]int
	for j := range min {
		c := roundInt(com[j])
		min[j] = c - rng
		max[j] = c + rng
		if min[j] < 0 {
			min[j] = 0
		}
		if max[j] >= dims[j]-1 {
			max[j] = dims[j] - 1
		}
	}

	blockSize := dims[0] * dims[1]
	var next [3]float64
	sum := 0.0
	for z := min[2]; z <= max[2]; z++ {
		for y := min[1]; y <= max[1]; y++ {
			index := blockSize*z + dims[0]*y + min[0]
			for x := min[0]; x <= max[0]; x++ {
				if v := float64(sub[index]); v > 0 {
					sum += v
					next[0] += float64(x) * v
					next[1] += float64(y) * v
					next[2] += float64(z) * v
				}
				index++
			}
		}
	}
	for j := range next {
		next[j] /= sum
	}
	return next
}

// findCentreGaussian fits a 2D Gaussian to a z-projection of the box. The
// projection uses the maximum per pixel when projectionMethod is 1, otherwise
// the average. The z coordinate comes from the per-plane centre of mass.
func findCentreGaussian(sub []float32, dims [3]int, projectionMethod int, fit GaussianFitFunc) ([3]int, bool) {
	if fit == nil {
		return [3]int{}, false
	}

	blockSize := dims[0] * dims[1]
	projection := make([]float32, blockSize)
	if projectionMethod == 1 {
		for z := dims[2] - 1; z >= 0; z-- {
			index := blockSize * z
			for i := 0; i < blockSize; i++ {
				if projection[i] < sub[index] {
					projection[i] = sub[index]
				}
				index++
			}
		}
	} else {
		for z := dims[2] - 1; z >= 0; z-- {
			index := blockSize * z
			for i := 0; i < blockSize; i++ {
				projection[i] += sub[index]
				index++
			}
		}
		for i := range projection {
			projection[i] /= float32(dims[2])
		}
	}

	cx, cy, ok := fit(projection, dims[0], dims[1])
	if !ok {
		return [3]int{}, false
	}

	// Centre of mass along the projection axis using per-plane totals.
	com := 0.0
	sum := 0.0
	for z := dims[2] - 1; z >= 0; z-- {
		planeSum := 0.0
		index := blockSize * z
		for i := 0; i < blockSize; i++ {
			planeSum += float64(sub[index])
			index++
		}
		com += float64(z) * planeSum
		sum += planeSum
	}
	cz := 0
	if sum > 0 {
		cz = roundInt(com / sum)
	}
	if cz < 0 {
		cz = 0
	}
	if cz >= dims[2] {
		cz = dims[2] - 1
	}
	return [3]int{roundInt(cx), roundInt(cy), cz}, true
}

// calculateFinalResults derives the background-relative intensity figures.
func (s *state[T]) calculateFinalResults() {
	bg := s.stats.Background
	for _, p := range s.peaks {
		p.IntensityMinusBackground = p.Intensity - bg*float64(p.Count)
		p.AverageIntensity = p.Intensity / float64(p.Count)
		p.AverageIntensityMinusBackground = p.IntensityMinusBackground / float64(p.Count)
	}
}

func roundInt(v float64) int {
	return int(math.Floor(v + 0.5))
}
