// Package threshold implements auto-threshold methods over a bounded
// histogram of bin counts. The peak finder consumes these as an injected
// pure function: given counts, return the threshold bin.
package threshold

import (
	"fmt"
	"math"
	"strings"
)

// Func computes a threshold bin from histogram bin counts. Values at bins
// strictly above the returned bin are considered foreground.
type Func func(counts []int) int

// ByName resolves a method name (case-insensitive) to its implementation.
func ByName(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "otsu":
		return Otsu, nil
	case "mean":
		return Mean, nil
	case "triangle":
		return Triangle, nil
	case "minerror":
		return MinError, nil
	default:
		return nil, fmt.Errorf("unknown threshold method %q", name)
	}
}

// Otsu returns the bin maximizing between-class variance.
func Otsu(counts []int) int {
	total := 0
	sum := 0.0
	for i, c := range counts {
		total += c
		sum += float64(i) * float64(c)
	}
	if total == 0 {
		return 0
	}

	best := 0
	bestVar := -1.0
	wB := 0
	sumB := 0.0
	for t := 0; t < len(counts); t++ {
		wB += counts[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(counts[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return best
}

// Mean returns the bin at the weighted mean of the histogram.
func Mean(counts []int) int {
	total := 0
	sum := 0.0
	for i, c := range counts {
		total += c
		sum += float64(i) * float64(c)
	}
	if total == 0 {
		return 0
	}
	return int(math.Floor(sum / float64(total)))
}

// MinError implements Kittler-Illingworth minimum-error thresholding: two
// Gaussian classes are assumed and the threshold iterates to the point of
// minimal classification error. Falls back to the mean when the iteration
// diverges.
func MinError(counts []int) int {
	// Cumulative moments up to and including bin t.
	a := func(t int) float64 {
		s := 0.0
		for i := 0; i <= t; i++ {
			s += float64(counts[i])
		}
		return s
	}
	b := func(t int) float64 {
		s := 0.0
		for i := 0; i <= t; i++ {
			s += float64(i) * float64(counts[i])
		}
		return s
	}
	c := func(t int) float64 {
		s := 0.0
		for i := 0; i <= t; i++ {
			s += float64(i) * float64(i) * float64(counts[i])
		}
		return s
	}

	last := len(counts) - 1
	total := a(last)
	if total == 0 {
		return 0
	}

	t := Mean(counts)
	prev := -2
	for t != prev {
		n1 := a(t)
		n2 := total - n1
		if n1 == 0 || n2 == 0 {
			break
		}
		mu := b(t) / n1
		nu := (b(last) - b(t)) / n2
		p := n1 / total
		q := n2 / total
		sigma2 := c(t)/n1 - mu*mu
		tau2 := (c(last)-c(t))/n2 - nu*nu
		if sigma2 <= 0 || tau2 <= 0 {
			break
		}

		w0 := 1/sigma2 - 1/tau2
		w1 := mu/sigma2 - nu/tau2
		w2 := mu*mu/sigma2 - nu*nu/tau2 + math.Log10((sigma2*q*q)/(tau2*p*p))
		sqterm := w1*w1 - w0*w2
		if sqterm < 0 || w0 == 0 {
			break
		}

		prev = t
		next := (w1 + math.Sqrt(sqterm)) / w0
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return Mean(counts)
		}
		t = int(math.Floor(next + 0.5))
		if t < 0 {
			t = 0
		}
		if t > last {
			t = last
		}
	}
	return t
}

// Triangle implements the triangle method: the bin with the largest
// perpendicular distance from the line joining the histogram peak to the far
// end of its longer tail.
func Triangle(counts []int) int {
	minBin, maxBin, peak := -1, -1, 0
	for i, c := range counts {
		if c > 0 {
			if minBin < 0 {
				minBin = i
			}
			maxBin = i
			if c > counts[peak] {
				peak = i
			}
		}
	}
	if minBin < 0 || minBin == maxBin {
		return 0
	}

	// Work on the longer tail; mirror so the tail is always to the right.
	end := maxBin
	flip := peak-minBin > maxBin-peak
	if flip {
		end = minBin
	}
	if peak == end {
		return peak
	}

	nx := float64(counts[peak])
	ny := float64(peak - end)
	den := math.Hypot(nx, ny)
	nx /= den
	ny /= den
	d := nx*float64(end) + ny*float64(counts[end])

	best := peak
	bestDist := 0.0
	step := 1
	if flip {
		step = -1
	}
	for i := peak + step; i != end; i += step {
		dist := nx*float64(i) + ny*float64(counts[i]) - d
		if math.Abs(dist) > bestDist {
			bestDist = math.Abs(dist)
			best = i
		}
	}
	return best
}
