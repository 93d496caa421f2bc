// Package histogram provides the value-indexed frequency table used to order
// region growing and to derive image statistics and auto-thresholds.
//
// One representation serves both integer and floating images: bins carry the
// distinct sample values in ascending order with their counts. Integer images
// simply produce bins whose values are integral; IntegralData reports that so
// callers can keep integer-image behaviours (minimum peak heights, rounded
// display cut-offs).
package histogram

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/lumicell/foci/internal/volume"
)

// Histogram is a frequency table over the distinct values of a sample buffer.
// Values is sorted ascending and parallel to Counts. MinBin and MaxBin bound
// the populated range (always 0 and len-1 after construction; kept explicit
// so compacted histograms with empty tails stay well-defined).
type Histogram[T volume.Sample] struct {
	Counts []int
	Values []T
	MinBin int
	MaxBin int
}

// FromValues builds a histogram over data[i] for every index where include is
// nil or returns true. An all-excluded buffer yields an empty histogram.
func FromValues[T volume.Sample](data []T, include func(index int) bool) *Histogram[T] {
	vals := make([]T, 0, len(data))
	for i, v := range data {
		if include == nil || include(i) {
			vals = append(vals, v)
		}
	}
	sort.Slice(vals, func(a, b int) bool { return vals[a] < vals[b] })

	h := &Histogram[T]{}
	for i := 0; i < len(vals); {
		j := i
		for j < len(vals) && vals[j] == vals[i] {
			j++
		}
		h.Values = append(h.Values, vals[i])
		h.Counts = append(h.Counts, j-i)
		i = j
	}
	if len(h.Counts) > 0 {
		h.MaxBin = len(h.Counts) - 1
	}
	return h
}

// Empty reports whether the histogram holds no samples.
func (h *Histogram[T]) Empty() bool {
	return len(h.Counts) == 0
}

// N returns the total sample count. Invariant: equals the number of included
// indices passed to FromValues.
func (h *Histogram[T]) N() int {
	n := 0
	for _, c := range h.Counts {
		n += c
	}
	return n
}

// Value returns the representative sample value of a bin as float64.
func (h *Histogram[T]) Value(bin int) float64 {
	return float64(h.Values[bin])
}

// BinOf returns the bin holding exactly value v. The value must have been
// present when the histogram was built; lookups of unseen values return the
// insertion point, which callers use as a lower bound.
func (h *Histogram[T]) BinOf(v T) int {
	return sort.Search(len(h.Values), func(i int) bool { return h.Values[i] >= v })
}

// FirstBinAtOrAbove returns the lowest bin whose value is >= level, or
// len(Counts) when no bin qualifies.
func (h *Histogram[T]) FirstBinAtOrAbove(level float64) int {
	return sort.Search(len(h.Values), func(i int) bool { return float64(h.Values[i]) >= level })
}

// IntegralData reports whether every bin value is a whole number, i.e. the
// histogram could have come from an integer image.
func (h *Histogram[T]) IntegralData() bool {
	for _, v := range h.Values {
		f := float64(v)
		if f != float64(int64(f)) {
			return false
		}
	}
	return true
}

// Compact maps the histogram onto at most size bins and returns the bin
// counts plus a function mapping a compact bin back to a sample value. Used
// to hand a bounded table to auto-threshold methods. Integral data already
// spanning [0, size) maps bins to their values directly; anything else is
// linearly re-binned across the value range.
func (h *Histogram[T]) Compact(size int) (counts []int, valueOf func(bin int) float64) {
	if h.Empty() {
		return make([]int, size), func(int) float64 { return 0 }
	}
	min := h.Value(h.MinBin)
	max := h.Value(h.MaxBin)

	if h.IntegralData() && min >= 0 && max < float64(size) {
		counts = make([]int, size)
		for i, c := range h.Counts {
			counts[int(h.Values[i])] += c
		}
		return counts, func(bin int) float64 { return float64(bin) }
	}

	if min == max {
		counts = make([]int, size)
		counts[0] = h.N()
		return counts, func(int) float64 { return min }
	}

	binSize := (max - min) / float64(size-1)
	counts = make([]int, size)
	for i, c := range h.Counts {
		bin := int((h.Value(i)-min)/binSize + 0.5)
		if bin < 0 {
			bin = 0
		}
		if bin >= size {
			bin = size - 1
		}
		counts[bin] += c
	}
	return counts, func(bin int) float64 { return min + float64(bin)*binSize }
}

// Stats holds min/max/mean/stddev and the intensity sum of one histogram.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Sum    float64
}

// Statistics computes the summary statistics of the histogram. An empty
// histogram yields zeroed statistics; this is the degenerate all-excluded
// image, not an error.
func (h *Histogram[T]) Statistics() Stats {
	if h.Empty() {
		return Stats{}
	}
	values := make([]float64, len(h.Values))
	weights := make([]float64, len(h.Counts))
	sum := 0.0
	for i := range h.Values {
		values[i] = float64(h.Values[i])
		weights[i] = float64(h.Counts[i])
		sum += values[i] * weights[i]
	}
	mean := stat.Mean(values, weights)
	sd := 0.0
	if h.N() > 1 {
		sd = stat.StdDev(values, weights)
	}
	return Stats{
		Min:    float64(h.Values[h.MinBin]),
		Max:    float64(h.Values[h.MaxBin]),
		Mean:   mean,
		StdDev: sd,
		Sum:    sum,
	}
}
