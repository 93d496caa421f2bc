package find

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumicell/foci/internal/fitting"
	"github.com/lumicell/foci/internal/histogram"
	"github.com/lumicell/foci/internal/threshold"
	"github.com/lumicell/foci/internal/volume"
)

// autoThresholdBins is the table size handed to auto-threshold methods.
const autoThresholdBins = 65536

// Finder locates intensity peaks in 2D and 3D scalar images. A Finder is
// immutable after New and safe for concurrent FindPeaks calls on different
// images.
type Finder[T volume.Sample] struct {
	cfg       Config
	log       zerolog.Logger
	mask      *volume.Grid[uint8]
	search    *volume.Grid[T]
	threshold threshold.Func
	fit       GaussianFitFunc
	progress  func(stage string, fraction float64)
}

// Option configures a Finder.
type Option[T volume.Sample] func(*Finder[T])

// WithLogger routes stage logging to the given logger.
func WithLogger[T volume.Sample](log zerolog.Logger) Option[T] {
	return func(f *Finder[T]) { f.log = log }
}

// WithMask excludes every pixel whose mask value is zero from the analysis.
// The mask must match the image dimensions.
func WithMask[T volume.Sample](mask *volume.Grid[uint8]) Option[T] {
	return func(f *Finder[T]) { f.mask = mask }
}

// WithSearchImage finds and grows peaks on the given pre-processed image
// (typically a blurred copy) while intensities are still measured on the
// input. Saddle heights keep the search-image values, which are smoother.
func WithSearchImage[T volume.Sample](img *volume.Grid[T]) Option[T] {
	return func(f *Finder[T]) { f.search = img }
}

// WithThresholdFunc replaces the auto-threshold method used for the
// background estimate and the threshold-mask output.
func WithThresholdFunc[T volume.Sample](fn threshold.Func) Option[T] {
	return func(f *Finder[T]) { f.threshold = fn }
}

// WithGaussianFit replaces the 2D Gaussian fit used by the Gaussian centre
// methods. A nil fit disables them; affected peaks keep their previous
// centre.
func WithGaussianFit[T volume.Sample](fn GaussianFitFunc) Option[T] {
	return func(f *Finder[T]) { f.fit = fn }
}

// WithProgress reports stage progress in [0, 1].
func WithProgress[T volume.Sample](fn func(stage string, fraction float64)) Option[T] {
	return func(f *Finder[T]) { f.progress = fn }
}

// New validates the configuration and builds a Finder.
func New[T volume.Sample](cfg Config, opts ...Option[T]) (*Finder[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Finder[T]{
		cfg:       cfg,
		log:       zerolog.Nop(),
		threshold: threshold.Otsu,
		fit:       fitting.Gaussian2D,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Result is the outcome of one analysis: the surviving peaks in the
// configured sort order with dense ids starting at 1, the image statistics,
// and the label mask when requested.
type Result struct {
	Peaks []Peak     `json:"peaks"`
	Stats Statistics `json:"stats"`
	Mask  *Mask      `json:"-"`
}

// FindPeaks runs the full pipeline on one image. When mask rendering fails
// on capacity the peaks and statistics are still returned alongside the
// error.
func (f *Finder[T]) FindPeaks(ctx context.Context, img *volume.Grid[T]) (*Result, error) {
	start := time.Now()
	p, err := f.Init(img)
	if err != nil {
		return nil, err
	}
	if err := p.Search(ctx); err != nil {
		return nil, err
	}
	if err := p.Merge(ctx); err != nil {
		return nil, err
	}
	if err := p.Localize(ctx); err != nil {
		return nil, err
	}

	var mask *Mask
	if f.cfg.Output.Mask {
		mask, err = p.Render()
		if err != nil {
			return p.Result(), err
		}
	}
	res := p.Result()
	res.Mask = mask
	f.log.Info().
		Int("peaks", len(res.Peaks)).
		Float64("background", res.Stats.Background).
		Dur("elapsed", time.Since(start)).
		Msg("analysis complete")
	return res, nil
}

// Pipeline exposes the analysis stages individually so callers can rerun the
// later stages with different parameters via Clone. Stages must run in order:
// Search, Merge, Localize, optionally Render, then Result.
type Pipeline[T volume.Sample] struct {
	f          *Finder[T]
	cfg        Config
	s          *state[T]
	renumbered bool
}

// Init prepares the analysis region, builds the histogram and statistics,
// and derives the background level.
func (f *Finder[T]) Init(img *volume.Grid[T]) (*Pipeline[T], error) {
	search := img
	if f.search != nil {
		if !f.search.SameShape(img) {
			return nil, fmt.Errorf("%w: search image %dx%dx%d does not match input %dx%dx%d",
				ErrInvalidConfiguration,
				f.search.Width, f.search.Height, f.search.Depth,
				img.Width, img.Height, img.Depth)
		}
		search = f.search
	}

	s := &state[T]{
		search: search,
		orig:   img,
		nbh:    volume.NewNeighborhood(img.Width, img.Height, img.Depth),
		types:  make([]byte, img.Len()),
		maxima: make([]int32, img.Len()),
	}

	if f.mask != nil {
		if f.mask.Width != img.Width || f.mask.Height != img.Height || f.mask.Depth != img.Depth {
			return nil, fmt.Errorf("%w: mask %dx%dx%d does not match input %dx%dx%d",
				ErrInvalidConfiguration,
				f.mask.Width, f.mask.Height, f.mask.Depth,
				img.Width, img.Height, img.Depth)
		}
		for i, v := range f.mask.Data {
			if v == 0 {
				s.types[i] = flagExcluded
				s.exclusionCount++
			}
		}
	}

	s.hist = histogram.FromValues(search.Data, func(i int) bool {
		return s.types[i]&flagExcluded == 0
	})
	st := s.hist.Statistics()
	s.stats = Statistics{
		Min: st.Min, Max: st.Max, Mean: st.Mean, StdDev: st.StdDev, Sum: st.Sum,
		BackgroundMin: st.Min, BackgroundMax: st.Max,
		BackgroundMean: st.Mean, BackgroundStdDev: st.StdDev,
	}

	// The background estimate may come from a different pixel population than
	// the analysis itself.
	statsHist := s.hist
	if s.exclusionCount > 0 && f.cfg.StatsMode != StatsInside {
		var include func(int) bool
		if f.cfg.StatsMode == StatsOutside {
			include = func(i int) bool { return s.types[i]&flagExcluded != 0 }
		}
		statsHist = histogram.FromValues(search.Data, include)
		bst := statsHist.Statistics()
		s.stats.BackgroundMin = bst.Min
		s.stats.BackgroundMax = bst.Max
		s.stats.BackgroundMean = bst.Mean
		s.stats.BackgroundStdDev = bst.StdDev
	}

	if f.cfg.BackgroundMethod == BackgroundAuto {
		counts, valueOf := statsHist.Compact(autoThresholdBins)
		s.stats.Background = valueOf(f.threshold(counts))
	}
	s.stats.Background = searchThreshold(f.cfg, s.stats)

	f.log.Debug().
		Float64("background", s.stats.Background).
		Int("excluded", s.exclusionCount).
		Msg("analysis region initialised")

	return &Pipeline[T]{f: f, cfg: f.cfg, s: s}, nil
}

// Clone copies the pipeline state so the remaining stages can run again with
// different parameters without repeating the earlier ones.
func (p *Pipeline[T]) Clone(cfg Config) (*Pipeline[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline[T]{f: p.f, cfg: cfg, s: p.s.clone()}, nil
}

// Search locates the candidate maxima and grows their regions level by level.
func (p *Pipeline[T]) Search(ctx context.Context) error {
	start := time.Now()
	maxPoints, err := p.s.findMaxima(p.s.stats.Background, p.s.stats.Min, p.cfg.MaxCandidates)
	if err != nil {
		return err
	}
	p.s.seedPeaks(maxPoints)

	if err := p.s.growRegions(ctx, p.progressFn("search")); err != nil {
		return err
	}
	p.s.pruneRegions(p.cfg)
	p.s.measureRegions()
	p.f.log.Debug().
		Int("candidates", len(maxPoints)).
		Dur("elapsed", time.Since(start)).
		Msg("located and grew candidate maxima")
	return nil
}

// Merge finds the saddle points and absorbs sub-peaks that fail the height
// and size criteria, then optionally removes peaks touching the XY border.
func (p *Pipeline[T]) Merge(ctx context.Context) error {
	start := time.Now()
	if err := p.s.findSaddles(ctx); err != nil {
		return err
	}
	p.s.measureAboveSaddle()

	if err := p.s.mergeSubPeaks(ctx, p.cfg, p.s.hist.IntegralData()); err != nil {
		return err
	}
	if p.cfg.RemoveEdgeMaxima {
		p.s.removeEdgeMaxima()
	}
	p.f.log.Debug().
		Int("peaks", len(p.s.peaks)).
		Dur("elapsed", time.Since(start)).
		Msg("merged sub-peaks")
	return nil
}

// Localize measures the peaks on the original image, recomputes the reported
// centres, derives the background-relative figures, and sorts and trims the
// result list.
func (p *Pipeline[T]) Localize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := p.cfg
	if p.s.search != p.s.orig {
		p.s.measureOriginal()
	} else if cfg.CentreMethod == CentreMaxValueOriginal {
		// Without a separate search image both methods are identical.
		cfg.CentreMethod = CentreMaxValueSearch
	}

	p.s.sumAboveBackground()
	p.s.locateCentres(cfg, p.f.fit)
	p.s.calculateFinalResults()

	p.s.sortPeaks(cfg.SortBy)
	if cfg.MaxPeaks < len(p.s.peaks) {
		p.s.peaks = p.s.peaks[:cfg.MaxPeaks]
	}
	return nil
}

// Render builds the label mask. It consumes the working buffers, so call it
// after Localize and before Result, or on a Clone.
func (p *Pipeline[T]) Render() (*Mask, error) {
	return p.s.generateMask(p.cfg, p.f.threshold)
}

// Result renumbers the peaks densely in the final order and returns them with
// the statistics. The mask, when rendered, must be attached by the caller.
func (p *Pipeline[T]) Result() *Result {
	if !p.renumbered {
		p.s.renumberPeaks()
		p.renumbered = true
	}
	peaks := make([]Peak, len(p.s.peaks))
	for i, r := range p.s.peaks {
		peaks[i] = r.Peak
	}
	return &Result{Peaks: peaks, Stats: p.s.stats}
}

func (p *Pipeline[T]) progressFn(stage string) func(float64) {
	if p.f.progress == nil {
		return nil
	}
	return func(fraction float64) { p.f.progress(stage, fraction) }
}
