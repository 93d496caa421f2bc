package find

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackgroundMethod selects how the background level is derived.
type BackgroundMethod int

const (
	// BackgroundAbsolute uses the background parameter directly.
	BackgroundAbsolute BackgroundMethod = iota
	// BackgroundMean uses the mean of the background-region statistics.
	BackgroundMean
	// BackgroundStdDevAboveMean uses mean + parameter*stddev.
	BackgroundStdDevAboveMean
	// BackgroundAuto uses the injected auto-threshold function.
	BackgroundAuto
	// BackgroundNone uses the image minimum, so every pixel is processed.
	BackgroundNone
)

// SearchMethod selects the per-peak region growing stop criterion.
type SearchMethod int

const (
	// SearchAboveBackground keeps every pixel above the background level.
	SearchAboveBackground SearchMethod = iota
	// SearchFractionOfPeak keeps pixels above background + p*(peak-background).
	SearchFractionOfPeak
	// SearchHalfPeakValue keeps pixels above half the peak value.
	SearchHalfPeakValue
	// SearchStdDevFromBackground keeps pixels above background + p*stddev.
	SearchStdDevFromBackground
)

// PeakMethod selects the minimum-height-above-saddle criterion.
type PeakMethod int

const (
	// PeakAbsolute requires height >= parameter.
	PeakAbsolute PeakMethod = iota
	// PeakRelative requires height >= parameter * peak value.
	PeakRelative
	// PeakRelativeAboveBackground requires height >= parameter * (peak value - background).
	PeakRelativeAboveBackground
)

// CentreMethod selects how each surviving peak's reported position is found.
type CentreMethod int

const (
	// CentreMaxValueSearch reports the raw maximum on the search image.
	CentreMaxValueSearch CentreMethod = iota
	// CentreMaxValueOriginal reports the raw maximum on the original image.
	// Equivalent to CentreMaxValueSearch when no pre-blur was applied.
	CentreMaxValueOriginal
	// CentreOfMassSearch iterates a windowed centre of mass on the search image.
	CentreOfMassSearch
	// CentreOfMassOriginal iterates a windowed centre of mass on the original image.
	CentreOfMassOriginal
	// CentreGaussianSearch fits a 2D Gaussian to a projection of the search image.
	CentreGaussianSearch
	// CentreGaussianOriginal fits a 2D Gaussian to a projection of the original image.
	CentreGaussianOriginal
)

// SortKey orders the final peak list (descending, except x/y/z ascending).
type SortKey int

const (
	SortIntensity SortKey = iota
	SortIntensityMinusBackground
	SortCount
	SortMaxValue
	SortAverageIntensity
	SortAverageIntensityMinusBackground
	SortX
	SortY
	SortZ
	SortSaddleHeight
	SortCountAboveSaddle
	SortIntensityAboveSaddle
	SortAbsoluteHeight
	SortRelativeHeightAboveBackground
)

// StatsMode selects which pixels feed the background statistics when an
// exclusion mask is present.
type StatsMode int

const (
	// StatsBoth uses all pixels for the background estimate.
	StatsBoth StatsMode = iota
	// StatsInside uses only non-excluded pixels.
	StatsInside
	// StatsOutside uses only excluded pixels.
	StatsOutside
)

// OutputOptions control label-mask rendering.
type OutputOptions struct {
	// Mask enables rendering of the label image.
	Mask bool `yaml:"mask"`
	// AboveSaddle blanks each peak's pixels at or below its highest saddle.
	AboveSaddle bool `yaml:"aboveSaddle"`
	// FractionOfHeight blanks pixels below a fraction of the peak height
	// above background (FractionParameter).
	FractionOfHeight bool `yaml:"fractionOfHeight"`
	// FractionOfIntensity blanks pixels outside the brightest fraction of
	// each peak's cumulative intensity above background (FractionParameter).
	FractionOfIntensity bool `yaml:"fractionOfIntensity"`
	// ThresholdMask re-thresholds each peak independently with the injected
	// auto-threshold function, collapsing labels to a fixed palette:
	// 1=saddle, 2=background, 3=above threshold (+dots at 4).
	ThresholdMask bool `yaml:"thresholdMask"`
	// NoPeakDots suppresses the high-sentinel dot at each reported centre.
	NoPeakDots bool `yaml:"noPeakDots"`
}

// Config enumerates every finder parameter. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	BackgroundMethod    BackgroundMethod `yaml:"backgroundMethod"`
	BackgroundParameter float64          `yaml:"backgroundParameter"`

	SearchMethod    SearchMethod `yaml:"searchMethod"`
	SearchParameter float64      `yaml:"searchParameter"`

	PeakMethod    PeakMethod `yaml:"peakMethod"`
	PeakParameter float64    `yaml:"peakParameter"`

	// MinSize is the minimum pixel count for a surviving peak.
	MinSize int `yaml:"minSize"`
	// MaxPeaks truncates the sorted result list.
	MaxPeaks int `yaml:"maxPeaks"`
	// MaxCandidates bounds the raw local-maximum search; exceeding it fails
	// with ErrCapacityExceeded (guards pathological noisy images).
	MaxCandidates int `yaml:"maxCandidates"`

	SortBy SortKey `yaml:"sortBy"`

	CentreMethod    CentreMethod `yaml:"centreMethod"`
	CentreParameter float64      `yaml:"centreParameter"`

	// FractionParameter feeds the fraction-of-height / fraction-of-intensity
	// mask options.
	FractionParameter float64 `yaml:"fractionParameter"`

	// MinimumAboveSaddle enables the third merge phase using the count above
	// the highest saddle as the size metric.
	MinimumAboveSaddle bool `yaml:"minimumAboveSaddle"`
	// RemoveEdgeMaxima removes peaks owning any pixel on the XY border.
	RemoveEdgeMaxima bool `yaml:"removeEdgeMaxima"`

	StatsMode StatsMode `yaml:"statsMode"`

	Output OutputOptions `yaml:"output"`
}

// DefaultConfig returns the parameter set used when nothing is configured:
// auto-threshold background, growth above background, modest size filter.
func DefaultConfig() Config {
	return Config{
		BackgroundMethod: BackgroundAuto,
		SearchMethod:     SearchAboveBackground,
		PeakMethod:       PeakRelativeAboveBackground,
		PeakParameter:    0.5,
		MinSize:          5,
		MaxPeaks:         50,
		MaxCandidates:    65535,
		SortBy:           SortIntensity,
		CentreMethod:     CentreMaxValueSearch,
		CentreParameter:  2,
	}
}

// LoadConfig reads a YAML parameter file over the defaults and validates the
// result. Absent fields keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate fails fast on parameter combinations no pass can honor.
func (c Config) Validate() error {
	if c.MinSize < 0 {
		return fmt.Errorf("%w: negative minimum size %d", ErrInvalidConfiguration, c.MinSize)
	}
	if c.MaxPeaks < 1 {
		return fmt.Errorf("%w: max peaks must be positive, got %d", ErrInvalidConfiguration, c.MaxPeaks)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("%w: max candidates must be positive, got %d", ErrInvalidConfiguration, c.MaxCandidates)
	}
	if c.SearchParameter < 0 {
		return fmt.Errorf("%w: negative search parameter %g", ErrInvalidConfiguration, c.SearchParameter)
	}
	if c.CentreParameter < 0 {
		return fmt.Errorf("%w: negative centre radius %g", ErrInvalidConfiguration, c.CentreParameter)
	}
	if c.FractionParameter < 0 || c.FractionParameter > 1 {
		return fmt.Errorf("%w: fraction parameter %g outside [0,1]", ErrInvalidConfiguration, c.FractionParameter)
	}
	return nil
}

// Enum name tables. Names round-trip through YAML so config files stay
// readable; unknown names fail at load time.

var backgroundNames = map[BackgroundMethod]string{
	BackgroundAbsolute:        "absolute",
	BackgroundMean:            "mean",
	BackgroundStdDevAboveMean: "stdDevAboveMean",
	BackgroundAuto:            "autoThreshold",
	BackgroundNone:            "none",
}

var searchNames = map[SearchMethod]string{
	SearchAboveBackground:      "aboveBackground",
	SearchFractionOfPeak:       "fractionOfPeak",
	SearchHalfPeakValue:        "halfPeakValue",
	SearchStdDevFromBackground: "stdDevFromBackground",
}

var peakNames = map[PeakMethod]string{
	PeakAbsolute:                "absolute",
	PeakRelative:                "relative",
	PeakRelativeAboveBackground: "relativeAboveBackground",
}

var centreNames = map[CentreMethod]string{
	CentreMaxValueSearch:   "maxValue",
	CentreMaxValueOriginal: "maxValueOriginal",
	CentreOfMassSearch:     "centreOfMass",
	CentreOfMassOriginal:   "centreOfMassOriginal",
	CentreGaussianSearch:   "gaussian",
	CentreGaussianOriginal: "gaussianOriginal",
}

var sortNames = map[SortKey]string{
	SortIntensity:                       "intensity",
	SortIntensityMinusBackground:        "intensityMinusBackground",
	SortCount:                           "count",
	SortMaxValue:                        "maxValue",
	SortAverageIntensity:                "averageIntensity",
	SortAverageIntensityMinusBackground: "averageIntensityMinusBackground",
	SortX:                               "x",
	SortY:                               "y",
	SortZ:                               "z",
	SortSaddleHeight:                    "saddleHeight",
	SortCountAboveSaddle:                "countAboveSaddle",
	SortIntensityAboveSaddle:            "intensityAboveSaddle",
	SortAbsoluteHeight:                  "absoluteHeight",
	SortRelativeHeightAboveBackground:   "relativeHeight",
}

var statsModeNames = map[StatsMode]string{
	StatsBoth:    "both",
	StatsInside:  "inside",
	StatsOutside: "outside",
}

func nameOf[E comparable](names map[E]string, v E) string {
	if s, ok := names[v]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%v)", v)
}

func parseName[E comparable](names map[E]string, s string, out *E) error {
	for k, v := range names {
		if v == s {
			*out = k
			return nil
		}
	}
	return fmt.Errorf("%w: unknown option %q", ErrInvalidConfiguration, s)
}

func (m BackgroundMethod) String() string { return nameOf(backgroundNames, m) }
func (m SearchMethod) String() string     { return nameOf(searchNames, m) }
func (m PeakMethod) String() string       { return nameOf(peakNames, m) }
func (m CentreMethod) String() string     { return nameOf(centreNames, m) }
func (k SortKey) String() string          { return nameOf(sortNames, k) }
func (m StatsMode) String() string        { return nameOf(statsModeNames, m) }

func (m BackgroundMethod) MarshalYAML() (interface{}, error) { return m.String(), nil }
func (m SearchMethod) MarshalYAML() (interface{}, error)     { return m.String(), nil }
func (m PeakMethod) MarshalYAML() (interface{}, error)       { return m.String(), nil }
func (m CentreMethod) MarshalYAML() (interface{}, error)     { return m.String(), nil }
func (k SortKey) MarshalYAML() (interface{}, error)          { return k.String(), nil }
func (m StatsMode) MarshalYAML() (interface{}, error)        { return m.String(), nil }

func unmarshalName[E comparable](value *yaml.Node, names map[E]string, out *E) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return parseName(names, s, out)
}

func (m *BackgroundMethod) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalName(value, backgroundNames, m)
}
func (m *SearchMethod) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalName(value, searchNames, m)
}
func (m *PeakMethod) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalName(value, peakNames, m)
}
func (m *CentreMethod) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalName(value, centreNames, m)
}
func (k *SortKey) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalName(value, sortNames, k)
}
func (m *StatsMode) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalName(value, statsModeNames, m)
}
