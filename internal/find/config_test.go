package find

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackgroundMethod = BackgroundStdDevAboveMean
	cfg.BackgroundParameter = 3
	cfg.SearchMethod = SearchFractionOfPeak
	cfg.SearchParameter = 0.3
	cfg.PeakMethod = PeakAbsolute
	cfg.PeakParameter = 12
	cfg.SortBy = SortCountAboveSaddle
	cfg.CentreMethod = CentreGaussianOriginal
	cfg.StatsMode = StatsOutside
	cfg.MinimumAboveSaddle = true
	cfg.Output.Mask = true
	cfg.Output.AboveSaddle = true

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got Config
	if err := yaml.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, got) {
		t.Errorf("round trip changed the config:\n%+v\n%+v", cfg, got)
	}
}

func TestConfigYAMLNames(t *testing.T) {
	raw, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	text := string(raw)
	for _, name := range []string{"autoThreshold", "aboveBackground", "relativeAboveBackground", "intensity", "maxValue"} {
		if !strings.Contains(text, name) {
			t.Errorf("marshalled config missing readable name %q:\n%s", name, text)
		}
	}
}

func TestConfigUnknownName(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte("backgroundMethod: bogus\n"), &cfg)
	if err == nil {
		t.Fatal("unknown method name accepted")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error %q does not name the bad option", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	body := "backgroundMethod: absolute\nbackgroundParameter: 12\nminSize: 9\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.BackgroundMethod != BackgroundAbsolute || cfg.BackgroundParameter != 12 || cfg.MinSize != 9 {
		t.Errorf("loaded %+v, want the file values over defaults", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.MaxPeaks != DefaultConfig().MaxPeaks {
		t.Errorf("maxPeaks = %d, want default %d", cfg.MaxPeaks, DefaultConfig().MaxPeaks)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("maxPeaks: 0\n"), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := LoadConfig(bad); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("got error %v, want ErrInvalidConfiguration", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative min size", func(c *Config) { c.MinSize = -1 }},
		{"zero max peaks", func(c *Config) { c.MaxPeaks = 0 }},
		{"zero max candidates", func(c *Config) { c.MaxCandidates = 0 }},
		{"negative search parameter", func(c *Config) { c.SearchParameter = -0.5 }},
		{"negative centre radius", func(c *Config) { c.CentreParameter = -1 }},
		{"fraction above one", func(c *Config) { c.FractionParameter = 1.5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("got error %v, want ErrInvalidConfiguration", err)
			}
			if _, err := New[uint16](cfg); err == nil {
				t.Error("New accepted the invalid config")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}
