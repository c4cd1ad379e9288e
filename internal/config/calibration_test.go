package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
)

func writeCalibration(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "calibration.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write calibration file: %v", err)
	}
	return path
}

func TestLoadCalibrationEmptyPath(t *testing.T) {
	t.Parallel()

	cal, err := LoadCalibration("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if cal != nil {
		t.Fatalf("expected nil overlay, got %#v", cal)
	}
}

func TestLoadCalibrationMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadCalibration(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadCalibrationRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeCalibration(t, "weighs:\n  has_urls: 6\n")
	if _, err := LoadCalibration(path); err == nil {
		t.Fatal("expected error for misspelled top-level key")
	}
}

func TestCalibrationApply(t *testing.T) {
	t.Parallel()

	path := writeCalibration(t, `
weights:
  has_urls: 6
overrides:
  deals:
    wallet_address: 10
thresholds:
  crypto:
    watch: 20
    limit: 40
    review: 65
    block: 85
`)
	cal, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	engine := scoring.NewEngine(signal.NewCatalog())
	if err := cal.Apply(engine); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if w, _ := engine.Catalog().Weight(signal.KindGeneral, signal.HasURLs); w != 6 {
		t.Fatalf("base weight not overlaid: got %d, want 6", w)
	}
	if w, _ := engine.Catalog().Weight(signal.KindDeals, signal.WalletAddress); w != 10 {
		t.Fatalf("override cell not overlaid: got %d, want 10", w)
	}
	// Other kinds keep the stock wallet weight.
	if w, _ := engine.Catalog().Weight(signal.KindGeneral, signal.WalletAddress); w != 20 {
		t.Fatalf("stock weight disturbed: got %d, want 20", w)
	}

	// Score 85 sits below the stock crypto block boundary (90) but at the
	// overlaid one (85).
	result, err := engine.Score(scoring.Input{
		Signals: signal.Set{
			{Name: signal.IsInGlobalBlocklist},
			{Name: signal.SpamDBSimilarity80Plus},
		},
		Kind: signal.KindCrypto,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.Score != 85 {
		t.Fatalf("score = %d, want 85", result.Score)
	}
	if result.Verdict != scoring.VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK under overlaid thresholds", result.Verdict)
	}
}

func TestCalibrationApplyValidation(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		cal  *Calibration
	}{
		{
			name: "unknown signal name",
			cal:  &Calibration{Weights: map[string]int{"has_urls_typo": 6}},
		},
		{
			name: "unknown kind in overrides",
			cal:  &Calibration{Overrides: map[string]map[string]int{"casino": {"has_urls": 6}}},
		},
		{
			name: "unknown signal in overrides",
			cal:  &Calibration{Overrides: map[string]map[string]int{"deals": {"nope": 6}}},
		},
		{
			name: "unknown kind in thresholds",
			cal:  &Calibration{Thresholds: map[string]ThresholdTuple{"casino": {Watch: 30, Limit: 50, Review: 75, Block: 92}}},
		},
		{
			name: "non-ascending thresholds",
			cal:  &Calibration{Thresholds: map[string]ThresholdTuple{"general": {Watch: 50, Limit: 50, Review: 75, Block: 92}}},
		},
		{
			name: "partial threshold tuple",
			cal:  &Calibration{Thresholds: map[string]ThresholdTuple{"general": {Block: 92}}},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := scoring.NewEngine(signal.NewCatalog())
			if err := tt.cal.Apply(engine); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCalibrationApplyNil(t *testing.T) {
	t.Parallel()

	var cal *Calibration
	if err := cal.Apply(scoring.NewEngine(nil)); err != nil {
		t.Fatalf("nil overlay must be a no-op: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Arbiter:    Arbiter{BandLow: 60, BandHigh: 80, Type: "openai"},
			Classifier: Classifier{Threshold: 0.7},
			Pipeline:   Pipeline{MaxConcurrent: 100},
		}
	}

	if err := base().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "inverted band", mutate: func(c *Config) { c.Arbiter.BandLow = 80; c.Arbiter.BandHigh = 60 }},
		{name: "band above score range", mutate: func(c *Config) { c.Arbiter.BandHigh = 101 }},
		{name: "unknown llm type", mutate: func(c *Config) { c.Arbiter.Type = "claude" }},
		{name: "classifier threshold zero", mutate: func(c *Config) { c.Classifier.Threshold = 0 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Pipeline.MaxConcurrent = 0 }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
