package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
)

type (
	// Calibration is the optional YAML overlay over the built-in weight and
	// threshold tables. Deployments retune individual cells without a
	// rebuild; everything it names must already exist in the catalog.
	Calibration struct {
		Weights    map[string]int            `yaml:"weights"`
		Overrides  map[string]map[string]int `yaml:"overrides"`
		Thresholds map[string]ThresholdTuple `yaml:"thresholds"`
	}

	// ThresholdTuple is one verdict boundary row. All four values are
	// required; a partial row cannot stay strictly ascending.
	ThresholdTuple struct {
		Watch  int `yaml:"watch"`
		Limit  int `yaml:"limit"`
		Review int `yaml:"review"`
		Block  int `yaml:"block"`
	}
)

// LoadCalibration parses the overlay file. An empty path means no overlay.
func LoadCalibration(path string) (*Calibration, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	cal := &Calibration{}
	if err := yaml.UnmarshalStrict(data, cal); err != nil {
		return nil, fmt.Errorf("parse calibration file %s: %w", path, err)
	}
	return cal, nil
}

// Apply validates the overlay against the engine's known signal names and
// group kinds and rewrites the named cells. Must run before the first
// decision; the tables are read-only afterwards. The first invalid entry
// aborts startup, so partial application never reaches traffic.
func (c *Calibration) Apply(engine *scoring.Engine) error {
	if c == nil {
		return nil
	}
	catalog := engine.Catalog()

	for _, name := range sortedKeys(c.Weights) {
		if err := catalog.SetBaseWeight(name, c.Weights[name]); err != nil {
			return fmt.Errorf("calibration weights: %w", err)
		}
	}

	kinds := make([]string, 0, len(c.Overrides))
	for kind := range c.Overrides {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		for _, name := range sortedKeys(c.Overrides[kind]) {
			if err := catalog.SetOverride(signal.GroupKind(kind), name, c.Overrides[kind][name]); err != nil {
				return fmt.Errorf("calibration overrides[%s]: %w", kind, err)
			}
		}
	}

	tkinds := make([]string, 0, len(c.Thresholds))
	for kind := range c.Thresholds {
		tkinds = append(tkinds, kind)
	}
	sort.Strings(tkinds)
	for _, kind := range tkinds {
		row := c.Thresholds[kind]
		err := engine.SetThresholds(signal.GroupKind(kind), scoring.Thresholds{
			Watch:  row.Watch,
			Limit:  row.Limit,
			Review: row.Review,
			Block:  row.Block,
		})
		if err != nil {
			return fmt.Errorf("calibration thresholds: %w", err)
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
