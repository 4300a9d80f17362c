package plans

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// limitsFile is the YAML shape of a plan limits config file:
//
//	limits:
//	  - plan_type: free
//	    feature: job_searches_used
//	    value: 3
type limitsFile struct {
	Limits []Limit `yaml:"limits"`
}

// LoadLimitsFile reads plan limits from a YAML file. Plan names are
// normalized to canonical tiers; unknown features are rejected so typos in
// the config fail at startup rather than silently resolving to zero.
func LoadLimitsFile(path string) ([]Limit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan limits file: %w", err)
	}

	var file limitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plan limits file: %w", err)
	}
	if len(file.Limits) == 0 {
		return nil, fmt.Errorf("plan limits file %s defines no limits", path)
	}

	known := make(map[string]bool, len(Features))
	for _, f := range Features {
		known[f] = true
	}

	for i := range file.Limits {
		l := &file.Limits[i]
		l.PlanType = Normalize(l.PlanType)
		if !known[l.Feature] {
			return nil, fmt.Errorf("plan limits file %s: unknown feature %q", path, l.Feature)
		}
		if l.Value < Unlimited {
			return nil, fmt.Errorf("plan limits file %s: invalid value %d for %s/%s", path, l.Value, l.PlanType, l.Feature)
		}
	}

	return file.Limits, nil
}
