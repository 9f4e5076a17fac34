package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// filePattern is the on-disk layout of one pattern. Enabled defaults to true.
type filePattern struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Indicators  []string `yaml:"indicators"`
	RiskWeight  float64  `yaml:"risk_weight"`
	Enabled     *bool    `yaml:"enabled"`
}

// LoadFile reads a YAML pattern library.
func LoadFile(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern library: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML pattern library.
func Parse(data []byte) ([]Pattern, error) {
	var doc struct {
		Patterns []filePattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pattern library: %w", err)
	}
	if len(doc.Patterns) == 0 {
		return nil, fmt.Errorf("parse pattern library: no patterns defined")
	}

	out := make([]Pattern, 0, len(doc.Patterns))
	for _, p := range doc.Patterns {
		out = append(out, Pattern{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Indicators:  p.Indicators,
			RiskWeight:  p.RiskWeight,
			Enabled:     p.Enabled == nil || *p.Enabled,
		})
	}
	return out, nil
}
