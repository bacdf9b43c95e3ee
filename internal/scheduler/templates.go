// ABOUTME: Embedded task templates used to seed new proactive tasks
// ABOUTME: Templates are validated on load so a bad seed fails at startup

package scheduler

import (
	_ "embed"
	"fmt"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() ([]Definition, error) {
	return ParseTemplates(defaultTemplates)
}

// ParseTemplates decodes a YAML list of definitions and checks each one.
func ParseTemplates(data []byte) ([]Definition, error) {
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("template %d: %w: name is required", i, ErrInvalidTask)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("template %q: %w: duplicate name", d.Name, ErrInvalidTask)
		}
		seen[d.Name] = true
		if _, err := cron.ParseStandard(d.CronExpression); err != nil {
			return nil, fmt.Errorf("template %q: %w: %v", d.Name, ErrInvalidSchedule, err)
		}
	}
	return defs, nil
}
