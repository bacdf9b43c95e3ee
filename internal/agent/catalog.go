// ABOUTME: Static agent catalog loaded from embedded YAML at startup
// ABOUTME: Read-only after load; lookups are safe for concurrent use

package agent

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Role names an agent in the catalog.
type Role string

// Built-in roles.
const (
	RoleOrchestrator Role = "orchestrator"
	RoleScheduler    Role = "scheduler"
	RoleResearch     Role = "research"
	RoleDevice       Role = "device"
)

// ErrUnknownRole indicates the role is not in the catalog.
var ErrUnknownRole = errors.New("unknown agent role")

// Definition describes one specialized agent.
type Definition struct {
	Role        Role     `yaml:"role" json:"role"`
	Description string   `yaml:"description" json:"description"`
	Tools       []string `yaml:"tools" json:"tools"`
	Proactive   bool     `yaml:"proactive" json:"proactive"`
	Keywords    []string `yaml:"keywords" json:"keywords,omitempty"`
	Prompt      string   `yaml:"prompt" json:"-"`
}

// AllowsTool reports whether the agent may invoke the named tool.
func (d *Definition) AllowsTool(name string) bool {
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// RoutingConfig holds the vocabulary for the creative and ambiguous rules.
type RoutingConfig struct {
	ShortThreshold   int      `yaml:"short_threshold"`
	Creative         []string `yaml:"creative"`
	Acknowledgements []string `yaml:"acknowledgements"`
}

// Catalog is the set of agent definitions.
type Catalog struct {
	Default Role          `yaml:"default"`
	Routing RoutingConfig `yaml:"routing"`
	Agents  []Definition  `yaml:"agents"`

	byRole map[Role]*Definition
}

// LoadCatalog parses the embedded catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

// ParseCatalog parses and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing agent catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	if len(c.Agents) == 0 {
		return errors.New("agent catalog is empty")
	}
	c.byRole = make(map[Role]*Definition, len(c.Agents))
	for i := range c.Agents {
		d := &c.Agents[i]
		if d.Role == "" {
			return fmt.Errorf("agent %d has no role", i)
		}
		if _, dup := c.byRole[d.Role]; dup {
			return fmt.Errorf("duplicate agent role %q", d.Role)
		}
		for j, kw := range d.Keywords {
			d.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
		c.byRole[d.Role] = d
	}
	if c.Default == "" {
		c.Default = RoleOrchestrator
	}
	if _, ok := c.byRole[c.Default]; !ok {
		return fmt.Errorf("default role %q is not defined", c.Default)
	}
	if c.Routing.ShortThreshold <= 0 {
		c.Routing.ShortThreshold = 12
	}
	return nil
}

// Get returns the definition for role.
func (c *Catalog) Get(role Role) (*Definition, bool) {
	d, ok := c.byRole[role]
	return d, ok
}

// Has reports whether role is defined.
func (c *Catalog) Has(role Role) bool {
	_, ok := c.byRole[role]
	return ok
}

// Roles returns the roles in catalog order.
func (c *Catalog) Roles() []Role {
	roles := make([]Role, len(c.Agents))
	for i, d := range c.Agents {
		roles[i] = d.Role
	}
	return roles
}

// Definitions returns a copy of all definitions in catalog order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.Agents))
	copy(out, c.Agents)
	return out
}
