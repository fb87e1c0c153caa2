// Package scenario provides the read-only catalog of roleplay scenarios.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultCatalog []byte

var ErrUnknownScenario = errors.New("unknown scenario")

// Scenario describes a roleplay persona, its opening line and its system prompt.
type Scenario struct {
	ID      string `yaml:"id" json:"id"`
	Title   string `yaml:"title" json:"title"`
	Starter string `yaml:"starter" json:"starter"`
	Prompt  string `yaml:"prompt" json:"-"`
}

// Catalog is an ordered, immutable list of scenarios.
type Catalog struct {
	scenarios []Scenario
	byID      map[string]int
}

// Default returns the built-in catalog (store, school, home).
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		// The embedded file is part of the build.
		panic(fmt.Sprintf("scenario: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML list of scenarios.
func Parse(data []byte) (*Catalog, error) {
	var list []Scenario
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("scenario catalog is empty")
	}

	c := &Catalog{byID: make(map[string]int, len(list))}
	for i, s := range list {
		s.ID = strings.TrimSpace(s.ID)
		switch {
		case s.ID == "":
			return nil, fmt.Errorf("scenario %d: missing id", i)
		case strings.TrimSpace(s.Starter) == "":
			return nil, fmt.Errorf("scenario %q: missing starter", s.ID)
		case strings.TrimSpace(s.Prompt) == "":
			return nil, fmt.Errorf("scenario %q: missing prompt", s.ID)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("scenario %q: duplicate id", s.ID)
		}
		c.byID[s.ID] = len(c.scenarios)
		c.scenarios = append(c.scenarios, s)
	}
	return c, nil
}

// All returns the scenarios in catalog order.
func (c *Catalog) All() []Scenario {
	out := make([]Scenario, len(c.scenarios))
	copy(out, c.scenarios)
	return out
}

// Get looks up a scenario by id.
func (c *Catalog) Get(id string) (Scenario, error) {
	i, ok := c.byID[id]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
	return c.scenarios[i], nil
}
