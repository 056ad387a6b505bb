package generate

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/chatareport/internal/placeholder"
)

//go:embed default_rules.yaml
var defaultRules []byte

// StyleRules are the writing rules given to the model in the system prompt.
type StyleRules struct {
	Persona  string   `yaml:"persona"`
	General  []string `yaml:"general"`
	Parent   []string `yaml:"parent"`
	Clinical []string `yaml:"clinical"`
	Avoid    []string `yaml:"avoid"`
}

// DefaultStyleRules returns the built-in rules.
func DefaultStyleRules() StyleRules {
	r, err := parseStyleRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded style rules: %v", err))
	}
	return r
}

// LoadStyleRules reads rules from a YAML file. An empty path gives the
// built-in rules.
func LoadStyleRules(path string) (StyleRules, error) {
	if path == "" {
		return DefaultStyleRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return StyleRules{}, fmt.Errorf("read style rules: %w", err)
	}
	r, err := parseStyleRules(data)
	if err != nil {
		return StyleRules{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func parseStyleRules(data []byte) (StyleRules, error) {
	var r StyleRules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return StyleRules{}, fmt.Errorf("parse style rules: %w", err)
	}
	if strings.TrimSpace(r.Persona) == "" {
		return StyleRules{}, fmt.Errorf("style rules: persona is required")
	}
	return r, nil
}

// For returns the general rules followed by the rules for category c.
func (r StyleRules) For(c placeholder.Category) []string {
	out := append([]string(nil), r.General...)
	if c == placeholder.CategoryParent {
		return append(out, r.Parent...)
	}
	return append(out, r.Clinical...)
}
