// Package placeholder models the spreadsheet-defined map of report slots to
// writing instructions.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Category says who a placeholder's text is written for.
type Category string

const (
	CategoryParent   Category = "parent"
	CategoryClinical Category = "clinical"
)

// Placeholder is one named slot in the report template.
type Placeholder struct {
	ID           string   `json:"id"`
	Instructions string   `json:"instructions"`
	WordCount    int      `json:"word_count"`
	Category     Category `json:"category"`
}

// Marker returns the template token for the placeholder, e.g. {{C001}}.
func (p Placeholder) Marker() string {
	return Marker(p.ID)
}

// Marker returns the template token for id.
func Marker(id string) string {
	return "{{" + id + "}}"
}

var (
	ErrInvalidID   = errors.New("invalid placeholder id")
	ErrDuplicateID = errors.New("duplicate placeholder id")
	ErrEmptyMap    = errors.New("placeholder map is empty")
)

var idPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// reserved IDs collide with the response delimiters.
var reserved = map[string]bool{"END": true, "BATCHCOMPLETE": true, "TASKCOMPLETE": true}

// ValidID reports whether id can be used as a placeholder and response delimiter.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && !reserved[id]
}

// ParseCategory maps the free-text sheet value onto a Category. Anything that
// does not read as parent-facing is treated as clinical.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parent", "parents", "parent-facing", "family":
		return CategoryParent
	default:
		return CategoryClinical
	}
}

// Validate checks that a map is usable: non-empty, valid IDs, no duplicates,
// instructions present.
func Validate(ps []Placeholder) error {
	if len(ps) == 0 {
		return ErrEmptyMap
	}
	seen := make(map[string]bool, len(ps))
	for i, p := range ps {
		if !ValidID(p.ID) {
			return fmt.Errorf("row %d: %w: %q", i+1, ErrInvalidID, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("row %d: %w: %s", i+1, ErrDuplicateID, p.ID)
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.Instructions) == "" {
			return fmt.Errorf("placeholder %s has no instructions", p.ID)
		}
		if p.WordCount < 0 {
			return fmt.Errorf("placeholder %s has negative word count", p.ID)
		}
	}
	return nil
}

// IDs returns the placeholder IDs in map order.
func IDs(ps []Placeholder) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}
