package sheets

import (
	"fmt"
	"strconv"

	"github.com/dgallion1/chatareport/internal/placeholder"
)

// Placeholders reads Placeholders_Map in row order. Rows without an ID are
// skipped; the result is validated before it is returned.
func (w *Workbook) Placeholders() ([]placeholder.Placeholder, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, err := w.readLocked(SheetPlaceholders, PlaceholderHeaders)
	if err != nil {
		return nil, err
	}
	var out []placeholder.Placeholder
	var bad error
	t.data(func(n int, row []string) bool {
		id := t.get(row, "Placeholder ID")
		if id == "" {
			return true
		}
		p := placeholder.Placeholder{
			ID:           id,
			Instructions: t.get(row, "Instructions"),
			Category:     placeholder.ParseCategory(t.get(row, "Category")),
		}
		if wc := t.get(row, "Word Count"); wc != "" {
			n2, err := strconv.Atoi(wc)
			if err != nil {
				bad = fmt.Errorf("%s row %d: word count %q is not a number", t.sheet, n, wc)
				return false
			}
			p.WordCount = n2
		}
		out = append(out, p)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	if err := placeholder.Validate(out); err != nil {
		return nil, fmt.Errorf("%s: %w", SheetPlaceholders, err)
	}
	return out, nil
}

// SetPlaceholders replaces the placeholder map with ps.
func (w *Workbook) SetPlaceholders(ps []placeholder.Placeholder) error {
	if err := placeholder.Validate(ps); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	t, err := w.readLocked(SheetPlaceholders, PlaceholderHeaders)
	if err != nil {
		return err
	}
	for n := len(t.rows); n >= 2; n-- {
		if err := w.f.RemoveRow(t.sheet, n); err != nil {
			return fmt.Errorf("clear %s row %d: %w", t.sheet, n, err)
		}
	}
	for i, p := range ps {
		err := w.writeRowLocked(t, i+2, map[string]any{
			"Placeholder ID": p.ID,
			"Instructions":   p.Instructions,
			"Word Count":     p.WordCount,
			"Category":       string(p.Category),
		})
		if err != nil {
			return err
		}
	}
	return w.saveLocked()
}
