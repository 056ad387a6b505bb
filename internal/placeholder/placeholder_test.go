package placeholder

import (
	"errors"
	"testing"
)

func TestValidID(t *testing.T) {
	valid := []string{"C001", "T001", "SUMMARY", "P_12"}
	for _, id := range valid {
		if !ValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	invalid := []string{"", "c001", "1ABC", "C-001", "C 001", "END#", "END", "BATCHCOMPLETE", "TASKCOMPLETE"}
	for _, id := range invalid {
		if ValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestMarker(t *testing.T) {
	p := Placeholder{ID: "C001"}
	if got := p.Marker(); got != "{{C001}}" {
		t.Errorf("expected {{C001}}, got %q", got)
	}
}

func TestParseCategory(t *testing.T) {
	tests := map[string]Category{
		"Parent":         CategoryParent,
		" parent-facing": CategoryParent,
		"Clinical":       CategoryClinical,
		"":               CategoryClinical,
		"other":          CategoryClinical,
	}
	for in, want := range tests {
		if got := ParseCategory(in); got != want {
			t.Errorf("ParseCategory(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestValidate(t *testing.T) {
	good := []Placeholder{
		{ID: "C001", Instructions: "Summarise sensory profile.", WordCount: 120},
		{ID: "T001", Instructions: "Parent-friendly summary.", Category: CategoryParent},
	}
	if err := Validate(good); err != nil {
		t.Fatalf("expected valid map, got %v", err)
	}

	if err := Validate(nil); !errors.Is(err, ErrEmptyMap) {
		t.Errorf("expected ErrEmptyMap, got %v", err)
	}

	dup := append(good, Placeholder{ID: "C001", Instructions: "again"})
	if err := Validate(dup); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}

	bad := []Placeholder{{ID: "c001", Instructions: "x"}}
	if err := Validate(bad); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}

	empty := []Placeholder{{ID: "C001", Instructions: "  "}}
	if err := Validate(empty); err == nil {
		t.Error("expected error for blank instructions")
	}
}

func TestIDs(t *testing.T) {
	ps := []Placeholder{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	ids := IDs(ps)
	if len(ids) != 3 || ids[0] != "A" || ids[2] != "C" {
		t.Errorf("unexpected ids %v", ids)
	}
}
