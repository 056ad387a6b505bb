package generate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/chunker"
	"github.com/dgallion1/chatareport/internal/placeholder"
)

func testInput() PromptInput {
	return PromptInput{
		Record: &assessment.Record{
			ChataID:        "JDX-SLX-042",
			ChildFirstName: "Sam",
			ChildLastName:  "Lee",
			ChildAge:       "4y 2m",
			Sensory:        assessment.Domain{Score: 4, Observations: "Covers ears at loud noises."},
			Milestones: []assessment.Milestone{
				{Name: "First words", Category: "language", AgeMonths: 18, Status: "not_yet"},
			},
		},
		Batch: []placeholder.Placeholder{
			{ID: "C001", Instructions: "Summarise sensory findings.", WordCount: 150, Category: placeholder.CategoryClinical},
			{ID: "T001", Instructions: "Explain next steps.", Category: placeholder.CategoryParent},
		},
		BatchIndex: 0,
		BatchCount: 3,
		Supporting: []chunker.Section{{Title: "referral.pdf > Page 1", Text: "Referred by GP."}},
	}
}

func TestBuildBatchPrompt(t *testing.T) {
	got := BuildBatchPrompt(testInput())
	for _, want := range []string{
		"batch 1 of 3",
		"Child: Sam Lee",
		"Sensory Processing score: 4/5",
		"- First words (language): not yet at 18 months",
		"[referral.pdf > Page 1]\nReferred by GP.",
		"C001 (for clinicians, about 150 words): Summarise sensory findings.",
		"T001 (for parents): Explain next steps.",
		"Write exactly these IDs: C001, T001.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, TaskCompleteMarker) {
		t.Error("only the final batch asks for the task-complete marker")
	}
}

func TestBuildBatchPrompt_FinalBatch(t *testing.T) {
	in := testInput()
	in.BatchIndex = 2
	if got := BuildBatchPrompt(in); !strings.Contains(got, TaskCompleteMarker) {
		t.Errorf("final batch should ask for %s", TaskCompleteMarker)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	got := BuildSystemPrompt(DefaultStyleRules())
	for _, want := range []string{"paediatric clinician", "UK English", "For sections written for parents:", `"suffers from"`, BatchCompleteMarker} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestLoadStyleRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("persona: Be brief.\ngeneral: [One]\nparent: [Two]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := LoadStyleRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := r.For(placeholder.CategoryParent); len(got) != 2 || got[1] != "Two" {
		t.Errorf("unexpected parent rules %v", got)
	}
	if got := r.For(placeholder.CategoryClinical); len(got) != 1 {
		t.Errorf("unexpected clinical rules %v", got)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("general: [x]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStyleRules(bad); err == nil {
		t.Error("expected error for rules without a persona")
	}
	if r, err := LoadStyleRules(""); err != nil || r.Persona == "" {
		t.Errorf("empty path should give defaults, got %v", err)
	}
}
