package generate

import (
	"fmt"
	"strings"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/chunker"
	"github.com/dgallion1/chatareport/internal/placeholder"
)

// Response delimiters.
const (
	EndMarker           = "##END##"
	BatchCompleteMarker = "##BATCHCOMPLETE##"
	TaskCompleteMarker  = "##TASKCOMPLETE##"
)

// OpenMarker returns the delimiter that starts the content for id.
func OpenMarker(id string) string {
	return "##" + id + "##"
}

// PromptInput is everything one batch request is built from.
type PromptInput struct {
	Record     *assessment.Record
	Batch      []placeholder.Placeholder
	BatchIndex int // zero-based
	BatchCount int
	Supporting []chunker.Section
}

// Final reports whether this is the last batch of the report.
func (in PromptInput) Final() bool {
	return in.BatchIndex == in.BatchCount-1
}

// BuildSystemPrompt renders the persona, writing rules and output protocol.
func BuildSystemPrompt(rules StyleRules) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(rules.Persona))
	sb.WriteString("\n\nWriting rules:\n")
	for _, r := range rules.General {
		fmt.Fprintf(&sb, "- %s\n", r)
	}
	if len(rules.Parent) > 0 {
		sb.WriteString("\nFor sections written for parents:\n")
		for _, r := range rules.Parent {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if len(rules.Clinical) > 0 {
		sb.WriteString("\nFor sections written for clinicians:\n")
		for _, r := range rules.Clinical {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if len(rules.Avoid) > 0 {
		fmt.Fprintf(&sb, "\nNever use these phrases: %s.\n", strings.Join(quoteAll(rules.Avoid), ", "))
	}
	sb.WriteString(`
Output format:
Write each requested section between its own markers, in the order requested:
##<ID>##
<section text>
##END##
Write every requested ID exactly once and no other IDs. Do not put anything
between sections. After the last section write ` + BatchCompleteMarker + ` on its own line.`)
	return sb.String()
}

// BuildBatchPrompt renders the user message for one batch.
func BuildBatchPrompt(in PromptInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Report sections batch %d of %d.\n\n", in.BatchIndex+1, in.BatchCount)

	sb.WriteString("--- Assessment data ---\n")
	writeRecord(&sb, in.Record)

	if len(in.Supporting) > 0 {
		sb.WriteString("\n--- Supporting documents ---\n")
		for _, s := range in.Supporting {
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", s.Title, s.Text)
		}
	}

	sb.WriteString("\n--- Sections to write ---\n")
	for _, p := range in.Batch {
		fmt.Fprintf(&sb, "%s (%s", p.ID, audience(p.Category))
		if p.WordCount > 0 {
			fmt.Fprintf(&sb, ", about %d words", p.WordCount)
		}
		fmt.Fprintf(&sb, "): %s\n", strings.TrimSpace(p.Instructions))
	}

	ids := placeholder.IDs(in.Batch)
	fmt.Fprintf(&sb, "\nWrite exactly these IDs: %s. End with %s.", strings.Join(ids, ", "), BatchCompleteMarker)
	if in.Final() {
		fmt.Fprintf(&sb, " This is the final batch: after %s write %s.", BatchCompleteMarker, TaskCompleteMarker)
	}
	sb.WriteString("\n")
	return sb.String()
}

func writeRecord(sb *strings.Builder, r *assessment.Record) {
	if r == nil {
		return
	}
	field := func(name, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(sb, "%s: %s\n", name, v)
		}
	}
	field("CHATA-ID", r.ChataID)
	field("Child", r.ChildName())
	field("Age", r.ChildAge)
	field("Assessment date", r.AssessmentDate)
	field("Clinician", r.ClinicianName)
	for _, d := range r.Domains() {
		fmt.Fprintf(sb, "%s score: %d/5\n", d.Name, d.Score)
		field(d.Name+" observations", d.Observations)
	}
	field("Clinical observations", r.ClinicalObservations)
	field("Strengths", r.Strengths)
	field("Priority areas", r.PriorityAreas)
	field("Recommendations", r.Recommendations)
	field("Referral notes", r.ReferralNotes)
	if len(r.Milestones) > 0 {
		sb.WriteString("Milestones:\n")
		for _, m := range r.Milestones {
			fmt.Fprintf(sb, "- %s (%s): %s at %d months\n", m.Name, m.Category, strings.ReplaceAll(m.Status, "_", " "), m.AgeMonths)
		}
	}
}

func audience(c placeholder.Category) string {
	if c == placeholder.CategoryParent {
		return "for parents"
	}
	return "for clinicians"
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
