package assessment

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// MinObservationWords is the minimum length of each free-text observation
// the report prompt depends on.
const MinObservationWords = 5

// MaxTextChars caps every free-text field so a record fits the workbook's
// cell limit with room to spare.
const MaxTextChars = 20000

// MaxMilestones caps the milestone list, which is stored as JSON in one cell.
const MaxMilestones = 100

// FieldError describes one failed field check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every failed check for a record.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid assessment: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate applies the submission gate: required fields present, scores in
// range, observations long enough. It returns a *ValidationError listing all
// problems, or nil.
func Validate(r *Record) error {
	if r == nil {
		return &ValidationError{Fields: []FieldError{{Field: "record", Message: "is missing"}}}
	}
	v := &ValidationError{}

	if !ValidChataID(r.ChataID) {
		v.add("chata_id", "must match XXX-XXX-NNN")
	}

	required := []struct {
		field string
		value string
	}{
		{"clinician_name", r.ClinicianName},
		{"clinician_email", r.ClinicianEmail},
		{"child_first_name", r.ChildFirstName},
		{"child_last_name", r.ChildLastName},
		{"child_age", r.ChildAge},
		{"assessment_date", r.AssessmentDate},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			v.add(f.field, "is required")
		}
	}

	if e := strings.TrimSpace(r.ClinicianEmail); e != "" {
		// Reports are mailed to this value as is, so display names and
		// angle brackets are refused.
		if addr, err := mail.ParseAddress(e); err != nil || addr.Address != r.ClinicianEmail {
			v.add("clinician_email", "is not a valid address")
		}
	}
	if d := strings.TrimSpace(r.AssessmentDate); d != "" {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			v.add("assessment_date", "must be YYYY-MM-DD")
		}
	}

	domains := []struct {
		field string
		d     Domain
	}{
		{"sensory", r.Sensory},
		{"social_communication", r.SocialCommunication},
		{"restricted_patterns", r.RestrictedPatterns},
		{"executive_function", r.ExecutiveFunction},
	}
	for _, d := range domains {
		if d.d.Score < 1 || d.d.Score > 5 {
			v.add(d.field+".score", "must be between 1 and 5")
		}
		if n := WordCount(d.d.Observations); n < MinObservationWords {
			v.add(d.field+".observations", "needs at least %d words (has %d)", MinObservationWords, n)
		}
	}

	if n := WordCount(r.ClinicalObservations); n < MinObservationWords {
		v.add("clinical_observations", "needs at least %d words (has %d)", MinObservationWords, n)
	}

	texts := []struct {
		field string
		value string
	}{
		{"clinician_name", r.ClinicianName},
		{"child_first_name", r.ChildFirstName},
		{"child_last_name", r.ChildLastName},
		{"sensory.observations", r.Sensory.Observations},
		{"social_communication.observations", r.SocialCommunication.Observations},
		{"restricted_patterns.observations", r.RestrictedPatterns.Observations},
		{"executive_function.observations", r.ExecutiveFunction.Observations},
		{"clinical_observations", r.ClinicalObservations},
		{"strengths", r.Strengths},
		{"priority_areas", r.PriorityAreas},
		{"recommendations", r.Recommendations},
		{"referral_notes", r.ReferralNotes},
	}
	for _, f := range texts {
		if n := utf8.RuneCountInString(f.value); n > MaxTextChars {
			v.add(f.field, "is longer than %d characters (has %d)", MaxTextChars, n)
		}
	}

	if len(r.Milestones) > MaxMilestones {
		v.add("milestones", "has more than %d entries", MaxMilestones)
	}
	for i, m := range r.Milestones {
		if strings.TrimSpace(m.Name) == "" {
			v.add(fmt.Sprintf("milestones[%d].name", i), "is required")
		}
		if utf8.RuneCountInString(m.Name) > 200 || utf8.RuneCountInString(m.Category) > 100 {
			v.add(fmt.Sprintf("milestones[%d]", i), "name or category is too long")
		}
		if m.AgeMonths < 0 {
			v.add(fmt.Sprintf("milestones[%d].age_months", i), "must not be negative")
		}
	}

	for i, img := range r.Images {
		if len(img.Data) == 0 {
			v.add(fmt.Sprintf("images[%d]", i), "has no data")
		}
	}

	if len(v.Fields) > 0 {
		return v
	}
	return nil
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
