// Package assessment holds the R3 assessment record, its validation rules,
// CHATA-ID generation and the local draft store.
package assessment

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a record in the draft store.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
)

// Domain is one scored area of the assessment.
type Domain struct {
	Score        int    `json:"score"`
	Observations string `json:"observations"`
}

// Milestone is a developmental milestone placed on the timeline.
type Milestone struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	AgeMonths int    `json:"age_months"`
	Status    string `json:"status"` // achieved, emerging, not_yet
}

// Image is a chart or timeline bitmap captured with the form.
type Image struct {
	Name    string `json:"name"`
	Caption string `json:"caption"`
	Data    []byte `json:"data"`
}

// Record is one child's structured assessment.
type Record struct {
	ChataID string `json:"chata_id"`

	ClinicianName  string `json:"clinician_name"`
	ClinicianEmail string `json:"clinician_email"`

	ChildFirstName string `json:"child_first_name"`
	ChildLastName  string `json:"child_last_name"`
	ChildAge       string `json:"child_age"`
	AssessmentDate string `json:"assessment_date"`

	Sensory             Domain `json:"sensory"`
	SocialCommunication Domain `json:"social_communication"`
	RestrictedPatterns  Domain `json:"restricted_patterns"`
	ExecutiveFunction   Domain `json:"executive_function"`

	ClinicalObservations string `json:"clinical_observations"`
	Strengths            string `json:"strengths"`
	PriorityAreas        string `json:"priority_areas"`
	Recommendations      string `json:"recommendations"`
	ReferralNotes        string `json:"referral_notes"`

	Milestones []Milestone `json:"milestones"`
	Images     []Image     `json:"images,omitempty"`

	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SubmittedAt time.Time `json:"submitted_at,omitzero"`
}

// NamedDomain pairs a domain with its display name.
type NamedDomain struct {
	Name string
	Domain
}

// Domains returns the four scored domains in report order.
func (r *Record) Domains() []NamedDomain {
	return []NamedDomain{
		{Name: "Sensory Processing", Domain: r.Sensory},
		{Name: "Social Communication", Domain: r.SocialCommunication},
		{Name: "Restricted and Repetitive Patterns", Domain: r.RestrictedPatterns},
		{Name: "Executive Function", Domain: r.ExecutiveFunction},
	}
}

// ChildName returns the child's full name.
func (r *Record) ChildName() string {
	return strings.TrimSpace(r.ChildFirstName + " " + r.ChildLastName)
}

// Clone returns a deep copy so subscribers and callers cannot mutate store state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Milestones != nil {
		c.Milestones = make([]Milestone, len(r.Milestones))
		copy(c.Milestones, r.Milestones)
	}
	if r.Images != nil {
		c.Images = make([]Image, len(r.Images))
		for i, img := range r.Images {
			c.Images[i] = img
			c.Images[i].Data = append([]byte(nil), img.Data...)
		}
	}
	return &c
}
