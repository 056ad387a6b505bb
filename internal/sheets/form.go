package sheets

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgallion1/chatareport/internal/assessment"
)

// RowStatus tracks report generation for a submitted row.
type RowStatus string

const (
	StatusPending    RowStatus = "pending"
	StatusProcessing RowStatus = "processing"
	StatusComplete   RowStatus = "complete"
	StatusError      RowStatus = "error"
)

// FormRow is one submitted assessment as stored in R3_Form.
type FormRow struct {
	Row        int
	Timestamp  time.Time
	Record     *assessment.Record
	Status     RowStatus
	ReportPath string
}

// AppendAssessment stores a submitted record and its image chunks. A record
// that was submitted before is overwritten in place and its old images are
// replaced, unless a report is being generated for it.
func (w *Workbook) AppendAssessment(rec *assessment.Record, images []assessment.ImageChunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	form, err := w.readLocked(SheetForm, FormHeaders)
	if err != nil {
		return err
	}
	imgs, err := w.readLocked(SheetImages, ImageHeaders)
	if err != nil {
		return err
	}

	n := form.nextRow()
	if existing, ok := findRow(form, rec.ChataID); ok {
		if RowStatus(form.get(form.rows[existing-1], colStatus)) == StatusProcessing {
			return fmt.Errorf("%s: %w", rec.ChataID, ErrBusy)
		}
		n = existing
	}

	values, err := recordValues(rec)
	if err != nil {
		return err
	}
	// Check everything before the first write so a refused submission
	// leaves the previous row and images intact.
	if err := checkCells(SheetForm, values); err != nil {
		return err
	}
	for _, c := range images {
		if len(c.Data) > assessment.ImageChunkSize {
			return fmt.Errorf("%w: %s chunk %d has %d characters (max %d)", ErrCellTooLong, c.Name, c.Index, len(c.Data), assessment.ImageChunkSize)
		}
		if err := checkCells(SheetImages, map[string]any{"Image Name": c.Name, "Caption": c.Caption}); err != nil {
			return err
		}
	}
	values[colTimestamp] = w.timestamp()
	values[colStatus] = string(StatusPending)
	values[colReportPath] = ""
	if err := w.writeRowLocked(form, n, values); err != nil {
		return err
	}

	if err := w.removeImagesLocked(imgs, rec.ChataID); err != nil {
		return err
	}
	// Re-read: row numbers moved if old chunks were removed.
	imgs, err = w.readLocked(SheetImages, ImageHeaders)
	if err != nil {
		return err
	}
	next := imgs.nextRow()
	for _, c := range images {
		err := w.writeRowLocked(imgs, next, map[string]any{
			colChataID:    rec.ChataID,
			"Image Name":  c.Name,
			"Caption":     c.Caption,
			"Chunk Index": c.Index,
			"Chunk Count": c.Count,
			"Data":        c.Data,
		})
		if err != nil {
			return err
		}
		next++
	}
	return w.saveLocked()
}

// FindAssessment returns the stored row for chataID, with images reassembled.
func (w *Workbook) FindAssessment(chataID string) (*FormRow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	form, err := w.readLocked(SheetForm, FormHeaders)
	if err != nil {
		return nil, err
	}
	n, ok := findRow(form, chataID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, chataID)
	}
	row := form.rows[n-1]
	rec, err := recordFromRow(form, row)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", n, err)
	}

	imgs, err := w.readLocked(SheetImages, ImageHeaders)
	if err != nil {
		return nil, err
	}
	chunks, err := imageChunks(imgs, chataID)
	if err != nil {
		return nil, err
	}
	if rec.Images, err = assessment.AssembleImages(chunks); err != nil {
		return nil, err
	}

	fr := &FormRow{
		Row:        n,
		Record:     rec,
		Status:     RowStatus(form.get(row, colStatus)),
		ReportPath: form.get(row, colReportPath),
	}
	if ts := form.get(row, colTimestamp); ts != "" {
		fr.Timestamp, _ = time.Parse(time.RFC3339, ts)
	}
	return fr, nil
}

// Pending returns the CHATA-IDs of rows waiting for a report, in sheet order.
// Rows with an empty status are treated as pending.
func (w *Workbook) Pending() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	form, err := w.readLocked(SheetForm, FormHeaders)
	if err != nil {
		return nil, err
	}
	var ids []string
	form.data(func(_ int, row []string) bool {
		id := form.get(row, colChataID)
		st := RowStatus(form.get(row, colStatus))
		if id != "" && (st == StatusPending || st == "") {
			ids = append(ids, id)
		}
		return true
	})
	return ids, nil
}

// SetStatus updates the status of chataID's row. reportPath is written when
// non-empty.
func (w *Workbook) SetStatus(chataID string, status RowStatus, reportPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	form, err := w.readLocked(SheetForm, FormHeaders)
	if err != nil {
		return err
	}
	n, ok := findRow(form, chataID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, chataID)
	}
	if err := w.setCellLocked(form, n, colStatus, string(status)); err != nil {
		return err
	}
	if reportPath != "" {
		if err := w.setCellLocked(form, n, colReportPath, reportPath); err != nil {
			return err
		}
	}
	return w.saveLocked()
}

// ResetProcessing returns rows left in processing, by a run that never
// finished, to pending. It is meant for startup, before any worker runs.
func (w *Workbook) ResetProcessing() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	form, err := w.readLocked(SheetForm, FormHeaders)
	if err != nil {
		return nil, err
	}
	var ids []string
	var werr error
	form.data(func(n int, row []string) bool {
		if RowStatus(form.get(row, colStatus)) != StatusProcessing {
			return true
		}
		if werr = w.setCellLocked(form, n, colStatus, string(StatusPending)); werr != nil {
			return false
		}
		ids = append(ids, form.get(row, colChataID))
		return true
	})
	if werr != nil {
		return nil, werr
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, w.saveLocked()
}

func findRow(t *table, chataID string) (int, bool) {
	found := 0
	t.data(func(n int, row []string) bool {
		if t.get(row, colChataID) == chataID {
			found = n
			return false
		}
		return true
	})
	return found, found > 0
}

func (w *Workbook) removeImagesLocked(t *table, chataID string) error {
	var rows []int
	t.data(func(n int, row []string) bool {
		if t.get(row, colChataID) == chataID {
			rows = append(rows, n)
		}
		return true
	})
	sort.Sort(sort.Reverse(sort.IntSlice(rows)))
	for _, n := range rows {
		if err := w.f.RemoveRow(t.sheet, n); err != nil {
			return fmt.Errorf("remove %s row %d: %w", t.sheet, n, err)
		}
	}
	return nil
}

func imageChunks(t *table, chataID string) ([]assessment.ImageChunk, error) {
	var out []assessment.ImageChunk
	var bad error
	t.data(func(n int, row []string) bool {
		if t.get(row, colChataID) != chataID {
			return true
		}
		idx, err1 := strconv.Atoi(t.get(row, "Chunk Index"))
		count, err2 := strconv.Atoi(t.get(row, "Chunk Count"))
		if err1 != nil || err2 != nil {
			bad = fmt.Errorf("%s row %d: bad chunk numbering", t.sheet, n)
			return false
		}
		out = append(out, assessment.ImageChunk{
			Name:    t.get(row, "Image Name"),
			Caption: t.get(row, "Caption"),
			Index:   idx,
			Count:   count,
			Data:    t.get(row, "Data"),
		})
		return true
	})
	return out, bad
}

type domainCols struct {
	score, obs string
	field      func(*assessment.Record) *assessment.Domain
}

var domainColumns = []domainCols{
	{"Sensory Score", "Sensory Observations", func(r *assessment.Record) *assessment.Domain { return &r.Sensory }},
	{"Social Communication Score", "Social Communication Observations", func(r *assessment.Record) *assessment.Domain { return &r.SocialCommunication }},
	{"Restricted Patterns Score", "Restricted Patterns Observations", func(r *assessment.Record) *assessment.Domain { return &r.RestrictedPatterns }},
	{"Executive Function Score", "Executive Function Observations", func(r *assessment.Record) *assessment.Domain { return &r.ExecutiveFunction }},
}

func recordValues(r *assessment.Record) (map[string]any, error) {
	milestones, err := json.Marshal(r.Milestones)
	if err != nil {
		return nil, fmt.Errorf("encode milestones: %w", err)
	}
	v := map[string]any{
		colChataID:              r.ChataID,
		"Clinician Name":        r.ClinicianName,
		"Clinician Email":       r.ClinicianEmail,
		"Child First Name":      r.ChildFirstName,
		"Child Last Name":       r.ChildLastName,
		"Child Age":             r.ChildAge,
		"Assessment Date":       r.AssessmentDate,
		"Clinical Observations": r.ClinicalObservations,
		"Strengths":             r.Strengths,
		"Priority Areas":        r.PriorityAreas,
		"Recommendations":       r.Recommendations,
		"Referral Notes":        r.ReferralNotes,
		"Milestones":            string(milestones),
	}
	for _, d := range domainColumns {
		dom := d.field(r)
		v[d.score] = dom.Score
		v[d.obs] = dom.Observations
	}
	return v, nil
}

func recordFromRow(t *table, row []string) (*assessment.Record, error) {
	r := &assessment.Record{
		ChataID:              t.get(row, colChataID),
		ClinicianName:        t.get(row, "Clinician Name"),
		ClinicianEmail:       t.get(row, "Clinician Email"),
		ChildFirstName:       t.get(row, "Child First Name"),
		ChildLastName:        t.get(row, "Child Last Name"),
		ChildAge:             t.get(row, "Child Age"),
		AssessmentDate:       t.get(row, "Assessment Date"),
		ClinicalObservations: t.get(row, "Clinical Observations"),
		Strengths:            t.get(row, "Strengths"),
		PriorityAreas:        t.get(row, "Priority Areas"),
		Recommendations:      t.get(row, "Recommendations"),
		ReferralNotes:        t.get(row, "Referral Notes"),
		Status:               assessment.StatusSubmitted,
	}
	for _, d := range domainColumns {
		dom := d.field(r)
		if s := t.get(row, d.score); s != "" {
			score, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a number", d.score, s)
			}
			dom.Score = score
		}
		dom.Observations = t.get(row, d.obs)
	}
	if m := t.get(row, "Milestones"); m != "" {
		if err := json.Unmarshal([]byte(m), &r.Milestones); err != nil {
			return nil, fmt.Errorf("decode milestones: %w", err)
		}
	}
	return r, nil
}
