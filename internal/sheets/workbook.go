// Package sheets stores submitted assessments, image chunks, the placeholder
// map and the operation log in an .xlsx workbook. Columns are found by their
// header text, so sheets can be reordered or widened by hand.
package sheets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	SheetForm         = "R3_Form"
	SheetImages       = "R3_Images"
	SheetPlaceholders = "Placeholders_Map"
	SheetLogs         = "API_Logs"
)

var (
	ErrMissingSheet  = errors.New("missing sheet")
	ErrMissingColumn = errors.New("missing column")
	ErrNotFound      = errors.New("assessment row not found")
	ErrBusy          = errors.New("assessment is being processed")
	ErrCellTooLong   = errors.New("value exceeds the cell limit")
)

var (
	FormHeaders = []string{
		colTimestamp, colChataID, "Clinician Name", "Clinician Email",
		"Child First Name", "Child Last Name", "Child Age", "Assessment Date",
		"Sensory Score", "Sensory Observations",
		"Social Communication Score", "Social Communication Observations",
		"Restricted Patterns Score", "Restricted Patterns Observations",
		"Executive Function Score", "Executive Function Observations",
		"Clinical Observations", "Strengths", "Priority Areas",
		"Recommendations", "Referral Notes", "Milestones",
		colStatus, colReportPath,
	}
	ImageHeaders       = []string{colChataID, "Image Name", "Caption", "Chunk Index", "Chunk Count", "Data"}
	PlaceholderHeaders = []string{"Placeholder ID", "Instructions", "Word Count", "Category"}
	LogHeaders         = []string{colTimestamp, colChataID, "Operation", "Batch", "Attempt", colStatus, "Duration (ms)", "Message"}
)

const (
	colTimestamp  = "Timestamp"
	colChataID    = "CHATA_ID"
	colStatus     = "Status"
	colReportPath = "Report Path"
)

var layout = []struct {
	sheet   string
	headers []string
}{
	{SheetForm, FormHeaders},
	{SheetImages, ImageHeaders},
	{SheetPlaceholders, PlaceholderHeaders},
	{SheetLogs, LogHeaders},
}

// Workbook is a mutex-guarded .xlsx file. Every mutating call saves the file
// before it returns.
type Workbook struct {
	mu   sync.Mutex
	path string
	f    *excelize.File
	now  func() time.Time
}

// Open opens an existing workbook.
func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Workbook{path: path, f: f, now: time.Now}, nil
}

// Create writes a new workbook at path with every sheet and its header row.
func Create(path string) (*Workbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create workbook dir: %w", err)
	}
	w := &Workbook{path: path, f: excelize.NewFile(), now: time.Now}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureSheetsLocked(); err != nil {
		w.f.Close()
		return nil, err
	}
	if idx, _ := w.f.GetSheetIndex("Sheet1"); idx >= 0 {
		if err := w.f.DeleteSheet("Sheet1"); err != nil {
			w.f.Close()
			return nil, fmt.Errorf("drop default sheet: %w", err)
		}
	}
	if err := w.saveLocked(); err != nil {
		w.f.Close()
		return nil, err
	}
	return w, nil
}

// OpenOrCreate opens path, creating a fresh workbook if it does not exist.
func OpenOrCreate(path string) (*Workbook, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Create(path)
	}
	return Open(path)
}

// Close releases the underlying file.
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Path returns the workbook location.
func (w *Workbook) Path() string { return w.path }

// Check verifies that every sheet and column the service relies on exists.
func (w *Workbook) Check() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, l := range layout {
		if _, err := w.readLocked(l.sheet, l.headers); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSheets adds any sheet that is missing, with its header row. Existing
// sheets are left alone.
func (w *Workbook) EnsureSheets() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureSheetsLocked(); err != nil {
		return err
	}
	return w.saveLocked()
}

func (w *Workbook) ensureSheetsLocked() error {
	for _, l := range layout {
		idx, err := w.f.GetSheetIndex(l.sheet)
		if err != nil {
			return fmt.Errorf("look up sheet %s: %w", l.sheet, err)
		}
		if idx >= 0 {
			continue
		}
		if _, err := w.f.NewSheet(l.sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", l.sheet, err)
		}
		row := make([]any, len(l.headers))
		for i, h := range l.headers {
			row[i] = h
		}
		if err := w.f.SetSheetRow(l.sheet, "A1", &row); err != nil {
			return fmt.Errorf("write %s headers: %w", l.sheet, err)
		}
	}
	return nil
}

func (w *Workbook) saveLocked() error {
	if err := w.f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// table is a snapshot of one sheet with its header index.
type table struct {
	sheet string
	rows  [][]string
	cols  map[string]int
}

func (w *Workbook) readLocked(sheet string, required []string) (*table, error) {
	idx, err := w.f.GetSheetIndex(sheet)
	if err != nil {
		return nil, fmt.Errorf("look up sheet %s: %w", sheet, err)
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingSheet, sheet)
	}
	rows, err := w.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	t := &table{sheet: sheet, rows: rows, cols: make(map[string]int)}
	if len(rows) > 0 {
		for i, h := range rows[0] {
			h = strings.TrimSpace(h)
			if _, dup := t.cols[h]; h != "" && !dup {
				t.cols[h] = i
			}
		}
	}
	for _, h := range required {
		if _, ok := t.cols[h]; !ok {
			return nil, fmt.Errorf("%w: %s!%s", ErrMissingColumn, sheet, h)
		}
	}
	return t, nil
}

// get returns the trimmed cell under header col for a data row.
func (t *table) get(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// data returns the rows below the header with their 1-based sheet numbers.
func (t *table) data(fn func(n int, row []string) bool) {
	for i := 1; i < len(t.rows); i++ {
		if !fn(i+1, t.rows[i]) {
			return
		}
	}
}

// width is the number of columns a full row needs.
func (t *table) width() int {
	w := 0
	for _, i := range t.cols {
		w = max(w, i+1)
	}
	return w
}

// nextRow is the sheet row number after the last non-empty row.
func (t *table) nextRow() int {
	return max(len(t.rows), 1) + 1
}

// checkCells fails for any string value excelize would silently cut.
func checkCells(sheet string, values map[string]any) error {
	for col, v := range values {
		if s, ok := v.(string); ok {
			if n := utf8.RuneCountInString(s); n > excelize.TotalCellChars {
				return fmt.Errorf("%w: %s!%s has %d characters (max %d)", ErrCellTooLong, sheet, col, n, excelize.TotalCellChars)
			}
		}
	}
	return nil
}

func (w *Workbook) writeRowLocked(t *table, n int, values map[string]any) error {
	if err := checkCells(t.sheet, values); err != nil {
		return err
	}
	row := make([]any, t.width())
	for col, v := range values {
		i, ok := t.cols[col]
		if !ok {
			return fmt.Errorf("%w: %s!%s", ErrMissingColumn, t.sheet, col)
		}
		row[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(t.sheet, cell, &row); err != nil {
		return fmt.Errorf("write %s row %d: %w", t.sheet, n, err)
	}
	return nil
}

func (w *Workbook) setCellLocked(t *table, n int, col string, v any) error {
	i, ok := t.cols[col]
	if !ok {
		return fmt.Errorf("%w: %s!%s", ErrMissingColumn, t.sheet, col)
	}
	if err := checkCells(t.sheet, map[string]any{col: v}); err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(i+1, n)
	if err != nil {
		return err
	}
	if err := w.f.SetCellValue(t.sheet, cell, v); err != nil {
		return fmt.Errorf("write %s!%s: %w", t.sheet, cell, err)
	}
	return nil
}

func (w *Workbook) timestamp() string {
	return w.now().UTC().Format(time.RFC3339)
}
