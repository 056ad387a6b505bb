package sheets

import (
	"strconv"
	"time"
	"unicode/utf8"
)

// LogEntry is one API_Logs row.
type LogEntry struct {
	Time      time.Time     `json:"time"`
	ChataID   string        `json:"chata_id"`
	Operation string        `json:"operation"`
	Batch     int           `json:"batch,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message,omitempty"`
}

// AppendLog writes one row to API_Logs. A zero Time uses the current time.
func (w *Workbook) AppendLog(e LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, err := w.readLocked(SheetLogs, LogHeaders)
	if err != nil {
		return err
	}
	ts := w.timestamp()
	if !e.Time.IsZero() {
		ts = e.Time.UTC().Format(time.RFC3339)
	}
	err = w.writeRowLocked(t, t.nextRow(), map[string]any{
		colTimestamp:    ts,
		colChataID:      e.ChataID,
		"Operation":     e.Operation,
		"Batch":         e.Batch,
		"Attempt":       e.Attempt,
		colStatus:       e.Status,
		"Duration (ms)": e.Duration.Milliseconds(),
		"Message":       truncateCell(e.Message),
	})
	if err != nil {
		return err
	}
	return w.saveLocked()
}

// Logs returns the API_Logs rows for chataID in the order they were written.
func (w *Workbook) Logs(chataID string) ([]LogEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, err := w.readLocked(SheetLogs, LogHeaders)
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	t.data(func(_ int, row []string) bool {
		if t.get(row, colChataID) != chataID {
			return true
		}
		e := LogEntry{
			ChataID:   chataID,
			Operation: t.get(row, "Operation"),
			Status:    t.get(row, colStatus),
			Message:   t.get(row, "Message"),
		}
		e.Time, _ = time.Parse(time.RFC3339, t.get(row, colTimestamp))
		e.Batch, _ = strconv.Atoi(t.get(row, "Batch"))
		e.Attempt, _ = strconv.Atoi(t.get(row, "Attempt"))
		if ms, err := strconv.ParseInt(t.get(row, "Duration (ms)"), 10, 64); err == nil {
			e.Duration = time.Duration(ms) * time.Millisecond
		}
		out = append(out, e)
		return true
	})
	return out, nil
}

// maxCellChars is the .xlsx limit on characters in one cell.
const maxCellChars = 32767

func truncateCell(s string) string {
	if utf8.RuneCountInString(s) <= maxCellChars {
		return s
	}
	return string([]rune(s)[:maxCellChars-3]) + "..."
}
