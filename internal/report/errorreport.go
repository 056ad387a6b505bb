package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fumiama/go-docx"
)

// Failure is what went wrong in a report run.
type Failure struct {
	ChataID string
	JobID   string
	Stage   string
	Err     error
	Stack   []byte
	At      time.Time
}

// RenderErrorReport builds a .docx describing f.
func RenderErrorReport(f Failure) ([]byte, error) {
	d := docx.New()
	d.AddParagraph().AddText("CHATA report generation failed").Bold().Size("32")

	field := func(name, value string) {
		if value == "" {
			return
		}
		p := d.AddParagraph()
		p.AddText(name + ": ").Bold()
		p.AddText(value)
	}
	field("CHATA-ID", f.ChataID)
	field("Job", f.JobID)
	field("Stage", f.Stage)
	field("Time", f.At.UTC().Format(time.RFC3339))
	if f.Err != nil {
		field("Error", f.Err.Error())
	}

	if len(f.Stack) > 0 {
		d.AddParagraph().AddText("Stack trace").Bold()
		for _, line := range strings.Split(strings.TrimRight(string(f.Stack), "\n"), "\n") {
			d.AddParagraph().AddText(strings.ReplaceAll(line, "\t", "    ")).Font("Consolas", "Consolas", "Consolas", "").Size("18")
		}
	}

	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render error report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteErrorReport renders f into dir as <chataID>_error_<timestamp>.docx and
// returns the path.
func WriteErrorReport(dir string, f Failure) (string, error) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	b, err := RenderErrorReport(f)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}
	id := f.ChataID
	if id == "" {
		id = "unknown"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_error_%s.docx", id, f.At.UTC().Format("20060102T150405Z")))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write error report: %w", err)
	}
	return path, nil
}
