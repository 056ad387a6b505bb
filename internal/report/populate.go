// Package report fills the .docx template with generated sections and writes
// the finished report and error reports.
package report

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ndocx "github.com/nguyenthenguyen/docx"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/generate"
	"github.com/dgallion1/chatareport/internal/placeholder"
)

// Result describes what a population pass did.
type Result struct {
	Path     string   `json:"path,omitempty"`
	Filled   []string `json:"filled"`
	Unfilled []string `json:"unfilled,omitempty"` // markers left in the template
	Unused   []string `json:"unused,omitempty"`   // generated IDs with no body marker
	Skipped  []string `json:"skipped_images,omitempty"`
}

// Populator writes reports from one template.
type Populator struct {
	templatePath string
	outputDir    string
	log          *slog.Logger
	now          func() time.Time
}

func NewPopulator(templatePath, outputDir string, log *slog.Logger) *Populator {
	return &Populator{
		templatePath: templatePath,
		outputDir:    outputDir,
		log:          log,
		now:          time.Now,
	}
}

// Populate copies the template to OUTPUT_DIR/<chataID>_<timestamp>.docx with
// every marker replaced by its entry and images appended at the end.
func (p *Populator) Populate(chataID string, entries []generate.Entry, images []assessment.Image) (*Result, error) {
	tmpl, err := os.ReadFile(p.templatePath)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	out, res, err := Fill(tmpl, entries, images)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.docx", chataID, p.now().UTC().Format("20060102T150405Z"))
	res.Path = filepath.Join(p.outputDir, name)
	if err := os.WriteFile(res.Path, out, 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	log := p.log.With("chata_id", chataID, "path", res.Path)
	if len(res.Unfilled) > 0 {
		log.Warn("template markers without content", "ids", res.Unfilled)
	}
	if len(res.Unused) > 0 {
		log.Warn("generated content without a template marker", "ids", res.Unused)
	}
	if len(res.Skipped) > 0 {
		log.Warn("images could not be embedded", "names", res.Skipped)
	}
	log.Info("report written", "filled", len(res.Filled), "images", len(images))
	return res, nil
}

// Fill populates a template held in memory and returns the new document.
func Fill(template []byte, entries []generate.Entry, images []assessment.Image) ([]byte, *Result, error) {
	rd, err := ndocx.ReadDocxFromMemory(bytes.NewReader(template), int64(len(template)))
	if err != nil {
		return nil, nil, fmt.Errorf("open template: %w", err)
	}
	defer rd.Close()
	doc := rd.Editable()

	body := normalizeMarkers(doc.GetContent())
	present := make(map[string]bool)
	for _, id := range markerIDs(body) {
		present[id] = true
	}

	res := &Result{}
	filled := make(map[string]bool, len(entries))
	for _, e := range entries {
		marker := placeholder.Marker(e.ID)
		text := CleanText(e.Text)

		inBody := present[e.ID]
		if inBody {
			run, err := runText(text)
			if err != nil {
				return nil, nil, fmt.Errorf("encode %s: %w", e.ID, err)
			}
			body = replaceInText(body, marker, run)
		}
		// Header and footer markers take a single line.
		flat := strings.Join(strings.Fields(text), " ")
		if err := doc.ReplaceHeader(marker, flat); err != nil {
			return nil, nil, fmt.Errorf("header %s: %w", e.ID, err)
		}
		if err := doc.ReplaceFooter(marker, flat); err != nil {
			return nil, nil, fmt.Errorf("footer %s: %w", e.ID, err)
		}

		if inBody {
			res.Filled = append(res.Filled, e.ID)
		} else {
			res.Unused = append(res.Unused, e.ID)
		}
		filled[e.ID] = true
	}
	for _, id := range markerIDs(body) {
		if !filled[id] {
			res.Unfilled = append(res.Unfilled, id)
		}
	}
	doc.SetContent(body)

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return nil, nil, fmt.Errorf("write document: %w", err)
	}
	if len(images) == 0 {
		return buf.Bytes(), res, nil
	}
	out, skipped, err := appendImages(buf.Bytes(), images)
	if err != nil {
		return nil, nil, err
	}
	res.Skipped = skipped
	return out, res, nil
}

const (
	runBreak = `</w:t><w:br/><w:t xml:space="preserve">`
	runTab   = `</w:t><w:tab/><w:t xml:space="preserve">`
)

// runText escapes s for use inside a <w:t> element. Line breaks and tabs
// close the text element and reopen it after a <w:br/> or <w:tab/>.
func runText(s string) (string, error) {
	var buf bytes.Buffer
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i > 0 {
			buf.WriteString(runBreak)
		}
		for j, part := range strings.Split(line, "\t") {
			if j > 0 {
				buf.WriteString(runTab)
			}
			if err := xml.EscapeText(&buf, []byte(part)); err != nil {
				return "", err
			}
		}
	}
	return buf.String(), nil
}
