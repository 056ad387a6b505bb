package report

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fumiama/go-docx"
	"github.com/google/go-cmp/cmp"
	ndocx "github.com/nguyenthenguyen/docx"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/generate"
)

// buildTemplate writes a template with one plain marker, one split across
// runs, one padded with spaces and one that nothing fills.
func buildTemplate(t *testing.T) []byte {
	t.Helper()
	d := docx.New()
	d.AddParagraph().AddText("Sensory summary")
	d.AddParagraph().AddText("{{C001}}")
	split := d.AddParagraph()
	split.AddText("Communication: {{C0")
	split.AddText("02}}").Bold()
	d.AddParagraph().AddText("{{ T001 }}")
	d.AddParagraph().AddText("{{Z999}}")

	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return buf.Bytes()
}

// visibleText returns the paragraphs of a document as text, with line breaks
// as \n.
func visibleText(t *testing.T, b []byte) []string {
	t.Helper()
	d, err := docx.Parse(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	var out []string
	for _, item := range d.Document.Body.Items {
		p, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		var sb strings.Builder
		for _, c := range p.Children {
			r, ok := c.(*docx.Run)
			if !ok {
				continue
			}
			for _, rc := range r.Children {
				switch v := rc.(type) {
				case *docx.Text:
					sb.WriteString(v.Text)
				case *docx.BarterRabbet:
					sb.WriteString("\n")
				}
			}
		}
		out = append(out, sb.String())
	}
	return out
}

func bodyXML(t *testing.T, b []byte) string {
	t.Helper()
	r, err := ndocx.ReadDocxFromMemory(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	defer r.Close()
	return r.Editable().GetContent()
}

var testEntries = []generate.Entry{
	{ID: "C001", Text: "**Sam** covers his ears during _loud_ transitions.\n\nHe settles with {{C001}} a weighted blanket."},
	{ID: "C002", Text: "Uses gestures & short phrases (often)."},
	{ID: "T001", Text: "## Next steps\n- Speech therapy\n- Sensory diet"},
	{ID: "X001", Text: "No marker for this one."},
}

func TestFill(t *testing.T) {
	out, res, err := Fill(buildTemplate(t), testEntries, nil)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}

	want := &Result{
		Filled:   []string{"C001", "C002", "T001"},
		Unfilled: []string{"Z999"},
		Unused:   []string{"X001"},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	got := visibleText(t, out)
	wantText := []string{
		"Sensory summary",
		"Sam covers his ears during loud transitions.\nHe settles with C001 a weighted blanket.",
		"Communication: Uses gestures & short phrases (often).",
		"Next steps\nSpeech therapy\nSensory diet",
		"{{Z999}}",
	}
	if diff := cmp.Diff(wantText, got); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}

	if ids := markerIDs(bodyXML(t, out)); !cmp.Equal(ids, []string{"Z999"}) {
		t.Errorf("expected only Z999 to remain, got %v", ids)
	}
}

func TestFill_Idempotent(t *testing.T) {
	once, _, err := Fill(buildTemplate(t), testEntries, nil)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	twice, res, err := Fill(once, testEntries, nil)
	if err != nil {
		t.Fatalf("refill: %v", err)
	}
	if bodyXML(t, once) != bodyXML(t, twice) {
		t.Error("second population changed the document body")
	}
	if len(res.Filled) != 0 {
		t.Errorf("nothing should be filled twice, got %v", res.Filled)
	}
}

func TestNormalizeMarkers(t *testing.T) {
	in := `<w:p><w:r><w:t>A {{C0</w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">01 }} B</w:t></w:r><w:r><w:instrText>{{NOT}}</w:instrText></w:r></w:p>`
	want := `<w:p><w:r><w:t>A {{C001}}</w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve"> B</w:t></w:r><w:r><w:instrText>{{NOT}}</w:instrText></w:r></w:p>`
	if got := normalizeMarkers(in); got != want {
		t.Errorf("normalize:\n got %s\nwant %s", got, want)
	}
	clean := `<w:t>{{C001}}</w:t>`
	if got := normalizeMarkers(clean); got != clean {
		t.Errorf("clean marker changed: %s", got)
	}
}

func TestReplaceInText(t *testing.T) {
	in := `<w:p><w:r><w:fldChar w:fldCharType="begin"/></w:r>` +
		`<w:r><w:instrText xml:space="preserve"> MERGEFIELD {{C001}} </w:instrText></w:r>` +
		`<w:r><w:t>{{C001}}</w:t></w:r>` +
		`<w:bookmarkStart w:name="{{C001}}"/>` +
		`<w:r><w:t>and again {{C001}}.</w:t></w:r></w:p>`
	want := `<w:p><w:r><w:fldChar w:fldCharType="begin"/></w:r>` +
		`<w:r><w:instrText xml:space="preserve"> MERGEFIELD {{C001}} </w:instrText></w:r>` +
		`<w:r><w:t>X` + runBreak + `Y</w:t></w:r>` +
		`<w:bookmarkStart w:name="{{C001}}"/>` +
		`<w:r><w:t>and again X` + runBreak + `Y.</w:t></w:r></w:p>`
	run, err := runText("X\nY")
	if err != nil {
		t.Fatal(err)
	}
	got := replaceInText(in, "{{C001}}", run)
	if got != want {
		t.Errorf("replace:\n got %s\nwant %s", got, want)
	}
	if err := xml.Unmarshal([]byte(got), new(struct{})); err != nil {
		t.Errorf("result is not well-formed XML: %v", err)
	}
	if same := replaceInText(in, "{{C999}}", run); same != in {
		t.Errorf("absent marker changed the document: %s", same)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"# Heading\n\nBody with *emphasis* and `code`.", "Heading\nBody with emphasis and code."},
		{"1. first\n2. second", "first\nsecond"},
		{"see [the guide](http://example.com)", "see the guide"},
		{"soft\nwrapped line", "soft wrapped line"},
		{"{{C001}} stray braces }}", "C001 stray braces"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.Set(x, 10, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipFiles(t *testing.T, b []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	files := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		files[f.Name] = string(data)
	}
	return files
}

func TestFill_AppendsImages(t *testing.T) {
	images := []assessment.Image{
		{Name: "profile.png", Caption: "Sensory profile", Data: testPNG(t)},
		{Name: "broken.png", Caption: "Timeline", Data: []byte("not an image")},
	}
	out, res, err := Fill(buildTemplate(t), testEntries, images)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if !cmp.Equal(res.Skipped, []string{"broken.png"}) {
		t.Errorf("expected broken.png to be skipped, got %v", res.Skipped)
	}

	files := zipFiles(t, out)
	if _, ok := files["word/media/chata_image1.png"]; !ok {
		t.Errorf("image not added to media: %v", mapKeys(files))
	}
	if !strings.Contains(files["word/_rels/document.xml.rels"], `Id="rIdChata`) {
		t.Error("image relationship missing")
	}
	if !strings.Contains(strings.ToLower(files["[Content_Types].xml"]), `extension="png"`) {
		t.Error("png content type missing")
	}
	doc := files["word/document.xml"]
	if !strings.Contains(doc, `"rIdChata`) {
		t.Error("drawing does not reference the renamed relationship")
	}
	if i, j := strings.Index(doc, "Sensory profile"), strings.LastIndex(doc, "<w:sectPr"); i < 0 || (j >= 0 && i > j) {
		t.Error("caption should be in the body before the section properties")
	}

	text := strings.Join(visibleText(t, out), "\n")
	for _, want := range []string{"Assessment Images", "Sensory profile", "[Timeline could not be embedded]"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func mapKeys(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestPopulator_WritesReport(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "template.docx")
	if err := os.WriteFile(tmpl, buildTemplate(t), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPopulator(tmpl, filepath.Join(dir, "out"), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2026, 9, 14, 10, 30, 0, 0, time.UTC) }

	res, err := p.Populate("JDX-SLX-042", testEntries, nil)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	want := filepath.Join(dir, "out", "JDX-SLX-042_20260914T103000Z.docx")
	if res.Path != want {
		t.Errorf("expected %s, got %s", want, res.Path)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("report not written: %v", err)
	}

	p.templatePath = filepath.Join(dir, "missing.docx")
	if _, err := p.Populate("JDX-SLX-042", testEntries, nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestWriteErrorReport(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteErrorReport(dir, Failure{
		ChataID: "JDX-SLX-042",
		Stage:   "generate",
		Err:     errors.New("batch 2: invalid batch response: missing ids: C007"),
		Stack:   []byte("goroutine 1 [running]:\nmain.main()\n\t/src/main.go:10"),
		At:      time.Date(2026, 9, 14, 10, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "JDX-SLX-042_error_20260914T103000Z.docx" {
		t.Errorf("unexpected name %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Join(visibleText(t, b), "\n")
	for _, want := range []string{"CHATA report generation failed", "Stage: generate", "missing ids: C007", "main.go:10"} {
		if !strings.Contains(text, want) {
			t.Errorf("error report missing %q", want)
		}
	}
}
