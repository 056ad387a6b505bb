package report

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/chatareport/internal/assessment"
)

const relImage = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"

// appendix is the image section rendered by go-docx, lifted out of its
// package so it can be spliced into another document.
type appendix struct {
	body  string            // paragraphs, without sectPr
	rels  []relationship    // image relationships, renamed
	media map[string][]byte // zip path -> bytes, renamed
}

type relationship struct {
	XMLName xml.Name `xml:"Relationship"`
	ID      string   `xml:"Id,attr"`
	Type    string   `xml:"Type,attr"`
	Target  string   `xml:"Target,attr"`
}

type relationships struct {
	Relationship []relationship `xml:"Relationship"`
}

// appendImages adds a page with every image and its caption to the end of
// doc. Images go-docx cannot size are listed in skipped instead.
func appendImages(doc []byte, images []assessment.Image) (out []byte, skipped []string, err error) {
	app, skipped, err := renderAppendix(images)
	if err != nil {
		return nil, nil, err
	}
	out, err = splice(doc, app)
	if err != nil {
		return nil, nil, fmt.Errorf("append images: %w", err)
	}
	return out, skipped, nil
}

func renderAppendix(images []assessment.Image) (*appendix, []string, error) {
	d := docx.New()
	d.AddParagraph().AddPageBreaks()
	d.AddParagraph().AddText("Assessment Images").Bold().Size("28")

	var skipped []string
	for _, img := range images {
		caption := img.Caption
		if caption == "" {
			caption = img.Name
		}
		if _, err := d.AddParagraph().Justification("center").AddInlineDrawing(img.Data); err != nil {
			skipped = append(skipped, img.Name)
			d.AddParagraph().AddText(fmt.Sprintf("[%s could not be embedded]", caption)).Italic()
			continue
		}
		d.AddParagraph().Justification("center").AddText(caption).Italic()
	}

	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, nil, fmt.Errorf("render images: %w", err)
	}
	app, err := readAppendix(buf.Bytes())
	if err != nil {
		return nil, nil, err
	}
	return app, skipped, nil
}

var sectPr = regexp.MustCompile(`(?s)<w:sectPr[^>]*/>|<w:sectPr.*?</w:sectPr>`)

func readAppendix(data []byte) (*appendix, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read rendered images: %w", err)
	}
	app := &appendix{media: make(map[string][]byte)}
	var rels relationships
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			b, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			s := string(b)
			start := strings.Index(s, "<w:body>")
			end := strings.LastIndex(s, "</w:body>")
			if start < 0 || end < start {
				return nil, fmt.Errorf("rendered images: no body")
			}
			app.body = sectPr.ReplaceAllString(s[start+len("<w:body>"):end], "")
		case f.Name == "word/_rels/document.xml.rels":
			b, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			if err := xml.Unmarshal(b, &rels); err != nil {
				return nil, fmt.Errorf("rendered images: %w", err)
			}
		case strings.HasPrefix(f.Name, "word/media/"):
			b, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			app.media[f.Name] = b
		}
	}

	// Rename ids and files so they cannot collide with the template's.
	renamed := make(map[string][]byte, len(app.media))
	for _, r := range rels.Relationship {
		if r.Type != relImage {
			continue
		}
		id := "rIdChata" + strings.TrimPrefix(r.ID, "rId")
		target := "media/chata_" + path.Base(r.Target)
		app.body = strings.ReplaceAll(app.body, `"`+r.ID+`"`, `"`+id+`"`)
		if b, ok := app.media["word/"+r.Target]; ok {
			renamed["word/"+target] = b
		}
		app.rels = append(app.rels, relationship{XMLName: xml.Name{Local: "Relationship"}, ID: id, Type: relImage, Target: target})
	}
	app.media = renamed
	return app, nil
}

// splice writes a copy of doc with the appendix body placed before the final
// section properties, its relationships and media added, and content types
// declared for the media extensions.
func splice(doc []byte, app *appendix) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		b, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		switch f.Name {
		case "word/document.xml":
			b, err = insertBody(b, app.body)
		case "word/_rels/document.xml.rels":
			b, err = insertRels(b, app.rels)
		case "[Content_Types].xml":
			b = ensureDefaults(b, app.media)
		}
		if err != nil {
			return nil, err
		}
		if err := writeZipFile(zw, f.Name, b); err != nil {
			return nil, err
		}
	}
	for name, b := range app.media {
		if err := writeZipFile(zw, name, b); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func insertBody(doc []byte, body string) ([]byte, error) {
	s := string(doc)
	end := strings.LastIndex(s, "</w:body>")
	if end < 0 {
		return nil, fmt.Errorf("document has no body")
	}
	at := end
	// The body-level sectPr is the last child of w:body.
	if i := strings.LastIndex(s[:end], "<w:sectPr"); i >= 0 && !strings.Contains(s[i:end], "</w:p>") {
		at = i
	}
	return []byte(s[:at] + body + s[at:]), nil
}

func insertRels(rels []byte, add []relationship) ([]byte, error) {
	s := string(rels)
	end := strings.LastIndex(s, "</Relationships>")
	if end < 0 {
		return nil, fmt.Errorf("document relationships are malformed")
	}
	var sb strings.Builder
	for _, r := range add {
		b, err := xml.Marshal(r)
		if err != nil {
			return nil, err
		}
		sb.Write(b)
	}
	return []byte(s[:end] + sb.String() + s[end:]), nil
}

var contentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

func ensureDefaults(types []byte, media map[string][]byte) []byte {
	s := string(types)
	end := strings.LastIndex(s, "</Types>")
	if end < 0 {
		return types
	}
	var add strings.Builder
	seen := make(map[string]bool)
	for name := range media {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
		ct, ok := contentTypes[ext]
		if !ok || seen[ext] || strings.Contains(strings.ToLower(s), `extension="`+ext+`"`) {
			continue
		}
		seen[ext] = true
		fmt.Fprintf(&add, `<Default Extension="%s" ContentType="%s"/>`, ext, ct)
	}
	return []byte(s[:end] + add.String() + s[end:])
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return b, nil
}

func writeZipFile(zw *zip.Writer, name string, b []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = w.Write(b)
	return err
}
