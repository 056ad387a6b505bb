// Package parser extracts text from supporting documents (referral letters,
// prior reports, questionnaires) so it can be quoted in the report prompt.
package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/chatareport/internal/chunker"
)

// Document is the extracted text of one file, split at its headings or pages.
type Document struct {
	Name     string // source filename
	Title    string
	Sections []Section
}

// Section is a run of text under one heading path, e.g. "History > Speech".
type Section struct {
	Heading string
	Text    string
	Page    int
}

// Budgeted flattens the document into titled sections for the prompt budget.
func (d *Document) Budgeted() []chunker.Section {
	out := make([]chunker.Section, 0, len(d.Sections))
	for _, s := range d.Sections {
		title := d.Title
		if s.Heading != "" {
			title += " > " + s.Heading
		}
		out = append(out, chunker.Section{Title: title, Text: s.Text})
	}
	return out
}

// Parser converts raw document bytes into a Document.
type Parser interface {
	Parse(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
	".xlsx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	case ".xlsx":
		return &XLSXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// ParseFile parses the file at path.
func ParseFile(path string) (*Document, error) {
	p, err := ForFile(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := p.Parse(f, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	doc.Name = filepath.Base(path)
	return doc, nil
}

// ParseDir parses every supported file directly inside dir, a few at a time,
// and returns the documents ordered by filename. A missing dir yields no
// documents. Unsupported files are skipped.
func ParseDir(ctx context.Context, dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsSupportedExtension(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make([]*Document, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := ParseFile(filepath.Join(dir, name))
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// outline tracks the heading path while a parser walks a document.
type outline struct {
	doc  *Document
	path []heading
	text strings.Builder
	page int
}

type heading struct {
	title string
	level int
}

func newOutline(title string) *outline {
	return &outline{doc: &Document{Title: title}}
}

// heading closes the current section and opens one at level.
func (o *outline) heading(level int, title string) {
	o.flush()
	for len(o.path) > 0 && o.path[len(o.path)-1].level >= level {
		o.path = o.path[:len(o.path)-1]
	}
	o.path = append(o.path, heading{title: title, level: level})
}

func (o *outline) paragraph(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if o.text.Len() > 0 {
		o.text.WriteString("\n\n")
	}
	o.text.WriteString(t)
}

func (o *outline) flush() {
	t := strings.TrimSpace(o.text.String())
	o.text.Reset()
	if t == "" {
		return
	}
	titles := make([]string, len(o.path))
	for i, h := range o.path {
		titles[i] = h.title
	}
	o.doc.Sections = append(o.doc.Sections, Section{
		Heading: strings.Join(titles, " > "),
		Text:    t,
		Page:    o.page,
	})
}

func (o *outline) done() *Document {
	o.flush()
	return o.doc
}
