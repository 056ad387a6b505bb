package report

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// CleanText turns model output into plain report text. Markdown emphasis,
// headings, links and list markers are dropped, marker braces are removed,
// and each block ends up on its own line.
func CleanText(s string) string {
	src := []byte(strings.ReplaceAll(s, "\r\n", "\n"))
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	var lines []string
	collectBlocks(root, src, &lines)
	out := strings.Join(lines, "\n")
	out = strings.ReplaceAll(out, "{{", "")
	out = strings.ReplaceAll(out, "}}", "")
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func collectBlocks(n ast.Node, src []byte, lines *[]string) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch b := c.(type) {
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			var buf bytes.Buffer
			writeInline(&buf, b, src)
			if t := strings.TrimSpace(buf.String()); t != "" {
				*lines = append(*lines, t)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			l := b.Lines()
			for i := 0; i < l.Len(); i++ {
				seg := l.At(i)
				*lines = append(*lines, strings.TrimRight(string(seg.Value(src)), "\n"))
			}
		case *ast.HTMLBlock, *ast.ThematicBreak:
		default:
			collectBlocks(c, src, lines)
		}
	}
}

func writeInline(buf *bytes.Buffer, n ast.Node, src []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			switch {
			case t.HardLineBreak():
				buf.WriteByte('\n')
			case t.SoftLineBreak():
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.Label(src))
		case *ast.RawHTML:
		default:
			writeInline(buf, c, src)
		}
	}
}
