package report

import (
	"regexp"
	"sort"
	"strings"
)

// markerText matches a marker in visible text, tolerating spaces Word may
// have inserted around the ID.
var markerText = regexp.MustCompile(`\{\{\s*([A-Z][A-Z0-9_]*)\s*\}\}`)

// projection is the visible text of a WordprocessingML part: the contents of
// its <w:t> elements, with each byte mapped back to its offset in the XML.
type projection struct {
	text []byte
	pos  []int
}

func project(xml string) projection {
	var p projection
	inText := false
	for i := 0; i < len(xml); {
		if xml[i] != '<' {
			if inText {
				p.text = append(p.text, xml[i])
				p.pos = append(p.pos, i)
			}
			i++
			continue
		}
		end := strings.IndexByte(xml[i:], '>')
		if end < 0 {
			break
		}
		tag := xml[i+1 : i+end]
		switch name := tagName(tag); {
		case name == "w:t" && !strings.HasSuffix(tag, "/"):
			inText = true
		case name == "/w:t":
			inText = false
		}
		i += end + 1
	}
	return p
}

func tagName(tag string) string {
	if i := strings.IndexAny(tag, " \t\r\n/>"); i > 0 {
		return tag[:i]
	}
	return tag
}

// markerIDs returns the distinct marker IDs in the visible text of xml, in
// document order.
func markerIDs(xml string) []string {
	p := project(xml)
	seen := make(map[string]bool)
	var ids []string
	for _, m := range markerText.FindAllSubmatch(p.text, -1) {
		id := string(m[1])
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// normalizeMarkers rewrites markers whose characters Word spread over several
// runs, or padded with spaces, so each one is a literal {{ID}} inside a
// single <w:t>. The tags between the pieces are left in place; the first
// piece's run ends up holding the whole marker.
func normalizeMarkers(xml string) string {
	p := project(xml)
	type edit struct {
		start, end int // raw byte range to delete
		insert     string
	}
	var edits []edit
	for _, m := range markerText.FindAllSubmatchIndex(p.text, -1) {
		first, last := p.pos[m[0]], p.pos[m[1]-1]
		clean := "{{" + string(p.text[m[2]:m[3]]) + "}}"
		if last-first == len(clean)-1 && xml[first:last+1] == clean {
			continue
		}
		// Delete each visible byte of the marker, then put the clean
		// marker where the first one was.
		for k := m[1] - 1; k >= m[0]; k-- {
			e := edit{start: p.pos[k], end: p.pos[k] + 1}
			if k == m[0] {
				e.insert = clean
			}
			edits = append(edits, e)
		}
	}
	if len(edits) == 0 {
		return xml
	}
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	var sb strings.Builder
	sb.Grow(len(xml))
	tail := len(xml)
	parts := make([]string, 0, 2*len(edits)+1)
	for _, e := range edits {
		parts = append(parts, xml[e.end:tail], e.insert)
		tail = e.start
	}
	parts = append(parts, xml[:tail])
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteString(parts[i])
	}
	return sb.String()
}

// replaceInText replaces marker with repl only where the marker is visible
// text held inside a single <w:t>. Field codes and attribute values that
// carry the same characters are left alone.
func replaceInText(xml, marker, repl string) string {
	p := project(xml)
	text := string(p.text)
	var sb strings.Builder
	tail, replaced := 0, false
	for off := 0; ; {
		i := strings.Index(text[off:], marker)
		if i < 0 {
			break
		}
		i += off
		off = i + len(marker)
		start, end := p.pos[i], p.pos[off-1]+1
		if end-start != len(marker) {
			continue // spread over runs; normalizeMarkers handles those
		}
		sb.WriteString(xml[tail:start])
		sb.WriteString(repl)
		tail, replaced = end, true
	}
	if !replaced {
		return xml
	}
	sb.WriteString(xml[tail:])
	return sb.String()
}
