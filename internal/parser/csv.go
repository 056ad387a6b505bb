package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVParser handles CSV exports such as questionnaire scores.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	doc := &Document{Title: strings.TrimSuffix(filename, ".csv")}
	doc.Sections = tableSections(records)
	return doc, nil
}

// rowsPerSection keeps long tables in pieces the prompt budget can cut.
const rowsPerSection = 20

// tableSections renders rows as "header: value" lines, the first row being
// the header.
func tableSections(records [][]string) []Section {
	if len(records) < 2 {
		return nil
	}
	headers := records[0]
	rows := records[1:]

	var out []Section
	for i := 0; i < len(rows); i += rowsPerSection {
		end := min(i+rowsPerSection, len(rows))
		var text strings.Builder
		for _, row := range rows[i:end] {
			var cells []string
			for j, cell := range row {
				cell = strings.TrimSpace(cell)
				if cell == "" {
					continue
				}
				if j < len(headers) && headers[j] != "" {
					cell = headers[j] + ": " + cell
				}
				cells = append(cells, cell)
			}
			if len(cells) > 0 {
				text.WriteString(strings.Join(cells, ", "))
				text.WriteString("\n")
			}
		}
		if t := strings.TrimSpace(text.String()); t != "" {
			// Sheet rows are 1-indexed and the header is row 1.
			out = append(out, Section{Heading: fmt.Sprintf("Rows %d-%d", i+2, end+1), Text: t})
		}
	}
	return out
}
