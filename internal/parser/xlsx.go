package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser handles spreadsheets such as standardised-measure score sheets.
// Each worksheet is read as a table with a header row.
type XLSXParser struct{}

func (p *XLSXParser) Parse(r io.Reader, filename string) (*Document, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	doc := &Document{Title: strings.TrimSuffix(filename, ".xlsx")}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, s := range tableSections(rows) {
			s.Heading = sheet + " > " + s.Heading
			doc.Sections = append(doc.Sections, s)
		}
	}
	return doc, nil
}
