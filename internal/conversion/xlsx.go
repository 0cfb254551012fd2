package conversion

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXConverter renders every sheet as a "## sheet" section followed by one
// pipe-separated line per non-empty row.
type XLSXConverter struct{}

func (XLSXConverter) Convert(_ context.Context, content []byte, _ string) (*Structured, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
		}
		var lines []string
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			empty := true
			for _, c := range row {
				c = strings.TrimSpace(c)
				if c != "" {
					empty = false
				}
				cells = append(cells, c)
			}
			if !empty {
				lines = append(lines, strings.Join(cells, " | "))
			}
		}
		if len(lines) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## " + sheet + "\n")
		sb.WriteString(strings.Join(lines, "\n"))
	}
	return &Structured{Text: sb.String()}, nil
}
