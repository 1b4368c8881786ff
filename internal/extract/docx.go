package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"baliance.com/gooxml/document"
)

// DOCXParser reads paragraph text from Word documents, then table cells.
type DOCXParser struct{}

func (DOCXParser) Parse(_ context.Context, data []byte) (string, int, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open docx: %w", err)
	}

	var lines []string
	for _, p := range doc.Paragraphs() {
		lines = append(lines, paragraphText(p))
	}
	for _, tbl := range doc.Tables() {
		for _, row := range tbl.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				var parts []string
				for _, p := range cell.Paragraphs() {
					if t := strings.TrimSpace(paragraphText(p)); t != "" {
						parts = append(parts, t)
					}
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			lines = append(lines, strings.Join(cells, " | "))
		}
	}
	return strings.Join(lines, "\n"), 1, nil
}

func paragraphText(p document.Paragraph) string {
	var b strings.Builder
	for _, r := range p.Runs() {
		b.WriteString(r.Text())
	}
	return b.String()
}
