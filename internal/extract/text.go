package extract

import (
	"bytes"
	"context"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var boms = [][]byte{{0xEF, 0xBB, 0xBF}, {0xFE, 0xFF}, {0xFF, 0xFE}}

// PlainTextParser decodes plain-text uploads. A BOM selects UTF-8 or UTF-16; BOM-less input
// that is not valid UTF-8 is read as Windows-1252.
type PlainTextParser struct{}

func (PlainTextParser) Parse(_ context.Context, data []byte) (string, int, error) {
	if hasBOM(data) {
		decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return "", 0, err
		}
		return string(decoded), 1, nil
	}
	if utf8.Valid(data) {
		return string(data), 1, nil
	}
	latin, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", 0, err
	}
	return string(latin), 1, nil
}

func hasBOM(data []byte) bool {
	for _, b := range boms {
		if bytes.HasPrefix(data, b) {
			return true
		}
	}
	return false
}
