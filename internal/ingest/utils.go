package ingest

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/constants"
)

// maxStemLen keeps generated storage paths well under common key length limits.
const maxStemLen = 64

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// SanitizeStem reduces a client filename (without extension) to [a-z0-9_-].
func SanitizeStem(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(base) {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	stem := strings.Trim(b.String(), "_-")
	if len(stem) > maxStemLen {
		stem = strings.TrimRight(stem[:maxStemLen], "_-")
	}
	if stem == "" {
		stem = "document"
	}
	return stem
}

// BuildFilePath returns "documents/<stem>_<id><.ext>". The id makes paths unique even for
// identical filenames uploaded at the same instant.
func BuildFilePath(filename string, id uuid.UUID) string {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	p := "documents/" + SanitizeStem(filename) + "_" + id.String()
	if ext != "" && AllowedExt(ext) {
		p += "." + ext
	}
	return p
}
