package ocr

import (
	"regexp"
	"strings"
)

var (
	reYear     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	reEmail    = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	rePhone    = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	reHeadings = regexp.MustCompile(`\b(experience|education|skills|summary|profile|employment|projects|certifications)\b`)
)

// Confidence is a naive score in 0..1 of how much the text looks like a readable CV.
func Confidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2)
	if reYear.MatchString(txtL) {
		score += 0.15
	}
	if reEmail.MatchString(txtL) {
		score += 0.15
	}
	if rePhone.MatchString(txtL) {
		score += 0.1
	}
	if n := len(reHeadings.FindAllString(txtL, 4)); n > 0 {
		score += 0.1 * float32(n)
	}
	if len(txt) > 500 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
