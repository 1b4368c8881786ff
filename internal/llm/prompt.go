package llm

import (
	"strings"
	"unicode/utf8"
)

// MaxPromptCVChars bounds how much CV text is sent to the model.
const MaxPromptCVChars = 12000

// BuildSystemPrompt composes the system message with the scoring rubric and output rules.
func BuildSystemPrompt() string {
	parts := []string{
		"You are an expert technical recruiter comparing a CV against job requirements.",
		"Return ONLY JSON that matches the provided JSON Schema.",
		"matchPercentage is an integer from 0 to 100 reflecting overall fit.",
		"skillsFound lists required skills evidenced in the CV, using the requirement's spelling.",
		"skillsMissing lists required skills with no evidence in the CV.",
		"Every required skill appears in exactly one of skillsFound or skillsMissing.",
		"experienceSummary is two to four sentences on relevant experience.",
		"recommendation is one short paragraph on suitability for the role.",
		"Never output null. Use empty arrays when nothing applies.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the requirements and the (truncated) CV text.
func BuildUserPrompt(req ScoreRequest) string {
	r := req.Requirements
	var b strings.Builder
	b.WriteString("Requirements:\n")
	b.WriteString("- Job title: " + strings.TrimSpace(r.Title) + "\n")
	b.WriteString("- Required skills: " + strings.Join(cleanList(r.Skills), ", ") + "\n")
	writeOptional(&b, "Required experience", r.Experience)
	writeOptional(&b, "Location", r.Location)
	writeOptional(&b, "Required education", r.Education)
	if f := strings.TrimSpace(req.FilenameHint); f != "" {
		b.WriteString("\nFilename: " + f + "\n")
	}

	b.WriteString("\nCV text:\n")
	text, truncated := Truncate(strings.TrimSpace(req.CVText), MaxPromptCVChars)
	b.WriteString(text)
	if truncated {
		b.WriteString("\n…(truncated)")
	}
	return b.String()
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}

func writeOptional(b *strings.Builder, label, v string) {
	if v = strings.TrimSpace(v); v != "" {
		b.WriteString("- " + label + ": " + v + "\n")
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

// BuildAnalysisJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as the output contract and used locally to validate the reply.
func BuildAnalysisJSONSchema() map[string]any {
	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string", "minLength": 1},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"matchPercentage":   map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"skillsFound":       stringList,
			"skillsMissing":     stringList,
			"experienceSummary": map[string]any{"type": "string"},
			"recommendation":    map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"matchPercentage", "skillsFound", "skillsMissing", "experienceSummary", "recommendation"},
	}
}
