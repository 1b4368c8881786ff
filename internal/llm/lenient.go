package llm

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reFence    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	reLabelled = map[string]*regexp.Regexp{
		"match":      regexp.MustCompile(`(?im)^\s*(?:overall\s+)?match(?:\s+percentage)?\s*:\s*(\d{1,3})`),
		"found":      regexp.MustCompile(`(?im)^\s*skills\s+found\s*:\s*(.*)$`),
		"missing":    regexp.MustCompile(`(?im)^\s*(?:skills\s+missing|missing\s+skills)\s*:\s*(.*)$`),
		"experience": regexp.MustCompile(`(?im)^\s*(?:relevant\s+)?experience(?:\s+summary)?\s*:\s*(.*)$`),
		"recommend":  regexp.MustCompile(`(?im)^\s*(?:recommendation|suitability)\s*:\s*(.*)$`),
	}
)

// ExtractJSONObject strips markdown fences and surrounding prose from a model reply.
func ExtractJSONObject(content string) ([]byte, bool) {
	s := strings.TrimSpace(content)
	if m := reFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(s[start : end+1]), true
}

// ParseLabelledAnalysis reads a "Label: value" plain-text reply. It reports false when no
// match percentage is present.
func ParseLabelledAnalysis(content string) (Analysis, bool) {
	field := func(key string) string {
		if m := reLabelled[key].FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	pct := field("match")
	if pct == "" {
		return Analysis{}, false
	}
	p, err := strconv.Atoi(pct)
	if err != nil {
		return Analysis{}, false
	}
	return Analysis{
		MatchPercentage:   min(max(p, 0), 100),
		SkillsFound:       cleanList(strings.Split(field("found"), ",")),
		SkillsMissing:     cleanList(strings.Split(field("missing"), ",")),
		ExperienceSummary: field("experience"),
		Recommendation:    field("recommend"),
	}, true
}

// ReconcileSkills makes every required skill appear in exactly one of SkillsFound or
// SkillsMissing. Skills the model reported as found win over missing.
func ReconcileSkills(a Analysis, required []string) Analysis {
	found := cleanList(a.SkillsFound)
	inFound := make(map[string]struct{}, len(found))
	for _, s := range found {
		inFound[strings.ToLower(s)] = struct{}{}
	}

	var missing []string
	inMissing := map[string]struct{}{}
	for _, s := range cleanList(a.SkillsMissing) {
		k := strings.ToLower(s)
		if _, ok := inFound[k]; ok {
			continue
		}
		inMissing[k] = struct{}{}
		missing = append(missing, s)
	}
	for _, s := range cleanList(required) {
		k := strings.ToLower(s)
		_, f := inFound[k]
		_, m := inMissing[k]
		if !f && !m {
			inMissing[k] = struct{}{}
			missing = append(missing, s)
		}
	}

	a.SkillsFound = found
	a.SkillsMissing = missing
	if a.SkillsMissing == nil {
		a.SkillsMissing = []string{}
	}
	return a
}
