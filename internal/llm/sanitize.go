package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strconv"
	"strings"
)

var synonyms = map[string]string{
	"match_percentage":   "matchPercentage",
	"matchScore":         "matchPercentage",
	"match":              "matchPercentage",
	"score":              "matchPercentage",
	"skills_found":       "skillsFound",
	"matchedSkills":      "skillsFound",
	"skills_missing":     "skillsMissing",
	"missingSkills":      "skillsMissing",
	"experience_summary": "experienceSummary",
	"experience":         "experienceSummary",
	"suitability":        "recommendation",
}

var analysisKeys = map[string]struct{}{
	"matchPercentage": {}, "skillsFound": {}, "skillsMissing": {},
	"experienceSummary": {}, "recommendation": {},
}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (match_percentage -> matchPercentage)
// - Coerces "85%" / 85.4 -> 85 and clamps to 0..100
// - Turns comma-separated skill strings into arrays, dedupes, drops blanks
// - Fills absent skill lists and summary with empty values
// - Removes unknown keys (additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	for from, to := range synonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		dropped = append(dropped, from+"->"+to)
	}

	if v, ok := m["matchPercentage"]; ok {
		if p, ok := coercePercentage(v); ok {
			m["matchPercentage"] = p
		} else {
			delete(m, "matchPercentage")
			dropped = append(dropped, "matchPercentage(type)")
		}
	}

	for _, k := range []string{"skillsFound", "skillsMissing"} {
		v, ok := m[k]
		if !ok {
			m[k] = []string{}
			continue
		}
		list, ok := coerceList(v)
		if !ok {
			dropped = append(dropped, k+"(type)")
		}
		m[k] = list
	}

	if _, ok := m["experienceSummary"]; !ok {
		m["experienceSummary"] = ""
	}
	for _, k := range []string{"experienceSummary", "recommendation"} {
		switch t := m[k].(type) {
		case string:
			m[k] = strings.TrimSpace(t)
		case nil:
			if _, ok := m[k]; ok {
				m[k] = ""
				dropped = append(dropped, k+"(null)")
			}
		default:
			m[k] = fmt.Sprint(t)
			dropped = append(dropped, k+"(type)")
		}
	}

	for k := range maps.Clone(m) {
		if _, ok := analysisKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.score.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func coercePercentage(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	// some models answer on a 0..1 scale
	if f > 0 && f < 1 {
		f *= 100
	}
	return int(math.Round(min(max(f, 0), 100))), true
}

func coerceList(v any) ([]string, bool) {
	switch t := v.(type) {
	case nil:
		return []string{}, true
	case string:
		return cleanList(strings.Split(t, ",")), true
	case []any:
		raw := make([]string, 0, len(t))
		ok := true
		for _, e := range t {
			s, isStr := e.(string)
			if !isStr {
				ok = false
				continue
			}
			raw = append(raw, s)
		}
		return cleanList(raw), ok
	default:
		return []string{}, false
	}
}
