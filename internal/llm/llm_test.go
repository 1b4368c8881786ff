package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cv-screener/internal/common"
)

func TestRequirementsValidate(t *testing.T) {
	assert.NoError(t, Requirements{Title: "Engineer", Skills: []string{"Go"}}.Validate())
	assert.ErrorIs(t, Requirements{Skills: []string{"Go"}}.Validate(), common.ErrInvalidInput)
	assert.ErrorIs(t, Requirements{Title: "Engineer"}.Validate(), common.ErrInvalidInput)
	assert.ErrorIs(t, Requirements{Title: "Engineer", Skills: []string{"", "  "}}.Validate(), common.ErrInvalidInput)
}

func TestNormalizeAndSanitizeJSON(t *testing.T) {
	raw := []byte(`{
		"score": 0.85,
		"matchedSkills": ["Go", " go ", "", "SQL"],
		"skills_missing": null,
		"recommendation": "  Hire. ",
		"confidence": 0.9
	}`)
	out, dropped, err := NormalizeAndSanitizeJSON(raw, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, dropped)

	var a Analysis
	require.NoError(t, json.Unmarshal(out, &a))
	assert.Equal(t, 85, a.MatchPercentage)
	assert.Equal(t, []string{"Go", "SQL"}, a.SkillsFound)
	assert.Empty(t, a.SkillsMissing)
	assert.Equal(t, "Hire.", a.Recommendation)
	require.NoError(t, ValidateJSONAgainstSchema(BuildAnalysisJSONSchema(), out))
}

func TestCoercePercentage(t *testing.T) {
	tests := map[any]int{
		float64(140): 100,
		float64(-3):  0,
		"64 %":       64,
		"72.6":       73,
		float64(0.5): 50,
	}
	for in, want := range tests {
		got, ok := coercePercentage(in)
		assert.True(t, ok, "%v", in)
		assert.Equal(t, want, got, "%v", in)
	}
	_, ok := coercePercentage("high")
	assert.False(t, ok)
}

func TestValidateJSONAgainstSchema(t *testing.T) {
	schema := BuildAnalysisJSONSchema()
	good := `{"matchPercentage":10,"skillsFound":[],"skillsMissing":["Go"],"experienceSummary":"","recommendation":"No."}`
	assert.NoError(t, ValidateJSONAgainstSchema(schema, []byte(good)))

	for _, bad := range []string{
		`{"matchPercentage":101,"skillsFound":[],"skillsMissing":[],"experienceSummary":"","recommendation":"x"}`,
		`{"matchPercentage":10,"skillsFound":[],"skillsMissing":[],"experienceSummary":""}`,
		`{"matchPercentage":10,"skillsFound":[],"skillsMissing":[],"experienceSummary":"","recommendation":"x","extra":1}`,
		`not json`,
	} {
		assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(bad)), bad)
	}
}

func TestExtractJSONObject(t *testing.T) {
	b, ok := ExtractJSONObject("Here you go:\n```json\n{\"a\":1}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(b))

	b, ok = ExtractJSONObject(`Sure! {"a":{"b":2}} Thanks.`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":{"b":2}}`, string(b))

	_, ok = ExtractJSONObject("no object here")
	assert.False(t, ok)
}

func TestReconcileSkills(t *testing.T) {
	a := ReconcileSkills(Analysis{
		SkillsFound:   []string{"Go", "docker"},
		SkillsMissing: []string{"Docker", "Rust"},
	}, []string{"go", "Docker", "Rust", "Kafka"})
	assert.Equal(t, []string{"Go", "docker"}, a.SkillsFound)
	assert.Equal(t, []string{"Rust", "Kafka"}, a.SkillsMissing)
}

func TestBuildUserPrompt_Truncates(t *testing.T) {
	p := BuildUserPrompt(ScoreRequest{
		CVText:       strings.Repeat("é", MaxPromptCVChars+10),
		Requirements: Requirements{Title: "Engineer", Skills: []string{"Go", "go", "SQL"}, Location: "Remote"},
	})
	assert.Contains(t, p, "Required skills: Go, SQL\n")
	assert.Contains(t, p, "Location: Remote")
	assert.NotContains(t, p, "Required education")
	assert.Contains(t, p, "…(truncated)")
	assert.Equal(t, MaxPromptCVChars, strings.Count(p, "é"))
}
