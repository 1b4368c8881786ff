package llm

import (
	"context"
	"strings"

	"github.com/joseph-ayodele/cv-screener/internal/common"
)

// Requirements describe the position a CV is scored against.
type Requirements struct {
	Title      string   `json:"title"`
	Skills     []string `json:"skills"`
	Experience string   `json:"experience,omitempty"`
	Location   string   `json:"location,omitempty"`
	Education  string   `json:"education,omitempty"`
}

// Validate requires a title and at least one non-blank skill.
func (r Requirements) Validate() error {
	var skills []string
	for _, s := range r.Skills {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}
	return common.NewValidator().
		Field("requirements.title", r.Title, common.Required, common.MaxLength(200)).
		Field("requirements.skills", skills, common.Required).
		Err()
}

// Analysis is the normalized shape we want from the LLM.
type Analysis struct {
	MatchPercentage   int      `json:"matchPercentage"`
	SkillsFound       []string `json:"skillsFound"`
	SkillsMissing     []string `json:"skillsMissing"`
	ExperienceSummary string   `json:"experienceSummary"`
	Recommendation    string   `json:"recommendation"`
}

type ScoreRequest struct {
	CVText       string
	FilenameHint string
	Requirements Requirements
}

// Scorer is the interface the API depends on.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (Analysis, []byte /*rawJSON*/, error)
}
