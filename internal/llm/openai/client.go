package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/llm"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

// Score implements llm.Scorer using text-only chat/completions.
func (c *Client) Score(ctx context.Context, req llm.ScoreRequest) (llm.Analysis, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	if strings.TrimSpace(req.CVText) == "" {
		return llm.Analysis{}, nil, common.InvalidInputf("cvText is required")
	}
	if err := req.Requirements.Validate(); err != nil {
		return llm.Analysis{}, nil, err
	}

	c.log.Info("llm.score.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.CVText),
		"skills", len(req.Requirements.Skills),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "user", "content": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(c.schemaMap)},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		return llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
	},
		retry.WithRetryIf(retryable),
		retry.WithObserver(func(attempt int, err error) {
			c.log.Warn("llm.score.retry", "req_id", rid, "attempt", attempt, "error", err)
		}),
	)
	if err != nil {
		c.log.Error("llm.score.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Analysis{}, nil, fmt.Errorf("%w: score: %w", common.ErrUpstream, err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.score.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return llm.Analysis{}, raw, fmt.Errorf("%w: decode openai response: %w", common.ErrUpstream, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.score.no_choices", "req_id", rid, "raw", string(raw))
		return llm.Analysis{}, raw, fmt.Errorf("%w: no choices in openai response", common.ErrUpstream)
	}
	content := cc.Choices[0].Message.Content

	out, rawContent, err := c.parse(rid, content)
	if err != nil {
		return llm.Analysis{}, rawContent, fmt.Errorf("%w: %w", common.ErrUpstream, err)
	}
	out = llm.ReconcileSkills(out, req.Requirements.Skills)

	c.log.Info("llm.score.ok",
		"req_id", rid,
		"match_percentage", out.MatchPercentage,
		"skills_found", len(out.SkillsFound),
		"skills_missing", len(out.SkillsMissing),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

// parse validates strictly first, then falls back to sanitizing and to a labelled plain-text reply.
func (c *Client) parse(rid, content string) (llm.Analysis, []byte, error) {
	var out llm.Analysis
	rawContent, isJSON := llm.ExtractJSONObject(content)
	if !isJSON {
		if c.cfg.LenientOptional {
			if a, ok := llm.ParseLabelledAnalysis(content); ok {
				c.log.Warn("llm.score.labelled_reply", "req_id", rid)
				b, _ := json.Marshal(a)
				return a, b, nil
			}
		}
		c.log.Error("llm.score.not_json", "req_id", rid, "content", content)
		return out, []byte(content), errors.New("model reply is not a JSON object")
	}

	if err := llm.ValidateJSON(c.schema, rawContent); err != nil {
		if !c.cfg.LenientOptional {
			c.log.Error("llm.score.schema_validation_failed", "req_id", rid, "error", err, "content", string(rawContent))
			return out, rawContent, fmt.Errorf("schema validation failed: %w", err)
		}
		cleaned, dropped, sErr := llm.NormalizeAndSanitizeJSON(rawContent, c.log)
		if sErr != nil {
			c.log.Error("llm.score.sanitize_failed", "req_id", rid, "error", sErr)
			return out, rawContent, fmt.Errorf("sanitize failed: %w", sErr)
		}
		if vErr := llm.ValidateJSON(c.schema, cleaned); vErr != nil {
			c.log.Error("llm.score.schema_validation_failed", "req_id", rid, "error", vErr, "content", string(cleaned))
			return out, cleaned, fmt.Errorf("schema validation failed: %w", vErr)
		}
		c.log.Warn("llm.score.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
		rawContent = cleaned
	}

	if err := json.Unmarshal(rawContent, &out); err != nil {
		return out, rawContent, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return out, rawContent, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
