package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/llm"
)

type analysisRequest struct {
	DocumentID   string           `json:"documentId"`
	CVText       string           `json:"cvText"`
	Requirements llm.Requirements `json:"requirements"`
}

// analyze scores a CV against requirements. The CV is either inline text or a processed document.
func (s *Server) analyze(c *gin.Context) {
	if s.deps.Scorer == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "scoring is not configured"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2<<20)

	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, common.InvalidInputf("malformed JSON body: %v", err))
		return
	}
	if err := req.Requirements.Validate(); err != nil {
		abortWithError(c, err)
		return
	}

	sr := llm.ScoreRequest{CVText: req.CVText, Requirements: req.Requirements}
	if id := strings.TrimSpace(req.DocumentID); id != "" {
		docID, err := uuid.Parse(id)
		if err != nil {
			abortWithError(c, common.InvalidInputf("documentId must be a UUID"))
			return
		}
		job, err := s.deps.Jobs.Get(c.Request.Context(), docID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if job.Status != constants.JobStatusProcessed || job.ProcessedText == nil {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":  fmt.Sprintf("document %s is %s", job.ID, job.Status),
				"status": job.Status,
			})
			return
		}
		sr.CVText = *job.ProcessedText
		sr.FilenameHint = job.Filename
	}
	if strings.TrimSpace(sr.CVText) == "" {
		abortWithError(c, common.InvalidInputf("cvText or documentId is required"))
		return
	}

	analysis, _, err := s.deps.Scorer.Score(c.Request.Context(), sr)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}
