package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/cv-screener/internal/common"
)

// abortWithError writes {error} with the status mapped from the error taxonomy.
func abortWithError(c *gin.Context, err error) {
	status := common.HTTPStatus(err)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		status = http.StatusRequestEntityTooLarge
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	logger := common.LoggerFromContext(c.Request.Context(), nil)
	if status >= 500 {
		logger.Error("http.request.failed", "status", status, "error", err)
	} else {
		logger.Warn("http.request.rejected", "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
