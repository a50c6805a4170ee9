package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/server/internal/apperror"
	"github.com/lattice-editor/server/internal/queue"
	"github.com/lattice-editor/server/internal/sandbox"
)

type executeRequest struct {
	DocumentID string `json:"documentId"`
	Language   string `json:"language"`
	Code       string `json:"code"`
}

type executeResponse struct {
	ExecutionID     string `json:"executionId"`
	Status          string `json:"status"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

type rateLimitedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after"`
}

func (h *Handler) handleExecute(c *gin.Context) {
	userID, ok := callerUserID(c)
	if !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	var request executeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, apperror.ValidationFailed("code", "request body must be valid JSON"))
		return
	}
	if request.Code == "" {
		writeError(c, apperror.ValidationFailed("code", "code must not be empty"))
		return
	}
	if len(request.Code) > h.codeMax {
		writeError(c, apperror.ValidationFailed("code", "code exceeds the maximum allowed size"))
		return
	}
	if len(h.languages) > 0 {
		if _, supported := h.languages[request.Language]; !supported {
			writeError(c, apperror.ValidationFailed("language", "unsupported language"))
			return
		}
	}
	if err := sandbox.ScanForDisallowedPatterns([]byte(request.Code)); err != nil {
		writeError(c, apperror.ValidationFailed("code", "code contains a disallowed pattern"))
		return
	}
	if !h.sandboxUp() {
		writeError(c, apperror.SandboxUnavailable("the execution sandbox is not currently available"))
		return
	}

	result, err := h.limiter.Check(c.Request.Context(), userID.String(), executeBucket)
	if err != nil {
		writeError(c, err)
		return
	}
	if !result.Allowed {
		retryAfter := int64(time.Until(result.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.JSON(http.StatusTooManyRequests, rateLimitedResponse{
			Error:      "rate_limited",
			Message:    "execution rate limit exceeded",
			RetryAfter: retryAfter,
		})
		return
	}

	jobID, err := h.queue.Submit(c.Request.Context(), request.DocumentID, userID.String(), request.Language, []byte(request.Code))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, executeResponse{ExecutionID: jobID, Status: string(queue.StatusQueued)})
}

func (h *Handler) handleExecuteResult(c *gin.Context) {
	if _, ok := callerUserID(c); !ok {
		writeError(c, apperror.Unauthenticated("missing caller identity"))
		return
	}

	jobID := c.Param("job_id")
	job, err := h.queue.Result(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	response := executeResponse{
		ExecutionID:     job.JobID,
		Status:          string(job.Status),
		Output:          job.Stdout,
		ExecutionTimeMs: job.ElapsedMs,
	}
	if job.Status == queue.StatusFailed {
		if job.Stderr != "" {
			response.Error = job.Stderr
		} else {
			response.Error = job.Reason
		}
	}
	c.JSON(http.StatusOK, response)
}
