package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/server/internal/documents"
	"go.uber.org/zap"
)

const userIDContextKey = "lattice_user_id"

// authorizeRequest verifies the bearer token and upserts the caller's
// identity, per spec: a missing token is 401, an invalid one is 403.
func (h *Handler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: "missing bearer token"})
		return
	}
	rawToken := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if rawToken == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: "missing bearer token"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), rawToken)
	if err != nil {
		h.logger.Warn("token verification failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "forbidden", Message: "invalid token"})
		return
	}

	userID, err := h.users.Upsert(claims)
	if err != nil {
		h.logger.Error("failed to upsert identity", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "forbidden", Message: "invalid token"})
		return
	}

	c.Set(userIDContextKey, userID)
	c.Next()
}

func callerUserID(c *gin.Context) (documents.UserID, bool) {
	value, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := value.(documents.UserID)
	return userID, ok
}
