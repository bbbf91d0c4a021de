package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/shopassist/internal/assistant"
	"github.com/smallbiznis/shopassist/pkg/db/pagination"
)

const headerIdempotencyKey = "Idempotency-Key"

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

func (s *Server) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sessionID, err := parseOptionalSnowflakeID(req.SessionID)
	if err != nil {
		AbortWithError(c, newValidationError("session_id", "invalid_session_id", "invalid session_id"))
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(c.GetHeader(headerUserID))
	}

	resp, err := s.assistant.Chat(c.Request.Context(), assistant.ChatRequest{
		SessionID:      sessionID,
		UserID:         userID,
		Message:        req.Message,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(headerIdempotencyKey)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("session_id", resp.SessionID)
	c.Set("intent", string(resp.Intent))
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ChatHistory(c *gin.Context) {
	sessionID, err := parseSnowflakeID(c.Param("session"))
	if err != nil {
		AbortWithError(c, newValidationError("session", "invalid_session_id", "invalid session id"))
		return
	}

	var query struct {
		UserID string `form:"user_id"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assistant.History(c.Request.Context(), sessionID, requestUserID(c, query.UserID), query.Pagination)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("session_id", c.Param("session"))
	c.JSON(http.StatusOK, resp)
}

func requestUserID(c *gin.Context, fromQuery string) string {
	if v := strings.TrimSpace(fromQuery); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(headerUserID))
}
