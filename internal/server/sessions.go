package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
)

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type sessionView struct {
	ID           snowflake.ID         `json:"id"`
	UserID       string               `json:"user_id"`
	Status       sessiondomain.Status `json:"status"`
	StartedAt    time.Time            `json:"started_at"`
	LastActiveAt time.Time            `json:"last_active_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	AbandonedAt  *time.Time           `json:"abandoned_at,omitempty"`
}

func newSessionView(s *sessiondomain.Session) sessionView {
	return sessionView{
		ID:           snowflake.ID(s.ID),
		UserID:       s.UserID,
		Status:       s.Status,
		StartedAt:    s.StartedAt,
		LastActiveAt: s.LastActiveAt,
		CompletedAt:  s.CompletedAt,
		AbandonedAt:  s.AbandonedAt,
	}
}

func (s *Server) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.assistant.CreateSession(c.Request.Context(), requestUserID(c, req.UserID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newSessionView(session)})
}

func (s *Server) GetSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	session, err := s.assistant.GetSession(c.Request.Context(), id, requestUserID(c, c.Query("user_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSessionView(session)})
}

func (s *Server) GetSessionSummary(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	summary, err := s.assistant.Summary(c.Request.Context(), id, requestUserID(c, c.Query("user_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) GetSessionReceipt(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	pdf, err := s.assistant.Receipt(c.Request.Context(), id, requestUserID(c, c.Query("user_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="receipt-`+c.Param("id")+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func sessionParam(c *gin.Context) (int64, bool) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_session_id", "invalid session id"))
		return 0, false
	}
	c.Set("session_id", c.Param("id"))
	return id, true
}
