package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/neurotune/neurotune-api/internal/api/middleware"
	"github.com/neurotune/neurotune-api/internal/engine"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/neurotune/neurotune-api/internal/models"
	"github.com/neurotune/neurotune-api/internal/repository"
)

// ScheduleGenerator produces schedules for new sessions
type ScheduleGenerator interface {
	Generate(ctx context.Context, intent string, durationMinutes int) (*engine.Result, error)
}

// SessionStore persists sessions
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id uint) (*models.Session, error)
	End(ctx context.Context, id uint, rating *int, note string) (*models.Session, error)
}

type SessionHandler struct {
	generator ScheduleGenerator
	store     SessionStore
}

func NewSessionHandler(generator ScheduleGenerator, store SessionStore) *SessionHandler {
	return &SessionHandler{generator: generator, store: store}
}

type StartSessionRequest struct {
	Intent          string `json:"intent" binding:"required,max=100"`
	DurationMinutes *int   `json:"duration_minutes" binding:"omitempty,min=1,max=120"`
}

type EndSessionRequest struct {
	Rating       *int   `json:"rating" binding:"omitempty,min=1,max=5"`
	FeedbackNote string `json:"feedback_note" binding:"max=500"`
}

// SessionView is a stored session with its schedule decoded
type SessionView struct {
	*models.Session
	Schedule *models.ModulationSchedule `json:"schedule"`
}

// StartSession generates a schedule for the intent and stores a new session
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	req.Intent = strings.TrimSpace(req.Intent)
	if req.Intent == "" || utf8.RuneCountInString(req.Intent) > maxIntentLength {
		respondError(c, http.StatusBadRequest, "Invalid request", "intent must be 1 to 100 characters")
		return
	}
	minutes := defaultDurationMinutes
	if req.DurationMinutes != nil {
		minutes = *req.DurationMinutes
	}
	if minutes < 1 || minutes > maxDurationMinutes {
		respondError(c, http.StatusBadRequest, "Invalid request", "duration_minutes must be 1 to 120")
		return
	}

	result, err := h.generator.Generate(c.Request.Context(), req.Intent, minutes)
	switch {
	case errors.Is(err, engine.ErrEngineNotReady):
		respondError(c, http.StatusServiceUnavailable, "Generation engine not ready", "Try again shortly")
		return
	case errors.Is(err, engine.ErrGenerationTimeout):
		respondError(c, http.StatusGatewayTimeout, "Schedule generation timed out", err.Error())
		return
	case err != nil:
		logger.Error("Schedule generation failed", err, logger.WithContext(c))
		respondError(c, http.StatusInternalServerError, "Schedule generation failed", "")
		return
	}

	session := &models.Session{
		Intent:      req.Intent,
		Source:      result.Source,
		DurationSec: result.Schedule.TotalDurationSec,
	}
	if userID, ok := middleware.GetUserID(c); ok {
		session.UserID = &userID
	}
	if err := session.SetSchedule(&result.Schedule); err != nil {
		logger.Error("Failed to encode schedule", err, logger.WithContext(c))
		respondError(c, http.StatusInternalServerError, "Failed to store session", "")
		return
	}
	if err := h.store.Create(c.Request.Context(), session); err != nil {
		logger.Error("Failed to store session", err, logger.WithContext(c))
		respondError(c, http.StatusInternalServerError, "Failed to store session", "")
		return
	}

	respondOK(c, http.StatusOK, msgSessionStarted, gin.H{
		"session_id": session.ID,
		"schedule":   result.Schedule,
		"source":     result.Source,
		"attempts":   result.Attempts,
	})
}

// GetSession returns a stored session
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	view, err := newSessionView(session)
	if err != nil {
		logger.Error("Stored schedule is unreadable", err, logger.WithContext(c))
		respondError(c, http.StatusInternalServerError, "Failed to load session", "")
		return
	}
	respondOK(c, http.StatusOK, "", view)
}

// EndSession marks a session finished and records feedback
func (h *SessionHandler) EndSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if utf8.RuneCountInString(req.FeedbackNote) > maxFeedbackLength {
		respondError(c, http.StatusBadRequest, "Invalid request", "feedback_note must be at most 500 characters")
		return
	}

	session, err := h.store.End(c.Request.Context(), id, req.Rating, strings.TrimSpace(req.FeedbackNote))
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	view, err := newSessionView(session)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to load session", "")
		return
	}
	respondOK(c, http.StatusOK, msgSessionEnded, view)
}

func (h *SessionHandler) respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		respondError(c, http.StatusNotFound, "Session not found", "")
	case errors.Is(err, repository.ErrSessionAlreadyEnded):
		respondError(c, http.StatusConflict, "Session already ended", "")
	default:
		logger.Error("Session store failed", err, logger.WithContext(c))
		respondError(c, http.StatusInternalServerError, "Failed to load session", "")
	}
}

func newSessionView(session *models.Session) (*SessionView, error) {
	schedule, err := session.DecodeSchedule()
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: session, Schedule: schedule}, nil
}

func sessionID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "Invalid session id", c.Param("id"))
		return 0, false
	}
	return uint(id), true
}
