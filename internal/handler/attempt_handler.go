package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-participant/internal/middleware"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/response"
	"github.com/stemsi/exstem-participant/internal/service"
	"github.com/stemsi/exstem-participant/internal/validator"
)

// AttemptHandler handles draft sync and final submission.
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// SaveDraft godoc
// POST /api/v1/draft
// Best-effort upsert of in-progress answers.
func (h *AttemptHandler) SaveDraft(c *gin.Context) {
	sub, ok := bindSubmission(c)
	if !ok {
		return
	}

	if err := h.attemptService.SaveDraft(c.Request.Context(), sub); err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": len(sub.Answers)})
}

// Submit godoc
// POST /api/v1/submit
// Stores the final answers and closes the attempt.
func (h *AttemptHandler) Submit(c *gin.Context) {
	sub, ok := bindSubmission(c)
	if !ok {
		return
	}

	if err := h.attemptService.Submit(c.Request.Context(), sub); err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submitted": true})
}

// bindSubmission validates the body and checks it is for the token's
// participant and exam.
func bindSubmission(c *gin.Context) (*model.AnswerSubmission, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	var sub model.AnswerSubmission
	if fields := validator.Bind(c, &sub); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return nil, false
	}

	if sub.ParticipantID != claims.ParticipantID || sub.ExamID != claims.ExamID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return nil, false
	}
	return &sub, true
}

func failAttempt(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptClosed):
		response.Fail(c, http.StatusConflict, response.ErrAttemptClosed)
	case errors.Is(err, service.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
