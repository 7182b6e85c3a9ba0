package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-participant/internal/middleware"
	"github.com/stemsi/exstem-participant/internal/response"
	"github.com/stemsi/exstem-participant/internal/service"
)

// ExamHandler serves exam definitions to participants.
type ExamHandler struct {
	examService *service.ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService) *ExamHandler {
	return &ExamHandler{examService: examService}
}

// GetExam godoc
// GET /api/v1/exam/:id
// Returns the exam definition. A token only opens the exam it was issued for.
func (h *ExamHandler) GetExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("id")
	if examID != claims.ExamID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	exam, err := h.examService.GetByID(examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, exam)
}
