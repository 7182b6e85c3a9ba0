package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/response"
	"github.com/stemsi/exstem-participant/internal/service"
	"github.com/stemsi/exstem-participant/internal/validator"
)

// AuthHandler handles the login-code exchange.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login godoc
// POST /api/v1/auth/login
// Exchanges a single-use login code for a participant token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	identity, err := h.authService.Login(c.Request.Context(), req.LoginCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidLoginCode):
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidLoginCode)
		case errors.Is(err, service.ErrLoginCodeUsed):
			response.Fail(c, http.StatusConflict, response.ErrLoginCodeUsed)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, identity)
}
