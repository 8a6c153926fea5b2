package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/pollster/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateProfileRequestPayload struct {
	DisplayName *string `json:"display_name"`
	Password    *string `json:"password"`
}

type userPayload struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type authResponsePayload struct {
	User        userPayload `json:"user"`
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "request body must be a JSON object")
		return
	}

	user, err := h.usersService.Register(c.Request.Context(), users.RegisterInput{
		Email:       request.Email,
		DisplayName: request.DisplayName,
		Password:    request.Password,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "request body must be a JSON object")
		return
	}

	user, err := h.usersService.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	user, err := h.usersService.Get(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserPayload(user))
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request updateProfileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "request body must be a JSON object")
		return
	}

	user, err := h.usersService.UpdateProfile(c.Request.Context(), c.GetString(userIDContextKey), users.UpdateProfileInput{
		DisplayName: request.DisplayName,
		Password:    request.Password,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserPayload(user))
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		User:        toUserPayload(user),
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func toUserPayload(user users.User) userPayload {
	return userPayload{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}
