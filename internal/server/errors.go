package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/pollster/internal/polls"
	"github.com/MarcoPoloResearchLab/pollster/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type codedError interface {
	Code() string
}

type errorMapping struct {
	kind   error
	status int
	label  string
}

var errorMappings = []errorMapping{
	{kind: polls.ErrNotFound, status: http.StatusNotFound, label: "not_found"},
	{kind: users.ErrNotFound, status: http.StatusNotFound, label: "not_found"},
	{kind: polls.ErrPollInactive, status: http.StatusBadRequest, label: "poll_inactive"},
	{kind: polls.ErrPollEnded, status: http.StatusBadRequest, label: "poll_ended"},
	{kind: polls.ErrInvalidOption, status: http.StatusBadRequest, label: "invalid_option"},
	{kind: polls.ErrInvalidInput, status: http.StatusBadRequest, label: "invalid_input"},
	{kind: users.ErrInvalidInput, status: http.StatusBadRequest, label: "invalid_input"},
	{kind: polls.ErrForbidden, status: http.StatusForbidden, label: "forbidden"},
	{kind: polls.ErrAlreadyVotedToday, status: http.StatusTooManyRequests, label: "already_voted_today"},
	{kind: users.ErrEmailTaken, status: http.StatusConflict, label: "email_taken"},
	{kind: users.ErrInvalidCredentials, status: http.StatusUnauthorized, label: "invalid_credentials"},
}

// writeServiceError maps a domain error onto its status and the {"error","code","message"} body.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	label := "internal_error"
	message := "the request could not be completed; retry later"
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.kind) {
			status = mapping.status
			label = mapping.label
			message = err.Error()
			break
		}
	}

	body := gin.H{"error": label, "message": message}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func writeInvalidRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}
