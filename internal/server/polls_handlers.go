package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pollster/internal/polls"
	"github.com/gin-gonic/gin"
)

type optionRequestPayload struct {
	Text      string   `json:"text"`
	ImageURLs []string `json:"image_urls"`
}

type createPollRequestPayload struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	EndsAt      *time.Time             `json:"ends_at"`
	Options     []optionRequestPayload `json:"options"`
}

type updatePollRequestPayload struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	EndsAt      *time.Time `json:"ends_at"`
	ClearEndsAt bool       `json:"clear_ends_at"`
	IsActive    *bool      `json:"is_active"`
}

type castVoteRequestPayload struct {
	OptionID string `json:"option_id"`
}

type pollPayload struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	CreatorID   string          `json:"creator_id"`
	EndsAt      *time.Time      `json:"ends_at,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Options     []optionPayload `json:"options,omitempty"`
}

type optionPayload struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Position  int      `json:"position"`
}

type votePayload struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	OptionID  string    `json:"option_id"`
	VoteDay   string    `json:"vote_day"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *httpHandler) handleCreatePoll(c *gin.Context) {
	var request createPollRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "request body must be a JSON object")
		return
	}

	options := make([]polls.OptionInput, 0, len(request.Options))
	for _, option := range request.Options {
		options = append(options, polls.OptionInput{Text: option.Text, ImageURLs: option.ImageURLs})
	}
	detail, err := h.pollsService.CreatePoll(c.Request.Context(), c.GetString(userIDContextKey), polls.CreatePollInput{
		Title:       request.Title,
		Description: request.Description,
		EndsAt:      request.EndsAt,
		Options:     options,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPollPayload(detail.Poll, detail.Options))
}

func (h *httpHandler) handleListPolls(c *gin.Context) {
	filter := polls.ListPollsFilter{CreatorID: c.Query("creator_id")}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeInvalidRequest(c, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}
	for name, target := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeInvalidRequest(c, name+" must be a non-negative integer")
			return
		}
		*target = value
	}

	found, err := h.pollsService.ListPolls(c.Request.Context(), filter)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	response := make([]pollPayload, 0, len(found))
	for _, poll := range found {
		response = append(response, toPollPayload(poll, nil))
	}
	c.JSON(http.StatusOK, gin.H{"polls": response})
}

func (h *httpHandler) handleGetPoll(c *gin.Context) {
	detail, err := h.pollsService.GetPoll(c.Request.Context(), c.Param("pollID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPollPayload(detail.Poll, detail.Options))
}

func (h *httpHandler) handleUpdatePoll(c *gin.Context) {
	var request updatePollRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "request body must be a JSON object")
		return
	}

	updated, err := h.pollsService.UpdatePoll(c.Request.Context(), c.GetString(userIDContextKey), c.Param("pollID"), polls.UpdatePollInput{
		Title:       request.Title,
		Description: request.Description,
		EndsAt:      request.EndsAt,
		ClearEndsAt: request.ClearEndsAt,
		IsActive:    request.IsActive,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPollPayload(updated, nil))
}

func (h *httpHandler) handleDeletePoll(c *gin.Context) {
	if err := h.pollsService.DeletePoll(c.Request.Context(), c.GetString(userIDContextKey), c.Param("pollID")); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	var request castVoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeInvalidRequest(c, "request body must be a JSON object")
		return
	}

	record, err := h.pollsService.CastVote(c.Request.Context(), c.GetString(userIDContextKey), c.Param("pollID"), request.OptionID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, votePayload{
		ID:        record.ID,
		PollID:    record.PollID,
		OptionID:  record.OptionID,
		VoteDay:   record.VoteDay,
		CreatedAt: record.CreatedAt,
	})
}

func (h *httpHandler) handleEligibility(c *gin.Context) {
	canVote, err := h.pollsService.CanVoteToday(c.Request.Context(), c.GetString(userIDContextKey), c.Param("pollID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_vote": canVote})
}

func (h *httpHandler) handleGetResults(c *gin.Context) {
	view, err := h.pollsService.GetResults(c.Request.Context(), c.Param("pollID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func toPollPayload(poll polls.Poll, options []polls.PollOption) pollPayload {
	payload := pollPayload{
		ID:          poll.ID,
		Title:       poll.Title,
		Description: poll.Description,
		CreatorID:   poll.CreatorID,
		EndsAt:      poll.EndsAt,
		IsActive:    poll.IsActive,
		CreatedAt:   poll.CreatedAt,
		UpdatedAt:   poll.UpdatedAt,
	}
	for _, option := range options {
		payload.Options = append(payload.Options, optionPayload{
			ID:        option.ID,
			Text:      option.Text,
			ImageURLs: option.ImageURLs,
			Position:  option.Position,
		})
	}
	return payload
}
