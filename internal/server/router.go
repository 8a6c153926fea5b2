package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pollster/internal/auth"
	"github.com/MarcoPoloResearchLab/pollster/internal/metrics"
	"github.com/MarcoPoloResearchLab/pollster/internal/polls"
	"github.com/MarcoPoloResearchLab/pollster/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "pollster_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingPollsService  = errors.New("polls service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type Dependencies struct {
	TokenManager *auth.TokenIssuer
	UsersService *users.Service
	PollsService *polls.Service
	Realtime     *RealtimeDispatcher
	Metrics      *metrics.Recorder
	Logger       *zap.Logger
}

// tokenManager is the subset of auth.TokenIssuer the handlers rely on.
type tokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.PollsService == nil {
		return nil, errMissingPollsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		usersService: deps.UsersService,
		pollsService: deps.PollsService,
		realtime:     realtime,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	router.GET("/polls", handler.handleListPolls)
	router.GET("/polls/:pollID", handler.handleGetPoll)
	router.GET("/polls/:pollID/results", handler.handleGetResults)
	router.GET("/polls/:pollID/events", handler.handleResultsStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleGetProfile)
	protected.PATCH("/me", handler.handleUpdateProfile)
	protected.POST("/polls", handler.handleCreatePoll)
	protected.PATCH("/polls/:pollID", handler.handleUpdatePoll)
	protected.DELETE("/polls/:pollID", handler.handleDeletePoll)
	protected.POST("/polls/:pollID/votes", handler.handleCastVote)
	protected.GET("/polls/:pollID/eligibility", handler.handleEligibility)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens       tokenManager
	usersService *users.Service
	pollsService *polls.Service
	realtime     *RealtimeDispatcher
	logger       *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
