package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pollster/internal/auth"
	"github.com/MarcoPoloResearchLab/pollster/internal/cache"
	"github.com/MarcoPoloResearchLab/pollster/internal/config"
	"github.com/MarcoPoloResearchLab/pollster/internal/database"
	"github.com/MarcoPoloResearchLab/pollster/internal/metrics"
	"github.com/MarcoPoloResearchLab/pollster/internal/polls"
	"github.com/MarcoPoloResearchLab/pollster/internal/server"
	"github.com/MarcoPoloResearchLab/pollster/internal/users"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	integrationSigningSecret = "integration-secret"
	jsonContentType          = "application/json"
)

type harness struct {
	server   *httptest.Server
	redis    *miniredis.Miniredis
}

func newHarness(testContext *testing.T) harness {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	configViper := config.NewViper()
	configViper.Set("auth.signing_secret", integrationSigningSecret)
	configViper.Set("database.path", filepath.Join(testContext.TempDir(), "integration.db"))
	configViper.Set("cache.driver", config.CacheDriverRedis)
	redisServer := miniredis.RunT(testContext)
	configViper.Set("cache.address", redisServer.Addr())
	appConfig, err := config.Load(configViper)
	require.NoError(testContext, err)

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
	}, zap.NewNop())
	require.NoError(testContext, err)
	testContext.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	recorder := metrics.NewRecorder()
	redisCache, err := cache.NewRedis(cache.RedisConfig{
		Address:   appConfig.CacheAddress,
		OnFailure: recorder.ObserveCacheFailure,
	})
	require.NoError(testContext, err)
	testContext.Cleanup(func() {
		_ = redisCache.Close()
	})

	dispatcher := server.NewRealtimeDispatcher()
	pollsService, err := polls.NewService(polls.ServiceConfig{
		Database:           db,
		Cache:              redisCache,
		IDProvider:         polls.NewUUIDProvider(),
		Metrics:            recorder,
		Notifier:           dispatcher,
		MarkerTTL:          appConfig.MarkerTTL,
		ResultsTTL:         appConfig.ResultsTTL,
		TransactionTimeout: appConfig.TransactionTimeout,
	})
	require.NoError(testContext, err)

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		PasswordParams: &users.Argon2idParams{
			Memory:      1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
	})
	require.NoError(testContext, err)

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	require.NoError(testContext, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenIssuer,
		UsersService: usersService,
		PollsService: pollsService,
		Realtime:     dispatcher,
		Metrics:      recorder,
		Logger:       zap.NewNop(),
	})
	require.NoError(testContext, err)

	httpServer := httptest.NewServer(handler)
	testContext.Cleanup(httpServer.Close)
	return harness{server: httpServer, redis: redisServer}
}

func (h harness) call(testContext *testing.T, method, path, token string, body any, out any) int {
	testContext.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(testContext, err)
		payload = encoded
	}
	request, err := http.NewRequest(method, h.server.URL+path, bytes.NewReader(payload))
	require.NoError(testContext, err)
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(testContext, err)
	defer response.Body.Close()
	if out != nil && response.StatusCode != http.StatusNoContent {
		require.NoError(testContext, json.NewDecoder(response.Body).Decode(out))
	}
	return response.StatusCode
}

func (h harness) register(testContext *testing.T, email string) string {
	testContext.Helper()
	var response struct {
		AccessToken string `json:"access_token"`
	}
	status := h.call(testContext, http.MethodPost, "/auth/register", "", map[string]string{
		"email":        email,
		"display_name": strings.Split(email, "@")[0],
		"password":     "integration-password",
	}, &response)
	require.Equal(testContext, http.StatusCreated, status)
	require.NotEmpty(testContext, response.AccessToken)
	return response.AccessToken
}

func (h harness) scrape(testContext *testing.T) string {
	testContext.Helper()
	response, err := http.Get(h.server.URL + "/metrics")
	require.NoError(testContext, err)
	defer response.Body.Close()
	require.Equal(testContext, http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	require.NoError(testContext, err)
	return string(body)
}

type pollResponse struct {
	ID      string `json:"id"`
	Options []struct {
		ID string `json:"id"`
	} `json:"options"`
}

func TestVoteFlowWithRedisCache(testContext *testing.T) {
	h := newHarness(testContext)
	creator := h.register(testContext, "creator@example.com")
	voter := h.register(testContext, "voter@example.com")

	var poll pollResponse
	status := h.call(testContext, http.MethodPost, "/polls", creator, map[string]any{
		"title":   "Best editor",
		"ends_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"options": []map[string]any{{"text": "vim"}, {"text": "emacs"}, {"text": "nano"}},
	}, &poll)
	require.Equal(testContext, http.StatusCreated, status)
	require.Len(testContext, poll.Options, 3)

	var results polls.PollResultView
	require.Equal(testContext, http.StatusOK, h.call(testContext, http.MethodGet, "/polls/"+poll.ID+"/results", "", nil, &results))
	require.True(testContext, h.redis.Exists("pollster:results:"+poll.ID), "expected results snapshot in redis")

	require.Equal(testContext, http.StatusCreated, h.call(testContext, http.MethodPost, "/polls/"+poll.ID+"/votes", voter, map[string]string{"option_id": poll.Options[2].ID}, nil))
	require.False(testContext, h.redis.Exists("pollster:results:"+poll.ID), "expected results snapshot to be invalidated")

	markerKeys := h.redis.Keys()
	hasMarker := false
	for _, key := range markerKeys {
		if strings.HasPrefix(key, "pollster:vote-marker:"+poll.ID+":") && strings.HasSuffix(key, ":"+polls.VoteDay(time.Now())) {
			hasMarker = true
			require.LessOrEqual(testContext, h.redis.TTL(key), 25*time.Hour)
		}
	}
	require.True(testContext, hasMarker, "expected a vote marker in redis, got keys %v", markerKeys)

	var rejection map[string]string
	require.Equal(testContext, http.StatusTooManyRequests, h.call(testContext, http.MethodPost, "/polls/"+poll.ID+"/votes", voter, map[string]string{"option_id": poll.Options[0].ID}, &rejection))
	require.Equal(testContext, "polls.cast_vote.already_voted_cache", rejection["code"])

	require.Equal(testContext, http.StatusOK, h.call(testContext, http.MethodGet, "/polls/"+poll.ID+"/results", "", nil, &results))
	require.EqualValues(testContext, 1, results.TotalVotes)
	require.EqualValues(testContext, 1, results.Options[2].Votes)
	require.Equal(testContext, 100, results.Options[2].Percentage)

	exposition := h.scrape(testContext)
	require.Contains(testContext, exposition, `pollster_vote_outcomes_total{outcome="accepted"} 1`)
	require.Contains(testContext, exposition, `pollster_vote_outcomes_total{outcome="already_voted_today"} 1`)
}

func TestVoteFlowSurvivesRedisOutage(testContext *testing.T) {
	h := newHarness(testContext)
	creator := h.register(testContext, "owner@example.com")
	voter := h.register(testContext, "resilient@example.com")

	var poll pollResponse
	require.Equal(testContext, http.StatusCreated, h.call(testContext, http.MethodPost, "/polls", creator, map[string]any{
		"title":   "Outage",
		"options": []map[string]any{{"text": "up"}, {"text": "down"}},
	}, &poll))

	h.redis.Close()

	require.Equal(testContext, http.StatusCreated, h.call(testContext, http.MethodPost, "/polls/"+poll.ID+"/votes", voter, map[string]string{"option_id": poll.Options[1].ID}, nil))

	var rejection map[string]string
	require.Equal(testContext, http.StatusTooManyRequests, h.call(testContext, http.MethodPost, "/polls/"+poll.ID+"/votes", voter, map[string]string{"option_id": poll.Options[0].ID}, &rejection))
	require.Equal(testContext, "polls.cast_vote.already_voted_store", rejection["code"])

	var results polls.PollResultView
	require.Equal(testContext, http.StatusOK, h.call(testContext, http.MethodGet, "/polls/"+poll.ID+"/results", "", nil, &results))
	require.EqualValues(testContext, 1, results.TotalVotes)
	require.Contains(testContext, h.scrape(testContext), `pollster_cache_failures_total{operation="get"}`)
}

func TestConcurrentVotesOverHTTPAdmitOne(testContext *testing.T) {
	h := newHarness(testContext)
	creator := h.register(testContext, "race-owner@example.com")
	voter := h.register(testContext, "racer@example.com")

	var poll pollResponse
	require.Equal(testContext, http.StatusCreated, h.call(testContext, http.MethodPost, "/polls", creator, map[string]any{
		"title":   "Race",
		"options": []map[string]any{{"text": "left"}, {"text": "right"}},
	}, &poll))

	const attempts = 10
	statuses := make(chan int, attempts)
	var wg sync.WaitGroup
	for index := 0; index < attempts; index++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			statuses <- h.call(testContext, http.MethodPost, "/polls/"+poll.ID+"/votes", voter, map[string]string{"option_id": poll.Options[index%2].ID}, nil)
		}(index)
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for status := range statuses {
		counts[status]++
	}
	require.Equal(testContext, 1, counts[http.StatusCreated])
	require.Equal(testContext, attempts-1, counts[http.StatusTooManyRequests])
}
