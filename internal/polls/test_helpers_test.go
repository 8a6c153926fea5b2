package polls

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pollster/internal/cache"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testEpoch = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

type recordingMetrics struct {
	mu          sync.Mutex
	outcomes    []string
	cacheHits   int
	cacheMisses int
}

func (m *recordingMetrics) ObserveVote(outcome string, _ float64) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveResultsCache(hit bool) {
	m.mu.Lock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
	m.mu.Unlock()
}

type recordingNotifier struct {
	mu      sync.Mutex
	pollIDs []string
}

func (n *recordingNotifier) PublishResultsChanged(pollID string, _ time.Time) {
	n.mu.Lock()
	n.pollIDs = append(n.pollIDs, pollID)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pollIDs)
}

type testEnv struct {
	service  *Service
	db       *gorm.DB
	cache    cache.Cache
	clock    *testClock
	metrics  *recordingMetrics
	notifier *recordingNotifier
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "polls.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, voteCache cache.Cache) testEnv {
	t.Helper()
	db := openTestDatabase(t)
	clock := newTestClock(testEpoch)
	metrics := &recordingMetrics{}
	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Cache:      voteCache,
		Clock:      clock.Now,
		IDProvider: NewUUIDProvider(),
		Metrics:    metrics,
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return testEnv{service: service, db: db, cache: voteCache, clock: clock, metrics: metrics, notifier: notifier}
}

func (e testEnv) mustCreatePoll(t *testing.T, creatorID string, optionTexts ...string) PollDetail {
	t.Helper()
	if len(optionTexts) == 0 {
		optionTexts = []string{"Yes", "No"}
	}
	options := make([]OptionInput, 0, len(optionTexts))
	for _, text := range optionTexts {
		options = append(options, OptionInput{Text: text})
	}
	detail, err := e.service.CreatePoll(context.Background(), creatorID, CreatePollInput{
		Title:   "Favourite option",
		Options: options,
	})
	if err != nil {
		t.Fatalf("failed to create poll: %v", err)
	}
	return detail
}

func (e testEnv) countVotes(t *testing.T, pollID string) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&VoteRecord{}).Where("poll_id = ?", pollID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count votes: %v", err)
	}
	return count
}

func errorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
