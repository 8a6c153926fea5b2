package polls

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/pollster/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMarkerTTL          = 25 * time.Hour
	defaultResultsTTL         = 5 * time.Minute
	defaultTransactionTimeout = 5 * time.Second
)

var noOpLogger = zap.NewNop()

type IDProvider interface {
	NewID() (string, error)
}

// MetricsRecorder receives vote and results-cache observations.
type MetricsRecorder interface {
	ObserveVote(outcome string, seconds float64)
	ObserveResultsCache(hit bool)
}

// ResultsNotifier is told when a poll's tally may have changed.
type ResultsNotifier interface {
	PublishResultsChanged(pollID string, at time.Time)
}

type ServiceConfig struct {
	Database           *gorm.DB
	Cache              cache.Cache
	Clock              func() time.Time
	IDProvider         IDProvider
	Logger             *zap.Logger
	Metrics            MetricsRecorder
	Notifier           ResultsNotifier
	MarkerTTL          time.Duration
	ResultsTTL         time.Duration
	TransactionTimeout time.Duration
}

// Service implements poll management, vote admission and result aggregation over a gorm
// store and an advisory cache.
type Service struct {
	db         *gorm.DB
	cache      cache.Cache
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	metrics    MetricsRecorder
	notifier   ResultsNotifier
	markerTTL  time.Duration
	resultsTTL time.Duration
	txTimeout  time.Duration
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, nil, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, nil, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	markerTTL := cfg.MarkerTTL
	if markerTTL <= 0 {
		markerTTL = defaultMarkerTTL
	}
	resultsTTL := cfg.ResultsTTL
	if resultsTTL <= 0 {
		resultsTTL = defaultResultsTTL
	}
	txTimeout := cfg.TransactionTimeout
	if txTimeout <= 0 {
		txTimeout = defaultTransactionTimeout
	}

	return &Service{
		db:         cfg.Database,
		cache:      cfg.Cache,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		metrics:    cfg.Metrics,
		notifier:   cfg.Notifier,
		markerTTL:  markerTTL,
		resultsTTL: resultsTTL,
		txTimeout:  txTimeout,
	}, nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) cacheOrNop() cache.Cache {
	if s.cache == nil {
		return cache.NewNop()
	}
	return s.cache
}

// loadPoll fetches a poll, mapping absence to ErrNotFound and any other failure to ErrTransient.
func (s *Service) loadPoll(ctx context.Context, db *gorm.DB, operation, pollID string) (Poll, error) {
	var poll Poll
	err := db.WithContext(ctx).Where("id = ?", pollID).Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Poll{}, newServiceError(operation, reasonPollNotFound, ErrNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonPollLookupFailed, err, zap.String("poll_id", pollID))
		return Poll{}, newServiceError(operation, reasonPollLookupFailed, ErrTransient, err)
	}
	return poll, nil
}

func (s *Service) invalidateResults(ctx context.Context, pollID string) {
	s.cacheOrNop().Delete(ctx, resultsKey(pollID))
}

func (s *Service) notifyResultsChanged(pollID string, at time.Time) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishResultsChanged(pollID, at)
}

func (s *Service) observeVote(outcome string, seconds float64) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveVote(outcome, seconds)
}

func (s *Service) observeResultsCache(hit bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveResultsCache(hit)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("polls service error", attrs...)
}
