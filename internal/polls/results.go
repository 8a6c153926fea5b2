package polls

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type optionVoteCount struct {
	OptionID string `gorm:"column:option_id"`
	Votes    int64  `gorm:"column:votes"`
}

// GetResults returns the poll's tally. A cached snapshot is returned as-is; on a miss the
// counts are read live from poll_votes, never from the option counters, and cached.
func (s *Service) GetResults(ctx context.Context, pollID string) (PollResultView, error) {
	if s.db == nil {
		s.logError(opGetResults, reasonMissingDatabase, errMissingDatabase)
		return PollResultView{}, newServiceError(opGetResults, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}
	pollID = normalize(pollID)
	if !validIdentifier(pollID) {
		return PollResultView{}, newServiceError(opGetResults, reasonPollNotFound, ErrNotFound, errMissingPollID)
	}

	key := resultsKey(pollID)
	if raw, ok := s.cacheOrNop().Get(ctx, key); ok {
		var cached PollResultView
		err := json.Unmarshal(raw, &cached)
		if err == nil {
			s.observeResultsCache(true)
			return cached, nil
		}
		s.loggerOrDefault().Warn("discarding undecodable results snapshot",
			zap.String("poll_id", pollID),
			zap.Error(err))
		s.cacheOrNop().Delete(ctx, key)
	}
	s.observeResultsCache(false)

	var (
		poll    Poll
		options []PollOption
		counts  []optionVoteCount
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadPoll(ctx, tx, opGetResults, pollID)
		if err != nil {
			return err
		}
		poll = loaded
		if err := tx.Where("poll_id = ?", pollID).Order("position ASC").Find(&options).Error; err != nil {
			return err
		}
		return tx.Model(&VoteRecord{}).
			Select("option_id, COUNT(*) AS votes").
			Where("poll_id = ?", pollID).
			Group("option_id").
			Scan(&counts).Error
	})
	if err != nil {
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			return PollResultView{}, err
		}
		s.logError(opGetResults, reasonTallyQueryFailed, err, zap.String("poll_id", pollID))
		return PollResultView{}, newServiceError(opGetResults, reasonTallyQueryFailed, ErrTransient, err)
	}

	view := buildResultView(poll, options, counts, s.now())
	if encoded, err := json.Marshal(view); err == nil {
		s.cacheOrNop().SetWithExpiry(ctx, key, encoded, s.resultsTTL)
	}
	return view, nil
}

func buildResultView(poll Poll, options []PollOption, counts []optionVoteCount, computedAt time.Time) PollResultView {
	votesByOption := make(map[string]int64, len(counts))
	for _, count := range counts {
		votesByOption[count.OptionID] = count.Votes
	}

	view := PollResultView{
		PollID:      poll.ID,
		Title:       poll.Title,
		Description: poll.Description,
		IsActive:    poll.IsActive,
		EndsAt:      poll.EndsAt,
		Options:     make([]OptionResult, 0, len(options)),
		ComputedAt:  computedAt,
	}
	for _, option := range options {
		view.TotalVotes += votesByOption[option.ID]
	}
	for _, option := range options {
		votes := votesByOption[option.ID]
		view.Options = append(view.Options, OptionResult{
			OptionID:   option.ID,
			Text:       option.Text,
			ImageURLs:  option.ImageURLs,
			Votes:      votes,
			Percentage: percentage(votes, view.TotalVotes),
		})
	}
	return view
}

func percentage(votes, total int64) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(votes) / float64(total) * 100))
}
