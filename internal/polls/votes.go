package polls

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const markerValue = "1"

// Vote outcome labels reported to the metrics recorder.
const (
	OutcomeAccepted          = "accepted"
	OutcomeNotFound          = "not_found"
	OutcomePollInactive      = "poll_inactive"
	OutcomePollEnded         = "poll_ended"
	OutcomeInvalidOption     = "invalid_option"
	OutcomeAlreadyVotedToday = "already_voted_today"
	OutcomeInvalidInput      = "invalid_input"
	OutcomeTransient         = "transient"
)

// CastVote admits a single vote for optionID on pollID by voterID.
//
// Preconditions are checked in order: the poll exists, is active, has not ended, the option
// belongs to it, no same-day marker is cached and no same-day vote is stored. The insert and
// the option counter recount run in one transaction; a uniqueness violation on insert is
// reported as ErrAlreadyVotedToday. The marker write and snapshot invalidation that follow a
// commit are best effort.
func (s *Service) CastVote(ctx context.Context, voterID, pollID, optionID string) (VoteRecord, error) {
	started := time.Now()
	record, err := s.castVote(ctx, normalize(voterID), normalize(pollID), normalize(optionID))
	s.observeVote(VoteOutcome(err), time.Since(started).Seconds())
	return record, err
}

func (s *Service) castVote(ctx context.Context, voterID, pollID, optionID string) (VoteRecord, error) {
	if s.db == nil {
		s.logError(opCastVote, reasonMissingDatabase, errMissingDatabase)
		return VoteRecord{}, newServiceError(opCastVote, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}
	if s.idProvider == nil {
		s.logError(opCastVote, reasonMissingIDProvider, errMissingIDProvider)
		return VoteRecord{}, newServiceError(opCastVote, reasonMissingIDProvider, ErrTransient, errMissingIDProvider)
	}
	switch {
	case !validIdentifier(voterID):
		return VoteRecord{}, newServiceError(opCastVote, reasonInvalidInput, ErrInvalidInput, errMissingVoterID)
	case !validIdentifier(pollID):
		return VoteRecord{}, newServiceError(opCastVote, reasonPollNotFound, ErrNotFound, errMissingPollID)
	case !validIdentifier(optionID):
		return VoteRecord{}, newServiceError(opCastVote, reasonInvalidOption, ErrInvalidOption, errMissingOptionID)
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	now := s.now()
	poll, err := s.loadPoll(txCtx, s.db, opCastVote, pollID)
	if err != nil {
		return VoteRecord{}, err
	}
	if reason, kind := checkPollOpen(poll, now); kind != nil {
		return VoteRecord{}, newServiceError(opCastVote, reason, kind, nil)
	}

	var option PollOption
	err = s.db.WithContext(txCtx).Where("id = ? AND poll_id = ?", optionID, pollID).Take(&option).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VoteRecord{}, newServiceError(opCastVote, reasonInvalidOption, ErrInvalidOption, nil)
	}
	if err != nil {
		s.logError(opCastVote, reasonOptionLookupFailed, err, zap.String("poll_id", pollID), zap.String("option_id", optionID))
		return VoteRecord{}, newServiceError(opCastVote, reasonOptionLookupFailed, ErrTransient, err)
	}

	day := VoteDay(now)
	markerKey := voteMarkerKey(pollID, voterID, day)
	if _, marked := s.cacheOrNop().Get(txCtx, markerKey); marked {
		return VoteRecord{}, newServiceError(opCastVote, reasonAlreadyVotedCache, ErrAlreadyVotedToday, nil)
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCastVote, reasonIDGenerationFailed, err)
		return VoteRecord{}, newServiceError(opCastVote, reasonIDGenerationFailed, ErrTransient, err)
	}
	record := VoteRecord{
		ID:        recordID,
		VoterID:   voterID,
		PollID:    pollID,
		OptionID:  optionID,
		VoteDay:   day,
		CreatedAt: now,
	}

	txErr := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		voted, err := hasVotedOn(tx, voterID, pollID, day)
		if err != nil {
			return err
		}
		if voted {
			return errVoteExists
		}
		return persistVote(tx, &record)
	})
	switch {
	case txErr == nil:
	case errors.Is(txErr, errVoteExists):
		// If the marker was lost, restore it so the next attempt is rejected without the store.
		s.cacheOrNop().SetWithExpiry(context.WithoutCancel(ctx), markerKey, []byte(markerValue), s.markerTTL)
		return VoteRecord{}, newServiceError(opCastVote, reasonAlreadyVotedStore, ErrAlreadyVotedToday, nil)
	case errors.Is(txErr, errDuplicateVote):
		return VoteRecord{}, newServiceError(opCastVote, reasonAlreadyVotedConstraint, ErrAlreadyVotedToday, nil)
	default:
		s.logError(opCastVote, reasonVoteTransactionFailed, txErr,
			zap.String("poll_id", pollID),
			zap.String("voter_id", voterID))
		return VoteRecord{}, newServiceError(opCastVote, reasonVoteTransactionFailed, ErrTransient, txErr)
	}

	afterCommit := context.WithoutCancel(ctx)
	s.cacheOrNop().SetWithExpiry(afterCommit, markerKey, []byte(markerValue), s.markerTTL)
	s.invalidateResults(afterCommit, pollID)
	s.notifyResultsChanged(pollID, now)

	s.loggerOrDefault().Info("vote recorded",
		zap.String("poll_id", pollID),
		zap.String("option_id", optionID),
		zap.String("voter_id", voterID),
		zap.String("vote_day", day))

	return record, nil
}

// CanVoteToday reports whether voterID may vote on pollID right now, without side effects.
// Inactive or ended polls yield false; a missing poll yields ErrNotFound.
func (s *Service) CanVoteToday(ctx context.Context, voterID, pollID string) (bool, error) {
	if s.db == nil {
		s.logError(opCanVoteToday, reasonMissingDatabase, errMissingDatabase)
		return false, newServiceError(opCanVoteToday, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}
	voterID = normalize(voterID)
	pollID = normalize(pollID)
	if !validIdentifier(voterID) {
		return false, newServiceError(opCanVoteToday, reasonInvalidInput, ErrInvalidInput, errMissingVoterID)
	}
	if !validIdentifier(pollID) {
		return false, newServiceError(opCanVoteToday, reasonPollNotFound, ErrNotFound, errMissingPollID)
	}

	now := s.now()
	poll, err := s.loadPoll(ctx, s.db, opCanVoteToday, pollID)
	if err != nil {
		return false, err
	}
	if _, kind := checkPollOpen(poll, now); kind != nil {
		return false, nil
	}

	day := VoteDay(now)
	if _, marked := s.cacheOrNop().Get(ctx, voteMarkerKey(pollID, voterID, day)); marked {
		return false, nil
	}

	voted, err := hasVotedOn(s.db.WithContext(ctx), voterID, pollID, day)
	if err != nil {
		s.logError(opCanVoteToday, reasonVoteLookupFailed, err, zap.String("poll_id", pollID))
		return false, newServiceError(opCanVoteToday, reasonVoteLookupFailed, ErrTransient, err)
	}
	return !voted, nil
}

// VoteOutcome maps a CastVote result to its metrics label.
func VoteOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrPollInactive):
		return OutcomePollInactive
	case errors.Is(err, ErrPollEnded):
		return OutcomePollEnded
	case errors.Is(err, ErrInvalidOption):
		return OutcomeInvalidOption
	case errors.Is(err, ErrAlreadyVotedToday):
		return OutcomeAlreadyVotedToday
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalidInput
	default:
		return OutcomeTransient
	}
}

func hasVotedOn(db *gorm.DB, voterID, pollID, day string) (bool, error) {
	var count int64
	err := db.Model(&VoteRecord{}).
		Where("voter_id = ? AND poll_id = ? AND vote_day = ?", voterID, pollID, day).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// persistVote inserts the record and rewrites its option's counter from the stored rows.
func persistVote(tx *gorm.DB, record *VoteRecord) error {
	if err := tx.Create(record).Error; err != nil {
		if isDuplicateKey(err) {
			return errDuplicateVote
		}
		return err
	}
	return recountOption(tx, record.OptionID)
}

func recountOption(tx *gorm.DB, optionID string) error {
	var count int64
	if err := tx.Model(&VoteRecord{}).Where("option_id = ?", optionID).Count(&count).Error; err != nil {
		return err
	}
	return tx.Model(&PollOption{}).Where("id = ?", optionID).Update("vote_count", count).Error
}
