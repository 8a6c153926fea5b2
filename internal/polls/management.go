package polls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreatePoll validates input and stores the poll together with its options in one transaction.
func (s *Service) CreatePoll(ctx context.Context, creatorID string, input CreatePollInput) (PollDetail, error) {
	if s.db == nil {
		s.logError(opCreatePoll, reasonMissingDatabase, errMissingDatabase)
		return PollDetail{}, newServiceError(opCreatePoll, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}
	if s.idProvider == nil {
		s.logError(opCreatePoll, reasonMissingIDProvider, errMissingIDProvider)
		return PollDetail{}, newServiceError(opCreatePoll, reasonMissingIDProvider, ErrTransient, errMissingIDProvider)
	}
	creatorID = normalize(creatorID)
	if !validIdentifier(creatorID) {
		return PollDetail{}, newServiceError(opCreatePoll, reasonInvalidInput, ErrInvalidInput, errMissingCreatorID)
	}

	now := s.now()
	if err := validateCreateInput(input, now); err != nil {
		return PollDetail{}, err
	}

	pollID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePoll, reasonIDGenerationFailed, err)
		return PollDetail{}, newServiceError(opCreatePoll, reasonIDGenerationFailed, ErrTransient, err)
	}

	poll := Poll{
		ID:          pollID,
		Title:       normalize(input.Title),
		Description: normalize(input.Description),
		CreatorID:   creatorID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.EndsAt != nil {
		endsAt := input.EndsAt.UTC()
		poll.EndsAt = &endsAt
	}

	options := make([]PollOption, 0, len(input.Options))
	for index, optionInput := range input.Options {
		optionID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreatePoll, reasonIDGenerationFailed, err)
			return PollDetail{}, newServiceError(opCreatePoll, reasonIDGenerationFailed, ErrTransient, err)
		}
		options = append(options, PollOption{
			ID:        optionID,
			PollID:    pollID,
			Text:      normalize(optionInput.Text),
			ImageURLs: normalizeImageURLs(optionInput.ImageURLs),
			Position:  index,
		})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&poll).Error; err != nil {
			return err
		}
		return tx.Create(&options).Error
	})
	if txErr != nil {
		s.logError(opCreatePoll, reasonInsertFailed, txErr, zap.String("creator_id", creatorID))
		return PollDetail{}, newServiceError(opCreatePoll, reasonInsertFailed, ErrTransient, txErr)
	}

	s.loggerOrDefault().Info("poll created",
		zap.String("poll_id", pollID),
		zap.String("creator_id", creatorID),
		zap.Int("options", len(options)))

	return PollDetail{Poll: poll, Options: options}, nil
}

// GetPoll returns the poll and its options ordered by position.
func (s *Service) GetPoll(ctx context.Context, pollID string) (PollDetail, error) {
	if s.db == nil {
		s.logError(opGetPoll, reasonMissingDatabase, errMissingDatabase)
		return PollDetail{}, newServiceError(opGetPoll, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}
	pollID = normalize(pollID)
	if !validIdentifier(pollID) {
		return PollDetail{}, newServiceError(opGetPoll, reasonPollNotFound, ErrNotFound, errMissingPollID)
	}

	poll, err := s.loadPoll(ctx, s.db, opGetPoll, pollID)
	if err != nil {
		return PollDetail{}, err
	}
	var options []PollOption
	if err := s.db.WithContext(ctx).Where("poll_id = ?", pollID).Order("position ASC").Find(&options).Error; err != nil {
		s.logError(opGetPoll, reasonQueryFailed, err, zap.String("poll_id", pollID))
		return PollDetail{}, newServiceError(opGetPoll, reasonQueryFailed, ErrTransient, err)
	}
	return PollDetail{Poll: poll, Options: options}, nil
}

// ListPolls returns polls newest first.
func (s *Service) ListPolls(ctx context.Context, filter ListPollsFilter) ([]Poll, error) {
	if s.db == nil {
		s.logError(opListPolls, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListPolls, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&Poll{})
	if creatorID := normalize(filter.CreatorID); creatorID != "" {
		query = query.Where("creator_id = ?", creatorID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true).
			Where("ends_at IS NULL OR ends_at > ?", s.now())
	}

	var polls []Poll
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&polls).Error; err != nil {
		s.logError(opListPolls, reasonQueryFailed, err)
		return nil, newServiceError(opListPolls, reasonQueryFailed, ErrTransient, err)
	}
	return polls, nil
}

// UpdatePoll applies creator-only edits and drops the cached result snapshot.
func (s *Service) UpdatePoll(ctx context.Context, actorID, pollID string, input UpdatePollInput) (Poll, error) {
	if s.db == nil {
		s.logError(opUpdatePoll, reasonMissingDatabase, errMissingDatabase)
		return Poll{}, newServiceError(opUpdatePoll, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}
	actorID = normalize(actorID)
	pollID = normalize(pollID)
	if !validIdentifier(pollID) {
		return Poll{}, newServiceError(opUpdatePoll, reasonPollNotFound, ErrNotFound, errMissingPollID)
	}

	updates, err := buildPollUpdates(input)
	if err != nil {
		return Poll{}, err
	}

	var updated Poll
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := s.loadPoll(ctx, tx, opUpdatePoll, pollID)
		if err != nil {
			return err
		}
		if poll.CreatorID != actorID {
			return newServiceError(opUpdatePoll, reasonForbidden, ErrForbidden, nil)
		}
		if len(updates) > 0 {
			updates["updated_at"] = s.now()
			if err := tx.Model(&Poll{}).Where("id = ?", pollID).Updates(updates).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", pollID).Take(&updated).Error
	})
	if txErr != nil {
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return Poll{}, txErr
		}
		s.logError(opUpdatePoll, reasonUpdateFailed, txErr, zap.String("poll_id", pollID))
		return Poll{}, newServiceError(opUpdatePoll, reasonUpdateFailed, ErrTransient, txErr)
	}

	s.invalidateResults(context.WithoutCancel(ctx), pollID)
	s.notifyResultsChanged(pollID, s.now())
	return updated, nil
}

// DeletePoll removes the poll, its options and all of its vote records.
func (s *Service) DeletePoll(ctx context.Context, actorID, pollID string) error {
	if s.db == nil {
		s.logError(opDeletePoll, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(opDeletePoll, reasonMissingDatabase, ErrTransient, errMissingDatabase)
	}
	actorID = normalize(actorID)
	pollID = normalize(pollID)
	if !validIdentifier(pollID) {
		return newServiceError(opDeletePoll, reasonPollNotFound, ErrNotFound, errMissingPollID)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := s.loadPoll(ctx, tx, opDeletePoll, pollID)
		if err != nil {
			return err
		}
		if poll.CreatorID != actorID {
			return newServiceError(opDeletePoll, reasonForbidden, ErrForbidden, nil)
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&VoteRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&PollOption{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", pollID).Delete(&Poll{}).Error
	})
	if txErr != nil {
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return txErr
		}
		s.logError(opDeletePoll, reasonDeleteFailed, txErr, zap.String("poll_id", pollID))
		return newServiceError(opDeletePoll, reasonDeleteFailed, ErrTransient, txErr)
	}

	s.invalidateResults(context.WithoutCancel(ctx), pollID)
	s.loggerOrDefault().Info("poll deleted", zap.String("poll_id", pollID), zap.String("actor_id", actorID))
	return nil
}

func validateCreateInput(input CreatePollInput, now time.Time) error {
	title := normalize(input.Title)
	if title == "" {
		return invalidInput(opCreatePoll, "title is required")
	}
	if len(title) > maxTitleLength {
		return invalidInput(opCreatePoll, fmt.Sprintf("title exceeds %d characters", maxTitleLength))
	}
	if input.EndsAt != nil && !input.EndsAt.After(now) {
		return invalidInput(opCreatePoll, "end time must be in the future")
	}
	if len(input.Options) < minOptionsPerPoll || len(input.Options) > maxOptionsPerPoll {
		return invalidInput(opCreatePoll, fmt.Sprintf("a poll needs between %d and %d options", minOptionsPerPoll, maxOptionsPerPoll))
	}
	for index, option := range input.Options {
		text := normalize(option.Text)
		if text == "" {
			return invalidInput(opCreatePoll, fmt.Sprintf("option %d text is required", index+1))
		}
		if len(text) > maxOptionTextLength {
			return invalidInput(opCreatePoll, fmt.Sprintf("option %d text exceeds %d characters", index+1, maxOptionTextLength))
		}
		if len(normalizeImageURLs(option.ImageURLs)) > maxImagesPerOption {
			return invalidInput(opCreatePoll, fmt.Sprintf("option %d has more than %d images", index+1, maxImagesPerOption))
		}
	}
	return nil
}

func buildPollUpdates(input UpdatePollInput) (map[string]any, error) {
	updates := map[string]any{}
	if input.Title != nil {
		title := normalize(*input.Title)
		if title == "" {
			return nil, invalidInput(opUpdatePoll, "title cannot be empty")
		}
		if len(title) > maxTitleLength {
			return nil, invalidInput(opUpdatePoll, fmt.Sprintf("title exceeds %d characters", maxTitleLength))
		}
		updates["title"] = title
	}
	if input.Description != nil {
		updates["description"] = normalize(*input.Description)
	}
	if input.ClearEndsAt && input.EndsAt != nil {
		return nil, invalidInput(opUpdatePoll, "end time cannot be set and cleared together")
	}
	if input.ClearEndsAt {
		updates["ends_at"] = nil
	}
	if input.EndsAt != nil {
		updates["ends_at"] = input.EndsAt.UTC()
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}
	return updates, nil
}

// normalizeImageURLs trims references and drops blanks. References are otherwise opaque.
func normalizeImageURLs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := normalize(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
