package polls

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the poll (or a referenced record) does not exist.
	ErrNotFound = errors.New("polls: not found")
	// ErrPollInactive indicates the poll has been deactivated by its creator.
	ErrPollInactive = errors.New("polls: poll is not active")
	// ErrPollEnded indicates the poll end time is not in the future.
	ErrPollEnded = errors.New("polls: poll has ended")
	// ErrInvalidOption indicates the option does not belong to the poll.
	ErrInvalidOption = errors.New("polls: invalid option")
	// ErrAlreadyVotedToday indicates the voter already has a vote on the poll for the current day.
	ErrAlreadyVotedToday = errors.New("polls: already voted today")
	// ErrForbidden indicates the actor is not the poll creator.
	ErrForbidden = errors.New("polls: only the creator may modify this poll")
	// ErrInvalidInput indicates malformed caller input.
	ErrInvalidInput = errors.New("polls: invalid input")
	// ErrTransient indicates the store could not complete the operation; retrying is safe.
	ErrTransient = errors.New("polls: store unavailable")
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingVoterID    = errors.New("voter identifier is required")
	errMissingPollID     = errors.New("poll identifier is required")
	errMissingOptionID   = errors.New("option identifier is required")
	errMissingCreatorID  = errors.New("creator identifier is required")
	errVoteExists        = errors.New("vote already recorded for this day")
	errDuplicateVote     = errors.New("vote uniqueness constraint violated")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "polls.service.new"
	opCastVote     = "polls.cast_vote"
	opCanVoteToday = "polls.can_vote_today"
	opGetResults   = "polls.get_results"
	opCreatePoll   = "polls.create_poll"
	opGetPoll      = "polls.get_poll"
	opListPolls    = "polls.list_polls"
	opUpdatePoll   = "polls.update_poll"
	opDeletePoll   = "polls.delete_poll"
)

const (
	reasonMissingDatabase        = "missing_database"
	reasonMissingIDProvider      = "missing_id_provider"
	reasonInvalidInput           = "invalid_input"
	reasonPollNotFound           = "poll_not_found"
	reasonPollLookupFailed       = "poll_lookup_failed"
	reasonPollInactive           = "poll_inactive"
	reasonPollEnded              = "poll_ended"
	reasonInvalidOption          = "invalid_option"
	reasonOptionLookupFailed     = "option_lookup_failed"
	reasonAlreadyVotedCache      = "already_voted_cache"
	reasonAlreadyVotedStore      = "already_voted_store"
	reasonAlreadyVotedConstraint = "already_voted_constraint"
	reasonIDGenerationFailed     = "id_generation_failed"
	reasonVoteTransactionFailed  = "vote_transaction_failed"
	reasonVoteLookupFailed       = "vote_lookup_failed"
	reasonTallyQueryFailed       = "tally_query_failed"
	reasonInsertFailed           = "insert_failed"
	reasonQueryFailed            = "query_failed"
	reasonUpdateFailed           = "update_failed"
	reasonDeleteFailed           = "delete_failed"
	reasonForbidden              = "forbidden"
)

// newServiceError builds a ServiceError whose chain unwraps to kind and, when present, cause.
func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	var wrapped error
	switch {
	case kind != nil && cause != nil:
		wrapped = fmt.Errorf("%w: %w", kind, cause)
	case kind != nil:
		wrapped = kind
	default:
		wrapped = cause
	}
	return &ServiceError{code: code, err: wrapped}
}

func invalidInput(operation, message string) error {
	return newServiceError(operation, reasonInvalidInput, ErrInvalidInput, errors.New(message))
}

// isDuplicateKey reports whether err is a uniqueness violation. gorm translates driver
// errors when TranslateError is enabled; the string checks cover handles opened without it.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate entry") ||
		strings.Contains(message, "duplicate key")
}
