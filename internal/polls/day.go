package polls

import "time"

const voteDayLayout = "2006-01-02"

const (
	voteMarkerKeyPrefix = "pollster:vote-marker:"
	resultsKeyPrefix    = "pollster:results:"
)

// VoteDay is the calendar day a vote at t counts against: the UTC date. It is the only day
// derivation used for the stored vote_day column, every "voted today" query and marker keys.
func VoteDay(t time.Time) string {
	return t.UTC().Format(voteDayLayout)
}

func voteMarkerKey(pollID, voterID, day string) string {
	return voteMarkerKeyPrefix + pollID + ":" + voterID + ":" + day
}

func resultsKey(pollID string) string {
	return resultsKeyPrefix + pollID
}

// checkPollOpen returns the failure reason and kind when votes are not accepted at now.
// An end time equal to now counts as ended.
func checkPollOpen(poll Poll, now time.Time) (string, error) {
	if !poll.IsActive {
		return reasonPollInactive, ErrPollInactive
	}
	if poll.EndsAt != nil && !poll.EndsAt.After(now) {
		return reasonPollEnded, ErrPollEnded
	}
	return "", nil
}
