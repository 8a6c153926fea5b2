package polls

import (
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 200
	maxOptionTextLength = 200
	minOptionsPerPoll   = 2
	maxOptionsPerPoll   = 20
	maxImagesPerOption  = 4
	defaultListLimit    = 20
	maxListLimit        = 100
)

// Poll models a persisted poll owned by its creator.
type Poll struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null"`
	Title       string     `gorm:"column:title;size:200;not null"`
	Description string     `gorm:"column:description;type:text;not null;default:''"`
	CreatorID   string     `gorm:"column:creator_id;size:190;not null;index:idx_polls_creator_created,priority:1"`
	EndsAt      *time.Time `gorm:"column:ends_at"`
	IsActive    bool       `gorm:"column:is_active;not null;index:idx_polls_active"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index:idx_polls_creator_created,priority:2"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Poll) TableName() string {
	return "polls"
}

// PollOption is one selectable answer of a poll. VoteCount is a denormalized counter that
// is always rewritten from poll_votes, never incremented.
type PollOption struct {
	ID        string   `gorm:"column:id;primaryKey;size:190;not null"`
	PollID    string   `gorm:"column:poll_id;size:190;not null;index:idx_poll_options_poll_position,priority:1"`
	Text      string   `gorm:"column:text;size:200;not null"`
	ImageURLs []string `gorm:"column:image_urls;type:text;serializer:json"`
	Position  int      `gorm:"column:position;not null;index:idx_poll_options_poll_position,priority:2"`
	VoteCount int64    `gorm:"column:vote_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (PollOption) TableName() string {
	return "poll_options"
}

// VoteRecord is a single accepted vote. The unique index on (voter_id, poll_id, vote_day)
// is what enforces one vote per voter per poll per day.
type VoteRecord struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	VoterID   string    `gorm:"column:voter_id;size:190;not null;uniqueIndex:idx_poll_votes_voter_poll_day,priority:1"`
	PollID    string    `gorm:"column:poll_id;size:190;not null;uniqueIndex:idx_poll_votes_voter_poll_day,priority:2;index:idx_poll_votes_poll_option,priority:1"`
	OptionID  string    `gorm:"column:option_id;size:190;not null;index:idx_poll_votes_poll_option,priority:2"`
	VoteDay   string    `gorm:"column:vote_day;size:10;not null;uniqueIndex:idx_poll_votes_voter_poll_day,priority:3"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VoteRecord) TableName() string {
	return "poll_votes"
}

// Models lists every table owned by this package, in dependency order.
func Models() []any {
	return []any{&Poll{}, &PollOption{}, &VoteRecord{}}
}

// PollDetail bundles a poll with its ordered options.
type PollDetail struct {
	Poll    Poll
	Options []PollOption
}

// OptionInput describes one option supplied at poll creation.
type OptionInput struct {
	Text      string
	ImageURLs []string
}

// CreatePollInput describes a new poll.
type CreatePollInput struct {
	Title       string
	Description string
	EndsAt      *time.Time
	Options     []OptionInput
}

// UpdatePollInput carries the mutable poll fields. Nil pointers leave a field unchanged;
// ClearEndsAt removes the end time.
type UpdatePollInput struct {
	Title       *string
	Description *string
	EndsAt      *time.Time
	ClearEndsAt bool
	IsActive    *bool
}

// ListPollsFilter narrows ListPolls.
type ListPollsFilter struct {
	CreatorID  string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// PollResultView is the materialized tally served to readers and cached as a snapshot.
type PollResultView struct {
	PollID      string         `json:"poll_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	IsActive    bool           `json:"is_active"`
	EndsAt      *time.Time     `json:"ends_at,omitempty"`
	TotalVotes  int64          `json:"total_votes"`
	Options     []OptionResult `json:"options"`
	ComputedAt  time.Time      `json:"computed_at"`
}

// OptionResult is the tally for one option.
type OptionResult struct {
	OptionID   string   `json:"option_id"`
	Text       string   `json:"text"`
	ImageURLs  []string `json:"image_urls,omitempty"`
	Votes      int64    `json:"votes"`
	Percentage int      `json:"percentage"`
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func validIdentifier(value string) bool {
	return value != "" && len(value) <= maxIdentifierLength
}
