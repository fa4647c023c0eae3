package questions

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxIdentifierLength = 190
	maxContentLength    = 1000
	maxAuthorNameLength = 100
)

var (
	// ErrInvalidQuestionID indicates that a question identifier is empty or exceeds storage bounds.
	ErrInvalidQuestionID = errors.New("questions: invalid question id")
	// ErrInvalidSessionID indicates that a session identifier is empty or exceeds storage bounds.
	ErrInvalidSessionID = errors.New("questions: invalid session id")
	// ErrInvalidContent indicates that question content is empty or oversized.
	ErrInvalidContent = errors.New("questions: invalid content")
	// ErrInvalidAuthorName indicates that the optional author name exceeds storage bounds.
	ErrInvalidAuthorName = errors.New("questions: invalid author name")
	// ErrInvalidSentiment indicates a feedback value outside the supported set.
	ErrInvalidSentiment = errors.New("questions: invalid sentiment")
)

// QuestionID represents a validated question identifier.
type QuestionID string

// NewQuestionID validates raw input and returns a QuestionID.
func NewQuestionID(rawInput string) (QuestionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidQuestionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidQuestionID, maxIdentifierLength)
	}
	return QuestionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id QuestionID) String() string {
	return string(id)
}

// SessionID represents a validated parent session identifier.
type SessionID string

// NewSessionID validates raw input and returns a SessionID.
func NewSessionID(rawInput string) (SessionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSessionID, maxIdentifierLength)
	}
	return SessionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SessionID) String() string {
	return string(id)
}

// Content represents validated question text.
type Content string

// NewContent validates raw input and returns question Content.
func NewContent(rawInput string) (Content, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if len(trimmed) > maxContentLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContent, maxContentLength)
	}
	return Content(trimmed), nil
}

// String returns the underlying text.
func (c Content) String() string {
	return string(c)
}

// AuthorName represents a validated, possibly empty, display name.
type AuthorName string

// NewAuthorName validates raw input and returns an AuthorName. Empty input is allowed.
func NewAuthorName(rawInput string) (AuthorName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if len(trimmed) > maxAuthorNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAuthorName, maxAuthorNameLength)
	}
	return AuthorName(trimmed), nil
}

// String returns the underlying display name.
func (n AuthorName) String() string {
	return string(n)
}

// Sentiment enumerates the supported feedback values on answered questions.
type Sentiment string

const (
	// SentimentHelpful marks the answer as useful to the participant.
	SentimentHelpful Sentiment = "helpful"
	// SentimentNeutral marks the answer as neither useful nor unhelpful.
	SentimentNeutral Sentiment = "neutral"
	// SentimentNotHelpful marks the answer as not useful.
	SentimentNotHelpful Sentiment = "not_helpful"
)

// ParseSentiment validates raw input and returns a Sentiment.
func ParseSentiment(rawInput string) (Sentiment, error) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(rawInput))) {
	case SentimentHelpful:
		return SentimentHelpful, nil
	case SentimentNeutral:
		return SentimentNeutral, nil
	case SentimentNotHelpful:
		return SentimentNotHelpful, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSentiment, rawInput)
	}
}

// Question models a persisted audience question. VoteCount is a denormalized aggregate
// maintained in the same transaction as every vote insert or delete; it always equals
// the number of live rows in question_votes for this question.
type Question struct {
	QuestionID       string `gorm:"column:question_id;primaryKey;size:190;not null"`
	SessionID        string `gorm:"column:session_id;size:190;not null;index:idx_questions_session"`
	Content          string `gorm:"column:content;type:text;not null"`
	AuthorName       string `gorm:"column:author_name;size:100;not null;default:''"`
	Anonymous        bool   `gorm:"column:anonymous;not null;default:false"`
	VoteCount        int64  `gorm:"column:vote_count;not null;default:0"`
	Status           Status `gorm:"column:status;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "questions"
}

// Vote records one participant upvote. The composite unique index is the idempotence
// guarantee: concurrent duplicate submissions serialize at the constraint, not in
// process memory.
type Vote struct {
	QuestionID       string `gorm:"column:question_id;size:190;not null;uniqueIndex:idx_votes_question_participant,priority:1"`
	ParticipantID    string `gorm:"column:participant_id;size:190;not null;uniqueIndex:idx_votes_question_participant,priority:2"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "question_votes"
}

// FeedbackEntry records one participant's sentiment on an answered question. Entries
// are insert-only; aggregate stats are derived at read time rather than denormalized.
type FeedbackEntry struct {
	QuestionID       string    `gorm:"column:question_id;size:190;not null;uniqueIndex:idx_feedback_question_participant,priority:1"`
	ParticipantID    string    `gorm:"column:participant_id;size:190;not null;uniqueIndex:idx_feedback_question_participant,priority:2"`
	Sentiment        Sentiment `gorm:"column:sentiment;size:32;not null"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FeedbackEntry) TableName() string {
	return "question_feedback"
}

// VoteState reports the authoritative aggregate after a vote mutation.
type VoteState struct {
	VoteCount int64
	Voted     bool
}

// FeedbackStats aggregates sentiment counts for one question, computed at read time.
type FeedbackStats struct {
	Helpful    int64
	Neutral    int64
	NotHelpful int64
}

// Total returns the number of feedback entries behind the stats.
func (s FeedbackStats) Total() int64 {
	return s.Helpful + s.Neutral + s.NotHelpful
}
