package questions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingSessions   = errors.New("session policy is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew     = "questions.service.new"
	opSubmitQuestion = "questions.submit"
	opGetQuestion    = "questions.get"
	opListQuestions  = "questions.list"
	opSetStatus      = "questions.set_status"
	opModerate       = "questions.moderate"
	opAddVote        = "questions.add_vote"
	opRemoveVote     = "questions.remove_vote"
	opSubmitFeedback = "questions.submit_feedback"
	opFeedbackStats  = "questions.feedback_stats"
)

// SessionGate reports the submission policy of a parent session. Ownership and session
// lifecycle live outside the ledger; the gate is the only view it needs.
type SessionGate struct {
	AcceptingQuestions bool
}

// SessionPolicy resolves the submission gate for a session. A missing session must be
// reported as an error carrying KindNotFound.
type SessionPolicy interface {
	Gate(ctx context.Context, sessionID string) (SessionGate, error)
}

// IDProvider issues identifiers for newly created questions.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the engagement ledger.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Sessions   SessionPolicy
	Logger     *zap.Logger
}

// Service is the engagement ledger: question lifecycle, vote and feedback dedupe, and
// read-time ranking over a shared relational store. It holds no mutable state of its
// own; correctness under concurrent callers comes from store transactions and
// uniqueness constraints, never from in-process locking.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	sessions   SessionPolicy
	logger     *zap.Logger
}

// NewService constructs the ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, NewError(KindInternal, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, NewError(KindInternal, errMissingIDProvider)
	}
	if cfg.Sessions == nil {
		return nil, NewError(KindInternal, errMissingSessions)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		sessions:   cfg.Sessions,
		logger:     logger,
	}, nil
}

// SubmitRequest carries validated input for question submission.
type SubmitRequest struct {
	SessionID  SessionID
	Content    Content
	AuthorName AuthorName
	Anonymous  bool
}

// SubmitQuestion records a new audience question in the pending state.
func (s *Service) SubmitQuestion(ctx context.Context, request SubmitRequest) (Question, error) {
	gate, err := s.sessions.Gate(ctx, request.SessionID.String())
	if err != nil {
		return Question{}, err
	}
	if !gate.AcceptingQuestions {
		return Question{}, NewErrorf(KindValidation, "session %s is not accepting questions", request.SessionID)
	}

	questionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmitQuestion, "id_generation_failed", err)
		return Question{}, NewError(KindInternal, err)
	}

	now := s.clock().UTC().Unix()
	question := Question{
		QuestionID:       questionID,
		SessionID:        request.SessionID.String(),
		Content:          request.Content.String(),
		AuthorName:       request.AuthorName.String(),
		Anonymous:        request.Anonymous,
		VoteCount:        0,
		Status:           StatusPending,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if question.Anonymous {
		question.AuthorName = ""
	}

	if err := s.db.WithContext(ctx).Create(&question).Error; err != nil {
		s.logError(opSubmitQuestion, "question_insert_failed", err,
			zap.String("session_id", request.SessionID.String()))
		return Question{}, NewError(KindInternal, err)
	}

	return question, nil
}

// GetQuestion loads a single question by id.
func (s *Service) GetQuestion(ctx context.Context, questionID QuestionID) (Question, error) {
	var question Question
	err := s.db.WithContext(ctx).Where("question_id = ?", questionID.String()).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Question{}, NewErrorf(KindNotFound, "question %s", questionID)
	}
	if err != nil {
		s.logError(opGetQuestion, "question_select_failed", err, zap.String("question_id", questionID.String()))
		return Question{}, NewError(KindInternal, err)
	}
	return question, nil
}

// publicStatuses are the lifecycle states visible to participants.
var publicStatuses = []Status{StatusApproved, StatusBeingAnswered, StatusAnswered}

// ListApprovedQuestions returns the audience-visible questions of a session in display
// order.
func (s *Service) ListApprovedQuestions(ctx context.Context, sessionID SessionID) ([]Question, error) {
	return s.list(ctx, sessionID, publicStatuses)
}

// ListAllQuestions returns every question of a session in display order. Ownership is a
// precondition resolved by the caller.
func (s *Service) ListAllQuestions(ctx context.Context, sessionID SessionID, callerIsOwner bool) ([]Question, error) {
	if !callerIsOwner {
		return nil, NewErrorf(KindForbidden, "caller does not own the parent session")
	}
	return s.list(ctx, sessionID, nil)
}

func (s *Service) list(ctx context.Context, sessionID SessionID, statuses []Status) ([]Question, error) {
	query := s.db.WithContext(ctx).Where("session_id = ?", sessionID.String())
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var results []Question
	if err := query.Find(&results).Error; err != nil {
		s.logError(opListQuestions, "query_failed", err, zap.String("session_id", sessionID.String()))
		return nil, NewError(KindInternal, err)
	}

	return Rank(results), nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
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
	s.loggerOrDefault().Error("engagement ledger error", attrs...)
}
