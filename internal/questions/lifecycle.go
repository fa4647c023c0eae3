package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Status enumerates the question lifecycle states.
type Status string

const (
	// StatusPending is the initial state of every submitted question.
	StatusPending Status = "pending"
	// StatusApproved marks a question accepted by moderation and visible to the audience.
	StatusApproved Status = "approved"
	// StatusDismissed terminally rejects a question.
	StatusDismissed Status = "dismissed"
	// StatusBeingAnswered marks the question the host is currently addressing.
	StatusBeingAnswered Status = "being_answered"
	// StatusAnswered terminally completes a question and opens it for feedback.
	StatusAnswered Status = "answered"
)

// ErrInvalidStatus indicates a status value outside the lifecycle enum.
var ErrInvalidStatus = errors.New("questions: invalid status")

// statusTransitions is the complete lifecycle table. Absence means the transition is
// rejected; answered and dismissed have no outbound edges.
var statusTransitions = map[Status][]Status{
	StatusPending:       {StatusApproved, StatusDismissed},
	StatusApproved:      {StatusBeingAnswered, StatusDismissed},
	StatusBeingAnswered: {StatusAnswered},
	StatusAnswered:      {},
	StatusDismissed:     {},
}

// ParseStatus validates raw input against the lifecycle enum.
func ParseStatus(rawInput string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := statusTransitions[candidate]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
	return candidate, nil
}

// CanTransition reports whether the lifecycle table permits moving from one status to
// another. It is total over the enum: unknown statuses simply yield false.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outbound transitions.
func Terminal(status Status) bool {
	return len(statusTransitions[status]) == 0
}

// hostSettableTargets is the narrowed mutation surface exposed to hosts while running a
// session; approved and dismissed are reachable only through Moderate.
var hostSettableTargets = map[Status]bool{
	StatusBeingAnswered: true,
	StatusAnswered:      true,
}

var moderationTargets = map[Status]bool{
	StatusApproved:  true,
	StatusDismissed: true,
}

// SetStatus advances a question through the host-settable part of the lifecycle.
// Ownership is resolved by the caller and passed in as a precondition; the ledger does
// not touch identity. Vote counts and feedback are never modified here.
func (s *Service) SetStatus(ctx context.Context, questionID QuestionID, target Status, callerIsOwner bool) (Question, error) {
	if !hostSettableTargets[target] {
		s.logError(opSetStatus, "target_not_settable", ErrInvalidStatus, zap.String("target", string(target)))
		return Question{}, NewErrorf(KindValidation, "target %q is not host settable", target)
	}
	return s.transition(ctx, opSetStatus, questionID, target, callerIsOwner)
}

// Moderate moves a pending question to approved or dismissed. It shares the lifecycle
// table with SetStatus but is a separate action on the external surface.
func (s *Service) Moderate(ctx context.Context, questionID QuestionID, target Status, callerIsOwner bool) (Question, error) {
	if !moderationTargets[target] {
		s.logError(opModerate, "target_not_moderation", ErrInvalidStatus, zap.String("target", string(target)))
		return Question{}, NewErrorf(KindValidation, "target %q is not a moderation status", target)
	}
	return s.transition(ctx, opModerate, questionID, target, callerIsOwner)
}

func (s *Service) transition(ctx context.Context, operation string, questionID QuestionID, target Status, callerIsOwner bool) (Question, error) {
	if !callerIsOwner {
		return Question{}, NewErrorf(KindForbidden, "caller does not own the parent session")
	}

	var updated Question
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var question Question
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("question_id = ?", questionID.String()).
			Take(&question).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewErrorf(KindNotFound, "question %s", questionID)
		}
		if err != nil {
			s.logError(operation, "question_select_failed", err, zap.String("question_id", questionID.String()))
			return NewError(KindInternal, err)
		}

		if !CanTransition(question.Status, target) {
			return NewErrorf(KindInvalidTransition, "%s -> %s", question.Status, target)
		}

		question.Status = target
		question.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Model(&Question{}).
			Where("question_id = ?", questionID.String()).
			Updates(map[string]interface{}{
				"status":       question.Status,
				"updated_at_s": question.UpdatedAtSeconds,
			}).Error; err != nil {
			s.logError(operation, "status_update_failed", err, zap.String("question_id", questionID.String()))
			return NewError(KindInternal, err)
		}

		updated = question
		return nil
	})
	if txErr != nil {
		return Question{}, txErr
	}
	return updated, nil
}
