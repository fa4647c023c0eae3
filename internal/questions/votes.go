package questions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/quorum/internal/participants"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddVote records one upvote for (question, participant). The composite unique index on
// question_votes is the idempotence guarantee; the in-transaction existence check under
// the question row lock only turns the common duplicate into a cheaper rejection.
// The vote insert and the counter increment commit together or not at all.
func (s *Service) AddVote(ctx context.Context, questionID QuestionID, participant participants.Token) (VoteState, error) {
	var state VoteState
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := s.lockQuestion(tx, opAddVote, questionID)
		if err != nil {
			return err
		}

		var existing Vote
		err = tx.Where("question_id = ? AND participant_id = ?", questionID.String(), participant.String()).
			Take(&existing).Error
		if err == nil {
			return NewErrorf(KindConflict, "participant already voted on question %s", questionID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opAddVote, "vote_select_failed", err, zap.String("question_id", questionID.String()))
			return NewError(KindInternal, err)
		}

		vote := Vote{
			QuestionID:       questionID.String(),
			ParticipantID:    participant.String(),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&vote).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return NewErrorf(KindConflict, "participant already voted on question %s", questionID)
			}
			s.logError(opAddVote, "vote_insert_failed", err, zap.String("question_id", questionID.String()))
			return NewError(KindInternal, err)
		}

		newCount := question.VoteCount + 1
		if err := s.setVoteCount(tx, opAddVote, questionID, newCount); err != nil {
			return err
		}

		state = VoteState{VoteCount: newCount, Voted: true}
		return nil
	})
	if txErr != nil {
		return VoteState{}, txErr
	}
	return state, nil
}

// RemoveVote deletes the participant's vote and decrements the aggregate. A missing
// question and a missing vote are distinct failures so callers can tell "nothing to
// undo" from "target doesn't exist".
func (s *Service) RemoveVote(ctx context.Context, questionID QuestionID, participant participants.Token) (VoteState, error) {
	var state VoteState
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := s.lockQuestion(tx, opRemoveVote, questionID)
		if err != nil {
			return err
		}

		result := tx.Where("question_id = ? AND participant_id = ?", questionID.String(), participant.String()).
			Delete(&Vote{})
		if result.Error != nil {
			s.logError(opRemoveVote, "vote_delete_failed", result.Error, zap.String("question_id", questionID.String()))
			return NewError(KindInternal, result.Error)
		}
		if result.RowsAffected == 0 {
			return NewErrorf(KindVoteNotFound, "no vote by participant on question %s", questionID)
		}

		// The uniqueness invariant keeps the counter in step with the vote rows, so the
		// floor never engages in correct operation.
		newCount := question.VoteCount - 1
		if newCount < 0 {
			newCount = 0
		}
		if err := s.setVoteCount(tx, opRemoveVote, questionID, newCount); err != nil {
			return err
		}

		state = VoteState{VoteCount: newCount, Voted: false}
		return nil
	})
	if txErr != nil {
		return VoteState{}, txErr
	}
	return state, nil
}

func (s *Service) lockQuestion(tx *gorm.DB, operation string, questionID QuestionID) (Question, error) {
	var question Question
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("question_id = ?", questionID.String()).
		Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Question{}, NewErrorf(KindNotFound, "question %s", questionID)
	}
	if err != nil {
		s.logError(operation, "question_select_failed", err, zap.String("question_id", questionID.String()))
		return Question{}, NewError(KindInternal, err)
	}
	return question, nil
}

func (s *Service) setVoteCount(tx *gorm.DB, operation string, questionID QuestionID, count int64) error {
	err := tx.Model(&Question{}).
		Where("question_id = ?", questionID.String()).
		Updates(map[string]interface{}{
			"vote_count":   count,
			"updated_at_s": s.clock().UTC().Unix(),
		}).Error
	if err != nil {
		s.logError(operation, "vote_count_update_failed", err, zap.String("question_id", questionID.String()))
		return NewError(KindInternal, err)
	}
	return nil
}
