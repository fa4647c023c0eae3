package questions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/quorum/internal/participants"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubmitFeedback records one participant's sentiment on an answered question. Feedback
// is answer-quality signal: outside the answered state it is meaningless and rejected.
// Duplicate submissions surface as KindConflict through the composite unique index,
// which also serializes concurrent submitters across processes.
func (s *Service) SubmitFeedback(ctx context.Context, questionID QuestionID, participant participants.Token, sentiment Sentiment) error {
	if _, err := ParseSentiment(string(sentiment)); err != nil {
		return NewError(KindValidation, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var question Question
		err := tx.Where("question_id = ?", questionID.String()).Take(&question).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewErrorf(KindNotFound, "question %s", questionID)
		}
		if err != nil {
			s.logError(opSubmitFeedback, "question_select_failed", err, zap.String("question_id", questionID.String()))
			return NewError(KindInternal, err)
		}

		if question.Status != StatusAnswered {
			return NewErrorf(KindNotAnswerable, "question %s has status %s", questionID, question.Status)
		}

		entry := FeedbackEntry{
			QuestionID:       questionID.String(),
			ParticipantID:    participant.String(),
			Sentiment:        sentiment,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return NewErrorf(KindConflict, "participant already left feedback on question %s", questionID)
			}
			s.logError(opSubmitFeedback, "feedback_insert_failed", err, zap.String("question_id", questionID.String()))
			return NewError(KindInternal, err)
		}
		return nil
	})
}

// Feedback returns sentiment counts for a question, grouped at read time. Unlike the
// vote counter this aggregate is never denormalized: feedback is read far less often
// and at smaller cardinalities than votes.
func (s *Service) Feedback(ctx context.Context, questionID QuestionID) (FeedbackStats, error) {
	var question Question
	err := s.db.WithContext(ctx).Where("question_id = ?", questionID.String()).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FeedbackStats{}, NewErrorf(KindNotFound, "question %s", questionID)
	}
	if err != nil {
		s.logError(opFeedbackStats, "question_select_failed", err, zap.String("question_id", questionID.String()))
		return FeedbackStats{}, NewError(KindInternal, err)
	}

	type sentimentCount struct {
		Sentiment Sentiment `gorm:"column:sentiment"`
		Total     int64     `gorm:"column:total"`
	}
	var rows []sentimentCount
	if err := s.db.WithContext(ctx).Model(&FeedbackEntry{}).
		Select("sentiment, COUNT(*) AS total").
		Where("question_id = ?", questionID.String()).
		Group("sentiment").
		Find(&rows).Error; err != nil {
		s.logError(opFeedbackStats, "aggregate_failed", err, zap.String("question_id", questionID.String()))
		return FeedbackStats{}, NewError(KindInternal, err)
	}

	var stats FeedbackStats
	for _, row := range rows {
		switch row.Sentiment {
		case SentimentHelpful:
			stats.Helpful = row.Total
		case SentimentNeutral:
			stats.Neutral = row.Total
		case SentimentNotHelpful:
			stats.NotHelpful = row.Total
		}
	}
	return stats, nil
}
