package questions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/participants"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type staticSessionPolicy struct {
	gates map[string]SessionGate
}

func (p *staticSessionPolicy) Gate(_ context.Context, sessionID string) (SessionGate, error) {
	gate, ok := p.gates[sessionID]
	if !ok {
		return SessionGate{}, NewErrorf(KindNotFound, "session %s", sessionID)
	}
	return gate, nil
}

const testClockSeconds = int64(1700000600)

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:quorum_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Question{}, &Vote{}, &FeedbackEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	policy := &staticSessionPolicy{gates: map[string]SessionGate{
		"session-open":   {AcceptingQuestions: true},
		"session-closed": {AcceptingQuestions: false},
	}}
	generator := &staticIDGenerator{ids: ids}
	clock := func() time.Time { return time.Unix(testClockSeconds, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: generator,
		Sessions:   policy,
	})
	if err != nil {
		t.Fatalf("failed to construct ledger service: %v", err)
	}

	return service, db
}

func seedQuestion(t *testing.T, db *gorm.DB, question Question) Question {
	t.Helper()
	if question.Status == "" {
		question.Status = StatusApproved
	}
	if question.SessionID == "" {
		question.SessionID = "session-open"
	}
	if question.Content == "" {
		question.Content = "seeded question"
	}
	if question.CreatedAtSeconds == 0 {
		question.CreatedAtSeconds = 1700000000
	}
	if question.UpdatedAtSeconds == 0 {
		question.UpdatedAtSeconds = question.CreatedAtSeconds
	}
	if err := db.Create(&question).Error; err != nil {
		t.Fatalf("failed to seed question: %v", err)
	}
	return question
}

func mustQuestionID(t *testing.T, value string) QuestionID {
	t.Helper()
	id, err := NewQuestionID(value)
	if err != nil {
		t.Fatalf("unexpected question id error: %v", err)
	}
	return id
}

func mustSessionID(t *testing.T, value string) SessionID {
	t.Helper()
	id, err := NewSessionID(value)
	if err != nil {
		t.Fatalf("unexpected session id error: %v", err)
	}
	return id
}

func mustContent(t *testing.T, value string) Content {
	t.Helper()
	content, err := NewContent(value)
	if err != nil {
		t.Fatalf("unexpected content error: %v", err)
	}
	return content
}

func mustToken(t *testing.T, value string) participants.Token {
	t.Helper()
	token, err := participants.NewToken(value)
	if err != nil {
		t.Fatalf("unexpected token error: %v", err)
	}
	return token
}

// A handful of fixed v4 tokens for deterministic tests.
const (
	tokenAlpha = "3e2f1f4a-9a1b-4d6c-8a4e-1f2a3b4c5d6e"
	tokenBravo = "a1b2c3d4-e5f6-4a5b-9c8d-7e6f5a4b3c2d"
)

func kindOfOrFail(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %s, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected error kind %s, got %s (%v)", want, got, err)
	}
}
