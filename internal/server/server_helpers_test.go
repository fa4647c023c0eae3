package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/auth"
	"github.com/MarcoPoloResearchLab/quorum/internal/config"
	"github.com/MarcoPoloResearchLab/quorum/internal/questions"
	"github.com/MarcoPoloResearchLab/quorum/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/quorum/internal/sessions"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "server-test-secret"
	tokenAlpha        = "3e2f1f4a-9a1b-4d6c-8a4e-1f2a3b4c5d6e"
	tokenBravo        = "a1b2c3d4-e5f6-4a5b-9c8d-7e6f5a4b3c2d"
)

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type testServer struct {
	handler http.Handler
	tokens  *auth.HostTokenManager
	clock   *fakeClock
	db      *gorm.DB
}

func newTestServer(testContext *testing.T) *testServer {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sessions.Session{}, &questions.Question{}, &questions.Vote{}, &questions.FeedbackEntry{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	clock := &fakeClock{now: time.Unix(1700000600, 0).UTC()}

	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{prefix: "session"},
	})
	if err != nil {
		testContext.Fatalf("failed to construct session service: %v", err)
	}

	questionService, err := questions.NewService(questions.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{prefix: "question"},
		Sessions:   sessionService,
	})
	if err != nil {
		testContext.Fatalf("failed to construct question service: %v", err)
	}

	tokenManager, err := auth.NewHostTokenManager(auth.HostTokenManagerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "quorum-test",
		Audience:      "quorum-test",
		Clock:         clock.Now,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token manager: %v", err)
	}

	limiter := ratelimit.NewLimiter(ratelimit.LimiterConfig{Clock: clock.Now})
	window := time.Minute

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokenManager,
		Questions:    questionService,
		Sessions:     sessionService,
		Limiter:      limiter,
		QuestionRate: config.RatePolicy{Limit: 10, Window: window},
		VoteRate:     config.RatePolicy{Limit: 60, Window: window},
		FeedbackRate: config.RatePolicy{Limit: 30, Window: window},
		HostRate:     config.RatePolicy{Limit: 30, Window: window},
	})
	if err != nil {
		testContext.Fatalf("failed to construct handler: %v", err)
	}

	return &testServer{handler: handler, tokens: tokenManager, clock: clock, db: db}
}

func (s *testServer) do(testContext *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	testContext.Helper()

	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}

	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) hostToken(testContext *testing.T, subject string) string {
	testContext.Helper()
	token, _, err := s.tokens.IssueHostToken(subject)
	if err != nil {
		testContext.Fatalf("failed to issue host token: %v", err)
	}
	return token
}

func (s *testServer) createSession(testContext *testing.T, hostSubject, title string) string {
	testContext.Helper()
	recorder := s.do(testContext, http.MethodPost, "/sessions", s.hostToken(testContext, hostSubject),
		fmt.Sprintf(`{"title":%q}`, title))
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("session create failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(testContext, recorder)
	sessionID, ok := payload["session_id"].(string)
	if !ok || sessionID == "" {
		testContext.Fatalf("missing session_id in %v", payload)
	}
	return sessionID
}

func (s *testServer) submitQuestion(testContext *testing.T, sessionID, content string) string {
	testContext.Helper()
	body := fmt.Sprintf(`{"participant_token":%q,"content":%q,"author_name":"Ada"}`, tokenAlpha, content)
	recorder := s.do(testContext, http.MethodPost, "/sessions/"+sessionID+"/questions", "", body)
	if recorder.Code != http.StatusCreated {
		testContext.Fatalf("question submit failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(testContext, recorder)
	questionID, ok := payload["question_id"].(string)
	if !ok || questionID == "" {
		testContext.Fatalf("missing question_id in %v", payload)
	}
	return questionID
}

func decodeJSON(testContext *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testContext.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		testContext.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}
