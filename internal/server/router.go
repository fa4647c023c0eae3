package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/config"
	"github.com/MarcoPoloResearchLab/quorum/internal/participants"
	"github.com/MarcoPoloResearchLab/quorum/internal/questions"
	"github.com/MarcoPoloResearchLab/quorum/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/quorum/internal/sessions"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const hostSubjectContextKey = "quorum_host_subject"

const (
	actionSubmitQuestion = "submit_question"
	actionVote           = "vote"
	actionFeedback       = "feedback"
	actionHostMutation   = "host_mutation"
)

var (
	errMissingTokenManager    = errors.New("host token manager dependency required")
	errMissingQuestionService = errors.New("question service dependency required")
	errMissingSessionService  = errors.New("session service dependency required")
	errMissingLimiter         = errors.New("rate limiter dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// HostTokenValidator checks host bearer tokens and yields the host subject.
type HostTokenValidator interface {
	ValidateToken(token string) (string, error)
}

// SessionDirectory is the session surface the router needs: creation, closing and
// ownership resolution. Submission policy flows through the ledger's own gate.
type SessionDirectory interface {
	Create(ctx context.Context, hostID, title string) (sessions.Session, error)
	Close(ctx context.Context, sessionID string) (sessions.Session, error)
	IsHost(ctx context.Context, sessionID, subject string) (bool, error)
}

type Dependencies struct {
	TokenManager HostTokenValidator
	Questions    *questions.Service
	Sessions     SessionDirectory
	Limiter      *ratelimit.Limiter
	QuestionRate config.RatePolicy
	VoteRate     config.RatePolicy
	FeedbackRate config.RatePolicy
	HostRate     config.RatePolicy
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Questions == nil {
		return nil, errMissingQuestionService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionService
	}
	if deps.Limiter == nil {
		return nil, errMissingLimiter
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		questions: deps.Questions,
		sessions:  deps.Sessions,
		limiter:   deps.Limiter,
		logger:    logger,
	}

	router.GET("/sessions/:id/questions", handler.handleListQuestions)
	router.POST("/sessions/:id/questions",
		handler.rateLimit(actionSubmitQuestion, deps.QuestionRate), handler.handleSubmitQuestion)
	router.POST("/questions/:id/vote",
		handler.rateLimit(actionVote, deps.VoteRate), handler.handleVote)
	router.DELETE("/questions/:id/vote",
		handler.rateLimit(actionVote, deps.VoteRate), handler.handleUnvote)
	router.POST("/questions/:id/feedback",
		handler.rateLimit(actionFeedback, deps.FeedbackRate), handler.handleSubmitFeedback)

	// Every mutation is rate limited, host mutations included; only the host read
	// endpoints go ungated.
	hostLimit := handler.rateLimit(actionHostMutation, deps.HostRate)

	hosts := router.Group("/")
	hosts.Use(handler.authorizeHost)
	hosts.POST("/sessions", hostLimit, handler.handleCreateSession)
	hosts.POST("/sessions/:id/close", hostLimit, handler.handleCloseSession)
	hosts.GET("/sessions/:id/questions/all", handler.handleListAllQuestions)
	hosts.POST("/questions/:id/status", hostLimit, handler.handleSetStatus)
	hosts.POST("/questions/:id/moderate", hostLimit, handler.handleModerate)
	hosts.GET("/questions/:id/feedback/stats", handler.handleFeedbackStats)

	return router, nil
}

type httpHandler struct {
	tokens    HostTokenValidator
	questions *questions.Service
	sessions  SessionDirectory
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// rateLimit gates a mutation on the caller's network identifier. The participant token
// dedupe in the ledger is the primary control; this bounds one origin cycling tokens.
func (h *httpHandler) rateLimit(action string, policy config.RatePolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := h.limiter.Check(action, c.ClientIP(), policy.Limit, policy.Window)
		if !decision.Allowed {
			retrySeconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retrySeconds < 1 {
				retrySeconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(retrySeconds))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "rate_limited",
				"retry_after_seconds": retrySeconds,
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}

func (h *httpHandler) authorizeHost(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("host token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(hostSubjectContextKey, subject)
	c.Next()
}

type sessionPayload struct {
	SessionID          string `json:"session_id"`
	Title              string `json:"title"`
	AcceptingQuestions bool   `json:"accepting_questions"`
	Active             bool   `json:"active"`
	CreatedAtSeconds   int64  `json:"created_at_s"`
}

type questionPayload struct {
	QuestionID       string `json:"question_id"`
	SessionID        string `json:"session_id"`
	Content          string `json:"content"`
	AuthorName       string `json:"author_name,omitempty"`
	Anonymous        bool   `json:"anonymous"`
	VoteCount        int64  `json:"vote_count"`
	Status           string `json:"status"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func toSessionPayload(session sessions.Session) sessionPayload {
	return sessionPayload{
		SessionID:          session.SessionID,
		Title:              session.Title,
		AcceptingQuestions: session.AcceptingQuestions,
		Active:             session.Active,
		CreatedAtSeconds:   session.CreatedAtSeconds,
	}
}

func toQuestionPayload(question questions.Question) questionPayload {
	return questionPayload{
		QuestionID:       question.QuestionID,
		SessionID:        question.SessionID,
		Content:          question.Content,
		AuthorName:       question.AuthorName,
		Anonymous:        question.Anonymous,
		VoteCount:        question.VoteCount,
		Status:           string(question.Status),
		CreatedAtSeconds: question.CreatedAtSeconds,
		UpdatedAtSeconds: question.UpdatedAtSeconds,
	}
}

func toQuestionPayloads(listed []questions.Question) []questionPayload {
	payloads := make([]questionPayload, 0, len(listed))
	for _, question := range listed {
		payloads = append(payloads, toQuestionPayload(question))
	}
	return payloads
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	subject := c.GetString(hostSubjectContextKey)

	var request createSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), subject, request.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionPayload(session))
}

func (h *httpHandler) handleCloseSession(c *gin.Context) {
	sessionID := c.Param("id")
	if !h.requireSessionOwner(c, sessionID) {
		return
	}

	session, err := h.sessions.Close(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionPayload(session))
}

func (h *httpHandler) handleListQuestions(c *gin.Context) {
	sessionID, err := questions.NewSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	listed, err := h.questions.ListApprovedQuestions(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": toQuestionPayloads(listed)})
}

func (h *httpHandler) handleListAllQuestions(c *gin.Context) {
	sessionID, err := questions.NewSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requireSessionOwner(c, sessionID.String()) {
		return
	}

	listed, err := h.questions.ListAllQuestions(c.Request.Context(), sessionID, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": toQuestionPayloads(listed)})
}

type submitQuestionRequest struct {
	ParticipantToken string `json:"participant_token"`
	Content          string `json:"content"`
	AuthorName       string `json:"author_name"`
	Anonymous        bool   `json:"anonymous"`
}

func (h *httpHandler) handleSubmitQuestion(c *gin.Context) {
	sessionID, err := questions.NewSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var request submitQuestionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, err := participants.NewToken(request.ParticipantToken); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_participant_token"})
		return
	}
	content, err := questions.NewContent(request.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_content"})
		return
	}
	authorName, err := questions.NewAuthorName(request.AuthorName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_author_name"})
		return
	}

	question, err := h.questions.SubmitQuestion(c.Request.Context(), questions.SubmitRequest{
		SessionID:  sessionID,
		Content:    content,
		AuthorName: authorName,
		Anonymous:  request.Anonymous,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toQuestionPayload(question))
}

type participantRequest struct {
	ParticipantToken string `json:"participant_token"`
}

type voteResponsePayload struct {
	VoteCount int64 `json:"vote_count"`
	Voted     bool  `json:"voted"`
}

func (h *httpHandler) handleVote(c *gin.Context) {
	questionID, token, ok := h.bindParticipantMutation(c)
	if !ok {
		return
	}

	state, err := h.questions.AddVote(c.Request.Context(), questionID, token)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, voteResponsePayload{VoteCount: state.VoteCount, Voted: state.Voted})
}

func (h *httpHandler) handleUnvote(c *gin.Context) {
	questionID, token, ok := h.bindParticipantMutation(c)
	if !ok {
		return
	}

	state, err := h.questions.RemoveVote(c.Request.Context(), questionID, token)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, voteResponsePayload{VoteCount: state.VoteCount, Voted: state.Voted})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type transitionFunc func(ctx context.Context, questionID questions.QuestionID, target questions.Status, callerIsOwner bool) (questions.Question, error)

func (h *httpHandler) handleSetStatus(c *gin.Context) {
	h.handleTransition(c, h.questions.SetStatus)
}

func (h *httpHandler) handleModerate(c *gin.Context) {
	h.handleTransition(c, h.questions.Moderate)
}

func (h *httpHandler) handleTransition(c *gin.Context, transition transitionFunc) {
	questionID, err := questions.NewQuestionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var request setStatusRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	target, err := questions.ParseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	isOwner, ok := h.resolveQuestionOwner(c, questionID)
	if !ok {
		return
	}

	question, err := transition(c.Request.Context(), questionID, target, isOwner)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuestionPayload(question))
}

type feedbackRequest struct {
	ParticipantToken string `json:"participant_token"`
	Sentiment        string `json:"sentiment"`
}

func (h *httpHandler) handleSubmitFeedback(c *gin.Context) {
	questionID, err := questions.NewQuestionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var request feedbackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, err := participants.NewToken(request.ParticipantToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_participant_token"})
		return
	}
	sentiment, err := questions.ParseSentiment(request.Sentiment)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sentiment"})
		return
	}

	if err := h.questions.SubmitFeedback(c.Request.Context(), questionID, token, sentiment); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

type feedbackStatsPayload struct {
	Helpful    int64 `json:"helpful"`
	Neutral    int64 `json:"neutral"`
	NotHelpful int64 `json:"not_helpful"`
	Total      int64 `json:"total"`
}

func (h *httpHandler) handleFeedbackStats(c *gin.Context) {
	questionID, err := questions.NewQuestionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	isOwner, ok := h.resolveQuestionOwner(c, questionID)
	if !ok {
		return
	}
	if !isOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	stats, err := h.questions.Feedback(c.Request.Context(), questionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feedbackStatsPayload{
		Helpful:    stats.Helpful,
		Neutral:    stats.Neutral,
		NotHelpful: stats.NotHelpful,
		Total:      stats.Total(),
	})
}

func (h *httpHandler) bindParticipantMutation(c *gin.Context) (questions.QuestionID, participants.Token, bool) {
	questionID, err := questions.NewQuestionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", "", false
	}

	var request participantRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", "", false
	}
	token, err := participants.NewToken(request.ParticipantToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_participant_token"})
		return "", "", false
	}
	return questionID, token, true
}

// requireSessionOwner resolves host ownership of a session and writes the failure
// response itself when the caller does not own it.
func (h *httpHandler) requireSessionOwner(c *gin.Context, sessionID string) bool {
	subject := c.GetString(hostSubjectContextKey)
	isHost, err := h.sessions.IsHost(c.Request.Context(), sessionID, subject)
	if err != nil {
		h.respondError(c, err)
		return false
	}
	if !isHost {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// resolveQuestionOwner maps a question to its parent session and checks the caller's
// ownership. The boolean result is handed to the ledger as a precondition.
func (h *httpHandler) resolveQuestionOwner(c *gin.Context, questionID questions.QuestionID) (bool, bool) {
	question, err := h.questions.GetQuestion(c.Request.Context(), questionID)
	if err != nil {
		h.respondError(c, err)
		return false, false
	}
	subject := c.GetString(hostSubjectContextKey)
	isHost, err := h.sessions.IsHost(c.Request.Context(), question.SessionID, subject)
	if err != nil {
		h.respondError(c, err)
		return false, false
	}
	return isHost, true
}

var errorKindStatus = map[questions.Kind]int{
	questions.KindValidation:        http.StatusBadRequest,
	questions.KindNotFound:          http.StatusNotFound,
	questions.KindConflict:          http.StatusConflict,
	questions.KindForbidden:         http.StatusForbidden,
	questions.KindInvalidTransition: http.StatusUnprocessableEntity,
	questions.KindNotAnswerable:     http.StatusUnprocessableEntity,
	questions.KindVoteNotFound:      http.StatusNotFound,
	questions.KindInternal:          http.StatusInternalServerError,
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := questions.KindOf(err)
	status, ok := errorKindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("engagement request failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal"})
		return
	}
	c.JSON(status, gin.H{"error": string(kind)})
}
