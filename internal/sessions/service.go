package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/questions"
	"gorm.io/gorm"
)

const maxTitleLength = 200

// ErrInvalidTitle indicates a session title that is empty or oversized.
var ErrInvalidTitle = errors.New("sessions: invalid title")

// IDProvider issues identifiers for newly created sessions.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for session management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service manages parent sessions and answers the two questions the ledger and the
// transport layer ask of it: may this session accept a question, and does this subject
// own it. Host lookups are cached per process; the cache is invalidated on mutation.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	hostCache  sync.Map
}

// NewService constructs the session service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("sessions: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("sessions: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// Create opens a new session owned by the host subject.
func (s *Service) Create(ctx context.Context, hostID, title string) (Session, error) {
	host := normalize(hostID)
	if host == "" {
		return Session{}, questions.NewErrorf(questions.KindValidation, "host id is required")
	}
	cleanTitle := normalize(title)
	if cleanTitle == "" || len(cleanTitle) > maxTitleLength {
		return Session{}, questions.NewError(questions.KindValidation, ErrInvalidTitle)
	}

	sessionID, err := s.idProvider.NewID()
	if err != nil {
		return Session{}, questions.NewError(questions.KindInternal, err)
	}

	now := s.now().UTC().Unix()
	session := Session{
		SessionID:          sessionID,
		HostID:             host,
		Title:              cleanTitle,
		AcceptingQuestions: true,
		Active:             true,
		CreatedAtSeconds:   now,
		UpdatedAtSeconds:   now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return Session{}, questions.NewError(questions.KindInternal, err)
	}
	return session, nil
}

// Close stops a session from accepting new questions. Existing questions stay votable.
func (s *Service) Close(ctx context.Context, sessionID string) (Session, error) {
	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}

	updates := map[string]interface{}{
		"accepting_questions": false,
		"updated_at_s":        s.now().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", session.SessionID).
		Updates(updates).Error; err != nil {
		return Session{}, questions.NewError(questions.KindInternal, err)
	}

	session.AcceptingQuestions = false
	s.hostCache.Delete(session.SessionID)
	return session, nil
}

// Gate implements questions.SessionPolicy: a session accepts questions only while it is
// both active and open for submissions.
func (s *Service) Gate(ctx context.Context, sessionID string) (questions.SessionGate, error) {
	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return questions.SessionGate{}, err
	}
	return questions.SessionGate{
		AcceptingQuestions: session.Active && session.AcceptingQuestions,
	}, nil
}

// IsHost reports whether the subject owns the session.
func (s *Service) IsHost(ctx context.Context, sessionID, subject string) (bool, error) {
	cleanSubject := normalize(subject)
	if cleanSubject == "" {
		return false, nil
	}

	if cached, ok := s.hostCache.Load(normalize(sessionID)); ok {
		if hostID, ok := cached.(string); ok {
			return hostID == cleanSubject, nil
		}
	}

	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return false, err
	}
	s.hostCache.Store(session.SessionID, session.HostID)
	return session.HostID == cleanSubject, nil
}

func (s *Service) lookup(ctx context.Context, sessionID string) (Session, error) {
	cleanID := normalize(sessionID)
	if cleanID == "" {
		return Session{}, questions.NewErrorf(questions.KindValidation, "session id is required")
	}

	var session Session
	err := s.db.WithContext(ctx).Where("session_id = ?", cleanID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, questions.NewErrorf(questions.KindNotFound, "session %s", cleanID)
	}
	if err != nil {
		return Session{}, questions.NewError(questions.KindInternal, err)
	}
	return session, nil
}
