package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultHostTokenTTL = 12 * time.Hour

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubject       = errors.New("subject must be provided")
)

// HostTokenManagerConfig configures the host JWT manager.
type HostTokenManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// HostTokenManager issues and validates HS256 bearer tokens identifying session hosts.
// Participant requests never carry these tokens; participants are identified only by
// their opaque dedupe tokens.
type HostTokenManager struct {
	config HostTokenManagerConfig
	clock  func() time.Time
}

// NewHostTokenManager constructs a HostTokenManager with sane defaults.
func NewHostTokenManager(cfg HostTokenManagerConfig) (*HostTokenManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultHostTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &HostTokenManager{
		config: HostTokenManagerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// IssueHostToken produces a signed JWT and its expiry (seconds) for the host subject.
func (m *HostTokenManager) IssueHostToken(subject string) (string, int64, error) {
	if subject == "" {
		return "", 0, errMissingSubject
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.config.Issuer,
		Audience:  []string{m.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(m.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the host JWT is well formed and returns the host subject.
func (m *HostTokenManager) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return m.config.SigningSecret, nil
		},
		jwt.WithAudience(m.config.Audience),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}
