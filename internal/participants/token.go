// Package participants validates the opaque tokens that identify anonymous audience
// members. A token is purely a deduplication key for votes and feedback; it carries no
// authentication weight and must never be used for authorization decisions.
package participants

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidToken indicates that a participant token is not a version-4 UUID.
var ErrInvalidToken = errors.New("participants: invalid participant token")

// Token represents a validated participant identifier, compared only for equality.
type Token string

// NewToken validates raw input and returns a Token.
func NewToken(rawInput string) (Token, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Version() != 4 {
		return "", fmt.Errorf("%w: expected version 4, got version %d", ErrInvalidToken, parsed.Version())
	}
	return Token(parsed.String()), nil
}

// String returns the canonical token text.
func (t Token) String() string {
	return string(t)
}
