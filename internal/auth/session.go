package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionTokenIssuer    = "portal_svc"
	minSigningSecretBytes = 32
)

var (
	// ErrSigningSecretTooShort indicates the configured session signing secret is too weak.
	ErrSigningSecretTooShort = errors.New("auth: session signing secret too short")
	// ErrInvalidSessionToken indicates the presented session token failed verification.
	ErrInvalidSessionToken = errors.New("auth: invalid session token")
)

// SessionClaims carry the portal-scoped identity encoded in a session token.
type SessionClaims struct {
	PortalID string `json:"portal_id"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// SessionManager mints and verifies HS256 session tokens for portal users.
// Token lifetime follows each portal's configured session timeout rather
// than a global constant.
type SessionManager struct {
	signingSecret []byte
}

// NewSessionManager validates the signing secret and constructs a SessionManager.
func NewSessionManager(signingSecret string) (*SessionManager, error) {
	trimmedSecret := strings.TrimSpace(signingSecret)
	if len(trimmedSecret) < minSigningSecretBytes {
		return nil, ErrSigningSecretTooShort
	}
	return &SessionManager{signingSecret: []byte(trimmedSecret)}, nil
}

// IssueSessionToken mints a session token for the portal user that expires
// after the portal's session timeout.
func (manager *SessionManager) IssueSessionToken(portalID string, userID string, email string, role string, sessionTimeout time.Duration, now time.Time) (string, time.Time, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresAt := now.Add(sessionTimeout)
	claims := SessionClaims{
		PortalID: portalID,
		UserID:   userID,
		Email:    email,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionTokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, signErr := token.SignedString(manager.signingSecret)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign session token: %w", signErr)
	}
	return signed, expiresAt, nil
}

// VerifySessionToken parses and validates a session token, returning its claims.
func (manager *SessionManager) VerifySessionToken(tokenString string) (SessionClaims, error) {
	var claims SessionClaims
	parsed, parseErr := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(*jwt.Token) (any, error) { return manager.signingSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if parseErr != nil || !parsed.Valid {
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, parseErr)
	}
	return claims, nil
}
