package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLoginLinkTTL = 15 * time.Minute
	MaxLoginLinkTTL     = time.Hour
)

var (
	ErrInvalidLoginLinkPortalID = errors.New("invalid_login_link_portal_id")
	ErrInvalidLoginLinkUserID   = errors.New("invalid_login_link_user_id")
	ErrInvalidLoginLinkToken    = errors.New("invalid_login_link_token")
	ErrInvalidLoginLinkTTL      = errors.New("invalid_login_link_ttl")
)

// LoginLink is one issued magic sign-in token for a portal user.
// TokenHash stores the SHA-256 of the redeemable token; links are
// single-use and short-lived.
type LoginLink struct {
	ID         string    `gorm:"primaryKey;size:36"`
	PortalID   string    `gorm:"not null;size:36;index"`
	UserID     string    `gorm:"not null;size:36;index"`
	TokenHash  string    `gorm:"not null;size:64;uniqueIndex"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	ConsumedAt time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// NewLoginLink constructs an unconsumed LoginLink.
func NewLoginLink(portalID string, userID string, tokenHash string, ttl time.Duration, now time.Time) (LoginLink, error) {
	trimmedPortalID := strings.TrimSpace(portalID)
	if trimmedPortalID == "" {
		return LoginLink{}, ErrInvalidLoginLinkPortalID
	}
	trimmedUserID := strings.TrimSpace(userID)
	if trimmedUserID == "" {
		return LoginLink{}, ErrInvalidLoginLinkUserID
	}
	trimmedTokenHash := strings.TrimSpace(tokenHash)
	if len(trimmedTokenHash) != 64 {
		return LoginLink{}, ErrInvalidLoginLinkToken
	}
	if ttl == 0 {
		ttl = DefaultLoginLinkTTL
	}
	if ttl < 0 || ttl > MaxLoginLinkTTL {
		return LoginLink{}, ErrInvalidLoginLinkTTL
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return LoginLink{
		ID:        uuid.NewString(),
		PortalID:  trimmedPortalID,
		UserID:    trimmedUserID,
		TokenHash: trimmedTokenHash,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Redeemable reports whether the link is unconsumed and unexpired.
func (link LoginLink) Redeemable(now time.Time) bool {
	return link.ConsumedAt.IsZero() && now.Before(link.ExpiresAt)
}
