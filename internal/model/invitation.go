package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusExpired  = "expired"
	InvitationStatusRevoked  = "revoked"

	DefaultInvitationTTL = 7 * 24 * time.Hour
	MaxInvitationTTL     = 30 * 24 * time.Hour
)

var (
	ErrInvalidInvitationPortalID = errors.New("invalid_invitation_portal_id")
	ErrInvalidInvitationEmail    = errors.New("invalid_invitation_email")
	ErrInvalidInvitationTTL      = errors.New("invalid_invitation_ttl")
	ErrInvalidInvitationStatus   = errors.New("invalid_invitation_status")
)

// UserInvitation invites an email address into a portal with a role.
// TokenHash stores the SHA-256 of the redeemable token; the plaintext
// token is only returned once at creation time.
type UserInvitation struct {
	ID         string    `gorm:"primaryKey;size:36"`
	PortalID   string    `gorm:"not null;size:36;index"`
	Email      string    `gorm:"not null;size:320;index"`
	Role       string    `gorm:"not null;size:16"`
	TokenHash  string    `gorm:"not null;size:64;uniqueIndex"`
	Status     string    `gorm:"not null;size:16;index"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	AcceptedAt time.Time
	InvitedBy  string    `gorm:"size:320"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// UserInvitationInput holds the raw values used to construct a UserInvitation.
type UserInvitationInput struct {
	PortalID  string
	Email     string
	Role      string
	TokenHash string
	TTL       time.Duration
	InvitedBy string
	Now       time.Time
}

// NewUserInvitation constructs a pending UserInvitation with validated,
// normalized fields.
func NewUserInvitation(input UserInvitationInput) (UserInvitation, error) {
	portalID := strings.TrimSpace(input.PortalID)
	if portalID == "" {
		return UserInvitation{}, ErrInvalidInvitationPortalID
	}

	email, emailErr := NormalizePortalUserEmail(input.Email)
	if emailErr != nil {
		return UserInvitation{}, fmt.Errorf("%w: %v", ErrInvalidInvitationEmail, emailErr)
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = PortalUserRoleViewer
	}
	if err := ValidatePortalUserRole(role); err != nil {
		return UserInvitation{}, err
	}

	ttl := input.TTL
	if ttl == 0 {
		ttl = DefaultInvitationTTL
	}
	if ttl < 0 || ttl > MaxInvitationTTL {
		return UserInvitation{}, fmt.Errorf("%w: %s", ErrInvalidInvitationTTL, ttl)
	}

	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return UserInvitation{
		ID:        uuid.NewString(),
		PortalID:  portalID,
		Email:     email,
		Role:      role,
		TokenHash: strings.TrimSpace(input.TokenHash),
		Status:    InvitationStatusPending,
		ExpiresAt: now.Add(ttl),
		InvitedBy: strings.ToLower(strings.TrimSpace(input.InvitedBy)),
	}, nil
}

// Redeemable reports whether the invitation can still be accepted.
func (invitation UserInvitation) Redeemable(now time.Time) bool {
	return invitation.Status == InvitationStatusPending && now.Before(invitation.ExpiresAt)
}
