package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	PortalUserRoleOwner  = "owner"
	PortalUserRoleAdmin  = "admin"
	PortalUserRoleViewer = "viewer"

	PortalUserStatusInvited  = "invited"
	PortalUserStatusActive   = "active"
	PortalUserStatusDisabled = "disabled"

	portalUserEmailMaxLength       = 320
	portalUserDisplayNameMaxLength = 200
)

var (
	ErrInvalidPortalUserPortalID = errors.New("invalid_portal_user_portal_id")
	ErrInvalidPortalUserEmail    = errors.New("invalid_portal_user_email")
	ErrInvalidPortalUserRole     = errors.New("invalid_portal_user_role")
	ErrInvalidPortalUserStatus   = errors.New("invalid_portal_user_status")
	ErrInvalidPortalUserName     = errors.New("invalid_portal_user_name")
)

// ClientPortalUser is a client-side login scoped to a single portal.
// PasswordHash is empty until the user registers through an invitation
// or has a password set by the agency.
type ClientPortalUser struct {
	ID           string `gorm:"primaryKey;size:36"`
	PortalID     string `gorm:"not null;size:36;uniqueIndex:idx_portal_users_portal_email"`
	Email        string `gorm:"not null;size:320;uniqueIndex:idx_portal_users_portal_email"`
	DisplayName  string `gorm:"size:200"`
	Role         string `gorm:"not null;size:16;index"`
	Status       string `gorm:"not null;size:16;index"`
	PasswordHash string `gorm:"size:100"`
	LastLoginAt  time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// ClientPortalUserInput holds the raw values used to construct a ClientPortalUser.
type ClientPortalUserInput struct {
	PortalID     string
	Email        string
	DisplayName  string
	Role         string
	Status       string
	PasswordHash string
}

// NewClientPortalUser constructs a ClientPortalUser with validated,
// normalized fields.
func NewClientPortalUser(input ClientPortalUserInput) (ClientPortalUser, error) {
	portalID := strings.TrimSpace(input.PortalID)
	if portalID == "" {
		return ClientPortalUser{}, ErrInvalidPortalUserPortalID
	}

	email, emailErr := NormalizePortalUserEmail(input.Email)
	if emailErr != nil {
		return ClientPortalUser{}, emailErr
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = PortalUserRoleViewer
	}
	if err := ValidatePortalUserRole(role); err != nil {
		return ClientPortalUser{}, err
	}

	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = PortalUserStatusInvited
	}
	if err := ValidatePortalUserStatus(status); err != nil {
		return ClientPortalUser{}, err
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if len(displayName) > portalUserDisplayNameMaxLength {
		return ClientPortalUser{}, fmt.Errorf("%w: too long", ErrInvalidPortalUserName)
	}

	return ClientPortalUser{
		ID:           uuid.NewString(),
		PortalID:     portalID,
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		Status:       status,
		PasswordHash: input.PasswordHash,
	}, nil
}

// NormalizePortalUserEmail lowercases, trims, and validates an email address.
func NormalizePortalUserEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > portalUserEmailMaxLength {
		return "", fmt.Errorf("%w: empty or too long", ErrInvalidPortalUserEmail)
	}
	if _, parseErr := mail.ParseAddress(email); parseErr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPortalUserEmail, parseErr)
	}
	return email, nil
}

// ValidatePortalUserRole checks a portal user role value.
func ValidatePortalUserRole(role string) error {
	switch role {
	case PortalUserRoleOwner, PortalUserRoleAdmin, PortalUserRoleViewer:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPortalUserRole, role)
	}
}

// ValidatePortalUserStatus checks a portal user lifecycle status value.
func ValidatePortalUserStatus(status string) error {
	switch status {
	case PortalUserStatusInvited, PortalUserStatusActive, PortalUserStatusDisabled:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPortalUserStatus, status)
	}
}

// CanSignIn reports whether the user may authenticate at all.
func (portalUser ClientPortalUser) CanSignIn() bool {
	return portalUser.Status == PortalUserStatusActive
}
