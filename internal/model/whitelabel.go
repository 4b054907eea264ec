package model

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	whiteLabelFromNameMaxLength   = 200
	whiteLabelFromEmailMaxLength  = 320
	whiteLabelSupportURLMaxLength = 500
	whiteLabelFooterMaxLength     = 1000
)

var (
	ErrInvalidWhiteLabelPortalID   = errors.New("invalid_white_label_portal_id")
	ErrInvalidWhiteLabelFromEmail  = errors.New("invalid_white_label_from_email")
	ErrInvalidWhiteLabelSupportURL = errors.New("invalid_white_label_support_url")
	ErrInvalidWhiteLabelText       = errors.New("invalid_white_label_text")
)

// WhiteLabelSetting controls the outbound presentation of a portal: how
// notification email headers and portal chrome identify the agency rather
// than the platform vendor. One row per portal.
type WhiteLabelSetting struct {
	ID                 string    `gorm:"primaryKey;size:36"`
	PortalID           string    `gorm:"not null;size:36;uniqueIndex"`
	EmailFromName      string    `gorm:"size:200"`
	EmailFromAddress   string    `gorm:"size:320"`
	SupportURL         string    `gorm:"size:500"`
	FooterText         string    `gorm:"size:1000"`
	HideVendorBranding bool      `gorm:"not null;default:false"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// WhiteLabelSettingInput holds the raw values used to construct a WhiteLabelSetting.
type WhiteLabelSettingInput struct {
	PortalID           string
	EmailFromName      string
	EmailFromAddress   string
	SupportURL         string
	FooterText         string
	HideVendorBranding bool
}

// NewWhiteLabelSetting constructs a validated WhiteLabelSetting.
func NewWhiteLabelSetting(input WhiteLabelSettingInput) (WhiteLabelSetting, error) {
	portalID := strings.TrimSpace(input.PortalID)
	if portalID == "" {
		return WhiteLabelSetting{}, ErrInvalidWhiteLabelPortalID
	}

	fromName := strings.TrimSpace(input.EmailFromName)
	if len(fromName) > whiteLabelFromNameMaxLength {
		return WhiteLabelSetting{}, fmt.Errorf("%w: from name too long", ErrInvalidWhiteLabelText)
	}

	fromAddress := strings.ToLower(strings.TrimSpace(input.EmailFromAddress))
	if fromAddress != "" {
		if len(fromAddress) > whiteLabelFromEmailMaxLength {
			return WhiteLabelSetting{}, fmt.Errorf("%w: too long", ErrInvalidWhiteLabelFromEmail)
		}
		if _, parseErr := mail.ParseAddress(fromAddress); parseErr != nil {
			return WhiteLabelSetting{}, fmt.Errorf("%w: %v", ErrInvalidWhiteLabelFromEmail, parseErr)
		}
	}

	supportURL := strings.TrimSpace(input.SupportURL)
	if supportURL != "" {
		if len(supportURL) > whiteLabelSupportURLMaxLength {
			return WhiteLabelSetting{}, fmt.Errorf("%w: too long", ErrInvalidWhiteLabelSupportURL)
		}
		parsed, parseErr := url.Parse(supportURL)
		if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
			return WhiteLabelSetting{}, fmt.Errorf("%w: %s", ErrInvalidWhiteLabelSupportURL, supportURL)
		}
	}

	footerText := strings.TrimSpace(input.FooterText)
	if len(footerText) > whiteLabelFooterMaxLength {
		return WhiteLabelSetting{}, fmt.Errorf("%w: footer too long", ErrInvalidWhiteLabelText)
	}

	return WhiteLabelSetting{
		ID:                 uuid.NewString(),
		PortalID:           portalID,
		EmailFromName:      fromName,
		EmailFromAddress:   fromAddress,
		SupportURL:         supportURL,
		FooterText:         footerText,
		HideVendorBranding: input.HideVendorBranding,
	}, nil
}
