package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	PortalStatusActive   = "active"
	PortalStatusInactive = "inactive"

	PortalThemeLight = "light"
	PortalThemeDark  = "dark"
	PortalThemeAuto  = "auto"

	DefaultPortalTheme                = PortalThemeAuto
	DefaultPortalPrimaryColor         = "#1f2937"
	DefaultPortalSecondaryColor       = "#f9fafb"
	DefaultPortalAccentColor          = "#2563eb"
	DefaultWidgetRefreshMinutes       = 15
	DefaultSessionTimeoutMinutes      = 60
	MinWidgetRefreshMinutes           = 5
	MaxWidgetRefreshMinutes           = 24 * 60
	MinSessionTimeoutMinutes          = 5
	MaxSessionTimeoutMinutes          = 12 * 60
	RecommendedSessionTimeoutMinutes = 120
	portalNameMaxLength              = 200
	portalSlugMaxLength              = 80
	portalCompanyNameMaxLength       = 200
	portalCustomDomainMaxLength      = 253
	portalEnabledWidgetsColumnLength = 1000
	portalLayoutColumnLength         = 8000
)

var (
	ErrInvalidPortalName           = errors.New("invalid_portal_name")
	ErrInvalidPortalSlug           = errors.New("invalid_portal_slug")
	ErrInvalidPortalStatus         = errors.New("invalid_portal_status")
	ErrInvalidPortalTheme          = errors.New("invalid_portal_theme")
	ErrInvalidPortalColor          = errors.New("invalid_portal_color")
	ErrInvalidPortalWidget         = errors.New("invalid_portal_widget")
	ErrInvalidPortalLayout         = errors.New("invalid_portal_layout")
	ErrInvalidWidgetRefreshMinutes = errors.New("invalid_widget_refresh_minutes")
	ErrInvalidSessionTimeout       = errors.New("invalid_session_timeout_minutes")

	portalSlugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	portalColorPattern = regexp.MustCompile(`^#[0-9a-f]{6}$`)
)

// ClientPortal is a white-labeled dashboard instance owned by an agency.
// EnabledWidgets and Layout are stored as JSON columns.
type ClientPortal struct {
	ID                    string    `gorm:"primaryKey;size:36"`
	Name                  string    `gorm:"not null;size:200"`
	Slug                  string    `gorm:"not null;size:80;uniqueIndex"`
	Status                string    `gorm:"not null;size:16;index"`
	CompanyName           string    `gorm:"size:200"`
	PrimaryColor          string    `gorm:"not null;size:7"`
	SecondaryColor        string    `gorm:"not null;size:7"`
	AccentColor           string    `gorm:"not null;size:7"`
	LogoAssetID           string    `gorm:"size:36"`
	Theme                 string    `gorm:"not null;size:8"`
	EnabledWidgets        string    `gorm:"size:1000"`
	Layout                string    `gorm:"size:8000"`
	WidgetRefreshMinutes  int       `gorm:"not null"`
	SessionTimeoutMinutes int       `gorm:"not null"`
	CustomDomain          string    `gorm:"size:253"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

// ClientPortalInput holds the raw values used to construct a ClientPortal.
type ClientPortalInput struct {
	Name                  string
	Slug                  string
	CompanyName           string
	PrimaryColor          string
	SecondaryColor        string
	AccentColor           string
	Theme                 string
	EnabledWidgets        []string
	Layout                string
	WidgetRefreshMinutes  int
	SessionTimeoutMinutes int
	CustomDomain          string
}

// NewClientPortal constructs an active ClientPortal with validated,
// normalized fields and defaults applied for omitted presentation values.
func NewClientPortal(input ClientPortalInput) (ClientPortal, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > portalNameMaxLength {
		return ClientPortal{}, ErrInvalidPortalName
	}

	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if err := ValidatePortalSlug(slug); err != nil {
		return ClientPortal{}, err
	}

	theme := strings.TrimSpace(input.Theme)
	if theme == "" {
		theme = DefaultPortalTheme
	}
	if err := ValidatePortalTheme(theme); err != nil {
		return ClientPortal{}, err
	}

	primaryColor, primaryErr := normalizePortalColor(input.PrimaryColor, DefaultPortalPrimaryColor)
	if primaryErr != nil {
		return ClientPortal{}, primaryErr
	}
	secondaryColor, secondaryErr := normalizePortalColor(input.SecondaryColor, DefaultPortalSecondaryColor)
	if secondaryErr != nil {
		return ClientPortal{}, secondaryErr
	}
	accentColor, accentErr := normalizePortalColor(input.AccentColor, DefaultPortalAccentColor)
	if accentErr != nil {
		return ClientPortal{}, accentErr
	}

	enabledWidgets := input.EnabledWidgets
	if enabledWidgets == nil {
		enabledWidgets = DefaultEnabledWidgetTypes()
	}
	encodedWidgets, widgetsErr := EncodeEnabledWidgets(enabledWidgets)
	if widgetsErr != nil {
		return ClientPortal{}, widgetsErr
	}

	layout := strings.TrimSpace(input.Layout)
	if err := ValidatePortalLayout(layout); err != nil {
		return ClientPortal{}, err
	}

	refreshMinutes := input.WidgetRefreshMinutes
	if refreshMinutes == 0 {
		refreshMinutes = DefaultWidgetRefreshMinutes
	}
	if refreshMinutes < MinWidgetRefreshMinutes || refreshMinutes > MaxWidgetRefreshMinutes {
		return ClientPortal{}, fmt.Errorf("%w: %d", ErrInvalidWidgetRefreshMinutes, refreshMinutes)
	}

	sessionTimeoutMinutes := input.SessionTimeoutMinutes
	if sessionTimeoutMinutes == 0 {
		sessionTimeoutMinutes = DefaultSessionTimeoutMinutes
	}
	if sessionTimeoutMinutes < MinSessionTimeoutMinutes || sessionTimeoutMinutes > MaxSessionTimeoutMinutes {
		return ClientPortal{}, fmt.Errorf("%w: %d", ErrInvalidSessionTimeout, sessionTimeoutMinutes)
	}

	companyName := strings.TrimSpace(input.CompanyName)
	if len(companyName) > portalCompanyNameMaxLength {
		return ClientPortal{}, fmt.Errorf("%w: company name too long", ErrInvalidPortalName)
	}

	customDomain := strings.ToLower(strings.TrimSpace(input.CustomDomain))
	if len(customDomain) > portalCustomDomainMaxLength {
		return ClientPortal{}, fmt.Errorf("%w: custom domain too long", ErrInvalidPortalName)
	}

	return ClientPortal{
		ID:                    uuid.NewString(),
		Name:                  name,
		Slug:                  slug,
		Status:                PortalStatusActive,
		CompanyName:           companyName,
		PrimaryColor:          primaryColor,
		SecondaryColor:        secondaryColor,
		AccentColor:           accentColor,
		Theme:                 theme,
		EnabledWidgets:        encodedWidgets,
		Layout:                layout,
		WidgetRefreshMinutes:  refreshMinutes,
		SessionTimeoutMinutes: sessionTimeoutMinutes,
		CustomDomain:          customDomain,
	}, nil
}

// ValidatePortalSlug checks that a slug is non-empty, bounded, and
// lowercase-kebab shaped so it can address a portal in URLs.
func ValidatePortalSlug(slug string) error {
	if slug == "" || len(slug) > portalSlugMaxLength {
		return fmt.Errorf("%w: empty or too long", ErrInvalidPortalSlug)
	}
	if !portalSlugPattern.MatchString(slug) {
		return fmt.Errorf("%w: %s", ErrInvalidPortalSlug, slug)
	}
	return nil
}

// ValidatePortalStatus checks a portal lifecycle status value.
func ValidatePortalStatus(status string) error {
	switch status {
	case PortalStatusActive, PortalStatusInactive:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPortalStatus, status)
	}
}

// ValidatePortalTheme checks a portal theme value.
func ValidatePortalTheme(theme string) error {
	switch theme {
	case PortalThemeLight, PortalThemeDark, PortalThemeAuto:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPortalTheme, theme)
	}
}

// ValidatePortalLayout checks that a layout payload, when supplied, is a
// bounded JSON document. The layout structure itself is owned by the
// dashboard client; the server only guarantees it round-trips.
func ValidatePortalLayout(layout string) error {
	if layout == "" {
		return nil
	}
	if len(layout) > portalLayoutColumnLength {
		return fmt.Errorf("%w: too long", ErrInvalidPortalLayout)
	}
	if !json.Valid([]byte(layout)) {
		return fmt.Errorf("%w: not valid json", ErrInvalidPortalLayout)
	}
	return nil
}

// NormalizePortalColor validates a hex color value, substituting the
// fallback when the value is empty.
func NormalizePortalColor(value string, fallback string) (string, error) {
	return normalizePortalColor(value, fallback)
}

func normalizePortalColor(value string, fallback string) (string, error) {
	color := strings.ToLower(strings.TrimSpace(value))
	if color == "" {
		return fallback, nil
	}
	if !portalColorPattern.MatchString(color) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPortalColor, color)
	}
	return color, nil
}

// EncodeEnabledWidgets validates that every widget type is known,
// de-duplicates while preserving order, and encodes the list as JSON.
func EncodeEnabledWidgets(widgetTypes []string) (string, error) {
	seen := make(map[string]struct{}, len(widgetTypes))
	normalized := make([]string, 0, len(widgetTypes))
	for _, widgetType := range widgetTypes {
		trimmed := strings.TrimSpace(widgetType)
		if !IsKnownWidgetType(trimmed) {
			return "", fmt.Errorf("%w: %s", ErrInvalidPortalWidget, widgetType)
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	encoded, encodeErr := json.Marshal(normalized)
	if encodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPortalWidget, encodeErr)
	}
	if len(encoded) > portalEnabledWidgetsColumnLength {
		return "", fmt.Errorf("%w: too many widgets", ErrInvalidPortalWidget)
	}
	return string(encoded), nil
}

// DecodeEnabledWidgets decodes the stored JSON widget list.
func DecodeEnabledWidgets(encoded string) ([]string, error) {
	if strings.TrimSpace(encoded) == "" {
		return []string{}, nil
	}
	var widgetTypes []string
	if decodeErr := json.Unmarshal([]byte(encoded), &widgetTypes); decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPortalWidget, decodeErr)
	}
	return widgetTypes, nil
}

// WidgetEnabled reports whether the portal has the widget type enabled.
func (portal ClientPortal) WidgetEnabled(widgetType string) bool {
	widgetTypes, decodeErr := DecodeEnabledWidgets(portal.EnabledWidgets)
	if decodeErr != nil {
		return false
	}
	for _, enabled := range widgetTypes {
		if enabled == widgetType {
			return true
		}
	}
	return false
}
