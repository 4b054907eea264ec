package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const templateNameMaxLength = 200

var ErrInvalidTemplateName = errors.New("invalid_template_name")

// PortalTemplate is a named branding/theme/widget preset. Applying a
// template to a portal overwrites the portal's presentation fields while
// leaving users, webhooks, and the rest of its configuration alone.
type PortalTemplate struct {
	ID             string    `gorm:"primaryKey;size:36"`
	Name           string    `gorm:"not null;size:200;uniqueIndex"`
	Description    string    `gorm:"size:500"`
	PrimaryColor   string    `gorm:"not null;size:7"`
	SecondaryColor string    `gorm:"not null;size:7"`
	AccentColor    string    `gorm:"not null;size:7"`
	Theme          string    `gorm:"not null;size:8"`
	EnabledWidgets string    `gorm:"size:1000"`
	Layout         string    `gorm:"size:8000"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// PortalTemplateInput holds the raw values used to construct a PortalTemplate.
type PortalTemplateInput struct {
	Name           string
	Description    string
	PrimaryColor   string
	SecondaryColor string
	AccentColor    string
	Theme          string
	EnabledWidgets []string
	Layout         string
}

// NewPortalTemplate constructs a validated PortalTemplate reusing the
// portal presentation validation rules.
func NewPortalTemplate(input PortalTemplateInput) (PortalTemplate, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > templateNameMaxLength {
		return PortalTemplate{}, ErrInvalidTemplateName
	}

	theme := strings.TrimSpace(input.Theme)
	if theme == "" {
		theme = DefaultPortalTheme
	}
	if err := ValidatePortalTheme(theme); err != nil {
		return PortalTemplate{}, err
	}

	primaryColor, primaryErr := normalizePortalColor(input.PrimaryColor, DefaultPortalPrimaryColor)
	if primaryErr != nil {
		return PortalTemplate{}, primaryErr
	}
	secondaryColor, secondaryErr := normalizePortalColor(input.SecondaryColor, DefaultPortalSecondaryColor)
	if secondaryErr != nil {
		return PortalTemplate{}, secondaryErr
	}
	accentColor, accentErr := normalizePortalColor(input.AccentColor, DefaultPortalAccentColor)
	if accentErr != nil {
		return PortalTemplate{}, accentErr
	}

	enabledWidgets := input.EnabledWidgets
	if enabledWidgets == nil {
		enabledWidgets = DefaultEnabledWidgetTypes()
	}
	encodedWidgets, widgetsErr := EncodeEnabledWidgets(enabledWidgets)
	if widgetsErr != nil {
		return PortalTemplate{}, widgetsErr
	}

	layout := strings.TrimSpace(input.Layout)
	if err := ValidatePortalLayout(layout); err != nil {
		return PortalTemplate{}, err
	}

	description := strings.TrimSpace(input.Description)
	if len(description) > 500 {
		return PortalTemplate{}, fmt.Errorf("%w: description too long", ErrInvalidTemplateName)
	}

	return PortalTemplate{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    description,
		PrimaryColor:   primaryColor,
		SecondaryColor: secondaryColor,
		AccentColor:    accentColor,
		Theme:          theme,
		EnabledWidgets: encodedWidgets,
		Layout:         layout,
	}, nil
}

// ApplyTo copies the template's presentation fields onto the portal.
func (template PortalTemplate) ApplyTo(portal *ClientPortal) {
	portal.PrimaryColor = template.PrimaryColor
	portal.SecondaryColor = template.SecondaryColor
	portal.AccentColor = template.AccentColor
	portal.Theme = template.Theme
	portal.EnabledWidgets = template.EnabledWidgets
	portal.Layout = template.Layout
}
