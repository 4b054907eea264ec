package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	WidgetTypeOverview    = "overview"
	WidgetTypeTraffic     = "traffic"
	WidgetTypeEngagement  = "engagement"
	WidgetTypeCampaigns   = "campaigns"
	WidgetTypeConversions = "conversions"
	WidgetTypeAudience    = "audience"

	widgetDataPayloadColumnLength = 8000
)

var (
	ErrUnknownWidgetType       = errors.New("unknown_widget_type")
	ErrInvalidWidgetDataPortal = errors.New("invalid_widget_data_portal_id")
	ErrInvalidWidgetPayload    = errors.New("invalid_widget_payload")
)

// knownWidgetTypes is the catalog of dashboard tiles a portal may enable,
// in presentation order.
var knownWidgetTypes = []string{
	WidgetTypeOverview,
	WidgetTypeTraffic,
	WidgetTypeEngagement,
	WidgetTypeCampaigns,
	WidgetTypeConversions,
	WidgetTypeAudience,
}

// KnownWidgetTypes returns the widget type catalog.
func KnownWidgetTypes() []string {
	catalog := make([]string, len(knownWidgetTypes))
	copy(catalog, knownWidgetTypes)
	return catalog
}

// DefaultEnabledWidgetTypes returns the widget types a new portal starts with.
func DefaultEnabledWidgetTypes() []string {
	return []string{WidgetTypeOverview, WidgetTypeTraffic, WidgetTypeEngagement}
}

// IsKnownWidgetType reports whether the widget type is in the catalog.
func IsKnownWidgetType(widgetType string) bool {
	for _, known := range knownWidgetTypes {
		if known == widgetType {
			return true
		}
	}
	return false
}

// PortalWidgetData is a refreshed analytics snapshot for one widget tile of
// one portal. Payload is the JSON the dashboard renders.
type PortalWidgetData struct {
	ID         string    `gorm:"primaryKey;size:36"`
	PortalID   string    `gorm:"not null;size:36;uniqueIndex:idx_widget_data_portal_type"`
	WidgetType string    `gorm:"not null;size:32;uniqueIndex:idx_widget_data_portal_type"`
	Payload    string    `gorm:"size:8000"`
	ComputedAt time.Time `gorm:"not null;index"`
}

// NewPortalWidgetData constructs a validated PortalWidgetData snapshot.
func NewPortalWidgetData(portalID string, widgetType string, payload any, computedAt time.Time) (PortalWidgetData, error) {
	trimmedPortalID := strings.TrimSpace(portalID)
	if trimmedPortalID == "" {
		return PortalWidgetData{}, ErrInvalidWidgetDataPortal
	}
	if !IsKnownWidgetType(widgetType) {
		return PortalWidgetData{}, fmt.Errorf("%w: %s", ErrUnknownWidgetType, widgetType)
	}
	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return PortalWidgetData{}, fmt.Errorf("%w: %v", ErrInvalidWidgetPayload, encodeErr)
	}
	if len(encoded) > widgetDataPayloadColumnLength {
		return PortalWidgetData{}, fmt.Errorf("%w: too large", ErrInvalidWidgetPayload)
	}
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}
	return PortalWidgetData{
		ID:         uuid.NewString(),
		PortalID:   trimmedPortalID,
		WidgetType: widgetType,
		Payload:    string(encoded),
		ComputedAt: computedAt,
	}, nil
}

// Stale reports whether the snapshot is older than the refresh interval.
func (widgetData PortalWidgetData) Stale(refreshInterval time.Duration, now time.Time) bool {
	return now.Sub(widgetData.ComputedAt) >= refreshInterval
}
