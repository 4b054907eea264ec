package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	WebhookEndpointStatusActive   = "active"
	WebhookEndpointStatusDisabled = "disabled"

	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
	WebhookDeliveryStatusDead      = "dead"

	WebhookEventPing = "ping"

	webhookURLMaxLength          = 500
	webhookSecretMinLength       = 16
	webhookSecretMaxLength       = 128
	webhookEventTypesColumn      = 1000
	webhookDeliveryPayloadColumn = 8000
	webhookLastErrorMaxLength    = 500
)

var (
	ErrInvalidWebhookPortalID = errors.New("invalid_webhook_portal_id")
	ErrInvalidWebhookURL      = errors.New("invalid_webhook_url")
	ErrInvalidWebhookSecret   = errors.New("invalid_webhook_secret")
	ErrInvalidWebhookEvents   = errors.New("invalid_webhook_event_types")
	ErrInvalidWebhookPayload  = errors.New("invalid_webhook_payload")
)

// webhookEventCatalog lists the event types an endpoint may subscribe to.
// Every activity action doubles as a webhook event name, plus the test
// ping; the recorder fans each recorded action out to subscribers.
var webhookEventCatalog = map[string]struct{}{
	WebhookEventPing:                {},
	ActivityActionPortalCreated:     {},
	ActivityActionPortalUpdated:     {},
	ActivityActionPortalDeleted:     {},
	ActivityActionTemplateApplied:   {},
	ActivityActionUserCreated:       {},
	ActivityActionUserUpdated:       {},
	ActivityActionUserDeleted:       {},
	ActivityActionUserLogin:         {},
	ActivityActionUserLoginFailed:   {},
	ActivityActionInvitationCreated: {},
	ActivityActionInvitationAccept:  {},
	ActivityActionInvitationRevoked: {},
	ActivityActionWebhookCreated:    {},
	ActivityActionWebhookUpdated:    {},
	ActivityActionWebhookDeleted:    {},
	ActivityActionSSOProviderSaved:  {},
	ActivityActionSSOProviderDelete: {},
	ActivityActionComplianceScan:    {},
	ActivityActionWhiteLabelUpdated: {},
	ActivityActionAssetUploaded:     {},
	ActivityActionAssetDeleted:      {},
	ActivityActionWidgetViewed:      {},
}

// WebhookEndpoint is a configured outbound notification target for a portal.
type WebhookEndpoint struct {
	ID           string `gorm:"primaryKey;size:36"`
	PortalID     string `gorm:"not null;size:36;index"`
	URL          string `gorm:"not null;size:500"`
	Secret       string `gorm:"not null;size:128"`
	EventTypes   string `gorm:"size:1000"`
	Status       string `gorm:"not null;size:16;index"`
	FailureCount int    `gorm:"not null;default:0"`
	DisabledAt   time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// WebhookEndpointInput holds the raw values used to construct a WebhookEndpoint.
type WebhookEndpointInput struct {
	PortalID   string
	URL        string
	Secret     string
	EventTypes []string
}

// NewWebhookEndpoint constructs an active WebhookEndpoint with validated,
// normalized fields. Only https targets are accepted.
func NewWebhookEndpoint(input WebhookEndpointInput) (WebhookEndpoint, error) {
	portalID := strings.TrimSpace(input.PortalID)
	if portalID == "" {
		return WebhookEndpoint{}, ErrInvalidWebhookPortalID
	}

	endpointURL, urlErr := ValidateWebhookURL(input.URL)
	if urlErr != nil {
		return WebhookEndpoint{}, urlErr
	}

	secret := strings.TrimSpace(input.Secret)
	if len(secret) < webhookSecretMinLength || len(secret) > webhookSecretMaxLength {
		return WebhookEndpoint{}, fmt.Errorf("%w: length out of range", ErrInvalidWebhookSecret)
	}

	encodedEvents, eventsErr := EncodeWebhookEventTypes(input.EventTypes)
	if eventsErr != nil {
		return WebhookEndpoint{}, eventsErr
	}

	return WebhookEndpoint{
		ID:         uuid.NewString(),
		PortalID:   portalID,
		URL:        endpointURL,
		Secret:     secret,
		EventTypes: encodedEvents,
		Status:     WebhookEndpointStatusActive,
	}, nil
}

// ValidateWebhookURL checks that the target parses as an absolute https URL.
func ValidateWebhookURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > webhookURLMaxLength {
		return "", fmt.Errorf("%w: empty or too long", ErrInvalidWebhookURL)
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidWebhookURL, trimmed)
	}
	if parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be https", ErrInvalidWebhookURL)
	}
	return parsed.String(), nil
}

// EncodeWebhookEventTypes validates subscribed event names against the
// catalog and encodes them as JSON. An empty list subscribes to everything.
func EncodeWebhookEventTypes(eventTypes []string) (string, error) {
	normalized := make([]string, 0, len(eventTypes))
	seen := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		trimmed := strings.TrimSpace(eventType)
		if _, known := webhookEventCatalog[trimmed]; !known {
			return "", fmt.Errorf("%w: %s", ErrInvalidWebhookEvents, eventType)
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	encoded, encodeErr := json.Marshal(normalized)
	if encodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWebhookEvents, encodeErr)
	}
	if len(encoded) > webhookEventTypesColumn {
		return "", fmt.Errorf("%w: too many event types", ErrInvalidWebhookEvents)
	}
	return string(encoded), nil
}

// DecodeWebhookEventTypes decodes a stored subscription list. An empty
// column decodes to an empty list.
func DecodeWebhookEventTypes(encoded string) ([]string, error) {
	if strings.TrimSpace(encoded) == "" {
		return []string{}, nil
	}
	var eventTypes []string
	if decodeErr := json.Unmarshal([]byte(encoded), &eventTypes); decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookEvents, decodeErr)
	}
	return eventTypes, nil
}

// WebhookEventTypes returns the sorted catalog of subscribable event names.
func WebhookEventTypes() []string {
	eventTypes := make([]string, 0, len(webhookEventCatalog))
	for eventType := range webhookEventCatalog {
		eventTypes = append(eventTypes, eventType)
	}
	sort.Strings(eventTypes)
	return eventTypes
}

// SubscribedTo reports whether the endpoint wants the event. Endpoints with
// an empty subscription list receive every event.
func (endpoint WebhookEndpoint) SubscribedTo(eventType string) bool {
	if strings.TrimSpace(endpoint.EventTypes) == "" || endpoint.EventTypes == "[]" {
		return true
	}
	var eventTypes []string
	if decodeErr := json.Unmarshal([]byte(endpoint.EventTypes), &eventTypes); decodeErr != nil {
		return false
	}
	for _, subscribed := range eventTypes {
		if subscribed == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery is one queued outbound notification attempt series.
type WebhookDelivery struct {
	ID            string    `gorm:"primaryKey;size:36"`
	EndpointID    string    `gorm:"not null;size:36;index"`
	PortalID      string    `gorm:"not null;size:36;index"`
	EventType     string    `gorm:"not null;size:64"`
	Payload       string    `gorm:"size:8000"`
	Status        string    `gorm:"not null;size:16;index:idx_deliveries_status_next"`
	AttemptCount  int       `gorm:"not null;default:0"`
	NextAttemptAt time.Time `gorm:"not null;index:idx_deliveries_status_next"`
	LastError     string    `gorm:"size:500"`
	DeliveredAt   time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// NewWebhookDelivery constructs a pending delivery for an endpoint.
func NewWebhookDelivery(endpoint WebhookEndpoint, eventType string, payload any, now time.Time) (WebhookDelivery, error) {
	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return WebhookDelivery{}, fmt.Errorf("%w: %v", ErrInvalidWebhookPayload, encodeErr)
	}
	if len(encoded) > webhookDeliveryPayloadColumn {
		return WebhookDelivery{}, fmt.Errorf("%w: too large", ErrInvalidWebhookPayload)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return WebhookDelivery{
		ID:            uuid.NewString(),
		EndpointID:    endpoint.ID,
		PortalID:      endpoint.PortalID,
		EventType:     strings.TrimSpace(eventType),
		Payload:       string(encoded),
		Status:        WebhookDeliveryStatusPending,
		NextAttemptAt: now,
	}, nil
}

// TruncateWebhookError bounds a delivery error message for storage.
func TruncateWebhookError(message string) string {
	if len(message) <= webhookLastErrorMaxLength {
		return message
	}
	return message[:webhookLastErrorMaxLength]
}
