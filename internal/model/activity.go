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
	ActivityActionPortalCreated     = "portal.created"
	ActivityActionPortalUpdated     = "portal.updated"
	ActivityActionPortalDeleted     = "portal.deleted"
	ActivityActionTemplateApplied   = "portal.template_applied"
	ActivityActionUserCreated       = "user.created"
	ActivityActionUserUpdated       = "user.updated"
	ActivityActionUserDeleted       = "user.deleted"
	ActivityActionUserLogin         = "user.login"
	ActivityActionUserLoginFailed   = "user.login_failed"
	ActivityActionInvitationCreated = "invitation.created"
	ActivityActionInvitationAccept  = "invitation.accepted"
	ActivityActionInvitationRevoked = "invitation.revoked"
	ActivityActionWebhookCreated    = "webhook.created"
	ActivityActionWebhookUpdated    = "webhook.updated"
	ActivityActionWebhookDeleted    = "webhook.deleted"
	ActivityActionSSOProviderSaved  = "sso_provider.saved"
	ActivityActionSSOProviderDelete = "sso_provider.deleted"
	ActivityActionComplianceScan    = "compliance.scan"
	ActivityActionWhiteLabelUpdated = "white_label.updated"
	ActivityActionAssetUploaded     = "asset.uploaded"
	ActivityActionAssetDeleted      = "asset.deleted"
	ActivityActionWidgetViewed      = "widget.viewed"

	activityActorMaxLength    = 320
	activityActionMaxLength   = 64
	activityResourceMaxLength = 64
	activityDetailMaxLength   = 2000
	activityIPMaxLength       = 64
	activityUserAgentMax      = 400
)

var (
	ErrInvalidActivityPortalID = errors.New("invalid_activity_portal_id")
	ErrInvalidActivityAction   = errors.New("invalid_activity_action")
	ErrInvalidActivityDetail   = errors.New("invalid_activity_detail")
)

// ClientPortalActivity is the portal audit trail: one row per notable
// action by an agency operator or a portal user. Widget analytics
// aggregate over these rows.
type ClientPortalActivity struct {
	ID           string    `gorm:"primaryKey;size:36"`
	PortalID     string    `gorm:"not null;size:36;index:idx_activities_portal_occurred"`
	Actor        string    `gorm:"size:320;index"`
	Action       string    `gorm:"not null;size:64;index"`
	ResourceType string    `gorm:"size:64"`
	ResourceID   string    `gorm:"size:36"`
	Detail       string    `gorm:"size:2000"`
	IP           string    `gorm:"size:64"`
	UserAgent    string    `gorm:"size:400"`
	OccurredAt   time.Time `gorm:"not null;index:idx_activities_portal_occurred"`
}

// ClientPortalActivityInput holds the raw values used to construct an activity row.
type ClientPortalActivityInput struct {
	PortalID     string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Detail       any
	IP           string
	UserAgent    string
	OccurredAt   time.Time
}

// NewClientPortalActivity constructs a validated activity row. Detail, when
// supplied, is JSON-encoded and bounded.
func NewClientPortalActivity(input ClientPortalActivityInput) (ClientPortalActivity, error) {
	portalID := strings.TrimSpace(input.PortalID)
	if portalID == "" {
		return ClientPortalActivity{}, ErrInvalidActivityPortalID
	}

	action := strings.TrimSpace(input.Action)
	if action == "" || len(action) > activityActionMaxLength {
		return ClientPortalActivity{}, ErrInvalidActivityAction
	}

	detail := ""
	if input.Detail != nil {
		encoded, encodeErr := json.Marshal(input.Detail)
		if encodeErr != nil {
			return ClientPortalActivity{}, fmt.Errorf("%w: %v", ErrInvalidActivityDetail, encodeErr)
		}
		if len(encoded) > activityDetailMaxLength {
			return ClientPortalActivity{}, fmt.Errorf("%w: too large", ErrInvalidActivityDetail)
		}
		detail = string(encoded)
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return ClientPortalActivity{
		ID:           uuid.NewString(),
		PortalID:     portalID,
		Actor:        truncateActivityField(strings.ToLower(strings.TrimSpace(input.Actor)), activityActorMaxLength),
		Action:       action,
		ResourceType: truncateActivityField(strings.TrimSpace(input.ResourceType), activityResourceMaxLength),
		ResourceID:   strings.TrimSpace(input.ResourceID),
		Detail:       detail,
		IP:           truncateActivityField(input.IP, activityIPMaxLength),
		UserAgent:    truncateActivityField(input.UserAgent, activityUserAgentMax),
		OccurredAt:   occurredAt,
	}, nil
}

func truncateActivityField(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
