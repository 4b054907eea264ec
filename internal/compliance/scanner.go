// Package compliance evaluates portal configuration against the reporting
// rule set and records per-rule results.
package compliance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	RuleSessionTimeoutBounded = "session_timeout_bounded"
	RuleWebhookTargetsHTTPS   = "webhook_targets_https"
	RuleWebhookEndpointsAlive = "webhook_endpoints_alive"
	RuleEnforcedSSOEnabled    = "enforced_sso_enabled"
	RuleActiveOwnerPresent    = "active_owner_present"
	RuleNoOverdueInvitations  = "no_overdue_invitations"
	RuleEnabledWidgetsKnown   = "enabled_widgets_known"

	logEventScanCompleted = "compliance_scan_completed"
)

// rule evaluates one policy for a portal and reports the outcome.
type rule struct {
	name     string
	evaluate func(scanner *Scanner, portal model.ClientPortal, now time.Time) (bool, string, error)
}

// ruleSet holds every rule in reporting order.
var ruleSet = []rule{
	{RuleSessionTimeoutBounded, evaluateSessionTimeout},
	{RuleWebhookTargetsHTTPS, evaluateWebhookTargets},
	{RuleWebhookEndpointsAlive, evaluateWebhookHealth},
	{RuleEnforcedSSOEnabled, evaluateEnforcedSSO},
	{RuleActiveOwnerPresent, evaluateActiveOwner},
	{RuleNoOverdueInvitations, evaluateOverdueInvitations},
	{RuleEnabledWidgetsKnown, evaluateEnabledWidgets},
}

// Scanner runs the rule set against portals and upserts ComplianceCheck rows.
type Scanner struct {
	database *gorm.DB
	logger   *zap.Logger
	clock    func() time.Time
}

// NewScanner constructs a Scanner.
func NewScanner(database *gorm.DB, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		database: database,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the scanner's time source. Test seam.
func (scanner *Scanner) WithClock(clock func() time.Time) *Scanner {
	scanner.clock = clock
	return scanner
}

// RuleNames returns the rule set names in reporting order.
func RuleNames() []string {
	names := make([]string, 0, len(ruleSet))
	for _, policyRule := range ruleSet {
		names = append(names, policyRule.name)
	}
	return names
}

// ScanPortal evaluates every rule for the portal, replaces its stored
// results, and returns them.
func (scanner *Scanner) ScanPortal(portalID string) ([]model.ComplianceCheck, error) {
	var portal model.ClientPortal
	if findErr := scanner.database.First(&portal, "id = ?", portalID).Error; findErr != nil {
		return nil, fmt.Errorf("compliance: load portal: %w", findErr)
	}

	now := scanner.clock()
	checks := make([]model.ComplianceCheck, 0, len(ruleSet))
	for _, policyRule := range ruleSet {
		compliant, detail, evaluateErr := policyRule.evaluate(scanner, portal, now)
		if evaluateErr != nil {
			return nil, fmt.Errorf("compliance: evaluate %s: %w", policyRule.name, evaluateErr)
		}
		check, checkErr := model.NewComplianceCheck(portal.ID, policyRule.name, compliant, detail, now)
		if checkErr != nil {
			return nil, checkErr
		}
		checks = append(checks, check)
	}

	transactionErr := scanner.database.Transaction(func(transaction *gorm.DB) error {
		if deleteErr := transaction.Where("portal_id = ?", portal.ID).Delete(&model.ComplianceCheck{}).Error; deleteErr != nil {
			return deleteErr
		}
		return transaction.Create(&checks).Error
	})
	if transactionErr != nil {
		return nil, fmt.Errorf("compliance: store results: %w", transactionErr)
	}

	metrics.ComplianceScansTotal.Inc()
	scanner.logger.Info(logEventScanCompleted,
		zap.String("portal_id", portal.ID),
		zap.Int("rules", len(checks)),
		zap.Int("non_compliant", countNonCompliant(checks)),
	)
	return checks, nil
}

// ScanAll evaluates every active portal. Satisfies task.RunnerFunc.
func (scanner *Scanner) ScanAll(ctx context.Context) {
	var portalIDs []string
	if queryErr := scanner.database.Model(&model.ClientPortal{}).
		Where("status = ?", model.PortalStatusActive).
		Pluck("id", &portalIDs).Error; queryErr != nil {
		scanner.logger.Error("compliance_portal_query", zap.Error(queryErr))
		return
	}
	for _, portalID := range portalIDs {
		if ctx.Err() != nil {
			return
		}
		if _, scanErr := scanner.ScanPortal(portalID); scanErr != nil {
			scanner.logger.Error("compliance_portal_scan", zap.String("portal_id", portalID), zap.Error(scanErr))
		}
	}
}

func countNonCompliant(checks []model.ComplianceCheck) int {
	count := 0
	for _, check := range checks {
		if !check.Compliant() {
			count++
		}
	}
	return count
}

func evaluateSessionTimeout(_ *Scanner, portal model.ClientPortal, _ time.Time) (bool, string, error) {
	if portal.SessionTimeoutMinutes > model.RecommendedSessionTimeoutMinutes {
		return false, fmt.Sprintf("session timeout %d minutes exceeds recommended %d", portal.SessionTimeoutMinutes, model.RecommendedSessionTimeoutMinutes), nil
	}
	return true, "", nil
}

func evaluateWebhookTargets(scanner *Scanner, portal model.ClientPortal, _ time.Time) (bool, string, error) {
	var endpoints []model.WebhookEndpoint
	if queryErr := scanner.database.Where("portal_id = ?", portal.ID).Find(&endpoints).Error; queryErr != nil {
		return false, "", queryErr
	}
	for _, endpoint := range endpoints {
		if _, urlErr := model.ValidateWebhookURL(endpoint.URL); urlErr != nil {
			return false, fmt.Sprintf("endpoint %s has non-https target", endpoint.ID), nil
		}
	}
	return true, "", nil
}

func evaluateWebhookHealth(scanner *Scanner, portal model.ClientPortal, _ time.Time) (bool, string, error) {
	var disabledCount int64
	if queryErr := scanner.database.Model(&model.WebhookEndpoint{}).
		Where("portal_id = ? AND status = ?", portal.ID, model.WebhookEndpointStatusDisabled).
		Count(&disabledCount).Error; queryErr != nil {
		return false, "", queryErr
	}
	if disabledCount > 0 {
		return false, fmt.Sprintf("%d endpoint(s) disabled after repeated failures", disabledCount), nil
	}
	return true, "", nil
}

func evaluateEnforcedSSO(scanner *Scanner, portal model.ClientPortal, _ time.Time) (bool, string, error) {
	var brokenCount int64
	if queryErr := scanner.database.Model(&model.SSOProvider{}).
		Where("portal_id = ? AND enforced = ? AND enabled = ?", portal.ID, true, false).
		Count(&brokenCount).Error; queryErr != nil {
		return false, "", queryErr
	}
	if brokenCount > 0 {
		return false, fmt.Sprintf("%d enforced provider(s) not enabled", brokenCount), nil
	}
	return true, "", nil
}

func evaluateActiveOwner(scanner *Scanner, portal model.ClientPortal, _ time.Time) (bool, string, error) {
	var ownerCount int64
	if queryErr := scanner.database.Model(&model.ClientPortalUser{}).
		Where("portal_id = ? AND role = ? AND status = ?", portal.ID, model.PortalUserRoleOwner, model.PortalUserStatusActive).
		Count(&ownerCount).Error; queryErr != nil {
		return false, "", queryErr
	}
	if ownerCount == 0 {
		return false, "no active owner user", nil
	}
	return true, "", nil
}

func evaluateOverdueInvitations(scanner *Scanner, portal model.ClientPortal, now time.Time) (bool, string, error) {
	var overdueCount int64
	if queryErr := scanner.database.Model(&model.UserInvitation{}).
		Where("portal_id = ? AND status = ? AND expires_at < ?", portal.ID, model.InvitationStatusPending, now).
		Count(&overdueCount).Error; queryErr != nil {
		return false, "", queryErr
	}
	if overdueCount > 0 {
		return false, fmt.Sprintf("%d pending invitation(s) past expiry", overdueCount), nil
	}
	return true, "", nil
}

func evaluateEnabledWidgets(_ *Scanner, portal model.ClientPortal, _ time.Time) (bool, string, error) {
	widgetTypes, decodeErr := model.DecodeEnabledWidgets(portal.EnabledWidgets)
	if decodeErr != nil {
		return false, "enabled widget list does not decode", nil
	}
	for _, widgetType := range widgetTypes {
		if !model.IsKnownWidgetType(widgetType) {
			return false, fmt.Sprintf("unknown widget type %q enabled", widgetType), nil
		}
	}
	return true, "", nil
}
