package compliance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/compliance"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/testutil"
)

const (
	testScanPortalName  = "Acme Reporting"
	testScanPortalSlug  = "acme-reporting"
	testScanOwnerEmail  = "owner@acme.example.com"
	testScanTokenDigest = "49c282ab9a45d13f2b2c6ef4902c0e2e66b08b0d69a0a5fa50d80871a2d12c99"
)

var testScanTime = time.Date(2026, time.May, 10, 8, 0, 0, 0, time.UTC)

func newScanFixture(testingT *testing.T) (*gorm.DB, *compliance.Scanner, model.ClientPortal) {
	testingT.Helper()
	database := testutil.NewSQLiteTestDatabase(testingT).OpenDatabase(testingT)
	scanner := compliance.NewScanner(database, zap.NewNop()).
		WithClock(func() time.Time { return testScanTime })

	portal, portalErr := model.NewClientPortal(model.ClientPortalInput{
		Name: testScanPortalName,
		Slug: testScanPortalSlug,
	})
	require.NoError(testingT, portalErr)
	require.NoError(testingT, database.Create(&portal).Error)

	owner, ownerErr := model.NewClientPortalUser(model.ClientPortalUserInput{
		PortalID: portal.ID,
		Email:    testScanOwnerEmail,
		Role:     model.PortalUserRoleOwner,
		Status:   model.PortalUserStatusActive,
	})
	require.NoError(testingT, ownerErr)
	require.NoError(testingT, database.Create(&owner).Error)

	return database, scanner, portal
}

func checksByRule(checks []model.ComplianceCheck) map[string]model.ComplianceCheck {
	byRule := make(map[string]model.ComplianceCheck, len(checks))
	for _, check := range checks {
		byRule[check.Rule] = check
	}
	return byRule
}

func TestScanPortalReportsCompliantBaseline(t *testing.T) {
	_, scanner, portal := newScanFixture(t)

	checks, scanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, scanErr)
	require.Len(t, checks, len(compliance.RuleNames()))
	for _, check := range checks {
		require.True(t, check.Compliant(), "rule %s unexpectedly non-compliant: %s", check.Rule, check.Detail)
		require.Equal(t, testScanTime.Unix(), check.CheckedAt.Unix())
	}
}

func TestScanPortalFlagsLongSessionTimeout(t *testing.T) {
	database, scanner, portal := newScanFixture(t)
	require.NoError(t, database.Model(&model.ClientPortal{}).
		Where("id = ?", portal.ID).
		Update("session_timeout_minutes", model.RecommendedSessionTimeoutMinutes+60).Error)

	checks, scanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, scanErr)

	timeoutCheck := checksByRule(checks)[compliance.RuleSessionTimeoutBounded]
	require.False(t, timeoutCheck.Compliant())
	require.Contains(t, timeoutCheck.Detail, "exceeds recommended")
}

func TestScanPortalFlagsDisabledWebhookEndpoint(t *testing.T) {
	database, scanner, portal := newScanFixture(t)

	endpoint, endpointErr := model.NewWebhookEndpoint(model.WebhookEndpointInput{
		PortalID: portal.ID,
		URL:      "https://hooks.acme.example.com/portal",
		Secret:   "webhook-signing-secret-value",
	})
	require.NoError(t, endpointErr)
	endpoint.Status = model.WebhookEndpointStatusDisabled
	require.NoError(t, database.Create(&endpoint).Error)

	checks, scanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, scanErr)

	healthCheck := checksByRule(checks)[compliance.RuleWebhookEndpointsAlive]
	require.False(t, healthCheck.Compliant())
	require.Contains(t, healthCheck.Detail, "disabled")
}

func TestScanPortalFlagsEnforcedProviderLeftDisabled(t *testing.T) {
	database, scanner, portal := newScanFixture(t)

	provider, providerErr := model.NewSSOProvider(model.SSOProviderInput{
		PortalID:    portal.ID,
		Type:        model.SSOProviderTypeOIDC,
		DisplayName: "Acme Workspace",
		Issuer:      "https://login.acme.example.com",
		SignInURL:   "https://login.acme.example.com/authorize",
		ClientID:    "acme-portal-client",
		Enabled:     false,
		Enforced:    true,
	})
	require.NoError(t, providerErr)
	require.NoError(t, database.Create(&provider).Error)

	checks, scanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, scanErr)

	ssoCheck := checksByRule(checks)[compliance.RuleEnforcedSSOEnabled]
	require.False(t, ssoCheck.Compliant())
}

func TestScanPortalFlagsMissingActiveOwner(t *testing.T) {
	database, scanner, portal := newScanFixture(t)
	require.NoError(t, database.Model(&model.ClientPortalUser{}).
		Where("portal_id = ?", portal.ID).
		Update("status", model.PortalUserStatusDisabled).Error)

	checks, scanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, scanErr)

	ownerCheck := checksByRule(checks)[compliance.RuleActiveOwnerPresent]
	require.False(t, ownerCheck.Compliant())
	require.Contains(t, ownerCheck.Detail, "no active owner")
}

func TestScanPortalFlagsOverdueInvitations(t *testing.T) {
	database, scanner, portal := newScanFixture(t)

	invitation, invitationErr := model.NewUserInvitation(model.UserInvitationInput{
		PortalID:  portal.ID,
		Email:     "invitee@acme.example.com",
		TokenHash: testScanTokenDigest,
		TTL:       time.Hour,
		Now:       testScanTime.Add(-48 * time.Hour),
	})
	require.NoError(t, invitationErr)
	require.NoError(t, database.Create(&invitation).Error)

	checks, scanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, scanErr)

	invitationCheck := checksByRule(checks)[compliance.RuleNoOverdueInvitations]
	require.False(t, invitationCheck.Compliant())
	require.Contains(t, invitationCheck.Detail, "past expiry")
}

func TestScanPortalFlagsUnknownEnabledWidget(t *testing.T) {
	database, scanner, portal := newScanFixture(t)
	require.NoError(t, database.Model(&model.ClientPortal{}).
		Where("id = ?", portal.ID).
		Update("enabled_widgets", `["crystal_ball"]`).Error)

	checks, scanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, scanErr)

	widgetCheck := checksByRule(checks)[compliance.RuleEnabledWidgetsKnown]
	require.False(t, widgetCheck.Compliant())
	require.Contains(t, widgetCheck.Detail, "crystal_ball")
}

func TestScanPortalReplacesPriorResults(t *testing.T) {
	database, scanner, portal := newScanFixture(t)

	_, firstScanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, firstScanErr)
	_, secondScanErr := scanner.ScanPortal(portal.ID)
	require.NoError(t, secondScanErr)

	var storedCount int64
	require.NoError(t, database.Model(&model.ComplianceCheck{}).
		Where("portal_id = ?", portal.ID).
		Count(&storedCount).Error)
	require.Equal(t, int64(len(compliance.RuleNames())), storedCount)
}

func TestScanAllSkipsInactivePortals(t *testing.T) {
	database, scanner, portal := newScanFixture(t)

	inactivePortal, inactiveErr := model.NewClientPortal(model.ClientPortalInput{
		Name: "Dormant Portal",
		Slug: "dormant-portal",
	})
	require.NoError(t, inactiveErr)
	inactivePortal.Status = model.PortalStatusInactive
	require.NoError(t, database.Create(&inactivePortal).Error)

	scanner.ScanAll(context.Background())

	var activeCount int64
	require.NoError(t, database.Model(&model.ComplianceCheck{}).
		Where("portal_id = ?", portal.ID).
		Count(&activeCount).Error)
	require.Equal(t, int64(len(compliance.RuleNames())), activeCount)

	var inactiveCount int64
	require.NoError(t, database.Model(&model.ComplianceCheck{}).
		Where("portal_id = ?", inactivePortal.ID).
		Count(&inactiveCount).Error)
	require.Zero(t, inactiveCount)
}
