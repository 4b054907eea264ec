package httpapi_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

type invitationBody struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	InvitedBy string `json:"invited_by"`
	ExpiresAt int64  `json:"expires_at"`
}

type issueInvitationBody struct {
	Invitation invitationBody `json:"invitation"`
	Token      string         `json:"token"`
}

func issueInvitation(testingT *testing.T, fixture *apiFixture, portalID string, email string, role string) issueInvitationBody {
	testingT.Helper()
	recorder := fixture.adminRequest(testingT, http.MethodPost, "/api/admin/portals/"+portalID+"/invitations", map[string]any{
		"email": email,
		"role":  role,
	})
	require.Equal(testingT, http.StatusCreated, recorder.Code)
	var issued issueInvitationBody
	decodeJSONBody(testingT, recorder, &issued)
	return issued
}

func TestCreateInvitationReturnsTokenOnce(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Invitation Portal", "invitation-portal")

	issued := issueInvitation(t, fixture, portal.ID, "invitee@example.com", model.PortalUserRoleAdmin)
	require.NotEmpty(t, issued.Token)
	require.Equal(t, "invitee@example.com", issued.Invitation.Email)
	require.Equal(t, model.PortalUserRoleAdmin, issued.Invitation.Role)
	require.Equal(t, model.InvitationStatusPending, issued.Invitation.Status)
	require.Equal(t, testOperatorEmail, issued.Invitation.InvitedBy)

	var stored model.UserInvitation
	require.NoError(t, fixture.database.First(&stored, "id = ?", issued.Invitation.ID).Error)
	require.NotEqual(t, issued.Token, stored.TokenHash)
	require.Equal(t, auth.HashLinkToken(issued.Token), stored.TokenHash)
}

func TestAcceptInvitationCreatesActiveUser(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Accept Portal", "accept-portal")
	issued := issueInvitation(t, fixture, portal.ID, "newcomer@example.com", model.PortalUserRoleViewer)

	recorder := fixture.portalRequest(t, http.MethodPost, "/api/portal/accept-portal/invitations/accept", map[string]any{
		"token":        issued.Token,
		"display_name": "New Client",
		"password":     testPortalUserPassword,
	}, "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var accepted struct {
		User portalUserBody `json:"user"`
	}
	decodeJSONBody(t, recorder, &accepted)
	require.Equal(t, "newcomer@example.com", accepted.User.Email)
	require.Equal(t, model.PortalUserStatusActive, accepted.User.Status)
	require.True(t, accepted.User.HasPassword)

	var invitation model.UserInvitation
	require.NoError(t, fixture.database.First(&invitation, "id = ?", issued.Invitation.ID).Error)
	require.Equal(t, model.InvitationStatusAccepted, invitation.Status)
	require.False(t, invitation.AcceptedAt.IsZero())

	loginRecorder := fixture.portalRequest(t, http.MethodPost, "/api/portal/accept-portal/login", map[string]any{
		"email":    "newcomer@example.com",
		"password": testPortalUserPassword,
	}, "")
	require.Equal(t, http.StatusOK, loginRecorder.Code)
}

func TestAcceptInvitationIsSingleUse(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Single Use", "single-use")
	issued := issueInvitation(t, fixture, portal.ID, "onetime@example.com", model.PortalUserRoleViewer)

	acceptBody := map[string]any{"token": issued.Token, "password": testPortalUserPassword}
	firstRecorder := fixture.portalRequest(t, http.MethodPost, "/api/portal/single-use/invitations/accept", acceptBody, "")
	require.Equal(t, http.StatusOK, firstRecorder.Code)

	secondRecorder := fixture.portalRequest(t, http.MethodPost, "/api/portal/single-use/invitations/accept", acceptBody, "")
	require.Equal(t, http.StatusConflict, secondRecorder.Code)
	require.Equal(t, "invitation_spent", errorValue(t, secondRecorder))
}

func TestAcceptInvitationRejectsUnknownToken(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.seedPortal(t, "No Token", "no-token")

	recorder := fixture.portalRequest(t, http.MethodPost, "/api/portal/no-token/invitations/accept", map[string]any{
		"token":    "fabricated-token",
		"password": testPortalUserPassword,
	}, "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "unknown_invitation", errorValue(t, recorder))
}

func TestRevokeInvitationOnlyWhenPending(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Revoke Portal", "revoke-portal")
	issued := issueInvitation(t, fixture, portal.ID, "revoked@example.com", model.PortalUserRoleViewer)

	revokeRecorder := fixture.adminRequest(t, http.MethodDelete, "/api/admin/portals/"+portal.ID+"/invitations/"+issued.Invitation.ID, nil)
	require.Equal(t, http.StatusNoContent, revokeRecorder.Code)

	var revoked model.UserInvitation
	require.NoError(t, fixture.database.First(&revoked, "id = ?", issued.Invitation.ID).Error)
	require.Equal(t, model.InvitationStatusRevoked, revoked.Status)

	repeatRecorder := fixture.adminRequest(t, http.MethodDelete, "/api/admin/portals/"+portal.ID+"/invitations/"+issued.Invitation.ID, nil)
	require.Equal(t, http.StatusConflict, repeatRecorder.Code)
	require.Equal(t, "invitation_spent", errorValue(t, repeatRecorder))
}

func TestExpireOverdueSweepsPastDeadline(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Sweep Portal", "sweep-portal")

	overdue, overdueErr := model.NewUserInvitation(model.UserInvitationInput{
		PortalID:  portal.ID,
		Email:     "overdue@example.com",
		TokenHash: auth.HashLinkToken("overdue-token"),
		TTL:       time.Hour,
		Now:       time.Now().UTC().Add(-48 * time.Hour),
	})
	require.NoError(t, overdueErr)
	require.NoError(t, fixture.database.Create(&overdue).Error)

	current, currentErr := model.NewUserInvitation(model.UserInvitationInput{
		PortalID:  portal.ID,
		Email:     "current@example.com",
		TokenHash: auth.HashLinkToken("current-token"),
	})
	require.NoError(t, currentErr)
	require.NoError(t, fixture.database.Create(&current).Error)

	expiredCount, sweepErr := fixture.invitations.ExpireOverdue()
	require.NoError(t, sweepErr)
	require.Equal(t, int64(1), expiredCount)

	var sweptInvitation model.UserInvitation
	require.NoError(t, fixture.database.First(&sweptInvitation, "id = ?", overdue.ID).Error)
	require.Equal(t, model.InvitationStatusExpired, sweptInvitation.Status)

	var pendingInvitation model.UserInvitation
	require.NoError(t, fixture.database.First(&pendingInvitation, "id = ?", current.ID).Error)
	require.Equal(t, model.InvitationStatusPending, pendingInvitation.Status)
}

func TestPurgeStaleLoginLinksDropsExpiredRows(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Purge Portal", "purge-portal")
	portalUser := fixture.seedActiveUser(t, portal.ID, "purge@example.com", model.PortalUserRoleViewer)

	stale, staleErr := model.NewLoginLink(portal.ID, portalUser.ID, auth.HashLinkToken("stale-token"), model.DefaultLoginLinkTTL, time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, staleErr)
	require.NoError(t, fixture.database.Create(&stale).Error)

	live, liveErr := model.NewLoginLink(portal.ID, portalUser.ID, auth.HashLinkToken("live-token"), model.DefaultLoginLinkTTL, time.Now().UTC())
	require.NoError(t, liveErr)
	require.NoError(t, fixture.database.Create(&live).Error)

	purgedCount, purgeErr := fixture.invitations.PurgeStaleLoginLinks()
	require.NoError(t, purgeErr)
	require.Equal(t, int64(1), purgedCount)

	var remaining []model.LoginLink
	require.NoError(t, fixture.database.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, live.ID, remaining[0].ID)
}

func TestListInvitationsFiltersByStatus(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "List Portal", "list-portal")
	issueInvitation(t, fixture, portal.ID, "first@example.com", model.PortalUserRoleViewer)
	issued := issueInvitation(t, fixture, portal.ID, "second@example.com", model.PortalUserRoleViewer)

	revokeRecorder := fixture.adminRequest(t, http.MethodDelete, "/api/admin/portals/"+portal.ID+"/invitations/"+issued.Invitation.ID, nil)
	require.Equal(t, http.StatusNoContent, revokeRecorder.Code)

	listRecorder := fixture.adminRequest(t, http.MethodGet, "/api/admin/portals/"+portal.ID+"/invitations?status="+model.InvitationStatusPending, nil)
	require.Equal(t, http.StatusOK, listRecorder.Code)

	var listed struct {
		Invitations []invitationBody `json:"invitations"`
	}
	decodeJSONBody(t, listRecorder, &listed)
	require.Len(t, listed.Invitations, 1)
	require.Equal(t, "first@example.com", listed.Invitations[0].Email)
}
