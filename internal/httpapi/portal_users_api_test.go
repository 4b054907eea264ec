package httpapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

type portalUserBody struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	HasPassword bool   `json:"has_password"`
}

func TestCreateUserWithPasswordStartsActive(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "User Portal", "user-portal")

	recorder := fixture.adminRequest(t, http.MethodPost, "/api/admin/portals/"+portal.ID+"/users", map[string]any{
		"email":        "Client@Example.com",
		"display_name": "Acme Client",
		"role":         model.PortalUserRoleAdmin,
		"password":     testPortalUserPassword,
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created portalUserBody
	decodeJSONBody(t, recorder, &created)
	require.Equal(t, "client@example.com", created.Email)
	require.Equal(t, model.PortalUserRoleAdmin, created.Role)
	require.Equal(t, model.PortalUserStatusActive, created.Status)
	require.True(t, created.HasPassword)
}

func TestCreateUserWithoutPasswordStartsInvited(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Invite Portal", "invite-portal")

	recorder := fixture.adminRequest(t, http.MethodPost, "/api/admin/portals/"+portal.ID+"/users", map[string]any{
		"email": "pending@example.com",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created portalUserBody
	decodeJSONBody(t, recorder, &created)
	require.Equal(t, model.PortalUserRoleViewer, created.Role)
	require.Equal(t, model.PortalUserStatusInvited, created.Status)
	require.False(t, created.HasPassword)
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Dup Portal", "dup-portal")
	fixture.seedActiveUser(t, portal.ID, "taken@example.com", model.PortalUserRoleViewer)

	recorder := fixture.adminRequest(t, http.MethodPost, "/api/admin/portals/"+portal.ID+"/users", map[string]any{
		"email": "taken@example.com",
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "email_taken", errorValue(t, recorder))
}

func TestListUsersFiltersByStatus(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Filter Portal", "filter-portal")
	fixture.seedActiveUser(t, portal.ID, "active@example.com", model.PortalUserRoleOwner)

	invited, invitedErr := model.NewClientPortalUser(model.ClientPortalUserInput{
		PortalID: portal.ID,
		Email:    "invited@example.com",
	})
	require.NoError(t, invitedErr)
	require.NoError(t, fixture.database.Create(&invited).Error)

	recorder := fixture.adminRequest(t, http.MethodGet, "/api/admin/portals/"+portal.ID+"/users?status="+model.PortalUserStatusInvited, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var listed struct {
		Users []portalUserBody `json:"users"`
	}
	decodeJSONBody(t, recorder, &listed)
	require.Len(t, listed.Users, 1)
	require.Equal(t, "invited@example.com", listed.Users[0].Email)
}

func TestUpdateUserChangesRoleAndDisplayName(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Role Portal", "role-portal")
	fixture.seedActiveUser(t, portal.ID, "owner@example.com", model.PortalUserRoleOwner)
	viewer := fixture.seedActiveUser(t, portal.ID, "viewer@example.com", model.PortalUserRoleViewer)

	recorder := fixture.adminRequest(t, http.MethodPatch, "/api/admin/portals/"+portal.ID+"/users/"+viewer.ID, map[string]any{
		"role":         model.PortalUserRoleAdmin,
		"display_name": "Promoted Client",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var updated portalUserBody
	decodeJSONBody(t, recorder, &updated)
	require.Equal(t, model.PortalUserRoleAdmin, updated.Role)
	require.Equal(t, "Promoted Client", updated.DisplayName)
}

func TestUpdateUserRefusesDemotingLastOwner(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Owner Portal", "owner-portal")
	owner := fixture.seedActiveUser(t, portal.ID, "owner@example.com", model.PortalUserRoleOwner)

	recorder := fixture.adminRequest(t, http.MethodPatch, "/api/admin/portals/"+portal.ID+"/users/"+owner.ID, map[string]any{
		"role": model.PortalUserRoleViewer,
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "last_owner", errorValue(t, recorder))
}

func TestUpdateUserRefusesDisablingLastOwner(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Disable Portal", "disable-portal")
	owner := fixture.seedActiveUser(t, portal.ID, "owner@example.com", model.PortalUserRoleOwner)

	recorder := fixture.adminRequest(t, http.MethodPatch, "/api/admin/portals/"+portal.ID+"/users/"+owner.ID, map[string]any{
		"status": model.PortalUserStatusDisabled,
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "last_owner", errorValue(t, recorder))
}

func TestUpdateUserAllowsDemotionWhenAnotherOwnerRemains(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Two Owners", "two-owners")
	firstOwner := fixture.seedActiveUser(t, portal.ID, "first@example.com", model.PortalUserRoleOwner)
	fixture.seedActiveUser(t, portal.ID, "second@example.com", model.PortalUserRoleOwner)

	recorder := fixture.adminRequest(t, http.MethodPatch, "/api/admin/portals/"+portal.ID+"/users/"+firstOwner.ID, map[string]any{
		"role": model.PortalUserRoleViewer,
	})
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestDeleteUserRefusesLastOwner(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Delete Owner", "delete-owner")
	owner := fixture.seedActiveUser(t, portal.ID, "owner@example.com", model.PortalUserRoleOwner)

	recorder := fixture.adminRequest(t, http.MethodDelete, "/api/admin/portals/"+portal.ID+"/users/"+owner.ID, nil)
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "last_owner", errorValue(t, recorder))
}

func TestDeleteUserRemovesViewer(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Delete Viewer", "delete-viewer")
	fixture.seedActiveUser(t, portal.ID, "owner@example.com", model.PortalUserRoleOwner)
	viewer := fixture.seedActiveUser(t, portal.ID, "viewer@example.com", model.PortalUserRoleViewer)

	recorder := fixture.adminRequest(t, http.MethodDelete, "/api/admin/portals/"+portal.ID+"/users/"+viewer.ID, nil)
	require.Equal(t, http.StatusNoContent, recorder.Code)

	var remaining int64
	require.NoError(t, fixture.database.Model(&model.ClientPortalUser{}).
		Where("id = ?", viewer.ID).Count(&remaining).Error)
	require.Zero(t, remaining)
}

func TestUpdateUserAnswersNotFoundForForeignPortal(t *testing.T) {
	fixture := newAPIFixture(t)
	firstPortal := fixture.seedPortal(t, "First", "first-portal")
	secondPortal := fixture.seedPortal(t, "Second", "second-portal")
	foreignUser := fixture.seedActiveUser(t, secondPortal.ID, "user@example.com", model.PortalUserRoleViewer)

	recorder := fixture.adminRequest(t, http.MethodPatch, "/api/admin/portals/"+firstPortal.ID+"/users/"+foreignUser.ID, map[string]any{
		"display_name": "Hijack",
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "unknown_user", errorValue(t, recorder))
}
