package httpapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

type whiteLabelBody struct {
	PortalID           string `json:"portal_id"`
	EmailFromName      string `json:"email_from_name"`
	EmailFromAddress   string `json:"email_from_address"`
	SupportURL         string `json:"support_url"`
	FooterText         string `json:"footer_text"`
	HideVendorBranding bool   `json:"hide_vendor_branding"`
}

func TestGetWhiteLabelSettingsDefaultsWhenUnset(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Blank Label", "blank-label")

	recorder := fixture.adminRequest(t, http.MethodGet, "/api/admin/portals/"+portal.ID+"/white-label", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var settings whiteLabelBody
	decodeJSONBody(t, recorder, &settings)
	require.Equal(t, portal.ID, settings.PortalID)
	require.Empty(t, settings.EmailFromName)
	require.False(t, settings.HideVendorBranding)
}

func TestPutWhiteLabelSettingsCreatesThenUpdates(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Branded", "branded")

	createRecorder := fixture.adminRequest(t, http.MethodPut, "/api/admin/portals/"+portal.ID+"/white-label", map[string]any{
		"email_from_name":      "Acme Reports",
		"email_from_address":   "reports@acme.example.com",
		"support_url":          "https://support.acme.example.com",
		"footer_text":          "Powered by Acme",
		"hide_vendor_branding": true,
	})
	require.Equal(t, http.StatusOK, createRecorder.Code)

	var created whiteLabelBody
	decodeJSONBody(t, createRecorder, &created)
	require.Equal(t, "Acme Reports", created.EmailFromName)
	require.True(t, created.HideVendorBranding)

	updateRecorder := fixture.adminRequest(t, http.MethodPut, "/api/admin/portals/"+portal.ID+"/white-label", map[string]any{
		"email_from_name":    "Acme Insights",
		"email_from_address": "insights@acme.example.com",
	})
	require.Equal(t, http.StatusOK, updateRecorder.Code)

	var settingCount int64
	require.NoError(t, fixture.database.Model(&model.WhiteLabelSetting{}).
		Where("portal_id = ?", portal.ID).Count(&settingCount).Error)
	require.Equal(t, int64(1), settingCount)

	var auditCount int64
	require.NoError(t, fixture.database.Model(&model.ClientPortalActivity{}).
		Where("portal_id = ? AND action = ?", portal.ID, model.ActivityActionWhiteLabelUpdated).
		Count(&auditCount).Error)
	require.Equal(t, int64(2), auditCount)
}

func TestPutWhiteLabelSettingsRejectsBadSenderAddress(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Bad Sender", "bad-sender")

	recorder := fixture.adminRequest(t, http.MethodPut, "/api/admin/portals/"+portal.ID+"/white-label", map[string]any{
		"email_from_address": "not-an-address",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetConfigReflectsWhiteLabelSettings(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Reflected", "reflected")

	putRecorder := fixture.adminRequest(t, http.MethodPut, "/api/admin/portals/"+portal.ID+"/white-label", map[string]any{
		"support_url":          "https://help.reflected.example.com",
		"footer_text":          "Reflected footer",
		"hide_vendor_branding": true,
	})
	require.Equal(t, http.StatusOK, putRecorder.Code)

	configRecorder := fixture.portalRequest(t, http.MethodGet, "/api/portal/reflected/config", nil, "")
	require.Equal(t, http.StatusOK, configRecorder.Code)

	var config struct {
		SupportURL   string `json:"support_url"`
		FooterText   string `json:"footer_text"`
		HideBranding bool   `json:"hide_vendor_branding"`
	}
	decodeJSONBody(t, configRecorder, &config)
	require.Equal(t, "https://help.reflected.example.com", config.SupportURL)
	require.Equal(t, "Reflected footer", config.FooterText)
	require.True(t, config.HideBranding)
}
