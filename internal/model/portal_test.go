package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testPortalName    = "Acme Client Portal"
	testPortalSlug    = "acme-client"
	testPortalCompany = "Acme Marketing"
)

func TestNewClientPortalValidatesAndNormalizes(t *testing.T) {
	portal, err := NewClientPortal(ClientPortalInput{
		Name:        "  " + testPortalName + "  ",
		Slug:        "  ACME-Client ",
		CompanyName: testPortalCompany,
	})
	require.NoError(t, err)

	require.NotEmpty(t, portal.ID)
	require.Equal(t, testPortalName, portal.Name)
	require.Equal(t, testPortalSlug, portal.Slug)
	require.Equal(t, PortalStatusActive, portal.Status)
	require.Equal(t, DefaultPortalTheme, portal.Theme)
	require.Equal(t, DefaultPortalPrimaryColor, portal.PrimaryColor)
	require.Equal(t, DefaultWidgetRefreshMinutes, portal.WidgetRefreshMinutes)
	require.Equal(t, DefaultSessionTimeoutMinutes, portal.SessionTimeoutMinutes)

	enabledWidgets, decodeErr := DecodeEnabledWidgets(portal.EnabledWidgets)
	require.NoError(t, decodeErr)
	require.Equal(t, DefaultEnabledWidgetTypes(), enabledWidgets)
}

func TestNewClientPortalRejectsEmptyName(t *testing.T) {
	_, err := NewClientPortal(ClientPortalInput{Name: "   ", Slug: testPortalSlug})
	require.ErrorIs(t, err, ErrInvalidPortalName)
}

func TestNewClientPortalRejectsBadSlugs(t *testing.T) {
	badSlugs := []string{"", "UPPER CASE", "double--dash", "-leading", "trailing-", "under_score"}
	for _, slug := range badSlugs {
		_, err := NewClientPortal(ClientPortalInput{Name: testPortalName, Slug: slug})
		require.ErrorIs(t, err, ErrInvalidPortalSlug, "slug %q", slug)
	}
}

func TestNewClientPortalRejectsUnknownWidget(t *testing.T) {
	_, err := NewClientPortal(ClientPortalInput{
		Name:           testPortalName,
		Slug:           testPortalSlug,
		EnabledWidgets: []string{WidgetTypeOverview, "sparkles"},
	})
	require.ErrorIs(t, err, ErrInvalidPortalWidget)
}

func TestNewClientPortalRejectsOutOfRangeIntervals(t *testing.T) {
	_, err := NewClientPortal(ClientPortalInput{
		Name:                 testPortalName,
		Slug:                 testPortalSlug,
		WidgetRefreshMinutes: MaxWidgetRefreshMinutes + 1,
	})
	require.ErrorIs(t, err, ErrInvalidWidgetRefreshMinutes)

	_, err = NewClientPortal(ClientPortalInput{
		Name:                  testPortalName,
		Slug:                  testPortalSlug,
		SessionTimeoutMinutes: MinSessionTimeoutMinutes - 1,
	})
	require.ErrorIs(t, err, ErrInvalidSessionTimeout)
}

func TestNormalizePortalColorLowercasesAndDefaults(t *testing.T) {
	color, err := NormalizePortalColor("  #A1B2C3 ", DefaultPortalPrimaryColor)
	require.NoError(t, err)
	require.Equal(t, "#a1b2c3", color)

	fallback, err := NormalizePortalColor("", DefaultPortalAccentColor)
	require.NoError(t, err)
	require.Equal(t, DefaultPortalAccentColor, fallback)

	_, err = NormalizePortalColor("red", DefaultPortalPrimaryColor)
	require.ErrorIs(t, err, ErrInvalidPortalColor)
}

func TestEncodeEnabledWidgetsDeduplicates(t *testing.T) {
	encoded, err := EncodeEnabledWidgets([]string{WidgetTypeTraffic, WidgetTypeTraffic, WidgetTypeOverview})
	require.NoError(t, err)

	decoded, decodeErr := DecodeEnabledWidgets(encoded)
	require.NoError(t, decodeErr)
	require.Equal(t, []string{WidgetTypeTraffic, WidgetTypeOverview}, decoded)
}

func TestWidgetEnabled(t *testing.T) {
	portal, err := NewClientPortal(ClientPortalInput{
		Name:           testPortalName,
		Slug:           testPortalSlug,
		EnabledWidgets: []string{WidgetTypeOverview},
	})
	require.NoError(t, err)

	require.True(t, portal.WidgetEnabled(WidgetTypeOverview))
	require.False(t, portal.WidgetEnabled(WidgetTypeCampaigns))
}

func TestValidatePortalLayoutBoundsSize(t *testing.T) {
	require.NoError(t, ValidatePortalLayout(""))
	require.NoError(t, ValidatePortalLayout(`{"columns":2}`))
	require.Error(t, ValidatePortalLayout("not json"))
	require.Error(t, ValidatePortalLayout(`{"a":"`+strings.Repeat("x", 9000)+`"}`))
}
