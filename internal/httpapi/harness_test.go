package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/analytics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/assets"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/compliance"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/httpapi"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/testutil"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/webhook"
)

const (
	testAdminBearerToken      = "agency-management-token"
	testSessionSigningSecret  = "0123456789abcdef0123456789abcdef"
	testAssetURLSigningSecret = "fedcba9876543210fedcba9876543210"
	testOperatorEmail         = "operator@agency.example.com"
	testPortalUserPassword    = "client-portal-pass"
	testRateLimitPerMinute    = 6000
)

// apiFixture wires the full route surface against a temporary database,
// mirroring the server's route registration.
type apiFixture struct {
	database    *gorm.DB
	router      *gin.Engine
	sessions    *auth.SessionManager
	store       *assets.Store
	dispatcher  *webhook.Dispatcher
	invitations *httpapi.InvitationHandlers
}

func newAPIFixture(testingT *testing.T) *apiFixture {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.NewSQLiteTestDatabase(testingT).OpenDatabase(testingT)
	logger := zap.NewNop()

	store, storeErr := assets.NewStore(testingT.TempDir(), testAssetURLSigningSecret)
	require.NoError(testingT, storeErr)

	sessionManager, sessionErr := auth.NewSessionManager(testSessionSigningSecret)
	require.NoError(testingT, sessionErr)

	dispatcher := webhook.NewDispatcher(database, logger, nil, webhook.Config{})
	scanner := compliance.NewScanner(database, logger)
	refresher := analytics.NewRefresher(database, logger)
	recorder := httpapi.NewActivityRecorder(database, logger, dispatcher)

	portalHandlers := httpapi.NewPortalHandlers(database, logger, recorder, store)
	userHandlers := httpapi.NewPortalUserHandlers(database, logger, recorder)
	invitationHandlers := httpapi.NewInvitationHandlers(database, logger, recorder)
	webhookHandlers := httpapi.NewWebhookHandlers(database, logger, recorder, dispatcher)
	ssoHandlers := httpapi.NewSSOHandlers(database, logger, recorder)
	complianceHandlers := httpapi.NewComplianceHandlers(database, logger, recorder, scanner)
	activityHandlers := httpapi.NewActivityHandlers(database)
	templateHandlers := httpapi.NewTemplateHandlers(database, logger)
	whiteLabelHandlers := httpapi.NewWhiteLabelHandlers(database, logger, recorder)
	assetHandlers := httpapi.NewAssetHandlers(database, logger, recorder, store)
	widgetHandlers := httpapi.NewWidgetHandlers(database, logger, refresher)
	publicHandlers := httpapi.NewPortalPublicHandlers(database, logger, recorder, sessionManager, refresher)

	router := gin.New()

	adminGroup := router.Group("/api/admin")
	adminGroup.Use(httpapi.AdminAuthMiddleware(testAdminBearerToken))
	adminGroup.POST("/portals", portalHandlers.CreatePortal)
	adminGroup.GET("/portals", portalHandlers.ListPortals)
	adminGroup.GET("/portals/:id", portalHandlers.GetPortal)
	adminGroup.PATCH("/portals/:id", portalHandlers.UpdatePortal)
	adminGroup.DELETE("/portals/:id", portalHandlers.DeletePortal)
	adminGroup.POST("/portals/:id/apply-template", portalHandlers.ApplyTemplate)
	adminGroup.POST("/portals/:id/users", userHandlers.CreateUser)
	adminGroup.GET("/portals/:id/users", userHandlers.ListUsers)
	adminGroup.PATCH("/portals/:id/users/:user_id", userHandlers.UpdateUser)
	adminGroup.DELETE("/portals/:id/users/:user_id", userHandlers.DeleteUser)
	adminGroup.POST("/portals/:id/invitations", invitationHandlers.CreateInvitation)
	adminGroup.GET("/portals/:id/invitations", invitationHandlers.ListInvitations)
	adminGroup.DELETE("/portals/:id/invitations/:invitation_id", invitationHandlers.RevokeInvitation)
	adminGroup.POST("/portals/:id/webhooks", webhookHandlers.CreateWebhook)
	adminGroup.GET("/portals/:id/webhooks", webhookHandlers.ListWebhooks)
	adminGroup.PATCH("/portals/:id/webhooks/:webhook_id", webhookHandlers.UpdateWebhook)
	adminGroup.DELETE("/portals/:id/webhooks/:webhook_id", webhookHandlers.DeleteWebhook)
	adminGroup.POST("/portals/:id/webhooks/:webhook_id/test", webhookHandlers.TestWebhook)
	adminGroup.GET("/portals/:id/webhooks/:webhook_id/deliveries", webhookHandlers.ListDeliveries)
	adminGroup.GET("/webhook-events", webhookHandlers.EventCatalog)
	adminGroup.POST("/portals/:id/sso-providers", ssoHandlers.CreateProvider)
	adminGroup.GET("/portals/:id/sso-providers", ssoHandlers.ListProviders)
	adminGroup.PUT("/portals/:id/sso-providers/:provider_id", ssoHandlers.UpdateProvider)
	adminGroup.DELETE("/portals/:id/sso-providers/:provider_id", ssoHandlers.DeleteProvider)
	adminGroup.GET("/portals/:id/compliance", complianceHandlers.GetReport)
	adminGroup.POST("/portals/:id/compliance/scan", complianceHandlers.Scan)
	adminGroup.GET("/portals/:id/activities", activityHandlers.ListActivities)
	adminGroup.POST("/templates", templateHandlers.CreateTemplate)
	adminGroup.GET("/templates", templateHandlers.ListTemplates)
	adminGroup.GET("/templates/:template_id", templateHandlers.GetTemplate)
	adminGroup.PUT("/templates/:template_id", templateHandlers.UpdateTemplate)
	adminGroup.DELETE("/templates/:template_id", templateHandlers.DeleteTemplate)
	adminGroup.GET("/portals/:id/white-label", whiteLabelHandlers.GetSettings)
	adminGroup.PUT("/portals/:id/white-label", whiteLabelHandlers.PutSettings)
	adminGroup.POST("/portals/:id/assets", assetHandlers.UploadAsset)
	adminGroup.GET("/portals/:id/assets", assetHandlers.ListAssets)
	adminGroup.DELETE("/portals/:id/assets/:asset_id", assetHandlers.DeleteAsset)
	adminGroup.POST("/portals/:id/assets/:asset_id/signed-url", assetHandlers.IssueSignedURL)
	adminGroup.GET("/portals/:id/widgets", widgetHandlers.Catalog)
	adminGroup.GET("/portals/:id/widgets/:widget_type", widgetHandlers.GetWidgetData)

	rateLimiter := httpapi.NewRateLimiter(testRateLimitPerMinute, testRateLimitPerMinute)
	portalGroup := router.Group("/api/portal/:slug")
	portalGroup.Use(rateLimiter.Middleware())
	portalGroup.GET("/config", publicHandlers.GetConfig)
	portalGroup.POST("/login", publicHandlers.Login)
	portalGroup.POST("/login-links", publicHandlers.RequestLoginLink)
	portalGroup.POST("/sessions", publicHandlers.RedeemLoginLink)
	portalGroup.POST("/invitations/accept", invitationHandlers.AcceptInvitation)
	portalGroup.GET("/assets/:asset_id", assetHandlers.FetchAsset)

	sessionGroup := portalGroup.Group("")
	sessionGroup.Use(httpapi.PortalSessionMiddleware(sessionManager, publicHandlers.ResolvePortalID))
	sessionGroup.GET("/me", publicHandlers.Me)
	sessionGroup.GET("/widgets", publicHandlers.ListWidgets)
	sessionGroup.GET("/widgets/:widget_type", publicHandlers.GetWidget)

	return &apiFixture{
		database:    database,
		router:      router,
		sessions:    sessionManager,
		store:       store,
		dispatcher:  dispatcher,
		invitations: invitationHandlers,
	}
}

func (fixture *apiFixture) adminRequest(testingT *testing.T, method string, path string, body any) *httptest.ResponseRecorder {
	testingT.Helper()
	request := buildJSONRequest(testingT, method, path, body)
	request.Header.Set("Authorization", "Bearer "+testAdminBearerToken)
	request.Header.Set("X-Operator-Email", testOperatorEmail)
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	return recorder
}

func (fixture *apiFixture) portalRequest(testingT *testing.T, method string, path string, body any, sessionToken string) *httptest.ResponseRecorder {
	testingT.Helper()
	request := buildJSONRequest(testingT, method, path, body)
	if sessionToken != "" {
		request.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	return recorder
}

func buildJSONRequest(testingT *testing.T, method string, path string, body any) *http.Request {
	testingT.Helper()
	var requestBody *bytes.Reader
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		require.NoError(testingT, encodeErr)
		requestBody = bytes.NewReader(encoded)
	} else {
		requestBody = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, requestBody)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return request
}

func decodeJSONBody(testingT *testing.T, recorder *httptest.ResponseRecorder, target any) {
	testingT.Helper()
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), target))
}

func errorValue(testingT *testing.T, recorder *httptest.ResponseRecorder) string {
	testingT.Helper()
	var body map[string]string
	decodeJSONBody(testingT, recorder, &body)
	return body["error"]
}

func (fixture *apiFixture) seedPortal(testingT *testing.T, name string, slug string) model.ClientPortal {
	testingT.Helper()
	portal, portalErr := model.NewClientPortal(model.ClientPortalInput{Name: name, Slug: slug})
	require.NoError(testingT, portalErr)
	require.NoError(testingT, fixture.database.Create(&portal).Error)
	return portal
}

func (fixture *apiFixture) seedActiveUser(testingT *testing.T, portalID string, email string, role string) model.ClientPortalUser {
	testingT.Helper()
	passwordHash, hashErr := auth.HashPassword(testPortalUserPassword)
	require.NoError(testingT, hashErr)
	portalUser, userErr := model.NewClientPortalUser(model.ClientPortalUserInput{
		PortalID:     portalID,
		Email:        email,
		Role:         role,
		Status:       model.PortalUserStatusActive,
		PasswordHash: passwordHash,
	})
	require.NoError(testingT, userErr)
	require.NoError(testingT, fixture.database.Create(&portalUser).Error)
	return portalUser
}
