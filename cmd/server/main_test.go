package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/analytics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/assets"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/compliance"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/httpapi"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/testutil"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/webhook"
)

const (
	testConfigurationDSN         = "file:server-config-test?mode=memory"
	testConfigurationBearerToken = "management-token"
	testConfigurationSecret      = "0123456789abcdef0123456789abcdef"
	testConfigurationAssetSecret = "fedcba9876543210fedcba9876543210"
	testRouterBearerToken        = "router-management-token"
	testRouterRateLimitPerMinute = 600
	environmentConfiguredAddress = ":9090"
	flagConfiguredDatabaseDriver = "sqlite"
	healthResponseFragment       = "ok"
	metricsResponseFragment      = "portal_http_requests_total"
)

func completeServerConfiguration() ServerConfig {
	return ServerConfig{
		ApplicationAddress:     defaultApplicationAddress,
		DatabaseDriver:         flagConfiguredDatabaseDriver,
		DatabaseDataSourceName: testConfigurationDSN,
		AdminBearerToken:       testConfigurationBearerToken,
		SessionSecret:          testConfigurationSecret,
		AssetRoot:              "./data",
		AssetSigningSecret:     testConfigurationAssetSecret,
	}
}

func TestEnsureRequiredConfigurationAccepted(t *testing.T) {
	application := NewServerApplication()

	require.NoError(t, application.ensureRequiredConfiguration(completeServerConfiguration()))
}

func TestEnsureRequiredConfigurationListsMissingParameters(t *testing.T) {
	application := NewServerApplication()

	validationErr := application.ensureRequiredConfiguration(ServerConfig{})

	require.Error(t, validationErr)
	require.Contains(t, validationErr.Error(), missingConfigurationMessage)
	require.Contains(t, validationErr.Error(), flagNameDatabaseDSN)
	require.Contains(t, validationErr.Error(), flagNameAdminBearerToken)
	require.Contains(t, validationErr.Error(), flagNameSessionSecret)
	require.Contains(t, validationErr.Error(), flagNameAssetSigningSecret)
}

func TestEnsureRequiredConfigurationNamesOnlyAbsentParameters(t *testing.T) {
	application := NewServerApplication()
	configuration := completeServerConfiguration()
	configuration.AdminBearerToken = ""

	validationErr := application.ensureRequiredConfiguration(configuration)

	require.Error(t, validationErr)
	require.Contains(t, validationErr.Error(), flagNameAdminBearerToken)
	require.NotContains(t, validationErr.Error(), flagNameDatabaseDSN)
}

func TestCommandDefinesAllConfigurationFlags(t *testing.T) {
	application := NewServerApplication()

	command, commandErr := application.Command()
	require.NoError(t, commandErr)

	for _, flagDefinition := range configurationFlags {
		flag := command.Flags().Lookup(flagDefinition.flagName)
		require.NotNil(t, flag, flagDefinition.flagName)
		require.Equal(t, flagDefinition.defaultValue, flag.DefValue)
	}
}

func TestCommandFlagValuesReachConfiguration(t *testing.T) {
	application := NewServerApplication()
	command, commandErr := application.Command()
	require.NoError(t, commandErr)

	require.NoError(t, command.Flags().Set(flagNameDatabaseDSN, testConfigurationDSN))
	require.NoError(t, command.Flags().Set(flagNameDatabaseDriver, flagConfiguredDatabaseDriver))
	require.NoError(t, command.Flags().Set(flagNamePortalRateLimit, "240"))

	configuration := application.loadConfiguration()
	require.Equal(t, testConfigurationDSN, configuration.DatabaseDataSourceName)
	require.Equal(t, flagConfiguredDatabaseDriver, configuration.DatabaseDriver)
	require.Equal(t, 240, configuration.PortalRateLimit)
	require.Equal(t, defaultApplicationAddress, configuration.ApplicationAddress)
}

func TestCommandAppliesEnvironmentConfiguration(t *testing.T) {
	t.Setenv(environmentKeyApplicationAddress, environmentConfiguredAddress)
	application := NewServerApplication()

	_, commandErr := application.Command()
	require.NoError(t, commandErr)

	configuration := application.loadConfiguration()
	require.Equal(t, environmentConfiguredAddress, configuration.ApplicationAddress)
}

func newTestRouter(testingT *testing.T) *gin.Engine {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	database := testutil.NewSQLiteTestDatabase(testingT).OpenDatabase(testingT)
	logger := zap.NewNop()

	assetStore, storeErr := assets.NewStore(testingT.TempDir(), testConfigurationAssetSecret)
	require.NoError(testingT, storeErr)

	sessionManager, sessionErr := auth.NewSessionManager(testConfigurationSecret)
	require.NoError(testingT, sessionErr)

	metricsRegistry := prometheus.NewRegistry()
	metrics.Register(metricsRegistry)

	dispatcher := webhook.NewDispatcher(database, logger, nil, webhook.Config{})
	recorder := httpapi.NewActivityRecorder(database, logger, dispatcher)

	return buildRouter(routerDependencies{
		database:           database,
		logger:             logger,
		recorder:           recorder,
		dispatcher:         dispatcher,
		scanner:            compliance.NewScanner(database, logger),
		refresher:          analytics.NewRefresher(database, logger),
		assetStore:         assetStore,
		sessionManager:     sessionManager,
		metricsRegistry:    metricsRegistry,
		adminBearerToken:   testRouterBearerToken,
		portalRateLimit:    testRouterRateLimitPerMinute,
		invitationHandlers: httpapi.NewInvitationHandlers(database, logger, recorder),
	})
}

func TestBuildRouterServesHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, healthRoute, nil)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), healthResponseFragment)
}

func TestBuildRouterServesMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	warmup := httptest.NewRequest(http.MethodGet, healthRoute, nil)
	router.ServeHTTP(httptest.NewRecorder(), warmup)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, metricsRoute, nil)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), metricsResponseFragment)
}

func TestBuildRouterProtectsAdminRoutes(t *testing.T) {
	router := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, adminRoutePrefix+"/portals", nil)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestBuildRouterProtectsPortalSessionRoutes(t *testing.T) {
	router := newTestRouter(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/portal/acme/me", nil)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}
