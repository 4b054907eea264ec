package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/analytics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/assets"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/compliance"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/httpapi"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/webhook"
)

const (
	adminRoutePrefix  = "/api/admin"
	portalRoutePrefix = "/api/portal/:slug"
	healthRoute       = "/healthz"
	metricsRoute      = "/metrics"

	corsOriginWildcard      = "*"
	corsHeaderAuthorization = "Authorization"
	corsHeaderContentType   = "Content-Type"
	corsHeaderOperatorEmail = "X-Operator-Email"
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType, corsHeaderOperatorEmail}
	corsExposedHeaders = []string{corsHeaderContentType}
	corsAllowOrigins   = []string{corsOriginWildcard}
)

type routerDependencies struct {
	database           *gorm.DB
	logger             *zap.Logger
	recorder           *httpapi.ActivityRecorder
	dispatcher         *webhook.Dispatcher
	scanner            *compliance.Scanner
	refresher          *analytics.Refresher
	assetStore         *assets.Store
	sessionManager     *auth.SessionManager
	metricsRegistry    *prometheus.Registry
	adminBearerToken   string
	portalRateLimit    int
	invitationHandlers *httpapi.InvitationHandlers
}

func buildRouter(dependencies routerDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(dependencies.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsAllowOrigins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET(healthRoute, func(context *gin.Context) {
		context.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET(metricsRoute, gin.WrapH(metrics.Handler(dependencies.metricsRegistry)))

	registerAdminRoutes(router, dependencies)
	registerPortalRoutes(router, dependencies)

	return router
}

func registerAdminRoutes(router *gin.Engine, dependencies routerDependencies) {
	portalHandlers := httpapi.NewPortalHandlers(dependencies.database, dependencies.logger, dependencies.recorder, dependencies.assetStore)
	userHandlers := httpapi.NewPortalUserHandlers(dependencies.database, dependencies.logger, dependencies.recorder)
	webhookHandlers := httpapi.NewWebhookHandlers(dependencies.database, dependencies.logger, dependencies.recorder, dependencies.dispatcher)
	ssoHandlers := httpapi.NewSSOHandlers(dependencies.database, dependencies.logger, dependencies.recorder)
	complianceHandlers := httpapi.NewComplianceHandlers(dependencies.database, dependencies.logger, dependencies.recorder, dependencies.scanner)
	activityHandlers := httpapi.NewActivityHandlers(dependencies.database)
	templateHandlers := httpapi.NewTemplateHandlers(dependencies.database, dependencies.logger)
	whiteLabelHandlers := httpapi.NewWhiteLabelHandlers(dependencies.database, dependencies.logger, dependencies.recorder)
	assetHandlers := httpapi.NewAssetHandlers(dependencies.database, dependencies.logger, dependencies.recorder, dependencies.assetStore)
	widgetHandlers := httpapi.NewWidgetHandlers(dependencies.database, dependencies.logger, dependencies.refresher)

	adminGroup := router.Group(adminRoutePrefix)
	adminGroup.Use(httpapi.AdminAuthMiddleware(dependencies.adminBearerToken))

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

	adminGroup.POST("/portals/:id/invitations", dependencies.invitationHandlers.CreateInvitation)
	adminGroup.GET("/portals/:id/invitations", dependencies.invitationHandlers.ListInvitations)
	adminGroup.DELETE("/portals/:id/invitations/:invitation_id", dependencies.invitationHandlers.RevokeInvitation)

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
}

func registerPortalRoutes(router *gin.Engine, dependencies routerDependencies) {
	publicHandlers := httpapi.NewPortalPublicHandlers(
		dependencies.database,
		dependencies.logger,
		dependencies.recorder,
		dependencies.sessionManager,
		dependencies.refresher,
	)
	assetHandlers := httpapi.NewAssetHandlers(dependencies.database, dependencies.logger, dependencies.recorder, dependencies.assetStore)

	rateLimiter := httpapi.NewRateLimiter(dependencies.portalRateLimit, portalRateLimitBurst)

	portalGroup := router.Group(portalRoutePrefix)
	portalGroup.Use(rateLimiter.Middleware())

	portalGroup.GET("/config", publicHandlers.GetConfig)
	portalGroup.POST("/login", publicHandlers.Login)
	portalGroup.POST("/login-links", publicHandlers.RequestLoginLink)
	portalGroup.POST("/sessions", publicHandlers.RedeemLoginLink)
	portalGroup.POST("/invitations/accept", dependencies.invitationHandlers.AcceptInvitation)
	portalGroup.GET("/assets/:asset_id", assetHandlers.FetchAsset)

	sessionGroup := portalGroup.Group("")
	sessionGroup.Use(httpapi.PortalSessionMiddleware(dependencies.sessionManager, publicHandlers.ResolvePortalID))
	sessionGroup.GET("/me", publicHandlers.Me)
	sessionGroup.GET("/widgets", publicHandlers.ListWidgets)
	sessionGroup.GET("/widgets/:widget_type", publicHandlers.GetWidget)
}
