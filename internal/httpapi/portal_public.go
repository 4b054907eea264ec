package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/analytics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueBadCredentials = "bad_credentials"
	errorValueSSOEnforced    = "sso_enforced"
	errorValueUnknownLink    = "unknown_login_link"
	errorValueLinkSpent      = "link_spent"

	loginModePassword  = "password"
	loginModeMagicLink = "magic_link"

	loginOutcomeSuccess = "success"
	loginOutcomeFailure = "failure"
)

// PortalPublicHandlers serves the client-facing portal API: branding
// configuration, sign-in, sessions, and widget data for signed-in users.
type PortalPublicHandlers struct {
	database  *gorm.DB
	logger    *zap.Logger
	recorder  *ActivityRecorder
	sessions  *auth.SessionManager
	refresher *analytics.Refresher
	clock     func() time.Time
}

// NewPortalPublicHandlers constructs PortalPublicHandlers.
func NewPortalPublicHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder, sessions *auth.SessionManager, refresher *analytics.Refresher) *PortalPublicHandlers {
	return &PortalPublicHandlers{
		database:  database,
		logger:    logger,
		recorder:  recorder,
		sessions:  sessions,
		refresher: refresher,
		clock:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (handlers *PortalPublicHandlers) WithClock(clock func() time.Time) *PortalPublicHandlers {
	handlers.clock = clock
	return handlers
}

// ResolvePortalID maps the route slug to a portal id for the session
// middleware. The portal must exist and be active.
func (handlers *PortalPublicHandlers) ResolvePortalID(context *gin.Context) (string, bool) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return "", false
	}
	if portal.Status != model.PortalStatusActive {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValuePortalInactive})
		return "", false
	}
	return portal.ID, true
}

type publicSSOProvider struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	SignInURL   string `json:"sign_in_url"`
}

type portalConfigResponse struct {
	Name           string              `json:"name"`
	Slug           string              `json:"slug"`
	CompanyName    string              `json:"company_name"`
	PrimaryColor   string              `json:"primary_color"`
	SecondaryColor string              `json:"secondary_color"`
	AccentColor    string              `json:"accent_color"`
	LogoAssetID    string              `json:"logo_asset_id"`
	Theme          string              `json:"theme"`
	EnabledWidgets []string            `json:"enabled_widgets"`
	Layout         string              `json:"layout"`
	SupportURL     string              `json:"support_url"`
	FooterText     string              `json:"footer_text"`
	HideBranding   bool                `json:"hide_vendor_branding"`
	SSOProviders   []publicSSOProvider `json:"sso_providers"`
	SSOEnforced    bool                `json:"sso_enforced"`
}

// GetConfig returns the public branding and sign-in configuration for a
// portal. No session is required; credentials and secrets never appear.
func (handlers *PortalPublicHandlers) GetConfig(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	if portal.Status != model.PortalStatusActive {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValuePortalInactive})
		return
	}

	enabledWidgets, decodeErr := model.DecodeEnabledWidgets(portal.EnabledWidgets)
	if decodeErr != nil {
		enabledWidgets = []string{}
	}

	response := portalConfigResponse{
		Name:           portal.Name,
		Slug:           portal.Slug,
		CompanyName:    portal.CompanyName,
		PrimaryColor:   portal.PrimaryColor,
		SecondaryColor: portal.SecondaryColor,
		AccentColor:    portal.AccentColor,
		LogoAssetID:    portal.LogoAssetID,
		Theme:          portal.Theme,
		EnabledWidgets: enabledWidgets,
		Layout:         portal.Layout,
		SSOProviders:   []publicSSOProvider{},
	}

	var whiteLabel model.WhiteLabelSetting
	whiteLabelErr := handlers.database.First(&whiteLabel, "portal_id = ?", portal.ID).Error
	if whiteLabelErr == nil {
		response.SupportURL = whiteLabel.SupportURL
		response.FooterText = whiteLabel.FooterText
		response.HideBranding = whiteLabel.HideVendorBranding
	} else if !errors.Is(whiteLabelErr, gorm.ErrRecordNotFound) {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	providers, enforced, providersErr := handlers.ssoState(portal.ID)
	if providersErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	for _, provider := range providers {
		response.SSOProviders = append(response.SSOProviders, publicSSOProvider{
			Type:        provider.Type,
			DisplayName: provider.DisplayName,
			SignInURL:   provider.SignInURL,
		})
	}
	response.SSOEnforced = enforced

	context.JSON(http.StatusOK, response)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string             `json:"token"`
	ExpiresAt int64              `json:"expires_at"`
	User      portalUserResponse `json:"user"`
}

// Login signs a portal user in with email and password. Portals with an
// enforced identity provider refuse password sign-in.
func (handlers *PortalPublicHandlers) Login(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	if portal.Status != model.PortalStatusActive {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValuePortalInactive})
		return
	}

	var request loginRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	if refused := handlers.refuseWhenSSOEnforced(context, portal.ID, loginModePassword); refused {
		return
	}

	email, emailErr := model.NormalizePortalUserEmail(request.Email)
	if emailErr != nil {
		metrics.PortalLoginsTotal.WithLabelValues(loginModePassword, loginOutcomeFailure).Inc()
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueBadCredentials})
		return
	}

	var portalUser model.ClientPortalUser
	findErr := handlers.database.First(&portalUser, "portal_id = ? AND email = ?", portal.ID, email).Error
	if findErr != nil {
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
			return
		}
		handlers.failLogin(context, portal, email, loginModePassword)
		return
	}

	if !portalUser.CanSignIn() || portalUser.PasswordHash == "" {
		handlers.failLogin(context, portal, email, loginModePassword)
		return
	}
	if verifyErr := auth.VerifyPassword(request.Password, portalUser.PasswordHash); verifyErr != nil {
		handlers.failLogin(context, portal, email, loginModePassword)
		return
	}

	handlers.issueSession(context, portal, portalUser, loginModePassword)
}

type requestLoginLinkRequest struct {
	Email string `json:"email"`
}

type requestLoginLinkResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// RequestLoginLink issues a magic sign-in token for a portal user. The
// token is returned to the caller; delivering it to the user is the
// caller's concern.
func (handlers *PortalPublicHandlers) RequestLoginLink(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	if portal.Status != model.PortalStatusActive {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValuePortalInactive})
		return
	}

	var request requestLoginLinkRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	if refused := handlers.refuseWhenSSOEnforced(context, portal.ID, loginModeMagicLink); refused {
		return
	}

	email, emailErr := model.NormalizePortalUserEmail(request.Email)
	if emailErr != nil {
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownUser})
		return
	}

	var portalUser model.ClientPortalUser
	findErr := handlers.database.First(&portalUser, "portal_id = ? AND email = ?", portal.ID, email).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownUser})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return
	}
	if !portalUser.CanSignIn() {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValueBadCredentials})
		return
	}

	token, tokenHash, tokenErr := auth.GenerateLinkToken()
	if tokenErr != nil {
		handlers.logger.Error("login_link_token", zap.Error(tokenErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	link, linkErr := model.NewLoginLink(portal.ID, portalUser.ID, tokenHash, model.DefaultLoginLinkTTL, handlers.clock())
	if linkErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}
	if createErr := handlers.database.Create(&link).Error; createErr != nil {
		handlers.logger.Error("login_link_create", zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	context.JSON(http.StatusCreated, requestLoginLinkResponse{
		Token:     token,
		ExpiresAt: link.ExpiresAt.Unix(),
	})
}

type redeemLoginLinkRequest struct {
	Token string `json:"token"`
}

// RedeemLoginLink exchanges a magic sign-in token for a session. Links are
// single-use.
func (handlers *PortalPublicHandlers) RedeemLoginLink(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	if portal.Status != model.PortalStatusActive {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValuePortalInactive})
		return
	}

	var request redeemLoginLinkRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil || strings.TrimSpace(request.Token) == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	tokenHash := auth.HashLinkToken(strings.TrimSpace(request.Token))
	var link model.LoginLink
	findErr := handlers.database.First(&link, "token_hash = ? AND portal_id = ?", tokenHash, portal.ID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			metrics.PortalLoginsTotal.WithLabelValues(loginModeMagicLink, loginOutcomeFailure).Inc()
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownLink})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return
	}

	now := handlers.clock()
	if !link.Redeemable(now) {
		metrics.PortalLoginsTotal.WithLabelValues(loginModeMagicLink, loginOutcomeFailure).Inc()
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueLinkSpent})
		return
	}

	var portalUser model.ClientPortalUser
	if userErr := handlers.database.First(&portalUser, "id = ?", link.UserID).Error; userErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	if !portalUser.CanSignIn() {
		handlers.failLogin(context, portal, portalUser.Email, loginModeMagicLink)
		return
	}

	consumed := handlers.database.Model(&model.LoginLink{}).
		Where("id = ? AND consumed_at = ?", link.ID, link.ConsumedAt).
		Update("consumed_at", now)
	if consumed.Error != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}
	if consumed.RowsAffected == 0 {
		metrics.PortalLoginsTotal.WithLabelValues(loginModeMagicLink, loginOutcomeFailure).Inc()
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueLinkSpent})
		return
	}

	handlers.issueSession(context, portal, portalUser, loginModeMagicLink)
}

// Me returns the signed-in user's own record.
func (handlers *PortalPublicHandlers) Me(context *gin.Context) {
	claims, hasSession := PortalSessionFromContext(context)
	if !hasSession {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
		return
	}

	var portalUser model.ClientPortalUser
	findErr := handlers.database.First(&portalUser, "id = ? AND portal_id = ?", claims.UserID, claims.PortalID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return
	}
	context.JSON(http.StatusOK, portalUserToResponse(portalUser))
}

// ListWidgets returns the enabled widget types for the signed-in user's
// portal.
func (handlers *PortalPublicHandlers) ListWidgets(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	enabledWidgets, decodeErr := model.DecodeEnabledWidgets(portal.EnabledWidgets)
	if decodeErr != nil {
		enabledWidgets = []string{}
	}
	context.JSON(http.StatusOK, gin.H{"widgets": enabledWidgets})
}

// GetWidget returns one widget snapshot for a signed-in portal user, and
// records the view in the activity trail.
func (handlers *PortalPublicHandlers) GetWidget(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	claims, hasSession := PortalSessionFromContext(context)
	if !hasSession {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
		return
	}

	widgetType := strings.TrimSpace(context.Param(routeParameterWidgetType))
	if !model.IsKnownWidgetType(widgetType) {
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownWidget})
		return
	}

	widgetData, snapshotErr := handlers.refresher.Snapshot(portal, widgetType, false)
	if snapshotErr != nil {
		if errors.Is(snapshotErr, analytics.ErrWidgetNotEnabled) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueWidgetDisabled})
			return
		}
		handlers.logger.Error("portal_widget_snapshot", zap.Error(snapshotErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueRefreshFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        claims.Email,
		Action:       model.ActivityActionWidgetViewed,
		ResourceType: "widget",
		ResourceID:   widgetType,
	})

	context.JSON(http.StatusOK, widgetDataToResponse(widgetData))
}

func (handlers *PortalPublicHandlers) ssoState(portalID string) ([]model.SSOProvider, bool, error) {
	var providers []model.SSOProvider
	queryErr := handlers.database.Where("portal_id = ? AND enabled = ?", portalID, true).
		Order("created_at asc").Find(&providers).Error
	if queryErr != nil {
		return nil, false, queryErr
	}
	enforced := false
	for _, provider := range providers {
		if provider.Enforced {
			enforced = true
			break
		}
	}
	return providers, enforced, nil
}

func (handlers *PortalPublicHandlers) refuseWhenSSOEnforced(context *gin.Context, portalID string, mode string) bool {
	_, enforced, stateErr := handlers.ssoState(portalID)
	if stateErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return true
	}
	if enforced {
		metrics.PortalLoginsTotal.WithLabelValues(mode, loginOutcomeFailure).Inc()
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValueSSOEnforced})
		return true
	}
	return false
}

func (handlers *PortalPublicHandlers) failLogin(context *gin.Context, portal model.ClientPortal, email string, mode string) {
	metrics.PortalLoginsTotal.WithLabelValues(mode, loginOutcomeFailure).Inc()
	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID: portal.ID,
		Actor:    email,
		Action:   model.ActivityActionUserLoginFailed,
		Detail:   gin.H{"mode": mode},
	})
	context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueBadCredentials})
}

func (handlers *PortalPublicHandlers) issueSession(context *gin.Context, portal model.ClientPortal, portalUser model.ClientPortalUser, mode string) {
	now := handlers.clock()
	sessionTimeout := time.Duration(portal.SessionTimeoutMinutes) * time.Minute
	token, expiresAt, tokenErr := handlers.sessions.IssueSessionToken(
		portal.ID, portalUser.ID, portalUser.Email, portalUser.Role, sessionTimeout, now)
	if tokenErr != nil {
		handlers.logger.Error("session_issue", zap.Error(tokenErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	if updateErr := handlers.database.Model(&model.ClientPortalUser{}).
		Where("id = ?", portalUser.ID).
		Update("last_login_at", now).Error; updateErr != nil {
		handlers.logger.Error("last_login_update", zap.Error(updateErr))
	}

	metrics.PortalLoginsTotal.WithLabelValues(mode, loginOutcomeSuccess).Inc()
	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID: portal.ID,
		Actor:    portalUser.Email,
		Action:   model.ActivityActionUserLogin,
		Detail:   gin.H{"mode": mode},
	})

	portalUser.LastLoginAt = now
	context.JSON(http.StatusOK, sessionResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		User:      portalUserToResponse(portalUser),
	})
}
