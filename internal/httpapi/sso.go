package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueUnknownProvider = "unknown_sso_provider"
	resourceTypeSSOProvider   = "sso_provider"
	routeParameterProviderID  = "provider_id"
)

// SSOHandlers manages per-portal identity provider records.
type SSOHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	recorder *ActivityRecorder
}

// NewSSOHandlers constructs SSOHandlers.
func NewSSOHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder) *SSOHandlers {
	return &SSOHandlers{database: database, logger: logger, recorder: recorder}
}

type upsertSSOProviderRequest struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Issuer      string `json:"issuer"`
	SignInURL   string `json:"sign_in_url"`
	Certificate string `json:"certificate"`
	ClientID    string `json:"client_id"`
	Enabled     bool   `json:"enabled"`
	Enforced    bool   `json:"enforced"`
}

type ssoProviderResponse struct {
	ID          string `json:"id"`
	PortalID    string `json:"portal_id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Issuer      string `json:"issuer"`
	SignInURL   string `json:"sign_in_url"`
	ClientID    string `json:"client_id"`
	Enabled     bool   `json:"enabled"`
	Enforced    bool   `json:"enforced"`
	CreatedAt   int64  `json:"created_at"`
}

type listSSOProvidersResponse struct {
	Providers []ssoProviderResponse `json:"providers"`
}

func ssoProviderToResponse(provider model.SSOProvider) ssoProviderResponse {
	return ssoProviderResponse{
		ID:          provider.ID,
		PortalID:    provider.PortalID,
		Type:        provider.Type,
		DisplayName: provider.DisplayName,
		Issuer:      provider.Issuer,
		SignInURL:   provider.SignInURL,
		ClientID:    provider.ClientID,
		Enabled:     provider.Enabled,
		Enforced:    provider.Enforced,
		CreatedAt:   unixOrZero(provider.CreatedAt),
	}
}

// CreateProvider registers an identity provider record for a portal.
func (handlers *SSOHandlers) CreateProvider(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var request upsertSSOProviderRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	provider, providerErr := model.NewSSOProvider(model.SSOProviderInput{
		PortalID:    portal.ID,
		Type:        request.Type,
		DisplayName: request.DisplayName,
		Issuer:      request.Issuer,
		SignInURL:   request.SignInURL,
		Certificate: request.Certificate,
		ClientID:    request.ClientID,
		Enabled:     request.Enabled,
		Enforced:    request.Enforced,
	})
	if providerErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: providerErr.Error()})
		return
	}

	if createErr := handlers.database.Create(&provider).Error; createErr != nil {
		handlers.logger.Error("sso_provider_create", zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionSSOProviderSaved,
		ResourceType: resourceTypeSSOProvider,
		ResourceID:   provider.ID,
		Detail:       gin.H{"type": provider.Type, "display_name": provider.DisplayName},
	})

	context.JSON(http.StatusCreated, ssoProviderToResponse(provider))
}

// ListProviders returns a portal's identity provider records.
func (handlers *SSOHandlers) ListProviders(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var providers []model.SSOProvider
	if queryErr := handlers.database.Where("portal_id = ?", portal.ID).
		Order("created_at asc").Find(&providers).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	response := listSSOProvidersResponse{Providers: make([]ssoProviderResponse, 0, len(providers))}
	for _, provider := range providers {
		response.Providers = append(response.Providers, ssoProviderToResponse(provider))
	}
	context.JSON(http.StatusOK, response)
}

// UpdateProvider replaces a provider record. The full configuration is
// revalidated rather than patched field by field.
func (handlers *SSOHandlers) UpdateProvider(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	provider, providerFound := handlers.providerByID(context, portal.ID)
	if !providerFound {
		return
	}

	var request upsertSSOProviderRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	replacement, replacementErr := model.NewSSOProvider(model.SSOProviderInput{
		PortalID:    portal.ID,
		Type:        request.Type,
		DisplayName: request.DisplayName,
		Issuer:      request.Issuer,
		SignInURL:   request.SignInURL,
		Certificate: request.Certificate,
		ClientID:    request.ClientID,
		Enabled:     request.Enabled,
		Enforced:    request.Enforced,
	})
	if replacementErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: replacementErr.Error()})
		return
	}

	updates := map[string]any{
		"type":         replacement.Type,
		"display_name": replacement.DisplayName,
		"issuer":       replacement.Issuer,
		"sign_in_url":  replacement.SignInURL,
		"certificate":  replacement.Certificate,
		"client_id":    replacement.ClientID,
		"enabled":      replacement.Enabled,
		"enforced":     replacement.Enforced,
	}
	if updateErr := handlers.database.Model(&model.SSOProvider{}).
		Where("id = ?", provider.ID).Updates(updates).Error; updateErr != nil {
		handlers.logger.Error("sso_provider_update", zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionSSOProviderSaved,
		ResourceType: resourceTypeSSOProvider,
		ResourceID:   provider.ID,
		Detail:       gin.H{"type": replacement.Type, "enforced": replacement.Enforced},
	})

	var updated model.SSOProvider
	if reloadErr := handlers.database.First(&updated, "id = ?", provider.ID).Error; reloadErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, ssoProviderToResponse(updated))
}

// DeleteProvider removes an identity provider record.
func (handlers *SSOHandlers) DeleteProvider(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	provider, providerFound := handlers.providerByID(context, portal.ID)
	if !providerFound {
		return
	}

	if deleteErr := handlers.database.Delete(&model.SSOProvider{}, "id = ?", provider.ID).Error; deleteErr != nil {
		handlers.logger.Error("sso_provider_delete", zap.Error(deleteErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueDeleteFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionSSOProviderDelete,
		ResourceType: resourceTypeSSOProvider,
		ResourceID:   provider.ID,
		Detail:       gin.H{"display_name": provider.DisplayName},
	})

	context.Status(http.StatusNoContent)
}

func (handlers *SSOHandlers) providerByID(context *gin.Context, portalID string) (model.SSOProvider, bool) {
	providerID := strings.TrimSpace(context.Param(routeParameterProviderID))
	var provider model.SSOProvider
	findErr := handlers.database.First(&provider, "id = ? AND portal_id = ?", providerID, portalID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownProvider})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return model.SSOProvider{}, false
	}
	return provider, true
}
