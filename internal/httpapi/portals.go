package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/assets"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueSlugTaken       = "slug_taken"
	errorValueUnknownAsset    = "unknown_asset"
	errorValueUnknownTemplate = "unknown_template"

	resourceTypePortal   = "portal"
	resourceTypeTemplate = "template"
)

// PortalHandlers serves the agency-facing portal CRUD API.
type PortalHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	recorder *ActivityRecorder
	store    *assets.Store
}

// NewPortalHandlers constructs PortalHandlers.
func NewPortalHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder, store *assets.Store) *PortalHandlers {
	return &PortalHandlers{database: database, logger: logger, recorder: recorder, store: store}
}

type createPortalRequest struct {
	Name                  string   `json:"name"`
	Slug                  string   `json:"slug"`
	CompanyName           string   `json:"company_name"`
	PrimaryColor          string   `json:"primary_color"`
	SecondaryColor        string   `json:"secondary_color"`
	AccentColor           string   `json:"accent_color"`
	Theme                 string   `json:"theme"`
	EnabledWidgets        []string `json:"enabled_widgets"`
	Layout                string   `json:"layout"`
	WidgetRefreshMinutes  int      `json:"widget_refresh_minutes"`
	SessionTimeoutMinutes int      `json:"session_timeout_minutes"`
	CustomDomain          string   `json:"custom_domain"`
}

type updatePortalRequest struct {
	Name                  *string   `json:"name"`
	Status                *string   `json:"status"`
	CompanyName           *string   `json:"company_name"`
	PrimaryColor          *string   `json:"primary_color"`
	SecondaryColor        *string   `json:"secondary_color"`
	AccentColor           *string   `json:"accent_color"`
	Theme                 *string   `json:"theme"`
	EnabledWidgets        *[]string `json:"enabled_widgets"`
	Layout                *string   `json:"layout"`
	WidgetRefreshMinutes  *int      `json:"widget_refresh_minutes"`
	SessionTimeoutMinutes *int      `json:"session_timeout_minutes"`
	CustomDomain          *string   `json:"custom_domain"`
	LogoAssetID           *string   `json:"logo_asset_id"`
}

type portalResponse struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Slug                  string   `json:"slug"`
	Status                string   `json:"status"`
	CompanyName           string   `json:"company_name"`
	PrimaryColor          string   `json:"primary_color"`
	SecondaryColor        string   `json:"secondary_color"`
	AccentColor           string   `json:"accent_color"`
	LogoAssetID           string   `json:"logo_asset_id"`
	Theme                 string   `json:"theme"`
	EnabledWidgets        []string `json:"enabled_widgets"`
	Layout                string   `json:"layout"`
	WidgetRefreshMinutes  int      `json:"widget_refresh_minutes"`
	SessionTimeoutMinutes int      `json:"session_timeout_minutes"`
	CustomDomain          string   `json:"custom_domain"`
	CreatedAt             int64    `json:"created_at"`
	UpdatedAt             int64    `json:"updated_at"`
}

type listPortalsResponse struct {
	Portals []portalResponse `json:"portals"`
}

func portalToResponse(portal model.ClientPortal) portalResponse {
	enabledWidgets, decodeErr := model.DecodeEnabledWidgets(portal.EnabledWidgets)
	if decodeErr != nil {
		enabledWidgets = []string{}
	}
	return portalResponse{
		ID:                    portal.ID,
		Name:                  portal.Name,
		Slug:                  portal.Slug,
		Status:                portal.Status,
		CompanyName:           portal.CompanyName,
		PrimaryColor:          portal.PrimaryColor,
		SecondaryColor:        portal.SecondaryColor,
		AccentColor:           portal.AccentColor,
		LogoAssetID:           portal.LogoAssetID,
		Theme:                 portal.Theme,
		EnabledWidgets:        enabledWidgets,
		Layout:                portal.Layout,
		WidgetRefreshMinutes:  portal.WidgetRefreshMinutes,
		SessionTimeoutMinutes: portal.SessionTimeoutMinutes,
		CustomDomain:          portal.CustomDomain,
		CreatedAt:             unixOrZero(portal.CreatedAt),
		UpdatedAt:             unixOrZero(portal.UpdatedAt),
	}
}

// CreatePortal creates a portal from the request body.
func (handlers *PortalHandlers) CreatePortal(context *gin.Context) {
	var request createPortalRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	portal, portalErr := model.NewClientPortal(model.ClientPortalInput{
		Name:                  request.Name,
		Slug:                  request.Slug,
		CompanyName:           request.CompanyName,
		PrimaryColor:          request.PrimaryColor,
		SecondaryColor:        request.SecondaryColor,
		AccentColor:           request.AccentColor,
		Theme:                 request.Theme,
		EnabledWidgets:        request.EnabledWidgets,
		Layout:                request.Layout,
		WidgetRefreshMinutes:  request.WidgetRefreshMinutes,
		SessionTimeoutMinutes: request.SessionTimeoutMinutes,
		CustomDomain:          request.CustomDomain,
	})
	if portalErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: portalErr.Error()})
		return
	}

	var existingCount int64
	if countErr := handlers.database.Model(&model.ClientPortal{}).Where("slug = ?", portal.Slug).Count(&existingCount).Error; countErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	if existingCount > 0 {
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueSlugTaken})
		return
	}

	if createErr := handlers.database.Create(&portal).Error; createErr != nil {
		handlers.logger.Error("portal_create", zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionPortalCreated,
		ResourceType: resourceTypePortal,
		ResourceID:   portal.ID,
	})

	context.JSON(http.StatusCreated, portalToResponse(portal))
}

// ListPortals returns every portal ordered by creation time.
func (handlers *PortalHandlers) ListPortals(context *gin.Context) {
	limit, offset := pagination(context)
	var portals []model.ClientPortal
	if queryErr := handlers.database.Order("created_at desc").Limit(limit).Offset(offset).Find(&portals).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	response := listPortalsResponse{Portals: make([]portalResponse, 0, len(portals))}
	for _, portal := range portals {
		response.Portals = append(response.Portals, portalToResponse(portal))
	}
	context.JSON(http.StatusOK, response)
}

// GetPortal returns one portal by id.
func (handlers *PortalHandlers) GetPortal(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	context.JSON(http.StatusOK, portalToResponse(portal))
}

// UpdatePortal applies a partial update to a portal.
func (handlers *PortalHandlers) UpdatePortal(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var request updatePortalRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	updates := map[string]any{}
	if request.Name != nil {
		name := strings.TrimSpace(*request.Name)
		if name == "" {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: model.ErrInvalidPortalName.Error()})
			return
		}
		updates["name"] = name
	}
	if request.Status != nil {
		if statusErr := model.ValidatePortalStatus(*request.Status); statusErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: statusErr.Error()})
			return
		}
		updates["status"] = *request.Status
	}
	if request.CompanyName != nil {
		updates["company_name"] = strings.TrimSpace(*request.CompanyName)
	}
	if request.PrimaryColor != nil {
		color, colorErr := model.NormalizePortalColor(*request.PrimaryColor, model.DefaultPortalPrimaryColor)
		if colorErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: colorErr.Error()})
			return
		}
		updates["primary_color"] = color
	}
	if request.SecondaryColor != nil {
		color, colorErr := model.NormalizePortalColor(*request.SecondaryColor, model.DefaultPortalSecondaryColor)
		if colorErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: colorErr.Error()})
			return
		}
		updates["secondary_color"] = color
	}
	if request.AccentColor != nil {
		color, colorErr := model.NormalizePortalColor(*request.AccentColor, model.DefaultPortalAccentColor)
		if colorErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: colorErr.Error()})
			return
		}
		updates["accent_color"] = color
	}
	if request.Theme != nil {
		if themeErr := model.ValidatePortalTheme(*request.Theme); themeErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: themeErr.Error()})
			return
		}
		updates["theme"] = *request.Theme
	}
	if request.EnabledWidgets != nil {
		encodedWidgets, widgetsErr := model.EncodeEnabledWidgets(*request.EnabledWidgets)
		if widgetsErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: widgetsErr.Error()})
			return
		}
		updates["enabled_widgets"] = encodedWidgets
	}
	if request.Layout != nil {
		if layoutErr := model.ValidatePortalLayout(strings.TrimSpace(*request.Layout)); layoutErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: layoutErr.Error()})
			return
		}
		updates["layout"] = strings.TrimSpace(*request.Layout)
	}
	if request.WidgetRefreshMinutes != nil {
		minutes := *request.WidgetRefreshMinutes
		if minutes < model.MinWidgetRefreshMinutes || minutes > model.MaxWidgetRefreshMinutes {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: model.ErrInvalidWidgetRefreshMinutes.Error()})
			return
		}
		updates["widget_refresh_minutes"] = minutes
	}
	if request.SessionTimeoutMinutes != nil {
		minutes := *request.SessionTimeoutMinutes
		if minutes < model.MinSessionTimeoutMinutes || minutes > model.MaxSessionTimeoutMinutes {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: model.ErrInvalidSessionTimeout.Error()})
			return
		}
		updates["session_timeout_minutes"] = minutes
	}
	if request.CustomDomain != nil {
		updates["custom_domain"] = strings.ToLower(strings.TrimSpace(*request.CustomDomain))
	}
	if request.LogoAssetID != nil {
		logoAssetID := strings.TrimSpace(*request.LogoAssetID)
		if logoAssetID != "" {
			var assetCount int64
			if countErr := handlers.database.Model(&model.PortalAsset{}).
				Where("id = ? AND portal_id = ?", logoAssetID, portal.ID).
				Count(&assetCount).Error; countErr != nil {
				context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
				return
			}
			if assetCount == 0 {
				context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueUnknownAsset})
				return
			}
		}
		updates["logo_asset_id"] = logoAssetID
	}

	if len(updates) == 0 {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueNothingToDo})
		return
	}

	if updateErr := handlers.database.Model(&model.ClientPortal{}).Where("id = ?", portal.ID).Updates(updates).Error; updateErr != nil {
		handlers.logger.Error("portal_update", zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionPortalUpdated,
		ResourceType: resourceTypePortal,
		ResourceID:   portal.ID,
		Detail:       gin.H{"fields": updateFieldNames(updates)},
	})

	var updated model.ClientPortal
	if reloadErr := handlers.database.First(&updated, "id = ?", portal.ID).Error; reloadErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, portalToResponse(updated))
}

// DeletePortal removes a portal and its dependent records.
func (handlers *PortalHandlers) DeletePortal(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	transactionErr := handlers.database.Transaction(func(transaction *gorm.DB) error {
		dependents := []any{
			&model.ClientPortalUser{},
			&model.UserInvitation{},
			&model.LoginLink{},
			&model.PortalWidgetData{},
			&model.WebhookEndpoint{},
			&model.WebhookDelivery{},
			&model.SSOProvider{},
			&model.ComplianceCheck{},
			&model.WhiteLabelSetting{},
			&model.PortalAsset{},
		}
		for _, dependent := range dependents {
			if deleteErr := transaction.Where("portal_id = ?", portal.ID).Delete(dependent).Error; deleteErr != nil {
				return deleteErr
			}
		}
		return transaction.Delete(&model.ClientPortal{}, "id = ?", portal.ID).Error
	})
	if transactionErr != nil {
		handlers.logger.Error("portal_delete", zap.Error(transactionErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueDeleteFailed})
		return
	}

	if purgeErr := handlers.store.DeletePortal(portal.ID); purgeErr != nil {
		handlers.logger.Error("portal_delete_assets", zap.Error(purgeErr))
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionPortalDeleted,
		ResourceType: resourceTypePortal,
		ResourceID:   portal.ID,
		Detail:       gin.H{"slug": portal.Slug},
	})

	context.Status(http.StatusNoContent)
}

// ApplyTemplate copies a template's presentation onto a portal.
func (handlers *PortalHandlers) ApplyTemplate(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var request struct {
		TemplateID string `json:"template_id"`
	}
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil || strings.TrimSpace(request.TemplateID) == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	var template model.PortalTemplate
	findErr := handlers.database.First(&template, "id = ?", strings.TrimSpace(request.TemplateID)).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownTemplate})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return
	}

	template.ApplyTo(&portal)
	updates := map[string]any{
		"primary_color":   portal.PrimaryColor,
		"secondary_color": portal.SecondaryColor,
		"accent_color":    portal.AccentColor,
		"theme":           portal.Theme,
		"enabled_widgets": portal.EnabledWidgets,
		"layout":          portal.Layout,
	}
	if updateErr := handlers.database.Model(&model.ClientPortal{}).Where("id = ?", portal.ID).Updates(updates).Error; updateErr != nil {
		handlers.logger.Error("portal_apply_template", zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionTemplateApplied,
		ResourceType: resourceTypeTemplate,
		ResourceID:   template.ID,
		Detail:       gin.H{"template": template.Name},
	})

	context.JSON(http.StatusOK, portalToResponse(portal))
}

func updateFieldNames(updates map[string]any) []string {
	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	return names
}
