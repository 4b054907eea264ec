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
	errorValueTemplateNameTaken = "template_name_taken"
	routeParameterTemplateID    = "template_id"
)

// TemplateHandlers manages the shared portal template catalog. Templates
// are agency-wide, not scoped to a portal.
type TemplateHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
}

// NewTemplateHandlers constructs TemplateHandlers.
func NewTemplateHandlers(database *gorm.DB, logger *zap.Logger) *TemplateHandlers {
	return &TemplateHandlers{database: database, logger: logger}
}

type upsertTemplateRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	PrimaryColor   string   `json:"primary_color"`
	SecondaryColor string   `json:"secondary_color"`
	AccentColor    string   `json:"accent_color"`
	Theme          string   `json:"theme"`
	EnabledWidgets []string `json:"enabled_widgets"`
	Layout         string   `json:"layout"`
}

type templateResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	PrimaryColor   string   `json:"primary_color"`
	SecondaryColor string   `json:"secondary_color"`
	AccentColor    string   `json:"accent_color"`
	Theme          string   `json:"theme"`
	EnabledWidgets []string `json:"enabled_widgets"`
	Layout         string   `json:"layout"`
	CreatedAt      int64    `json:"created_at"`
}

type listTemplatesResponse struct {
	Templates []templateResponse `json:"templates"`
}

func templateToResponse(template model.PortalTemplate) templateResponse {
	enabledWidgets, decodeErr := model.DecodeEnabledWidgets(template.EnabledWidgets)
	if decodeErr != nil {
		enabledWidgets = []string{}
	}
	return templateResponse{
		ID:             template.ID,
		Name:           template.Name,
		Description:    template.Description,
		PrimaryColor:   template.PrimaryColor,
		SecondaryColor: template.SecondaryColor,
		AccentColor:    template.AccentColor,
		Theme:          template.Theme,
		EnabledWidgets: enabledWidgets,
		Layout:         template.Layout,
		CreatedAt:      unixOrZero(template.CreatedAt),
	}
}

// CreateTemplate adds a template to the catalog.
func (handlers *TemplateHandlers) CreateTemplate(context *gin.Context) {
	var request upsertTemplateRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	template, templateErr := model.NewPortalTemplate(model.PortalTemplateInput{
		Name:           request.Name,
		Description:    request.Description,
		PrimaryColor:   request.PrimaryColor,
		SecondaryColor: request.SecondaryColor,
		AccentColor:    request.AccentColor,
		Theme:          request.Theme,
		EnabledWidgets: request.EnabledWidgets,
		Layout:         request.Layout,
	})
	if templateErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: templateErr.Error()})
		return
	}

	var existingCount int64
	if countErr := handlers.database.Model(&model.PortalTemplate{}).
		Where("name = ?", template.Name).Count(&existingCount).Error; countErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	if existingCount > 0 {
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueTemplateNameTaken})
		return
	}

	if createErr := handlers.database.Create(&template).Error; createErr != nil {
		handlers.logger.Error("template_create", zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	context.JSON(http.StatusCreated, templateToResponse(template))
}

// ListTemplates returns the catalog.
func (handlers *TemplateHandlers) ListTemplates(context *gin.Context) {
	var templates []model.PortalTemplate
	if queryErr := handlers.database.Order("name asc").Find(&templates).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	response := listTemplatesResponse{Templates: make([]templateResponse, 0, len(templates))}
	for _, template := range templates {
		response.Templates = append(response.Templates, templateToResponse(template))
	}
	context.JSON(http.StatusOK, response)
}

// GetTemplate returns one template by id.
func (handlers *TemplateHandlers) GetTemplate(context *gin.Context) {
	template, found := handlers.templateByID(context)
	if !found {
		return
	}
	context.JSON(http.StatusOK, templateToResponse(template))
}

// UpdateTemplate replaces a template's contents, keeping its id.
func (handlers *TemplateHandlers) UpdateTemplate(context *gin.Context) {
	template, found := handlers.templateByID(context)
	if !found {
		return
	}

	var request upsertTemplateRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	replacement, replacementErr := model.NewPortalTemplate(model.PortalTemplateInput{
		Name:           request.Name,
		Description:    request.Description,
		PrimaryColor:   request.PrimaryColor,
		SecondaryColor: request.SecondaryColor,
		AccentColor:    request.AccentColor,
		Theme:          request.Theme,
		EnabledWidgets: request.EnabledWidgets,
		Layout:         request.Layout,
	})
	if replacementErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: replacementErr.Error()})
		return
	}

	var clashCount int64
	if countErr := handlers.database.Model(&model.PortalTemplate{}).
		Where("name = ? AND id <> ?", replacement.Name, template.ID).
		Count(&clashCount).Error; countErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	if clashCount > 0 {
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueTemplateNameTaken})
		return
	}

	updates := map[string]any{
		"name":            replacement.Name,
		"description":     replacement.Description,
		"primary_color":   replacement.PrimaryColor,
		"secondary_color": replacement.SecondaryColor,
		"accent_color":    replacement.AccentColor,
		"theme":           replacement.Theme,
		"enabled_widgets": replacement.EnabledWidgets,
		"layout":          replacement.Layout,
	}
	if updateErr := handlers.database.Model(&model.PortalTemplate{}).
		Where("id = ?", template.ID).Updates(updates).Error; updateErr != nil {
		handlers.logger.Error("template_update", zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	var updated model.PortalTemplate
	if reloadErr := handlers.database.First(&updated, "id = ?", template.ID).Error; reloadErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, templateToResponse(updated))
}

// DeleteTemplate removes a template. Portals that applied it keep the
// copied presentation values.
func (handlers *TemplateHandlers) DeleteTemplate(context *gin.Context) {
	template, found := handlers.templateByID(context)
	if !found {
		return
	}

	if deleteErr := handlers.database.Delete(&model.PortalTemplate{}, "id = ?", template.ID).Error; deleteErr != nil {
		handlers.logger.Error("template_delete", zap.Error(deleteErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueDeleteFailed})
		return
	}
	context.Status(http.StatusNoContent)
}

func (handlers *TemplateHandlers) templateByID(context *gin.Context) (model.PortalTemplate, bool) {
	templateID := strings.TrimSpace(context.Param(routeParameterTemplateID))
	var template model.PortalTemplate
	findErr := handlers.database.First(&template, "id = ?", templateID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownTemplate})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return model.PortalTemplate{}, false
	}
	return template, true
}
