package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/analytics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueUnknownWidget    = "unknown_widget"
	errorValueWidgetDisabled   = "widget_disabled"
	errorValueRefreshFailed    = "refresh_failed"
	routeParameterWidgetType   = "widget_type"
	queryParameterForceRefresh = "force"
)

// WidgetHandlers serves computed widget snapshots on the management API.
type WidgetHandlers struct {
	database  *gorm.DB
	logger    *zap.Logger
	refresher *analytics.Refresher
}

// NewWidgetHandlers constructs WidgetHandlers.
func NewWidgetHandlers(database *gorm.DB, logger *zap.Logger, refresher *analytics.Refresher) *WidgetHandlers {
	return &WidgetHandlers{database: database, logger: logger, refresher: refresher}
}

type widgetDataResponse struct {
	PortalID   string          `json:"portal_id"`
	WidgetType string          `json:"widget_type"`
	Payload    json.RawMessage `json:"payload"`
	ComputedAt int64           `json:"computed_at"`
}

type widgetCatalogResponse struct {
	Known   []string `json:"known"`
	Enabled []string `json:"enabled"`
}

func widgetDataToResponse(widgetData model.PortalWidgetData) widgetDataResponse {
	response := widgetDataResponse{
		PortalID:   widgetData.PortalID,
		WidgetType: widgetData.WidgetType,
		ComputedAt: unixOrZero(widgetData.ComputedAt),
	}
	if json.Valid([]byte(widgetData.Payload)) {
		response.Payload = json.RawMessage(widgetData.Payload)
	}
	return response
}

// Catalog lists the known widget types and the portal's enabled subset.
func (handlers *WidgetHandlers) Catalog(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	enabled, decodeErr := model.DecodeEnabledWidgets(portal.EnabledWidgets)
	if decodeErr != nil {
		enabled = []string{}
	}
	context.JSON(http.StatusOK, widgetCatalogResponse{
		Known:   model.KnownWidgetTypes(),
		Enabled: enabled,
	})
}

// GetWidgetData returns a widget snapshot for a portal, recomputing a stale
// one. The force query parameter recomputes unconditionally.
func (handlers *WidgetHandlers) GetWidgetData(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	widgetType := strings.TrimSpace(context.Param(routeParameterWidgetType))
	if !model.IsKnownWidgetType(widgetType) {
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownWidget})
		return
	}

	force := context.Query(queryParameterForceRefresh) == "true"
	widgetData, snapshotErr := handlers.refresher.Snapshot(portal, widgetType, force)
	if snapshotErr != nil {
		if errors.Is(snapshotErr, analytics.ErrWidgetNotEnabled) {
			context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueWidgetDisabled})
			return
		}
		handlers.logger.Error("widget_snapshot", zap.Error(snapshotErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueRefreshFailed})
		return
	}

	context.JSON(http.StatusOK, widgetDataToResponse(widgetData))
}
