package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueInvalidJSON    = "invalid_json"
	errorValueUnknownPortal  = "unknown_portal"
	errorValueQueryFailed    = "query_failed"
	errorValueSaveFailed     = "save_failed"
	errorValueDeleteFailed   = "delete_failed"
	errorValueNothingToDo    = "nothing_to_update"
	errorValuePortalInactive = "portal_inactive"

	routeParameterPortalID = "id"
	routeParameterSlug     = "slug"

	defaultPageSize = 50
	maxPageSize     = 200
)

// portalByID loads a portal by route id, answering 404 on miss. Returns
// false when the request has already been answered.
func portalByID(context *gin.Context, database *gorm.DB) (model.ClientPortal, bool) {
	portalID := strings.TrimSpace(context.Param(routeParameterPortalID))
	var portal model.ClientPortal
	findErr := database.First(&portal, "id = ?", portalID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownPortal})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return model.ClientPortal{}, false
	}
	return portal, true
}

// portalBySlug loads a portal by route slug, answering 404 on miss.
func portalBySlug(context *gin.Context, database *gorm.DB) (model.ClientPortal, bool) {
	slug := strings.ToLower(strings.TrimSpace(context.Param(routeParameterSlug)))
	var portal model.ClientPortal
	findErr := database.First(&portal, "slug = ?", slug).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownPortal})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return model.ClientPortal{}, false
	}
	return portal, true
}

// pagination reads limit/offset query parameters with bounded defaults.
func pagination(context *gin.Context) (limit int, offset int) {
	limit = defaultPageSize
	if rawLimit := context.Query("limit"); rawLimit != "" {
		if parsed, parseErr := strconv.Atoi(rawLimit); parseErr == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if rawOffset := context.Query("offset"); rawOffset != "" {
		if parsed, parseErr := strconv.Atoi(rawOffset); parseErr == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// parsePositiveInt parses a strictly positive decimal integer.
func parsePositiveInt(raw string) (int, error) {
	parsed, parseErr := strconv.Atoi(raw)
	if parseErr != nil {
		return 0, parseErr
	}
	if parsed <= 0 {
		return 0, errors.New("not_positive")
	}
	return parsed, nil
}

// unixOrZero renders a timestamp as unix seconds, zero when unset.
func unixOrZero(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.Unix()
}
