package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

// ActivityHandlers serves the portal audit trail.
type ActivityHandlers struct {
	database *gorm.DB
}

// NewActivityHandlers constructs ActivityHandlers.
func NewActivityHandlers(database *gorm.DB) *ActivityHandlers {
	return &ActivityHandlers{database: database}
}

type activityResponse struct {
	ID           string          `json:"id"`
	PortalID     string          `json:"portal_id"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	IP           string          `json:"ip"`
	UserAgent    string          `json:"user_agent"`
	OccurredAt   int64           `json:"occurred_at"`
}

type listActivitiesResponse struct {
	Activities []activityResponse `json:"activities"`
}

func activityToResponse(activity model.ClientPortalActivity) activityResponse {
	response := activityResponse{
		ID:           activity.ID,
		PortalID:     activity.PortalID,
		Actor:        activity.Actor,
		Action:       activity.Action,
		ResourceType: activity.ResourceType,
		ResourceID:   activity.ResourceID,
		IP:           activity.IP,
		UserAgent:    activity.UserAgent,
		OccurredAt:   unixOrZero(activity.OccurredAt),
	}
	if json.Valid([]byte(activity.Detail)) {
		response.Detail = json.RawMessage(activity.Detail)
	}
	return response
}

// ListActivities returns a portal's audit rows, newest first, filterable
// by action, actor, and time window.
func (handlers *ActivityHandlers) ListActivities(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	limit, offset := pagination(context)
	query := handlers.database.Where("portal_id = ?", portal.ID)
	if action := strings.TrimSpace(context.Query("action")); action != "" {
		query = query.Where("action = ?", action)
	}
	if actor := strings.TrimSpace(context.Query("actor")); actor != "" {
		query = query.Where("actor = ?", actor)
	}
	if since := strings.TrimSpace(context.Query("since")); since != "" {
		sinceUnix, parseErr := strconv.ParseInt(since, 10, 64)
		if parseErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
			return
		}
		query = query.Where("occurred_at >= ?", time.Unix(sinceUnix, 0).UTC())
	}

	var activities []model.ClientPortalActivity
	if queryErr := query.Order("occurred_at desc").Limit(limit).Offset(offset).Find(&activities).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	response := listActivitiesResponse{Activities: make([]activityResponse, 0, len(activities))}
	for _, activity := range activities {
		response.Activities = append(response.Activities, activityToResponse(activity))
	}
	context.JSON(http.StatusOK, response)
}
