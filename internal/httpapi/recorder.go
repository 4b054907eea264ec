package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/webhook"
)

const (
	operatorEmailHeader  = "X-Operator-Email"
	defaultOperatorActor = "agency"
)

// ActivityRecorder writes audit rows and fans matching webhook events out.
// Recording is best-effort: a failed audit write never fails the request
// that caused it, it is logged instead.
type ActivityRecorder struct {
	database   *gorm.DB
	logger     *zap.Logger
	dispatcher *webhook.Dispatcher
}

// NewActivityRecorder constructs an ActivityRecorder. A nil dispatcher
// disables webhook fan-out.
func NewActivityRecorder(database *gorm.DB, logger *zap.Logger, dispatcher *webhook.Dispatcher) *ActivityRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityRecorder{database: database, logger: logger, dispatcher: dispatcher}
}

// Record persists one activity row, filling IP and user agent from the
// request, and enqueues the action as a webhook event.
func (recorder *ActivityRecorder) Record(context *gin.Context, input model.ClientPortalActivityInput) {
	if context != nil {
		input.IP = context.ClientIP()
		input.UserAgent = context.Request.UserAgent()
	}
	activity, activityErr := model.NewClientPortalActivity(input)
	if activityErr != nil {
		recorder.logger.Error("activity_build", zap.Error(activityErr))
		return
	}
	if createErr := recorder.database.Create(&activity).Error; createErr != nil {
		recorder.logger.Error("activity_save", zap.Error(createErr))
		return
	}
	if recorder.dispatcher == nil {
		return
	}
	eventData := gin.H{
		"actor":         activity.Actor,
		"resource_type": activity.ResourceType,
		"resource_id":   activity.ResourceID,
	}
	if enqueueErr := recorder.dispatcher.EnqueueEvent(activity.PortalID, activity.Action, eventData); enqueueErr != nil {
		recorder.logger.Error("activity_webhook_enqueue", zap.Error(enqueueErr))
	}
}

// OperatorActor resolves the acting agency operator from the request, with
// a fixed fallback when the management client does not identify one.
func OperatorActor(context *gin.Context) string {
	operator := context.GetHeader(operatorEmailHeader)
	if operator == "" {
		return defaultOperatorActor
	}
	return operator
}
