package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/webhook"
)

const (
	errorValueUnknownWebhook = "unknown_webhook"
	resourceTypeWebhook      = "webhook"
	routeParameterWebhookID  = "webhook_id"
)

// WebhookHandlers serves the agency-facing webhook endpoint management API.
type WebhookHandlers struct {
	database   *gorm.DB
	logger     *zap.Logger
	recorder   *ActivityRecorder
	dispatcher *webhook.Dispatcher
}

// NewWebhookHandlers constructs WebhookHandlers.
func NewWebhookHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder, dispatcher *webhook.Dispatcher) *WebhookHandlers {
	return &WebhookHandlers{database: database, logger: logger, recorder: recorder, dispatcher: dispatcher}
}

type createWebhookRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types"`
}

type updateWebhookRequest struct {
	URL        *string   `json:"url"`
	Secret     *string   `json:"secret"`
	EventTypes *[]string `json:"event_types"`
	Status     *string   `json:"status"`
}

type webhookResponse struct {
	ID           string   `json:"id"`
	PortalID     string   `json:"portal_id"`
	URL          string   `json:"url"`
	EventTypes   []string `json:"event_types"`
	Status       string   `json:"status"`
	FailureCount int      `json:"failure_count"`
	DisabledAt   int64    `json:"disabled_at"`
	CreatedAt    int64    `json:"created_at"`
}

type listWebhooksResponse struct {
	Webhooks []webhookResponse `json:"webhooks"`
}

type webhookDeliveryResponse struct {
	ID            string `json:"id"`
	EndpointID    string `json:"endpoint_id"`
	EventType     string `json:"event_type"`
	Status        string `json:"status"`
	AttemptCount  int    `json:"attempt_count"`
	LastError     string `json:"last_error"`
	NextAttemptAt int64  `json:"next_attempt_at"`
	DeliveredAt   int64  `json:"delivered_at"`
	CreatedAt     int64  `json:"created_at"`
}

type listWebhookDeliveriesResponse struct {
	Deliveries []webhookDeliveryResponse `json:"deliveries"`
}

func webhookToResponse(endpoint model.WebhookEndpoint) webhookResponse {
	eventTypes, decodeErr := model.DecodeWebhookEventTypes(endpoint.EventTypes)
	if decodeErr != nil {
		eventTypes = []string{}
	}
	return webhookResponse{
		ID:           endpoint.ID,
		PortalID:     endpoint.PortalID,
		URL:          endpoint.URL,
		EventTypes:   eventTypes,
		Status:       endpoint.Status,
		FailureCount: endpoint.FailureCount,
		DisabledAt:   unixOrZero(endpoint.DisabledAt),
		CreatedAt:    unixOrZero(endpoint.CreatedAt),
	}
}

func webhookDeliveryToResponse(delivery model.WebhookDelivery) webhookDeliveryResponse {
	return webhookDeliveryResponse{
		ID:            delivery.ID,
		EndpointID:    delivery.EndpointID,
		EventType:     delivery.EventType,
		Status:        delivery.Status,
		AttemptCount:  delivery.AttemptCount,
		LastError:     delivery.LastError,
		NextAttemptAt: unixOrZero(delivery.NextAttemptAt),
		DeliveredAt:   unixOrZero(delivery.DeliveredAt),
		CreatedAt:     unixOrZero(delivery.CreatedAt),
	}
}

// CreateWebhook registers an outbound endpoint for a portal.
func (handlers *WebhookHandlers) CreateWebhook(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var request createWebhookRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	endpoint, endpointErr := model.NewWebhookEndpoint(model.WebhookEndpointInput{
		PortalID:   portal.ID,
		URL:        request.URL,
		Secret:     request.Secret,
		EventTypes: request.EventTypes,
	})
	if endpointErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: endpointErr.Error()})
		return
	}

	if createErr := handlers.database.Create(&endpoint).Error; createErr != nil {
		handlers.logger.Error("webhook_create", zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionWebhookCreated,
		ResourceType: resourceTypeWebhook,
		ResourceID:   endpoint.ID,
		Detail:       gin.H{"url": endpoint.URL},
	})

	context.JSON(http.StatusCreated, webhookToResponse(endpoint))
}

// ListWebhooks returns a portal's webhook endpoints.
func (handlers *WebhookHandlers) ListWebhooks(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var endpoints []model.WebhookEndpoint
	if queryErr := handlers.database.Where("portal_id = ?", portal.ID).
		Order("created_at asc").Find(&endpoints).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	response := listWebhooksResponse{Webhooks: make([]webhookResponse, 0, len(endpoints))}
	for _, endpoint := range endpoints {
		response.Webhooks = append(response.Webhooks, webhookToResponse(endpoint))
	}
	context.JSON(http.StatusOK, response)
}

// UpdateWebhook applies a partial update to an endpoint. Re-enabling a
// disabled endpoint resets its failure count.
func (handlers *WebhookHandlers) UpdateWebhook(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	endpoint, endpointFound := handlers.webhookByID(context, portal.ID)
	if !endpointFound {
		return
	}

	var request updateWebhookRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	updates := map[string]any{}
	if request.URL != nil {
		validatedURL, urlErr := model.ValidateWebhookURL(*request.URL)
		if urlErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: urlErr.Error()})
			return
		}
		updates["url"] = validatedURL
	}
	if request.Secret != nil {
		probe, probeErr := model.NewWebhookEndpoint(model.WebhookEndpointInput{
			PortalID: portal.ID,
			URL:      endpoint.URL,
			Secret:   *request.Secret,
		})
		if probeErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: probeErr.Error()})
			return
		}
		updates["secret"] = probe.Secret
	}
	if request.EventTypes != nil {
		encodedEvents, eventsErr := model.EncodeWebhookEventTypes(*request.EventTypes)
		if eventsErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: eventsErr.Error()})
			return
		}
		updates["event_types"] = encodedEvents
	}
	if request.Status != nil {
		switch *request.Status {
		case model.WebhookEndpointStatusActive:
			updates["status"] = model.WebhookEndpointStatusActive
			updates["failure_count"] = 0
		case model.WebhookEndpointStatusDisabled:
			updates["status"] = model.WebhookEndpointStatusDisabled
		default:
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
			return
		}
	}

	if len(updates) == 0 {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueNothingToDo})
		return
	}

	if updateErr := handlers.database.Model(&model.WebhookEndpoint{}).
		Where("id = ?", endpoint.ID).Updates(updates).Error; updateErr != nil {
		handlers.logger.Error("webhook_update", zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionWebhookUpdated,
		ResourceType: resourceTypeWebhook,
		ResourceID:   endpoint.ID,
		Detail:       gin.H{"fields": updateFieldNames(updates)},
	})

	var updated model.WebhookEndpoint
	if reloadErr := handlers.database.First(&updated, "id = ?", endpoint.ID).Error; reloadErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, webhookToResponse(updated))
}

// DeleteWebhook removes an endpoint together with its delivery history.
func (handlers *WebhookHandlers) DeleteWebhook(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	endpoint, endpointFound := handlers.webhookByID(context, portal.ID)
	if !endpointFound {
		return
	}

	transactionErr := handlers.database.Transaction(func(transaction *gorm.DB) error {
		if deleteErr := transaction.Where("endpoint_id = ?", endpoint.ID).Delete(&model.WebhookDelivery{}).Error; deleteErr != nil {
			return deleteErr
		}
		return transaction.Delete(&model.WebhookEndpoint{}, "id = ?", endpoint.ID).Error
	})
	if transactionErr != nil {
		handlers.logger.Error("webhook_delete", zap.Error(transactionErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueDeleteFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionWebhookDeleted,
		ResourceType: resourceTypeWebhook,
		ResourceID:   endpoint.ID,
		Detail:       gin.H{"url": endpoint.URL},
	})

	context.Status(http.StatusNoContent)
}

// TestWebhook enqueues a ping delivery for one endpoint and returns the
// queued delivery row.
func (handlers *WebhookHandlers) TestWebhook(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	endpoint, endpointFound := handlers.webhookByID(context, portal.ID)
	if !endpointFound {
		return
	}

	delivery, deliveryErr := handlers.dispatcher.EnqueuePing(endpoint)
	if deliveryErr != nil {
		handlers.logger.Error("webhook_ping", zap.Error(deliveryErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	context.JSON(http.StatusAccepted, webhookDeliveryToResponse(delivery))
}

// ListDeliveries returns recent delivery attempts for one endpoint.
func (handlers *WebhookHandlers) ListDeliveries(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	endpoint, endpointFound := handlers.webhookByID(context, portal.ID)
	if !endpointFound {
		return
	}

	limit, offset := pagination(context)
	var deliveries []model.WebhookDelivery
	if queryErr := handlers.database.Where("endpoint_id = ?", endpoint.ID).
		Order("created_at desc").Limit(limit).Offset(offset).Find(&deliveries).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	response := listWebhookDeliveriesResponse{Deliveries: make([]webhookDeliveryResponse, 0, len(deliveries))}
	for _, delivery := range deliveries {
		response.Deliveries = append(response.Deliveries, webhookDeliveryToResponse(delivery))
	}
	context.JSON(http.StatusOK, response)
}

// EventCatalog lists the event types endpoints may subscribe to.
func (handlers *WebhookHandlers) EventCatalog(context *gin.Context) {
	context.JSON(http.StatusOK, gin.H{"event_types": model.WebhookEventTypes()})
}

func (handlers *WebhookHandlers) webhookByID(context *gin.Context, portalID string) (model.WebhookEndpoint, bool) {
	webhookID := strings.TrimSpace(context.Param(routeParameterWebhookID))
	var endpoint model.WebhookEndpoint
	findErr := handlers.database.First(&endpoint, "id = ? AND portal_id = ?", webhookID, portalID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownWebhook})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return model.WebhookEndpoint{}, false
	}
	return endpoint, true
}
