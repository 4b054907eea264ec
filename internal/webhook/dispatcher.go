// Package webhook delivers outbound portal event notifications: queued
// deliveries are POSTed with an HMAC signature, retried with exponential
// backoff, and dead-lettered after the attempt budget is spent.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	HeaderEventType  = "X-Portal-Event"
	HeaderSignature  = "X-Portal-Signature"
	HeaderDeliveryID = "X-Portal-Delivery"

	dispatcherUserAgent   = "portal-svc/1.0"
	contentTypeJSON       = "application/json"
	responseBodyReadLimit = 4096

	DefaultRequestTimeout      = 15 * time.Second
	DefaultMaxAttempts         = 3
	DefaultBackoffBase         = 30 * time.Second
	DefaultBackoffCap          = 30 * time.Minute
	DefaultDispatchBatchSize   = 50
	DefaultEndpointFailureCap  = 10
	logEventDeliverySucceeded  = "webhook_delivered"
	logEventDeliveryFailed     = "webhook_delivery_failed"
	logEventDeliveryDead       = "webhook_delivery_dead"
	logEventEndpointDisabled   = "webhook_endpoint_disabled"
	deliveryOutcomeDelivered   = "delivered"
	deliveryOutcomeRetried     = "retried"
	deliveryOutcomeDeadLetter  = "dead"
	errorMessageUnexpectedCode = "unexpected status code %d"
)

// Config tunes delivery behavior. Zero values fall back to defaults.
type Config struct {
	RequestTimeout     time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	DispatchBatchSize  int
	EndpointFailureCap int
}

func (configuration Config) withDefaults() Config {
	if configuration.RequestTimeout <= 0 {
		configuration.RequestTimeout = DefaultRequestTimeout
	}
	if configuration.MaxAttempts <= 0 {
		configuration.MaxAttempts = DefaultMaxAttempts
	}
	if configuration.BackoffBase <= 0 {
		configuration.BackoffBase = DefaultBackoffBase
	}
	if configuration.BackoffCap <= 0 {
		configuration.BackoffCap = DefaultBackoffCap
	}
	if configuration.DispatchBatchSize <= 0 {
		configuration.DispatchBatchSize = DefaultDispatchBatchSize
	}
	if configuration.EndpointFailureCap <= 0 {
		configuration.EndpointFailureCap = DefaultEndpointFailureCap
	}
	return configuration
}

// Dispatcher fans portal events out to subscribed endpoints and drains the
// pending delivery queue.
type Dispatcher struct {
	database      *gorm.DB
	logger        *zap.Logger
	httpClient    *http.Client
	configuration Config
	clock         func() time.Time
}

// NewDispatcher constructs a Dispatcher with the given tuning. A nil
// httpClient gets a default client bounded by the request timeout.
func NewDispatcher(database *gorm.DB, logger *zap.Logger, httpClient *http.Client, configuration Config) *Dispatcher {
	configuration = configuration.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: configuration.RequestTimeout}
	}
	return &Dispatcher{
		database:      database,
		logger:        logger,
		httpClient:    httpClient,
		configuration: configuration,
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the dispatcher's time source. Test seam.
func (dispatcher *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	dispatcher.clock = clock
	return dispatcher
}

// eventEnvelope is the JSON body delivered to endpoints.
type eventEnvelope struct {
	Event      string `json:"event"`
	PortalID   string `json:"portal_id"`
	OccurredAt int64  `json:"occurred_at"`
	Data       any    `json:"data,omitempty"`
}

// EnqueueEvent creates pending deliveries for every active endpoint of the
// portal subscribed to the event type.
func (dispatcher *Dispatcher) EnqueueEvent(portalID string, eventType string, data any) error {
	var endpoints []model.WebhookEndpoint
	if queryErr := dispatcher.database.
		Where("portal_id = ? AND status = ?", portalID, model.WebhookEndpointStatusActive).
		Find(&endpoints).Error; queryErr != nil {
		return fmt.Errorf("webhook: list endpoints: %w", queryErr)
	}

	now := dispatcher.clock()
	envelope, envelopeErr := EncodeEnvelope(eventType, portalID, now, data)
	if envelopeErr != nil {
		return fmt.Errorf("webhook: encode envelope: %w", envelopeErr)
	}
	for _, endpoint := range endpoints {
		if !endpoint.SubscribedTo(eventType) {
			continue
		}
		delivery, deliveryErr := model.NewWebhookDelivery(endpoint, eventType, json.RawMessage(envelope), now)
		if deliveryErr != nil {
			return deliveryErr
		}
		if createErr := dispatcher.database.Create(&delivery).Error; createErr != nil {
			return fmt.Errorf("webhook: enqueue delivery: %w", createErr)
		}
		metrics.WebhookQueueDepth.Inc()
	}
	return nil
}

// EnqueuePing queues a test delivery for a single endpoint regardless of
// its event subscriptions.
func (dispatcher *Dispatcher) EnqueuePing(endpoint model.WebhookEndpoint) (model.WebhookDelivery, error) {
	now := dispatcher.clock()
	envelope, envelopeErr := EncodeEnvelope(model.WebhookEventPing, endpoint.PortalID, now, nil)
	if envelopeErr != nil {
		return model.WebhookDelivery{}, fmt.Errorf("webhook: encode envelope: %w", envelopeErr)
	}
	delivery, deliveryErr := model.NewWebhookDelivery(endpoint, model.WebhookEventPing, json.RawMessage(envelope), now)
	if deliveryErr != nil {
		return model.WebhookDelivery{}, deliveryErr
	}
	if createErr := dispatcher.database.Create(&delivery).Error; createErr != nil {
		return model.WebhookDelivery{}, fmt.Errorf("webhook: enqueue ping: %w", createErr)
	}
	metrics.WebhookQueueDepth.Inc()
	return delivery, nil
}

// DispatchDue attempts every pending delivery whose next attempt time has
// passed. Satisfies task.RunnerFunc.
func (dispatcher *Dispatcher) DispatchDue(ctx context.Context) {
	now := dispatcher.clock()
	var deliveries []model.WebhookDelivery
	if queryErr := dispatcher.database.
		Where("status IN ? AND next_attempt_at <= ?",
			[]string{model.WebhookDeliveryStatusPending, model.WebhookDeliveryStatusFailed}, now).
		Order("next_attempt_at asc").
		Limit(dispatcher.configuration.DispatchBatchSize).
		Find(&deliveries).Error; queryErr != nil {
		dispatcher.logger.Error("webhook_queue_query", zap.Error(queryErr))
		return
	}

	for _, delivery := range deliveries {
		if ctx.Err() != nil {
			return
		}
		dispatcher.attempt(ctx, delivery)
	}
}

func (dispatcher *Dispatcher) attempt(ctx context.Context, delivery model.WebhookDelivery) {
	var endpoint model.WebhookEndpoint
	if endpointErr := dispatcher.database.First(&endpoint, "id = ?", delivery.EndpointID).Error; endpointErr != nil {
		dispatcher.markDead(delivery, "endpoint missing")
		return
	}
	if endpoint.Status != model.WebhookEndpointStatusActive {
		dispatcher.markDead(delivery, "endpoint disabled")
		return
	}

	attemptErr := dispatcher.post(ctx, endpoint, delivery)
	if attemptErr == nil {
		dispatcher.markDelivered(delivery, endpoint)
		return
	}
	dispatcher.reschedule(delivery, endpoint, attemptErr)
}

func (dispatcher *Dispatcher) post(ctx context.Context, endpoint model.WebhookEndpoint, delivery model.WebhookDelivery) error {
	requestCtx, cancel := context.WithTimeout(ctx, dispatcher.configuration.RequestTimeout)
	defer cancel()

	request, requestErr := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint.URL, bytes.NewReader([]byte(delivery.Payload)))
	if requestErr != nil {
		return requestErr
	}
	request.Header.Set("Content-Type", contentTypeJSON)
	request.Header.Set("User-Agent", dispatcherUserAgent)
	request.Header.Set(HeaderEventType, delivery.EventType)
	request.Header.Set(HeaderDeliveryID, delivery.ID)
	request.Header.Set(HeaderSignature, SignPayload(endpoint.Secret, []byte(delivery.Payload)))

	response, doErr := dispatcher.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, responseBodyReadLimit))
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf(errorMessageUnexpectedCode, response.StatusCode)
	}
	return nil
}

func (dispatcher *Dispatcher) markDelivered(delivery model.WebhookDelivery, endpoint model.WebhookEndpoint) {
	now := dispatcher.clock()
	updates := map[string]any{
		"status":        model.WebhookDeliveryStatusDelivered,
		"attempt_count": delivery.AttemptCount + 1,
		"delivered_at":  now,
		"last_error":    "",
	}
	if updateErr := dispatcher.database.Model(&model.WebhookDelivery{}).Where("id = ?", delivery.ID).Updates(updates).Error; updateErr != nil {
		dispatcher.logger.Error("webhook_delivery_update", zap.Error(updateErr))
		return
	}
	if endpoint.FailureCount > 0 {
		_ = dispatcher.database.Model(&model.WebhookEndpoint{}).Where("id = ?", endpoint.ID).Update("failure_count", 0).Error
	}
	metrics.WebhookQueueDepth.Dec()
	metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeDelivered).Inc()
	dispatcher.logger.Info(logEventDeliverySucceeded,
		zap.String("delivery_id", delivery.ID),
		zap.String("endpoint_id", endpoint.ID),
		zap.String("event", delivery.EventType),
		zap.Int("attempts", delivery.AttemptCount+1),
	)
}

func (dispatcher *Dispatcher) reschedule(delivery model.WebhookDelivery, endpoint model.WebhookEndpoint, attemptErr error) {
	attemptCount := delivery.AttemptCount + 1
	if attemptCount >= dispatcher.configuration.MaxAttempts {
		dispatcher.markDead(delivery, attemptErr.Error())
		dispatcher.recordEndpointFailure(endpoint)
		return
	}

	now := dispatcher.clock()
	updates := map[string]any{
		"status":          model.WebhookDeliveryStatusFailed,
		"attempt_count":   attemptCount,
		"next_attempt_at": now.Add(dispatcher.backoffDelay(attemptCount)),
		"last_error":      model.TruncateWebhookError(attemptErr.Error()),
	}
	if updateErr := dispatcher.database.Model(&model.WebhookDelivery{}).Where("id = ?", delivery.ID).Updates(updates).Error; updateErr != nil {
		dispatcher.logger.Error("webhook_delivery_update", zap.Error(updateErr))
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeRetried).Inc()
	dispatcher.logger.Warn(logEventDeliveryFailed,
		zap.String("delivery_id", delivery.ID),
		zap.String("endpoint_id", endpoint.ID),
		zap.Int("attempt", attemptCount),
		zap.Error(attemptErr),
	)
}

func (dispatcher *Dispatcher) markDead(delivery model.WebhookDelivery, reason string) {
	updates := map[string]any{
		"status":        model.WebhookDeliveryStatusDead,
		"attempt_count": delivery.AttemptCount + 1,
		"last_error":    model.TruncateWebhookError(reason),
	}
	if updateErr := dispatcher.database.Model(&model.WebhookDelivery{}).Where("id = ?", delivery.ID).Updates(updates).Error; updateErr != nil {
		dispatcher.logger.Error("webhook_delivery_update", zap.Error(updateErr))
		return
	}
	metrics.WebhookQueueDepth.Dec()
	metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeDeadLetter).Inc()
	dispatcher.logger.Warn(logEventDeliveryDead,
		zap.String("delivery_id", delivery.ID),
		zap.String("reason", reason),
	)
}

func (dispatcher *Dispatcher) recordEndpointFailure(endpoint model.WebhookEndpoint) {
	failureCount := endpoint.FailureCount + 1
	updates := map[string]any{"failure_count": failureCount}
	if failureCount >= dispatcher.configuration.EndpointFailureCap {
		updates["status"] = model.WebhookEndpointStatusDisabled
		updates["disabled_at"] = dispatcher.clock()
		dispatcher.logger.Warn(logEventEndpointDisabled,
			zap.String("endpoint_id", endpoint.ID),
			zap.Int("failures", failureCount),
		)
	}
	if updateErr := dispatcher.database.Model(&model.WebhookEndpoint{}).Where("id = ?", endpoint.ID).Updates(updates).Error; updateErr != nil {
		dispatcher.logger.Error("webhook_endpoint_update", zap.Error(updateErr))
	}
}

func (dispatcher *Dispatcher) backoffDelay(attemptCount int) time.Duration {
	delay := dispatcher.configuration.BackoffBase
	for i := 1; i < attemptCount; i++ {
		delay *= 2
		if delay >= dispatcher.configuration.BackoffCap {
			return dispatcher.configuration.BackoffCap
		}
	}
	return delay
}

// SignPayload computes the hex HMAC-SHA256 of the payload with the
// endpoint secret. Receivers recompute this to authenticate deliveries.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// EncodeEnvelope builds the delivery body used for event fan-out. Exposed
// for receivers and tests that need to verify signatures against the exact
// wire bytes.
func EncodeEnvelope(eventType string, portalID string, occurredAt time.Time, data any) ([]byte, error) {
	return json.Marshal(eventEnvelope{Event: eventType, PortalID: portalID, OccurredAt: occurredAt.Unix(), Data: data})
}
