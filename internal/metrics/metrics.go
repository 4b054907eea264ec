package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts served HTTP requests by route, method, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)

	// PortalLoginsTotal counts portal user login attempts by outcome.
	PortalLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_logins_total",
			Help: "Total portal user login attempts",
		},
		[]string{"mode", "outcome"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_webhook_deliveries_total",
			Help: "Total webhook delivery attempts",
		},
		[]string{"outcome"},
	)

	// WebhookQueueDepth tracks pending webhook deliveries.
	WebhookQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_webhook_queue_depth",
			Help: "Pending webhook deliveries awaiting dispatch",
		},
	)

	// ComplianceScansTotal counts completed compliance scans.
	ComplianceScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_compliance_scans_total",
			Help: "Total compliance scans completed",
		},
	)

	// WidgetRefreshesTotal counts widget data snapshot refreshes.
	WidgetRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_widget_refreshes_total",
			Help: "Total widget data snapshot refreshes",
		},
	)
)

// Register installs the collectors on a registry. Using a caller-supplied
// registry keeps tests isolated from the default global one.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		HTTPRequestsTotal,
		PortalLoginsTotal,
		WebhookDeliveriesTotal,
		WebhookQueueDepth,
		ComplianceScansTotal,
		WidgetRefreshesTotal,
	)
}

// Handler serves the registry in prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
