package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncProxiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwarden_sync_proxies_created_total",
		Help: "Proxy records created by pool sync.",
	})
	SyncProxiesUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwarden_sync_proxies_updated_total",
		Help: "Proxy records refreshed in place by pool sync.",
	})
	SyncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwarden_sync_errors_total",
		Help: "Per-port fetch or upsert errors during pool sync.",
	})

	HealthCheckOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolwarden_health_check_outcomes_total",
		Help: "Health check results by outcome.",
	}, []string{"outcome"})
	ProxiesAutoDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwarden_proxies_auto_deactivated_total",
		Help: "Proxies disabled after repeated health failures.",
	})

	UsageCreditsReported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwarden_usage_credits_reported_total",
		Help: "Whole credits reported to the billing API.",
	})
	BillingReportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwarden_billing_report_errors_total",
		Help: "Failed billing usage reports.",
	})
)
