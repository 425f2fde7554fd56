package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

// Collector owns a registry with the billing metrics and implements
// billing.Observer.
type Collector struct {
	registry *prometheus.Registry

	webhooks     *prometheus.CounterVec
	fraud        *prometheus.CounterVec
	quotaDenials *prometheus.CounterVec
	planChanges  *prometheus.CounterVec
	repairs      prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

var _ billing.Observer = (*Collector)(nil)

// New creates a collector under namespace. Go runtime and process
// collectors are registered alongside.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "clinicbilling"
	}
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Verified webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		fraud: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trial_fraud_detected_total",
			Help:      "Trials cancelled because the payment instrument already funded a trial.",
		}, []string{"event_type"}),
		quotaDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Plan enforcement denials by reason.",
		}, []string{"reason"}),
		planChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_change_requests_total",
			Help:      "Plan change requests accepted by the processor, by mode.",
		}, []string{"mode"}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_plans_repaired_total",
			Help:      "Records moved to the free plan by the expiry sweeper.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		c.webhooks, c.fraud, c.quotaDenials, c.planChanges, c.repairs, c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) WebhookProcessed(eventType, outcome string) {
	c.webhooks.WithLabelValues(eventType, outcome).Inc()
}

func (c *Collector) FraudDetected(eventType string) {
	c.fraud.WithLabelValues(eventType).Inc()
}

func (c *Collector) QuotaDenied(reason string) {
	c.quotaDenials.WithLabelValues(reason).Inc()
}

func (c *Collector) PlanChangeRequested(mode string) {
	c.planChanges.WithLabelValues(mode).Inc()
}

// PlansRepaired adds n sweeper repairs.
func (c *Collector) PlansRepaired(n int) {
	c.repairs.Add(float64(n))
}

// ObserveHTTP records one request. route should be the route pattern, not the raw path.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Registry exposes the registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
