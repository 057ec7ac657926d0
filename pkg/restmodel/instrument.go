package restmodel

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	connhttp "github.com/restmodel-io/restmodel/internal/http"
)

// RequestEvent is the instrumentation payload emitted once per request,
// after any digest retry has been resolved.
type RequestEvent = connhttp.RequestEvent

// PrometheusCollector turns request events into Prometheus metrics.
// Register it as a class subscriber:
//
//	collector := restmodel.NewPrometheusCollector(registry)
//	class.Subscribe(collector.Handle)
type PrometheusCollector struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	retries   prometheus.Counter
}

// NewPrometheusCollector registers the metric set on the given registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "restmodel_requests_total",
			Help: "Requests issued, by method and outcome.",
		}, []string{"method", "status"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "restmodel_request_duration_seconds",
			Help:    "Request round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "restmodel_auth_retries_total",
			Help: "Digest challenge retries performed.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	p.requests.Describe(ch)
	p.durations.Describe(ch)
	p.retries.Describe(ch)
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	p.requests.Collect(ch)
	p.durations.Collect(ch)
	p.retries.Collect(ch)
}

// Handle consumes one request event.
func (p *PrometheusCollector) Handle(event *RequestEvent) {
	status := "error"
	if event.Result != nil {
		status = strconv.Itoa(event.Result.StatusCode)
	}

	p.requests.WithLabelValues(event.Method, status).Inc()
	p.durations.WithLabelValues(event.Method).Observe(event.Duration.Seconds())

	if event.Retried {
		p.retries.Inc()
	}
}

// LogSubscriber writes one structured line per request event.
func LogSubscriber(logger Logger) func(*RequestEvent) {
	return func(event *RequestEvent) {
		fields := map[string]any{
			"method":      event.Method,
			"request_uri": event.RequestURI,
			"duration_ms": event.Duration.Milliseconds(),
			"retried":     event.Retried,
		}

		if event.Result != nil {
			fields["status"] = event.Result.StatusCode
		}

		if event.Err != nil {
			fields["error"] = event.Err.Error()

			logger.Warn("request failed", fields)

			return
		}

		logger.Info("request completed", fields)
	}
}
