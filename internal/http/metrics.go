package httpx

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// metrics is shared by every router in the process; collectors register once.
type metrics struct {
	requestTotal    *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	dispatchResults *prometheus.CounterVec
	rejections      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	shared      *metrics
)

func loadMetrics() *metrics {
	metricsOnce.Do(func() {
		m := &metrics{
			requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "edgeship",
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Count of processed HTTP requests",
			}, []string{"method", "route", "status"}),
			requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "edgeship",
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution of HTTP handlers",
				Buckets:   histogramBuckets,
			}, []string{"method", "route", "status"}),
			dispatchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "edgeship",
				Subsystem: "api",
				Name:      "dispatch_results_total",
				Help:      "Number of dispatch outcomes",
			}, []string{"outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "edgeship",
				Subsystem: "api",
				Name:      "dispatch_rejections_total",
				Help:      "Deployment requests refused by the dispatch quota or a held build lock",
			}, []string{"reason"}),
		}
		m.requestTotal = registerCounterVec(m.requestTotal)
		m.dispatchResults = registerCounterVec(m.dispatchResults)
		m.rejections = registerCounterVec(m.rejections)
		if err := prometheus.Register(m.requestLatency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					m.requestLatency = existing
				}
			}
		}
		shared = m
	})
	return shared
}

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) recordRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m *metrics) recordDispatch(outcome string) {
	m.dispatchResults.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (m *metrics) recordRejection(reason string) {
	m.rejections.With(prometheus.Labels{"reason": reason}).Inc()
}
