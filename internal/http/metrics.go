package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/creditledger/internal/catalog"
)

var (
	histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
)

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "creditledger",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})

		r.settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Subsystem: "billing",
			Name:      "settlements_total",
			Help:      "Settlement attempts by source and outcome",
		}, []string{"source", "outcome"})

		r.purchases = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Subsystem: "billing",
			Name:      "purchases_total",
			Help:      "Purchase initiations by plan and result",
		}, []string{"plan", "result"})

		r.requestTotal = registerCounter(r.requestTotal)
		r.rateLimitHits = registerCounter(r.rateLimitHits)
		r.settlements = registerCounter(r.settlements)
		r.purchases = registerCounter(r.purchases)
		if err := prometheus.Register(r.requestLatency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					r.requestLatency = existing
				}
			}
		}
		r.metricsInitialized = true
	})
}

// registerCounter registers c, reusing an identical collector that another
// router instance already registered.
func registerCounter(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordSettlement(source, outcome string) {
	if !r.metricsInitialized {
		return
	}
	r.settlements.With(prometheus.Labels{"source": source, "outcome": outcome}).Inc()
}

func (r *Router) recordPurchase(plan, result string) {
	if !r.metricsInitialized {
		return
	}
	r.purchases.With(prometheus.Labels{"plan": planLabel(plan), "result": result}).Inc()
}

// planLabel keeps the plan label within the catalog so client input cannot
// create new series.
func planLabel(plan string) string {
	resolved, err := catalog.Resolve(plan)
	if err != nil {
		return "unknown"
	}
	return string(resolved.ID)
}
