package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// routerMetrics holds the request collectors and the perk activity counters.
type routerMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	limited     *prometheus.CounterVec
	votes       *prometheus.CounterVec
	perksPosted *prometheus.CounterVec
	logins      *prometheus.CounterVec
}

func newRouterMetrics(reg prometheus.Registerer) *routerMetrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perkmanager",
			Subsystem: "api",
			Name:      name,
			Help:      help,
		}, labels)
	}
	m := &routerMetrics{
		requests: counter("http_requests_total", "Count of processed HTTP requests", "method", "route", "status"),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "perkmanager",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		limited:     counter("rate_limited_total", "Requests refused by a rate policy", "policy", "actor"),
		votes:       counter("votes_total", "Votes cast on perks", "direction", "voter", "outcome"),
		perksPosted: counter("perks_posted_total", "Perks created", "membership", "product"),
		logins:      counter("logins_total", "Login attempts", "outcome"),
	}
	if reg == nil {
		return m
	}
	m.requests = registerCollector(reg, m.requests)
	m.latency = registerCollector(reg, m.latency)
	m.limited = registerCollector(reg, m.limited)
	m.votes = registerCollector(reg, m.votes)
	m.perksPosted = registerCollector(reg, m.perksPosted)
	m.logins = registerCollector(reg, m.logins)
	return m
}

// registerCollector registers c, reusing a collector already registered under
// the same descriptor.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *routerMetrics) request(method, route string, status int, d time.Duration) {
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	m.requests.With(labels).Inc()
	m.latency.With(labels).Observe(d.Seconds())
}

func (m *routerMetrics) rateLimited(policy, actor string) {
	m.limited.WithLabelValues(policy, actor).Inc()
}

// vote records a cast. Anonymous legacy increments are counted apart from
// per-user toggles.
func (m *routerMetrics) vote(cast domain.VoteType, userID int64, err error) {
	direction, voter := "up", "user"
	if cast == domain.VoteDown {
		direction = "down"
	}
	if userID <= 0 {
		voter = "anonymous"
	}
	m.votes.WithLabelValues(direction, voter, outcome(err)).Inc()
}

func (m *routerMetrics) perkPosted(p domain.Perk) {
	m.perksPosted.WithLabelValues(string(p.Membership), string(p.Product)).Inc()
}

func (m *routerMetrics) login(err error) {
	m.logins.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "rejected"
	}
	return "ok"
}
