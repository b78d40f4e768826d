package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amoylab/authcore/internal/common/config"
)

// Metrics holds the collectors of the authorization server. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	namespace     string
	httpReqCnt    *prometheus.CounterVec
	httpDur       *prometheus.HistogramVec
	httpInfl      *prometheus.GaugeVec
	tokenIssueCnt *prometheus.CounterVec
	introspectCnt *prometheus.CounterVec
	introspectDur *prometheus.HistogramVec
	reloadCnt     *prometheus.CounterVec
	resourceGauge prometheus.Gauge
	decisionCnt   *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	// Register basic HTTP metrics
	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	tokenIssueCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tokens_issued_total"}, []string{"grant_type", "replaced"})
	introspectCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "introspections_total"}, []string{"result"})
	introspectDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "introspection_duration_seconds", Buckets: cfg.Buckets}, []string{"result"})
	r.MustRegister(tokenIssueCnt, introspectCnt, introspectDur)

	reloadCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "metadata_reloads_total"}, []string{"status"})
	resourceGauge := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "metadata_resources"})
	decisionCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "authorization_decisions_total"}, []string{"decision"})
	r.MustRegister(reloadCnt, resourceGauge, decisionCnt)

	return &Metrics{
		registry:      r,
		namespace:     ns,
		httpReqCnt:    httpReqCnt,
		httpDur:       httpDur,
		httpInfl:      httpInfl,
		tokenIssueCnt: tokenIssueCnt,
		introspectCnt: introspectCnt,
		introspectDur: introspectDur,
		reloadCnt:     reloadCnt,
		resourceGauge: resourceGauge,
		decisionCnt:   decisionCnt,
	}
}

func (m *Metrics) TokenIssued(grantType string, replaced bool) {
	if m == nil {
		return
	}
	m.tokenIssueCnt.WithLabelValues(grantType, strconv.FormatBool(replaced)).Inc()
}

func (m *Metrics) IntrospectionDone(result string, since time.Time) {
	if m == nil {
		return
	}
	m.introspectCnt.WithLabelValues(result).Inc()
	m.introspectDur.WithLabelValues(result).Observe(time.Since(since).Seconds())
}

func (m *Metrics) MetadataReloaded(resources int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloadCnt.WithLabelValues("error").Inc()
		return
	}
	m.reloadCnt.WithLabelValues("ok").Inc()
	m.resourceGauge.Set(float64(resources))
}

func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisionCnt.WithLabelValues(decision).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := httpStatus(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func httpStatus(code int) string { return strconv.Itoa(code) }
