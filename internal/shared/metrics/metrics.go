package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcomes.
const (
	AdmissionAdmitted  = "admitted"
	AdmissionCoalesced = "coalesced"
)

// Sink records orchestrator metrics. Implementations must not block.
type Sink interface {
	Admission(outcome string)
	JobFinished(status string, duration time.Duration)
	AttemptCompleted(outcome string)
	Retry()
	BreakerState(state string)
	QueueDepth(depth int)
}

// PrometheusSink implements Sink with client_golang collectors.
type PrometheusSink struct {
	admissionsTotal *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
	attemptsTotal   *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	breakerOpen     prometheus.Gauge
	queueDepth      prometheus.Gauge
	jobDuration     prometheus.Histogram
}

// NewPrometheusSink creates the collectors and registers them with reg.
// Registration failures are logged and the collector keeps working unregistered.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		admissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_admissions_total",
			Help: "Analysis requests by admission outcome.",
		}, []string{"outcome"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_jobs_total",
			Help: "Analysis jobs reaching a terminal status.",
		}, []string{"status"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_attempts_total",
			Help: "Analysis executor attempts by outcome.",
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analysis_retries_total",
			Help: "Analysis attempts retried after a provider rate limit.",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analysis_breaker_open",
			Help: "1 while the provider circuit breaker is open.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analysis_queue_depth",
			Help: "Live analysis jobs (queued or running).",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analysis_job_duration_seconds",
			Help:    "Wall time from job start to terminal status.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}

	s.register(reg, s.admissionsTotal, "analysis_admissions_total")
	s.register(reg, s.jobsTotal, "analysis_jobs_total")
	s.register(reg, s.attemptsTotal, "analysis_attempts_total")
	s.register(reg, s.retriesTotal, "analysis_retries_total")
	s.register(reg, s.breakerOpen, "analysis_breaker_open")
	s.register(reg, s.queueDepth, "analysis_queue_depth")
	s.register(reg, s.jobDuration, "analysis_job_duration_seconds")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: register %s: %v", name, err)
	}
}

func (s *PrometheusSink) Admission(outcome string) {
	s.admissionsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) JobFinished(status string, duration time.Duration) {
	s.jobsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		s.jobDuration.Observe(duration.Seconds())
	}
}

func (s *PrometheusSink) AttemptCompleted(outcome string) {
	s.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) Retry() {
	s.retriesTotal.Inc()
}

func (s *PrometheusSink) BreakerState(state string) {
	if state == "open" {
		s.breakerOpen.Set(1)
		return
	}
	s.breakerOpen.Set(0)
}

func (s *PrometheusSink) QueueDepth(depth int) {
	s.queueDepth.Set(float64(depth))
}

// Handler exposes the gatherer's metrics in Prometheus text format.
func Handler(g prometheus.Gatherer) gin.HandlerFunc {
	if g == nil {
		return func(c *gin.Context) {
			c.String(http.StatusNotFound, "metrics disabled")
		}
	}
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

var _ Sink = (*PrometheusSink)(nil)
