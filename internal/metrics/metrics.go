package metrics

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Enabled bool
var registry = prometheus.NewRegistry()
var ScrapingHandler http.Handler = nil
var durationBuckets = []float64{0.002, 0.005, 0.010, 0.02, 0.03, 0.05, 0.1, 0.15, 0.3, 0.6, 1.0, 3.0, 6.0, 15.0}

const (
	COMPLETIONS      = "localfaas_invocations_total"
	EXECUTION_TIME   = "localfaas_execution_time"
	BILLED_DURATION  = "localfaas_billed_duration_ms_total"
	CACHE_LOOKUPS    = "localfaas_requirements_lookups_total"
	INSTALL_FAILURES = "localfaas_requirements_install_failures_total"
	INSTALL_TIME     = "localfaas_requirements_install_time"
)

var (
	metricCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: COMPLETIONS,
		Help: "Number of completed function invocations",
	}, []string{"handler", "outcome"})
	metricExecutionTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    EXECUTION_TIME,
		Help:    "Function duration",
		Buckets: durationBuckets,
	}, []string{"handler"})
	metricBilled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: BILLED_DURATION,
		Help: "Billed duration in milliseconds",
	}, []string{"handler"})
	metricCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CACHE_LOOKUPS,
		Help: "Dependency cache lookups by result",
	}, []string{"tag", "result"})
	metricInstallFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: INSTALL_FAILURES,
		Help: "Failed dependency installations",
	}, []string{"tag"})
	metricInstallTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    INSTALL_TIME,
		Help:    "Dependency installation duration",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"tag"})
)

func Init() {
	if config.GetBool(config.METRICS_ENABLED, false) {
		log.Print("Metrics enabled.")
		Enabled = true
	} else {
		Enabled = false
		return
	}

	registry.MustRegister(metricCompletions)
	registry.MustRegister(metricExecutionTime)
	registry.MustRegister(metricBilled)
	registry.MustRegister(metricCacheLookups)
	registry.MustRegister(metricInstallFailures)
	registry.MustRegister(metricInstallTime)

	ScrapingHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true})
}

func AddCompletedInvocation(handler, outcome string) {
	metricCompletions.With(prometheus.Labels{"handler": handler, "outcome": outcome}).Inc()
}

func AddFunctionDurationValue(handler string, duration float64) {
	metricExecutionTime.With(prometheus.Labels{"handler": handler}).Observe(duration)
}

func AddBilledDuration(handler string, billedMs int64) {
	metricBilled.With(prometheus.Labels{"handler": handler}).Add(float64(billedMs))
}

func AddCacheLookup(tag string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metricCacheLookups.With(prometheus.Labels{"tag": tag, "result": result}).Inc()
}

func AddInstallFailure(tag string) {
	metricInstallFailures.With(prometheus.Labels{"tag": tag}).Inc()
}

func AddInstallDurationValue(tag string, duration float64) {
	metricInstallTime.With(prometheus.Labels{"tag": tag}).Observe(duration)
}
