// Package report brackets invocations with START/END markers and emits the
// REPORT line with the measured and billed duration.
package report

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/function"
	"github.com/serverledge-faas/localfaas/internal/metrics"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

// BillingQuantumMs is the granularity of billed durations.
const BillingQuantumMs = 100

const summaryWindow = 256

type Billing struct {
	DurationMs       float64 `json:"durationMs"`
	BilledDurationMs int64   `json:"billedDurationMs"`
}

// BilledDuration rounds a duration up to the billing quantum.
func BilledDuration(durationMs float64) int64 {
	if durationMs <= 0 {
		return 0
	}
	return int64(math.Ceil(durationMs/BillingQuantumMs)) * BillingQuantumMs
}

// Summary describes the most recent invocations.
type Summary struct {
	Invocations int64   `json:"invocations"`
	Failures    int64   `json:"failures"`
	Window      int     `json:"window"`
	MeanMs      float64 `json:"meanMs"`
	P95Ms       float64 `json:"p95Ms"`
	MaxMs       float64 `json:"maxMs"`
}

type Reporter struct {
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	durations []float64
	next      int
	total     int64
	failures  int64
}

// NewReporter reports through logger. The logger's message style is reset so
// that tabs in the REPORT line reach the output unchanged.
func NewReporter(logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	styles := log.DefaultStyles()
	styles.Message = styles.Message.TabWidth(lipgloss.NoTabConversion)
	logger.SetStyles(styles)
	return &Reporter{
		logger:    logger,
		now:       time.Now,
		durations: make([]float64, 0, summaryWindow),
	}
}

// Run invokes exec between the START and END markers and reports its
// duration.
func (r *Reporter) Run(requestId string, event interface{}, exec func() *function.Result) (*function.Result, Billing) {
	return r.RunFor("", requestId, event, exec)
}

// RunFor is Run with the handler reference used to label metrics.
func (r *Reporter) RunFor(handlerRef, requestId string, event interface{}, exec func() *function.Result) (*function.Result, Billing) {
	r.logger.Infof("Event: %s", encodeEvent(event))
	r.logger.Infof("START RequestId: %s", requestId)

	start := r.now()
	res := exec()
	elapsed := r.now().Sub(start)

	r.logger.Infof("END RequestId: %s", requestId)

	if res.Failed() {
		r.logger.Errorf("RESULT:\n%s", res)
	} else {
		r.logger.Infof("RESULT:\n%s", res)
	}

	b := Billing{DurationMs: float64(elapsed) / float64(time.Millisecond)}
	b.BilledDurationMs = BilledDuration(b.DurationMs)
	r.logger.Infof("REPORT RequestId: %s\tDuration: %.2f ms\tBilled Duration: %d ms", requestId, b.DurationMs, b.BilledDurationMs)

	r.record(b.DurationMs, res.Failed())
	if metrics.Enabled {
		metrics.AddCompletedInvocation(handlerRef, res.Kind.String())
		metrics.AddFunctionDurationValue(handlerRef, elapsed.Seconds())
		metrics.AddBilledDuration(handlerRef, b.BilledDurationMs)
	}
	return res, b
}

func (r *Reporter) record(durationMs float64, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if failed {
		r.failures++
	}
	if len(r.durations) < summaryWindow {
		r.durations = append(r.durations, durationMs)
		return
	}
	r.durations[r.next] = durationMs
	r.next = (r.next + 1) % summaryWindow
}

func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	sorted := append([]float64(nil), r.durations...)
	s := Summary{Invocations: r.total, Failures: r.failures, Window: len(sorted)}
	r.mu.Unlock()

	if len(sorted) == 0 {
		return s
	}
	slices.Sort(sorted)
	s.MeanMs = stat.Mean(sorted, nil)
	s.P95Ms = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.MaxMs = sorted[len(sorted)-1]
	return s
}

func encodeEvent(event interface{}) string {
	b, err := json.Marshal(event)
	if err != nil {
		return "<unencodable event>"
	}
	return string(b)
}
