package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/function"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBilledDuration(t *testing.T) {
	cases := []struct {
		ms     float64
		billed int64
	}{
		{0, 0},
		{0.01, 100},
		{1, 100},
		{99.99, 100},
		{100, 100},
		{100.01, 200},
		{101, 200},
		{250, 300},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.billed, BilledDuration(tc.ms), "duration %v", tc.ms)
	}
}

func newTestReporter(buf *bytes.Buffer, step time.Duration) *Reporter {
	r := NewReporter(log.NewWithOptions(buf, log.Options{Level: log.DebugLevel}))
	clock := time.Unix(0, 0)
	r.now = func() time.Time {
		clock = clock.Add(step)
		return clock
	}
	return r
}

func TestRunMarkerOrder(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReporter(&buf, 150*time.Millisecond)

	executed := false
	res, billing := r.Run("req-1", map[string]interface{}{"a": 1}, func() *function.Result {
		assert.Contains(t, buf.String(), "START RequestId: req-1")
		assert.NotContains(t, buf.String(), "END RequestId")
		executed = true
		return function.SuccessResult("ok")
	})
	require.True(t, executed)
	assert.Equal(t, function.Success, res.Kind)
	assert.Equal(t, 150.0, billing.DurationMs)
	assert.EqualValues(t, 200, billing.BilledDurationMs)

	out := buf.String()
	event := strings.Index(out, `Event: {"a":1}`)
	start := strings.Index(out, "START RequestId: req-1")
	end := strings.Index(out, "END RequestId: req-1")
	result := strings.Index(out, "RESULT:")
	report := strings.Index(out, "REPORT RequestId: req-1\tDuration: 150.00 ms\tBilled Duration: 200 ms")
	require.True(t, event >= 0 && start >= 0 && end >= 0 && result >= 0 && report >= 0, out)
	assert.True(t, event < start && start < end && end < result && result < report, out)
}

func TestRunResultSeverity(t *testing.T) {
	cases := []struct {
		name  string
		res   *function.Result
		level string
	}{
		{"success", function.SuccessResult(1), "INFO"},
		{"timeout", function.TimeoutResult(3), "ERRO"},
		{"failure", function.FailureResult(&function.Failure{ErrorMessage: "x", ErrorType: "E", StackTrace: []string{}}), "ERRO"},
		{"isolated ok", function.IsolatedResult(&function.Envelope{Stdout: 1}), "INFO"},
		{"isolated failed", function.IsolatedResult(&function.Envelope{ExitCode: 1}), "ERRO"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := newTestReporter(&buf, time.Millisecond)
			r.Run("id", nil, func() *function.Result { return tc.res })

			var resultLine string
			for _, line := range strings.Split(buf.String(), "\n") {
				if strings.Contains(line, "RESULT:") {
					resultLine = line
				}
			}
			assert.Contains(t, resultLine, tc.level)
		})
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReporter(&buf, 10*time.Millisecond)
	assert.Equal(t, Summary{}, r.Summary())

	for i := 0; i < 3; i++ {
		r.Run("id", nil, func() *function.Result { return function.SuccessResult(nil) })
	}
	r.Run("id", nil, func() *function.Result { return function.TimeoutResult(1) })

	s := r.Summary()
	assert.EqualValues(t, 4, s.Invocations)
	assert.EqualValues(t, 1, s.Failures)
	assert.Equal(t, 4, s.Window)
	assert.InDelta(t, 10.0, s.MeanMs, 1e-9)
	assert.InDelta(t, 10.0, s.MaxMs, 1e-9)
}

func TestSummaryWindowWraps(t *testing.T) {
	r := NewReporter(log.NewWithOptions(&bytes.Buffer{}, log.Options{}))
	for i := 0; i < summaryWindow+10; i++ {
		r.record(float64(i), false)
	}
	s := r.Summary()
	assert.Equal(t, summaryWindow, s.Window)
	assert.EqualValues(t, summaryWindow+10, s.Invocations)
	assert.Equal(t, float64(summaryWindow+9), s.MaxMs)
}

func TestReportLineKeepsTabs(t *testing.T) {
	var buf bytes.Buffer
	r := newTestReporter(&buf, 250*time.Millisecond)
	r.Run("req-2", nil, func() *function.Result { return function.SuccessResult(nil) })

	var reportLine string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "REPORT RequestId:") {
			reportLine = line
		}
	}
	require.NotEmpty(t, reportLine, buf.String())

	fields := strings.Split(reportLine, "\t")
	require.Len(t, fields, 3, reportLine)
	assert.True(t, strings.HasSuffix(fields[0], "REPORT RequestId: req-2"), fields[0])
	assert.Equal(t, "Duration: 250.00 ms", fields[1])
	assert.True(t, strings.HasPrefix(fields[2], "Billed Duration: 300 ms"), fields[2])
	assert.NotContains(t, reportLine, "    ")
}
