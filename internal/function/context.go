package function

import (
	"math"
	"time"
)

// Context is the per-invocation information handed to a handler.
// It is built once per invocation and never modified afterwards.
type Context struct {
	TimeoutSeconds     float64
	InvokedFunctionArn string
	FunctionVersion    string
	RequestId          string
	Deadline           time.Time
}

func NewContext(timeoutSeconds float64, arn, version, requestId string) *Context {
	return &Context{
		TimeoutSeconds:     timeoutSeconds,
		InvokedFunctionArn: arn,
		FunctionVersion:    version,
		RequestId:          requestId,
		Deadline:           time.Now().Add(SecondsToDuration(timeoutSeconds)),
	}
}

// Timeout returns the execution bound as a duration.
func (c *Context) Timeout() time.Duration {
	return SecondsToDuration(c.TimeoutSeconds)
}

// RemainingMillis is the time left before the deadline (never negative).
func (c *Context) RemainingMillis() int64 {
	left := time.Until(c.Deadline).Milliseconds()
	if left < 0 {
		return 0
	}
	return left
}

func SecondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	if seconds > math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}
