package function

import (
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

type ResultKind int

const (
	Success ResultKind = iota
	Timeout
	RuntimeFailure
	Isolated
)

func (k ResultKind) String() string {
	switch k {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case RuntimeFailure:
		return "failure"
	case Isolated:
		return "isolated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one execution. Exactly one of the variants is
// populated, according to Kind.
type Result struct {
	Kind ResultKind
	// Payload is the handler return value (Success).
	Payload interface{}
	// TimeoutSeconds is the bound that was exceeded (Timeout).
	TimeoutSeconds float64
	// Failure describes a handler fault (RuntimeFailure).
	Failure *Failure
	// Envelope carries the raw child output (Isolated).
	Envelope *Envelope
}

// Failure is the structured form of a fault raised by a handler.
type Failure struct {
	ErrorMessage string   `json:"errorMessage"`
	StackTrace   []string `json:"stackTrace"`
	ErrorType    string   `json:"errorType"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.ErrorType, f.ErrorMessage)
}

// Envelope is the looser result shape of the isolated strategy.
type Envelope struct {
	Stdout   interface{} `json:"stdout"`
	Stderr   string      `json:"stderr"`
	ExitCode int         `json:"-"`
}

func SuccessResult(payload interface{}) *Result {
	return &Result{Kind: Success, Payload: payload}
}

func TimeoutResult(timeoutSeconds float64) *Result {
	return &Result{Kind: Timeout, TimeoutSeconds: timeoutSeconds}
}

func FailureResult(f *Failure) *Result {
	return &Result{Kind: RuntimeFailure, Failure: f}
}

func IsolatedResult(e *Envelope) *Result {
	return &Result{Kind: Isolated, Envelope: e}
}

// Failed reports whether the result must be logged at error severity.
func (r *Result) Failed() bool {
	switch r.Kind {
	case Timeout, RuntimeFailure:
		return true
	case Isolated:
		return r.Envelope == nil || r.Envelope.ExitCode != 0
	}
	return false
}

func (r *Result) TimeoutFailure() *Failure {
	return &Failure{
		ErrorMessage: fmt.Sprintf("Task timed out after %.2f seconds", r.TimeoutSeconds),
		StackTrace:   []string{},
		ErrorType:    "TimeoutError",
	}
}

func (r *Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case Success:
		return json.Marshal(r.Payload)
	case Timeout:
		return json.Marshal(r.TimeoutFailure())
	case RuntimeFailure:
		return json.Marshal(r.Failure)
	case Isolated:
		return json.Marshal(r.Envelope)
	}
	return nil, fmt.Errorf("cannot marshal result of kind %v", r.Kind)
}

func (r *Result) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("<%v: %v>", r.Kind, err)
	}
	return string(b)
}

// FailureFromError converts a Go error into a Failure. A *Failure is
// returned unchanged; other errors get the caller's stack.
func FailureFromError(err error) *Failure {
	if f, ok := err.(*Failure); ok {
		return f
	}
	return &Failure{
		ErrorMessage: err.Error(),
		StackTrace:   CaptureStack(2),
		ErrorType:    TypeName(err),
	}
}

// FailureFromPanic must be called from the deferred function that recovered v.
func FailureFromPanic(v interface{}) *Failure {
	msg := fmt.Sprint(v)
	typ := "panic"
	if err, ok := v.(error); ok {
		msg = err.Error()
		typ = TypeName(err)
	}
	return &Failure{
		ErrorMessage: msg,
		StackTrace:   CaptureStack(2),
		ErrorType:    typ,
	}
}

// TypeName is the symbolic name of a value's dynamic type, without package
// qualifier or pointer marks.
func TypeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "Error"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.Name()
}

// CaptureStack returns the current goroutine frames, innermost last,
// skipping runtime internals.
func CaptureStack(skip int) []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			stack = append(stack, fmt.Sprintf("%s:%d in %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}
