package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/serverledge-faas/localfaas/internal/function"
)

// Handler is a loaded handler bound to its own runtime. A Handler serves a
// single invocation: it must not be invoked concurrently.
type Handler struct {
	Ref Reference
	vm  *goja.Runtime
	fn  goja.Callable
}

// Invoke calls the handler with the event and context. The returned value is
// the JSON-compatible form of what the handler returned (or what its promise
// resolved to). Faults are reported as *function.Failure.
func (h *Handler) Invoke(event interface{}, lc *function.Context) (interface{}, error) {
	ctxObj, err := contextObject(h.vm, lc)
	if err != nil {
		return nil, function.FailureFromError(err)
	}

	ret, err := h.fn(goja.Undefined(), h.vm.ToValue(event), ctxObj)
	if err != nil {
		return nil, h.failure(err)
	}

	if p, ok := ret.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			ret = p.Result()
		case goja.PromiseStateRejected:
			return nil, h.failureFromValue(p.Result(), nil)
		default:
			return nil, &function.Failure{
				ErrorMessage: "handler returned a promise that did not settle",
				StackTrace:   []string{h.Ref.File},
				ErrorType:    "UnsettledPromise",
			}
		}
	}

	payload, err := h.toJSON(ret)
	if err != nil {
		return nil, h.failure(err)
	}
	return payload, nil
}

// Interrupt asks the running handler to stop. It is safe to call from any
// goroutine; code blocked outside the interpreter is not affected.
func (h *Handler) Interrupt(reason interface{}) {
	h.vm.Interrupt(reason)
}

// toJSON converts a JS value through JSON.stringify, so the payload follows
// JavaScript serialization rules (toJSON, dropped functions and undefined).
func (h *Handler) toJSON(v goja.Value) (interface{}, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	jsonObj := h.vm.Get("JSON").ToObject(h.vm)
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify is not available")
	}
	s, err := stringify(jsonObj, v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(s) {
		return nil, nil
	}

	var payload interface{}
	if err := json.Unmarshal([]byte(s.String()), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (h *Handler) failure(err error) *function.Failure {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &function.Failure{
			ErrorMessage: fmt.Sprint(interrupted.Value()),
			StackTrace:   stackFrames(interrupted.String(), h.Ref.File),
			ErrorType:    "Interrupted",
		}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return h.failureFromValue(ex.Value(), ex)
	}
	return function.FailureFromError(err)
}

// failureFromValue describes a thrown (or rejected) JS value. The error type
// is the constructor name, falling back to the "name" property.
func (h *Handler) failureFromValue(v goja.Value, ex *goja.Exception) *function.Failure {
	f := &function.Failure{ErrorType: "Error"}
	if v != nil {
		f.ErrorMessage = v.String()
	}

	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			f.ErrorMessage = msg.String()
		}
		f.ErrorType = errorTypeName(h.vm, obj)
		if ex == nil {
			if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
				f.StackTrace = stackFrames(stack.String(), h.Ref.File)
			}
		}
	}

	if ex != nil {
		f.StackTrace = stackFrames(ex.String(), h.Ref.File)
	}
	if len(f.StackTrace) == 0 {
		f.StackTrace = []string{h.Ref.File}
	}
	return f
}

func errorTypeName(vm *goja.Runtime, obj *goja.Object) string {
	var ctorName string
	if ctor := obj.Get("constructor"); ctor != nil && !goja.IsUndefined(ctor) && !goja.IsNull(ctor) {
		if n := ctor.ToObject(vm).Get("name"); n != nil && !goja.IsUndefined(n) {
			ctorName = n.String()
		}
	}
	if ctorName != "" && ctorName != "Error" && ctorName != "Object" {
		return ctorName
	}
	if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) && n.String() != "" {
		return n.String()
	}
	if ctorName != "" && ctorName != "Object" {
		return ctorName
	}
	return "Error"
}

// stackFrames extracts the "at ..." frames of a goja stack dump and orders
// them innermost last.
func stackFrames(dump, fallback string) []string {
	var frames []string
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "at ") {
			frames = append(frames, strings.TrimPrefix(line, "at "))
		}
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	if len(frames) == 0 && fallback != "" {
		frames = []string{fallback}
	}
	return frames
}

func contextObject(vm *goja.Runtime, lc *function.Context) (goja.Value, error) {
	obj := vm.NewObject()
	for k, v := range map[string]interface{}{
		"timeoutSeconds":     lc.TimeoutSeconds,
		"invokedFunctionArn": lc.InvokedFunctionArn,
		"functionVersion":    lc.FunctionVersion,
		"awsRequestId":       lc.RequestId,
	} {
		if err := obj.Set(k, v); err != nil {
			return nil, err
		}
	}
	if err := obj.Set("getRemainingTimeInMillis", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(lc.RemainingMillis())
	}); err != nil {
		return nil, err
	}

	freeze, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("freeze"))
	if !ok {
		return obj, nil
	}
	return freeze(goja.Undefined(), obj)
}
