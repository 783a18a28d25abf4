package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/serverledge-faas/localfaas/internal/function"
	"github.com/serverledge-faas/localfaas/internal/handler"
)

var errDeadline = errors.New("deadline exceeded")

type loadedTarget struct {
	ref handler.Reference
	h   *handler.Handler
}

func (t *loadedTarget) Reference() handler.Reference {
	return t.ref
}

// InProcess runs handlers on a bounded pool of goroutines in this process.
type InProcess struct {
	resolver *handler.Resolver
	pool     *Pool
}

func NewInProcess(resolver *handler.Resolver, poolSize, queueCapacity int) *InProcess {
	return &InProcess{
		resolver: resolver,
		pool:     NewPool(poolSize, queueCapacity),
	}
}

func (e *InProcess) Name() string {
	return ModeInProcess
}

// Prepare loads the handler with searchPaths ahead of the resolver's own, so
// edits to the handler source are picked up on every invocation. The
// top-level evaluation of the modules is interrupted when ctx ends.
func (e *InProcess) Prepare(ctx context.Context, ref handler.Reference, searchPaths []string) (Target, error) {
	h, err := e.resolver.LoadContext(ctx, ref, searchPaths...)
	if err != nil {
		return nil, err
	}
	return &loadedTarget{ref: ref, h: h}, nil
}

// Execute waits for the handler until lc.Deadline; time spent queued counts
// against it. On timeout the handler is interrupted and its result, if any,
// is discarded.
//
// The deadline bounds the caller's wait, not the handler: Interrupt only
// stops JavaScript code, so a handler blocked inside a Go callback keeps its
// worker until the callback returns. Use the isolated executor for a hard
// bound.
func (e *InProcess) Execute(ctx context.Context, t Target, event interface{}, lc *function.Context) *function.Result {
	target, ok := t.(*loadedTarget)
	if !ok {
		return function.FailureResult(function.FailureFromError(fmt.Errorf("target %v was not prepared in-process", t.Reference())))
	}

	ctx, cancel := context.WithDeadline(ctx, lc.Deadline)
	defer cancel()

	done := make(chan *function.Result, 1)
	err := e.pool.Submit(ctx, func() {
		done <- invoke(target.h, event, lc)
	})
	if err != nil {
		return abandoned(ctx, err, lc)
	}

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		target.h.Interrupt(errDeadline)
		return abandoned(ctx, ctx.Err(), lc)
	}
}

func abandoned(ctx context.Context, err error, lc *function.Context) *function.Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return function.TimeoutResult(lc.TimeoutSeconds)
	}
	return function.FailureResult(&function.Failure{
		ErrorMessage: err.Error(),
		StackTrace:   []string{},
		ErrorType:    "InvocationCanceled",
	})
}

func invoke(h *handler.Handler, event interface{}, lc *function.Context) (res *function.Result) {
	defer func() {
		if v := recover(); v != nil {
			res = function.FailureResult(function.FailureFromPanic(v))
		}
	}()

	payload, err := h.Invoke(event, lc)
	if err != nil {
		return function.FailureResult(function.FailureFromError(err))
	}
	return function.SuccessResult(payload)
}

func (e *InProcess) Status() Status {
	return Status{
		Mode:     ModeInProcess,
		PoolSize: e.pool.Size(),
		Running:  e.pool.Running(),
		Queued:   e.pool.Queued(),
	}
}

func (e *InProcess) Close() error {
	e.pool.Close()
	return nil
}
