// Package executor runs located handlers under a deadline, either inside the
// server process on a bounded worker pool or in a separate, privilege-demoted
// child process.
package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/function"
	"github.com/serverledge-faas/localfaas/internal/handler"
)

const (
	ModeInProcess = "inprocess"
	ModeIsolated  = "isolated"
)

// Target is a handler made ready for execution by an Executor.
type Target interface {
	Reference() handler.Reference
}

// Executor runs a prepared handler. Execute never returns nil; every
// outcome, including timeouts, is a function.Result.
type Executor interface {
	Name() string
	Prepare(ctx context.Context, ref handler.Reference, searchPaths []string) (Target, error)
	Execute(ctx context.Context, t Target, event interface{}, lc *function.Context) *function.Result
	Status() Status
	Close() error
}

type Status struct {
	Mode     string `json:"mode"`
	PoolSize int    `json:"poolSize,omitempty"`
	Running  int    `json:"running"`
	Queued   int    `json:"queued,omitempty"`
}

// Options configures New. Zero values select defaults.
type Options struct {
	Resolver      *handler.Resolver
	PoolSize      int
	QueueCapacity int
	// Bootstrap is the argv prefix of the isolated child.
	Bootstrap []string
	Demote    bool
	Uid       int
	Gid       int
	Logger    *log.Logger
}

// DefaultPoolSize mirrors the usual thread pool sizing: cores plus a few
// extra for handlers that mostly wait.
func DefaultPoolSize() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// DefaultBootstrap re-executes the running binary in bootstrap mode.
func DefaultBootstrap() []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return []string{exe, "bootstrap"}
}

func New(mode string, opts Options) (Executor, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	switch mode {
	case "", ModeInProcess:
		if opts.Resolver == nil {
			opts.Resolver = handler.NewResolver()
		}
		return NewInProcess(opts.Resolver, opts.PoolSize, opts.QueueCapacity), nil
	case ModeIsolated:
		if len(opts.Bootstrap) == 0 {
			opts.Bootstrap = DefaultBootstrap()
		}
		return NewIsolated(opts.Bootstrap, opts.Demote, opts.Uid, opts.Gid, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown executor mode '%s'", mode)
	}
}
