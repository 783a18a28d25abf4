package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/serverledge-faas/localfaas/internal/function"
	"github.com/serverledge-faas/localfaas/internal/handler"
)

// Exit codes of the bootstrap process.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitResolution = 2
	ExitDemotion   = 3
	ExitUsage      = 64
	ExitTimeout    = 124
)

// RunBootstrap is the child side of the isolated strategy: it demotes
// privileges, loads the handler and runs it once. The payload is written to
// stdout as JSON; failures and console output go to stderr.
//
// args are the handler reference and the event JSON ("-" reads the event
// from stdin). Invocation parameters come from the LOCALFAAS_* environment.
func RunBootstrap(args []string, getenv func(string) string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 || len(args) > 2 {
		_, _ = fmt.Fprintln(stderr, "usage: bootstrap <handler> [event|-]")
		return ExitUsage
	}
	handlerRef := args[0]

	rawEvent := []byte("{}")
	if len(args) == 2 {
		rawEvent = []byte(args[1])
		if args[1] == "-" {
			b, err := io.ReadAll(stdin)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "cannot read event: %v\n", err)
				return ExitUsage
			}
			rawEvent = b
		}
	}
	var event interface{}
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		_, _ = fmt.Fprintf(stderr, "event is not valid JSON: %v\n", err)
		return ExitUsage
	}

	lc, err := contextFromEnv(getenv)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return ExitUsage
	}

	if demote, _ := strconv.ParseBool(getenv(EnvDemote)); demote {
		uid, errUid := strconv.Atoi(getenv(EnvUid))
		gid, errGid := strconv.Atoi(getenv(EnvGid))
		if errUid != nil || errGid != nil {
			_, _ = fmt.Fprintf(stderr, "invalid %s/%s\n", EnvUid, EnvGid)
			return ExitUsage
		}
		if err := DemotePrivileges(uid, gid); err != nil {
			writeFailure(stderr, &function.Failure{
				ErrorMessage: err.Error(),
				StackTrace:   []string{},
				ErrorType:    "PrivilegeError",
			})
			return ExitDemotion
		}
	}

	resolver := handler.NewResolver(
		handler.WithConsole(stderr),
		handler.WithSearchPaths(filepath.SplitList(getenv(EnvPath))...),
	)
	sourceDir := getenv(EnvSourceDir)
	if sourceDir == "" {
		sourceDir = "."
	}
	ref, err := handler.Locate(sourceDir, getenv(EnvModule), handlerRef)
	if err != nil {
		writeFailure(stderr, resolutionFailure(err))
		return ExitResolution
	}

	runner := NewInProcess(resolver, 1, 0)
	loadCtx, cancel := context.WithDeadline(context.Background(), lc.Deadline)
	target, err := runner.Prepare(loadCtx, ref, nil)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) {
		writeFailure(stderr, function.TimeoutResult(lc.TimeoutSeconds).TimeoutFailure())
		return ExitTimeout
	}
	if err != nil {
		writeFailure(stderr, resolutionFailure(err))
		return ExitResolution
	}

	res := runner.Execute(context.Background(), target, event, lc)
	switch res.Kind {
	case function.Success:
		if err := json.NewEncoder(stdout).Encode(res.Payload); err != nil {
			writeFailure(stderr, function.FailureFromError(err))
			return ExitFailure
		}
		return ExitOK
	case function.Timeout:
		writeFailure(stderr, res.TimeoutFailure())
		return ExitTimeout
	default:
		writeFailure(stderr, res.Failure)
		return ExitFailure
	}
}

func contextFromEnv(getenv func(string) string) (*function.Context, error) {
	timeout, err := strconv.ParseFloat(getenv(EnvTimeout), 64)
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid %s: '%s'", EnvTimeout, getenv(EnvTimeout))
	}
	lc := function.NewContext(timeout, getenv(EnvArn), getenv(EnvVersion), getenv(EnvRequestId))
	if d := getenv(EnvDeadline); d != "" {
		deadline, err := time.Parse(time.RFC3339Nano, d)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvDeadline, err)
		}
		lc.Deadline = deadline
	}
	return lc, nil
}

func resolutionFailure(err error) *function.Failure {
	return &function.Failure{
		ErrorMessage: err.Error(),
		StackTrace:   []string{},
		ErrorType:    "ResolutionError",
	}
}

func writeFailure(w io.Writer, f *function.Failure) {
	if f == nil {
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		_, _ = fmt.Fprintln(w, f.Error())
		return
	}
	_, _ = fmt.Fprintln(w, string(b))
}
