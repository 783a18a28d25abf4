package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/function"
	"github.com/serverledge-faas/localfaas/internal/handler"
)

// Environment of the bootstrap child.
const (
	EnvPath      = "LOCALFAAS_PATH"
	EnvSourceDir = "LOCALFAAS_SOURCE_DIR"
	EnvModule    = "LOCALFAAS_MODULE"
	EnvTimeout   = "LOCALFAAS_TIMEOUT"
	EnvDeadline  = "LOCALFAAS_DEADLINE"
	EnvArn       = "LOCALFAAS_ARN"
	EnvVersion   = "LOCALFAAS_VERSION"
	EnvRequestId = "LOCALFAAS_REQUEST_ID"
	EnvDemote    = "LOCALFAAS_DEMOTE"
	EnvUid       = "LOCALFAAS_UID"
	EnvGid       = "LOCALFAAS_GID"
)

// events larger than this go through stdin instead of argv
const maxEventArg = 32 * 1024

const killGrace = time.Second

type isolatedTarget struct {
	ref         handler.Reference
	searchPaths []string
}

func (t *isolatedTarget) Reference() handler.Reference {
	return t.ref
}

// Isolated runs every invocation in a fresh bootstrap process, in its own
// process group, optionally demoted to an unprivileged user.
type Isolated struct {
	bootstrap []string
	demote    bool
	uid       int
	gid       int
	logger    *log.Logger
	running   atomic.Int32
}

func NewIsolated(bootstrap []string, demote bool, uid, gid int, logger *log.Logger) *Isolated {
	if logger == nil {
		logger = log.Default()
	}
	return &Isolated{
		bootstrap: bootstrap,
		demote:    demote,
		uid:       uid,
		gid:       gid,
		logger:    logger,
	}
}

func (e *Isolated) Name() string {
	return ModeIsolated
}

// Prepare only checks that the entry module exists: loading happens in the
// child.
func (e *Isolated) Prepare(_ context.Context, ref handler.Reference, searchPaths []string) (Target, error) {
	if _, err := os.Stat(ref.File); err != nil {
		return nil, &handler.ResolutionError{Ref: ref.Ref, Reason: "module not found", Cause: err}
	}
	paths := make([]string, 0, len(searchPaths))
	for _, p := range searchPaths {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return &isolatedTarget{ref: ref, searchPaths: paths}, nil
}

func (e *Isolated) Execute(ctx context.Context, t Target, event interface{}, lc *function.Context) *function.Result {
	target, ok := t.(*isolatedTarget)
	if !ok {
		return function.FailureResult(function.FailureFromError(fmt.Errorf("target %v was not prepared for isolation", t.Reference())))
	}
	if len(e.bootstrap) == 0 {
		return function.FailureResult(function.FailureFromError(errors.New("no bootstrap command configured")))
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return function.FailureResult(function.FailureFromError(fmt.Errorf("encoding event: %w", err)))
	}

	ctx, cancel := context.WithDeadline(ctx, lc.Deadline)
	defer cancel()

	args := append(append([]string{}, e.bootstrap[1:]...), target.ref.Ref)
	var stdin *bytes.Reader
	if len(eventJSON) > maxEventArg {
		args = append(args, "-")
		stdin = bytes.NewReader(eventJSON)
	} else {
		args = append(args, string(eventJSON))
	}

	cmd := exec.CommandContext(ctx, e.bootstrap[0], args...)
	cmd.Env = append(os.Environ(), e.childEnv(target, lc)...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace
	setProcessGroup(cmd)

	e.running.Add(1)
	err = cmd.Run()
	e.running.Add(-1)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Debugf("Bootstrap for %s killed at deadline", lc.RequestId)
		return function.TimeoutResult(lc.TimeoutSeconds)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return function.FailureResult(&function.Failure{
			ErrorMessage: fmt.Sprintf("could not run bootstrap: %v", err),
			StackTrace:   []string{},
			ErrorType:    function.TypeName(err),
		})
	}

	exitCode := cmd.ProcessState.ExitCode()
	if exitCode == ExitTimeout {
		return function.TimeoutResult(lc.TimeoutSeconds)
	}
	return function.IsolatedResult(&function.Envelope{
		Stdout:   parseStdout(stdout.Bytes()),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	})
}

func (e *Isolated) childEnv(t *isolatedTarget, lc *function.Context) []string {
	return []string{
		EnvPath + "=" + strings.Join(t.searchPaths, string(filepath.ListSeparator)),
		EnvSourceDir + "=" + t.ref.SourceDir,
		EnvModule + "=" + t.ref.Module,
		EnvTimeout + "=" + strconv.FormatFloat(lc.TimeoutSeconds, 'f', -1, 64),
		EnvDeadline + "=" + lc.Deadline.Format(time.RFC3339Nano),
		EnvArn + "=" + lc.InvokedFunctionArn,
		EnvVersion + "=" + lc.FunctionVersion,
		EnvRequestId + "=" + lc.RequestId,
		EnvDemote + "=" + strconv.FormatBool(e.demote),
		EnvUid + "=" + strconv.Itoa(e.uid),
		EnvGid + "=" + strconv.Itoa(e.gid),
	}
}

// parseStdout decodes the child output as JSON, keeping it as a string when
// it is not valid JSON. Empty output is null.
func parseStdout(out []byte) interface{} {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(out)
}

func (e *Isolated) Status() Status {
	return Status{
		Mode:    ModeIsolated,
		Running: int(e.running.Load()),
	}
}

func (e *Isolated) Close() error {
	return nil
}
