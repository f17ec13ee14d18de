package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// SubprocessInvoker shells out to the Python conversation script:
//
//	python conversation.py <prompt> <context_json_file>
//
// The script prints a single JSON object to stdout: {"content": ...} on
// success or {"error": ...} on failure. A cancelled context kills the
// process, which is the only abort path a hung model call has.
type SubprocessInvoker struct {
	PythonBin string
	Script    string
}

func NewSubprocessInvoker(pythonBin, script string) *SubprocessInvoker {
	return &SubprocessInvoker{PythonBin: pythonBin, Script: script}
}

func (s *SubprocessInvoker) Invoke(ctx context.Context, prompt, contextFile string) (Result, error) {
	cmd := exec.CommandContext(ctx, s.PythonBin, s.Script, prompt, contextFile)
	ConfigureAbort(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvocationFailed, ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return Result{}, fmt.Errorf("%w: %s", ErrInvocationFailed, detail)
	}

	return parseScriptOutput(stdout.Bytes())
}

// ConfigureAbort makes cancellation actually terminate the call. The
// script forks workers that inherit our pipes; killing only the direct
// child would leave Wait blocked on the pipes until the workers exit.
// The child gets its own process group so cancellation kills the whole
// tree, and WaitDelay force-closes the pipes if anything survives.
func ConfigureAbort(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second
}

func parseScriptOutput(output []byte) (Result, error) {
	var payload struct {
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(output), &payload); err != nil {
		return Result{}, fmt.Errorf("%w: unparseable script output: %s", ErrInvocationFailed, output)
	}
	if payload.Error != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrInvocationFailed, payload.Error)
	}
	return Result{Content: payload.Content}, nil
}
