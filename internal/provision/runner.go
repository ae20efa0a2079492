package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. Every invocation is bounded by
// Timeout; with Sudo set it is run as "sudo -n name args...".
type ExecRunner struct {
	Sudo    bool
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	bin, argv := name, args
	if r.Sudo {
		bin = "sudo"
		argv = append([]string{"-n", name}, args...)
	}
	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.WaitDelay = 2 * time.Second
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	display := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.Bytes(), fmt.Errorf("%s: timed out: %w", display, ctx.Err())
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", display, err, msg)
	}
	return stdout.Bytes(), fmt.Errorf("%s: %w", display, err)
}
