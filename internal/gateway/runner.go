// Package gateway talks to the local model gateway through its CLI and the
// service manager that supervises it.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTimeout is returned when a command outlives its deadline.
var ErrTimeout = errors.New("command timed out")

// Output is what a finished command produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes one external command with a hard timeout. A non-zero exit is
// reported through Output.ExitCode, not as an error.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Output, error)
}

// ExecRunner runs commands with os/exec. Stdin is never attached.
type ExecRunner struct {
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Debug().Str("cmd", line).Dur("timeout", timeout).Msg("command timed out")
		return out, fmt.Errorf("%s: %w after %s", line, ErrTimeout, timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		log.Debug().Str("cmd", line).Int("exit", out.ExitCode).Dur("took", time.Since(start)).Msg("command exited non-zero")
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w", line, err)
	}
	log.Debug().Str("cmd", line).Dur("took", time.Since(start)).Msg("command finished")
	return out, nil
}
