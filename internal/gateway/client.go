package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Timeouts bounds each CLI invocation.
type Timeouts struct {
	Status   time.Duration
	Health   time.Duration
	Version  time.Duration
	SetModel time.Duration
	Login    time.Duration
	Restart  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Status:   8 * time.Second,
		Health:   8 * time.Second,
		Version:  4 * time.Second,
		SetModel: 8 * time.Second,
		Login:    120 * time.Second,
		Restart:  15 * time.Second,
	}
}

// DefaultRestartCommand restarts the gateway's user service.
var DefaultRestartCommand = []string{"systemctl", "--user", "restart", "openclaw-gateway.service"}

// Client wraps the gateway CLI binary.
type Client struct {
	runner   Runner
	binary   string
	restart  []string
	timeouts Timeouts
}

func NewClient(r Runner, binary string, restartCommand []string, t Timeouts) *Client {
	if binary == "" {
		binary = "openclaw"
	}
	if len(restartCommand) == 0 {
		restartCommand = DefaultRestartCommand
	}
	def := DefaultTimeouts()
	if t.Status <= 0 {
		t.Status = def.Status
	}
	if t.Health <= 0 {
		t.Health = def.Health
	}
	if t.Version <= 0 {
		t.Version = def.Version
	}
	if t.SetModel <= 0 {
		t.SetModel = def.SetModel
	}
	if t.Login <= 0 {
		t.Login = def.Login
	}
	if t.Restart <= 0 {
		t.Restart = def.Restart
	}
	return &Client{runner: r, binary: binary, restart: restartCommand, timeouts: t}
}

// FetchModelStatus runs `models status --json`. The exit code is ignored;
// only the JSON found on stdout matters.
func (c *Client) FetchModelStatus(ctx context.Context) (ModelStatus, error) {
	out, err := c.runner.Run(ctx, c.timeouts.Status, c.binary, "models", "status", "--json")
	if err != nil {
		return ModelStatus{}, fmt.Errorf("models status: %w", err)
	}
	st, err := ParseModelStatus(out.Stdout)
	if err != nil {
		return ModelStatus{}, fmt.Errorf("models status: %w", err)
	}
	return st, nil
}

// FetchGatewayHealth runs `health` and `--version`. Any failure, including a
// non-zero `health` exit, yields the ERR sentinel with every optional field unset.
func (c *Client) FetchGatewayHealth(ctx context.Context) Health {
	out, err := c.runner.Run(ctx, c.timeouts.Health, c.binary, "health")
	if err != nil {
		log.Debug().Err(err).Msg("gateway health failed")
		return Health{State: StateErr}
	}
	if out.ExitCode != 0 {
		log.Debug().Int("exit", out.ExitCode).Msg("gateway health exited non-zero")
		return Health{State: StateErr}
	}
	h := ParseHealth(string(out.Stdout))

	ver, err := c.runner.Run(ctx, c.timeouts.Version, c.binary, "--version")
	if err != nil {
		log.Debug().Err(err).Msg("gateway version failed")
		return Health{State: StateErr}
	}
	h.Version = truncateRunes(strings.TrimSpace(string(ver.Stdout)), 20)
	return h
}

// SetModel makes modelID the gateway's default model.
func (c *Client) SetModel(ctx context.Context, modelID string) error {
	if strings.TrimSpace(modelID) == "" {
		return errors.New("models set: empty model id")
	}
	out, err := c.runner.Run(ctx, c.timeouts.SetModel, c.binary, "models", "set", modelID)
	return commandResult("models set", out, err)
}

// AuthLogin runs the CLI's browser OAuth flow and waits for it to finish.
func (c *Client) AuthLogin(ctx context.Context) error {
	out, err := c.runner.Run(ctx, c.timeouts.Login, c.binary, "models", "auth", "login")
	return commandResult("models auth login", out, err)
}

// RestartGateway invokes the configured service-manager restart command once.
func (c *Client) RestartGateway(ctx context.Context) error {
	out, err := c.runner.Run(ctx, c.timeouts.Restart, c.restart[0], c.restart[1:]...)
	return commandResult("restart", out, err)
}

func commandResult(what string, out Output, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if out.ExitCode != 0 {
		msg := strings.TrimSpace(string(out.Stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(out.Stdout))
		}
		return fmt.Errorf("%s: exit %d: %s", what, out.ExitCode, truncateRunes(msg, 200))
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
