package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"localforward/config"
	lferr "localforward/internal/errors"
	"localforward/util"
)

// CommandPrompt is printed after every round starts.
const CommandPrompt = `Enter "exit" or EOF (Ctrl-D) to terminate ssh connections and local forwards, "retry" to reconnect.`

// LineReader reads operator commands.
type LineReader interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
}

// Controller runs the top-level loop: load the configuration once,
// start a round, wait for a command, then retry or exit.
type Controller struct {
	Load         func() ([]config.HostSpec, error)
	Orchestrator *Orchestrator
	Input        LineReader
	Out          io.Writer
	Logger       *util.Logger
}

type command int

const (
	cmdExit command = iota
	cmdRetry
)

// Run returns nil when the operator exits (command, EOF, or context
// cancellation) and an error only when the configuration cannot be
// loaded or input fails unexpectedly.
func (c *Controller) Run(ctx context.Context) error {
	hosts, err := c.Load()
	if err != nil {
		return err
	}
	c.Logger.Verbose("loaded %d host(s)", len(hosts))

	for round := 1; ; round++ {
		c.Logger.Debug("starting round %d", round)
		cmd, err := c.runRound(ctx, hosts)
		if err != nil || cmd == cmdExit {
			return err
		}
		c.Logger.Info("reconnecting")
	}
}

// runRound starts one round and blocks until the operator decides what
// happens next.  The round is torn down before runRound returns.
func (c *Controller) runRound(ctx context.Context, hosts []config.HostSpec) (command, error) {
	r, err := c.Orchestrator.StartRound(ctx, hosts)
	defer func() {
		if terr := r.Teardown(); terr != nil {
			c.Logger.Warn("teardown: %v", terr)
		}
	}()
	if err != nil {
		if lferr.IsTermination(err) || ctx.Err() != nil {
			return cmdExit, nil
		}
		return cmdExit, err
	}

	fmt.Fprintln(c.Out, CommandPrompt)
	for {
		line, err := c.Input.ReadLine(ctx, "")
		if err != nil {
			if lferr.IsTermination(err) || ctx.Err() != nil {
				return cmdExit, nil
			}
			return cmdExit, fmt.Errorf("reading command: %w", err)
		}
		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return cmdExit, nil
		case "retry":
			return cmdRetry, nil
		case "":
		default:
			c.Logger.Debug("ignoring command %q", line)
		}
	}
}
