package core

import (
	"io"

	"localforward/config"
	"localforward/internal/console"
	lferr "localforward/internal/errors"
	"localforward/internal/events"
	"localforward/internal/metrics"
	"localforward/internal/portscan"
	"localforward/internal/prompt"
	"localforward/tunnel"
	"localforward/util"
)

// Streams are the process's standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Build wires the production collaborators for opts into a Controller.
// Extra observers receive every progress event after the console.
func Build(opts *config.Options, streams Streams, logger *util.Logger, extra ...events.Observer) (*Controller, error) {
	hostKey, err := tunnel.HostKeyCallback(opts.StrictHostKey, opts.KnownHostsPath)
	if err != nil {
		return nil, &lferr.ConfigError{
			Field:   "known-hosts",
			Value:   opts.KnownHostsPath,
			Message: "cannot load host keys",
			Hint:    "drop --strict-hostkey or point --known-hosts at an existing file",
			Err:     err,
		}
	}

	logger.Verbose("auto-assigned ports come from %s (%d ports)", opts.PortRange, opts.PortRange.Len())

	m := metrics.New()
	term := prompt.NewTerminal(streams.In, streams.Out)
	if !term.IsTerminal() {
		logger.Debug("input is not a terminal; secrets are read without raw mode")
	}
	printer := console.NewPrinter(streams.Out, streams.Err, !opts.NoColor)

	orch := &Orchestrator{
		Connector:    tunnel.NewSSHConnector(hostKey, opts.ConnTimeout, logger.Named("tunnel"), m),
		Ports:        portscan.New(opts.PortRange.Start, opts.PortRange.End),
		Creds:        prompt.NewResolver(term),
		Observer:     events.Multi(append([]events.Observer{printer}, extra...)...),
		Logger:       logger.Named("orchestrator"),
		Metrics:      m,
		BindAttempts: config.DefaultBindAttempts,
	}

	paths := opts.ConfigPaths
	return &Controller{
		Load:         func() ([]config.HostSpec, error) { return config.LoadFiles(paths) },
		Orchestrator: orch,
		Input:        term,
		Out:          streams.Out,
		Logger:       logger.Named("controller"),
	}, nil
}
