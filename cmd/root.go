// Package cmd wires up the CLI flags and dispatches to the forwarding core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"localforward/config"
	"localforward/internal/core"
	"localforward/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X localforward/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute runs localforward against the process's standard streams.
func Execute(ctx context.Context, args []string) error {
	return Run(ctx, args, core.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
}

// Run parses args, overlays them on the environment and defaults, and
// runs the controller until the operator exits.
func Run(ctx context.Context, args []string, streams core.Streams) error {
	opts := config.DefaultOptions()
	config.LoadFromEnv(opts)

	fs := flag.NewFlagSet("localforward", flag.ContinueOnError)
	fs.SetOutput(streams.Err)

	// ── connection ───────────────────────────────────────────────
	fs.BoolVar(&opts.StrictHostKey, "strict-hostkey", opts.StrictHostKey, "Verify SSH host keys against known_hosts")
	fs.StringVar(&opts.KnownHostsPath, "known-hosts", opts.KnownHostsPath, "Custom known_hosts path")

	timeoutSec := int(opts.ConnTimeout / time.Second)
	fs.IntVar(&timeoutSec, "timeout", timeoutSec, "SSH connect timeout in seconds")

	portRange := opts.PortRange.String()
	fs.StringVar(&portRange, "port-range", portRange, "Ports tried for auto-assigned forwards (START-END)")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&opts.NoColor, "no-color", opts.NoColor, "Disable coloured output")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Load and validate the config, print the plan, and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(streams.Err, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(streams.Out, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(streams.Out, "localforward %s\n", version)
		return nil
	}

	opts.Verbose += verbose
	if fs.Changed("timeout") {
		opts.ConnTimeout = time.Duration(timeoutSec) * time.Second
	}
	if fs.Changed("port-range") {
		pr, err := config.ParsePortRange(portRange)
		if err != nil {
			return fmt.Errorf("--port-range: %w", err)
		}
		opts.PortRange = pr
	}
	if fs.NArg() > 0 {
		opts.ConfigPaths = fs.Args()
	}

	// ── validate ─────────────────────────────────────────────────
	if err := opts.Validate(); err != nil {
		return err
	}

	if opts.DryRun {
		hosts, err := config.LoadFiles(opts.ConfigPaths)
		if err != nil {
			return err
		}
		printPlan(streams.Out, hosts)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(opts.Verbose)
	logger.SetOutput(streams.Err)

	ctrl, err := core.Build(opts, streams, logger)
	if err != nil {
		return err
	}
	return ctrl.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// printPlan lists what a real run would connect and bind, without
// prompting or touching the network.
func printPlan(w io.Writer, hosts []config.HostSpec) {
	for _, h := range hosts {
		state := ""
		if !h.Enabled {
			state = " (disabled)"
		}
		user := h.Username
		if user == "" {
			user = "<prompt>"
		}
		auth := "password"
		if h.UsesKey() {
			auth = "key " + h.PrivateKey
		}
		keepAlive := "off"
		if d := h.KeepAlive(); d > 0 {
			keepAlive = d.String()
		}
		fmt.Fprintf(w, "%s%s user=%s auth=%s keepalive=%s; %s\n",
			h.Addr(), state, user, auth, keepAlive, h.Description)

		for _, f := range h.LocalForward {
			local := f.LocalAddr()
			if f.IsAuto() {
				local = f.BindHost() + ":auto"
			}
			fstate := ""
			if !f.Enabled {
				fstate = " (disabled)"
			}
			fmt.Fprintf(w, "  %s --> %s%s; %s\n", local, f.RemoteAddr(), fstate, f.Description)
		}
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `localforward v%s

Opens SSH sessions and local port forwards described by config files.

Usage:
  localforward [options] [configFile ...]

With no config file, config.json next to the executable is used.

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  localforward                                 Use config.json beside the binary
  localforward prod.json staging.yaml          Concatenate two configs
  localforward --dry-run -v prod.json          Show the plan only
  localforward --port-range 20000-20100 c.json Pick auto ports from a range

Once running, type "retry" to reconnect everything or "exit" (or Ctrl-D)
to close all sessions and forwards.
`)
}
