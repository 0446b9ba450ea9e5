package config

import (
	"fmt"
	"time"
)

// Options holds the runtime settings that come from flags and the
// environment rather than from config files.
type Options struct {
	ConfigPaths    []string
	Verbose        int
	StrictHostKey  bool
	KnownHostsPath string
	ConnTimeout    time.Duration
	PortRange      PortRange
	NoColor        bool
	DryRun         bool
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() *Options {
	return &Options{
		Verbose:     1,
		ConnTimeout: DefaultConnTimeout,
		PortRange:   DefaultPortRange(),
	}
}

// Validate checks option values that flags and env cannot constrain.
func (o *Options) Validate() error {
	if o.ConnTimeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", o.ConnTimeout)
	}
	pr := o.PortRange
	if !validPorts.Contains(pr.Start) || !validPorts.Contains(pr.End) || pr.Len() < 1 {
		return fmt.Errorf("invalid port range %s", o.PortRange)
	}
	return nil
}
