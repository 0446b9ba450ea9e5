package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultRemotePort is the remote_port used when a forward omits it.
	DefaultRemotePort = 22

	// DefaultLocalHost is the bind address for forwards without local_host.
	DefaultLocalHost = "127.0.0.1"

	// AutoPort as local_port asks for a free port from the auto range.
	AutoPort = 0

	// DefaultServerAliveInterval leaves keep-alive to the SSH library,
	// which sends none.
	DefaultServerAliveInterval = -1

	// DefaultAutoPortStart and DefaultAutoPortEnd bound the IANA
	// dynamic/private range, both inclusive.
	DefaultAutoPortStart = 49152
	DefaultAutoPortEnd   = 65535

	// MaxPort is the highest valid TCP port.
	MaxPort = 65535

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultBindAttempts is how many times an auto-port forward rescans
	// and rebinds when another process takes the chosen port first.
	DefaultBindAttempts = 3

	// DefaultConfigName is looked up next to the executable when no
	// config path is given.
	DefaultConfigName = "config.json"

	// EnvPrefix prefixes every supported environment variable.
	EnvPrefix = "LOCALFORWARD_"
)
