// Package config defines the host/forward configuration read from
// config files, the runtime options set by flags and environment, and
// helpers for parsing port ranges.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	lferr "localforward/internal/errors"
	"localforward/util"
)

// File is the root object of a config file.
type File struct {
	ProxyConfig []HostSpec `json:"proxy_config" yaml:"proxy_config"`
}

// HostSpec describes one SSH server and the local forwards carried by
// it.  Empty Username, Password, PrivateKey, and Passphrase mean "not
// configured".
type HostSpec struct {
	Description         string        `json:"description" yaml:"description"`
	Host                string        `json:"host" yaml:"host"`
	Port                int           `json:"port" yaml:"port"`
	PrivateKey          string        `json:"privatekey" yaml:"privatekey"`
	Passphrase          string        `json:"passphrase" yaml:"passphrase"`
	Username            string        `json:"username" yaml:"username"`
	Password            string        `json:"password" yaml:"password"`
	ServerAliveInterval int           `json:"server_alive_interval" yaml:"server_alive_interval"`
	Enabled             bool          `json:"enabled" yaml:"enabled"`
	LocalForward        []ForwardSpec `json:"local_forward" yaml:"local_forward"`
}

// ForwardSpec describes one local listener and its remote target.
// LocalPort 0 asks for an automatically chosen port.
type ForwardSpec struct {
	Description string `json:"description" yaml:"description"`
	LocalHost   string `json:"local_host" yaml:"local_host"`
	LocalPort   int    `json:"local_port" yaml:"local_port"`
	RemoteHost  string `json:"remote_host" yaml:"remote_host"`
	RemotePort  int    `json:"remote_port" yaml:"remote_port"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// ── Defaults on decode ───────────────────────────────────────────────
//
// Keys absent from the file keep the values below; keys present with
// any value (including zero) override them.

func defaultHostSpec() HostSpec {
	return HostSpec{
		Port:                DefaultSSHPort,
		ServerAliveInterval: DefaultServerAliveInterval,
		Enabled:             true,
	}
}

func defaultForwardSpec() ForwardSpec {
	return ForwardSpec{
		LocalHost:  DefaultLocalHost,
		LocalPort:  AutoPort,
		RemotePort: DefaultRemotePort,
		Enabled:    true,
	}
}

// UnmarshalJSON fills omitted keys with their defaults.
func (h *HostSpec) UnmarshalJSON(b []byte) error {
	type plain HostSpec
	v := plain(defaultHostSpec())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*h = HostSpec(v)
	return nil
}

// UnmarshalYAML fills omitted keys with their defaults.
func (h *HostSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain HostSpec
	v := plain(defaultHostSpec())
	if err := node.Decode(&v); err != nil {
		return err
	}
	*h = HostSpec(v)
	return nil
}

// UnmarshalJSON fills omitted keys with their defaults.
func (f *ForwardSpec) UnmarshalJSON(b []byte) error {
	type plain ForwardSpec
	v := plain(defaultForwardSpec())
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = ForwardSpec(v)
	return nil
}

// UnmarshalYAML fills omitted keys with their defaults.
func (f *ForwardSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain ForwardSpec
	v := plain(defaultForwardSpec())
	if err := node.Decode(&v); err != nil {
		return err
	}
	*f = ForwardSpec(v)
	return nil
}

// ── HostSpec helpers ─────────────────────────────────────────────────

// Addr returns the SSH endpoint as host:port.
func (h HostSpec) Addr() string { return util.FormatAddr(h.Host, h.Port) }

// UsesKey reports whether the host authenticates with a private key.
// Without a key path the host uses password authentication.
func (h HostSpec) UsesKey() bool { return strings.TrimSpace(h.PrivateKey) != "" }

// KeepAlive converts ServerAliveInterval to a duration.  -1 (library
// default) and 0 both mean no keep-alive requests are sent.
func (h HostSpec) KeepAlive() time.Duration {
	if h.ServerAliveInterval <= 0 {
		return 0
	}
	return time.Duration(h.ServerAliveInterval) * time.Second
}

// ── ForwardSpec helpers ──────────────────────────────────────────────

// IsAuto reports whether the local port must be chosen at round start.
func (f ForwardSpec) IsAuto() bool { return f.LocalPort == AutoPort }

// LocalAddr returns local_host:local_port as configured (port 0 when
// auto-assigned).
func (f ForwardSpec) LocalAddr() string {
	return util.FormatAddr(f.BindHost(), f.LocalPort)
}

// BindHost returns local_host, or the loopback default when it is empty.
func (f ForwardSpec) BindHost() string {
	if strings.TrimSpace(f.LocalHost) == "" {
		return DefaultLocalHost
	}
	return f.LocalHost
}

// RemoteAddr returns remote_host:remote_port.
func (f ForwardSpec) RemoteAddr() string { return util.FormatAddr(f.RemoteHost, f.RemotePort) }

// ── Port helpers ─────────────────────────────────────────────────────

// PortRange is an inclusive start–end pair.
type PortRange struct {
	Start int
	End   int
}

// DefaultPortRange is the IANA dynamic/private range used for
// auto-assigned local ports.
func DefaultPortRange() PortRange {
	return PortRange{Start: DefaultAutoPortStart, End: DefaultAutoPortEnd}
}

// validPorts is every usable TCP port.
var validPorts = PortRange{Start: 1, End: MaxPort}

// Contains reports whether port lies inside the range.
func (pr PortRange) Contains(port int) bool { return pr.Start <= port && port <= pr.End }

// Len returns the number of ports in the range.
func (pr PortRange) Len() int { return pr.End - pr.Start + 1 }

func (pr PortRange) String() string { return fmt.Sprintf("%d-%d", pr.Start, pr.End) }

// ParsePortRange accepts "50000" or "49152-65535".
func ParsePortRange(spec string) (PortRange, error) {
	spec = strings.TrimSpace(spec)
	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range start %q", parts[0])
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range end %q", parts[1])
		}
		if !validPorts.Contains(start) || !validPorts.Contains(end) || start > end {
			return PortRange{}, fmt.Errorf("invalid port range %d-%d", start, end)
		}
		return PortRange{Start: start, End: end}, nil
	}

	port, err := strconv.Atoi(spec)
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid port %q", spec)
	}
	if !validPorts.Contains(port) {
		return PortRange{}, fmt.Errorf("port %d out of range %s", port, validPorts)
	}
	return PortRange{Start: port, End: port}, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks every enabled host and forward.  Disabled entries are
// never used and are not checked.  The returned error is a
// *errors.ConfigError naming the offending key.
func Validate(hosts []HostSpec) error {
	for i, h := range hosts {
		if !h.Enabled {
			continue
		}
		field := fmt.Sprintf("proxy_config[%d]", i)
		if strings.TrimSpace(h.Host) == "" {
			return &lferr.ConfigError{Field: field + ".host", Message: "is required"}
		}
		if !validPorts.Contains(h.Port) {
			return &lferr.ConfigError{
				Field: field + ".port", Value: h.Port,
				Message: fmt.Sprintf("out of range 1-%d", MaxPort),
			}
		}
		if h.ServerAliveInterval < -1 {
			return &lferr.ConfigError{
				Field: field + ".server_alive_interval", Value: h.ServerAliveInterval,
				Message: "must be -1 (library default) or a number of seconds",
			}
		}
		for j, f := range h.LocalForward {
			if !f.Enabled {
				continue
			}
			ff := fmt.Sprintf("%s.local_forward[%d]", field, j)
			if strings.TrimSpace(f.RemoteHost) == "" {
				return &lferr.ConfigError{Field: ff + ".remote_host", Message: "is required"}
			}
			if !validPorts.Contains(f.RemotePort) {
				return &lferr.ConfigError{
					Field: ff + ".remote_port", Value: f.RemotePort,
					Message: fmt.Sprintf("out of range 1-%d", MaxPort),
				}
			}
			if f.LocalPort < 0 || f.LocalPort > MaxPort {
				return &lferr.ConfigError{
					Field: ff + ".local_port", Value: f.LocalPort,
					Message: fmt.Sprintf("out of range 0-%d", MaxPort),
					Hint:    "use 0 to pick a free port automatically",
				}
			}
		}
	}
	return nil
}
