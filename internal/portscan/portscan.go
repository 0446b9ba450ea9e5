// Package portscan finds an unused local port by asking the operating
// system which inet ports are currently bound.
package portscan

import (
	"context"
	"fmt"

	psnet "github.com/shirou/gopsutil/v4/net"

	lferr "localforward/internal/errors"
)

// NoPort is returned together with errors.ErrNoFreePort.
const NoPort = -1

// Lister reports the local ports currently held by any inet socket.
type Lister interface {
	UsedPorts(ctx context.Context) (map[int]struct{}, error)
}

// SystemLister lists active TCP connections, TCP listeners, and UDP
// sockets through gopsutil.
type SystemLister struct{}

// UsedPorts implements Lister.
func (SystemLister) UsedPorts(ctx context.Context) (map[int]struct{}, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("list sockets: %w", err)
	}
	used := make(map[int]struct{}, len(conns))
	for _, c := range conns {
		if c.Laddr.Port != 0 {
			used[int(c.Laddr.Port)] = struct{}{}
		}
	}
	return used, nil
}

// Scanner picks the lowest unused port in [Start, End].
type Scanner struct {
	Lister Lister
	Start  int
	End    int
}

// New returns a Scanner over [start, end] backed by the system socket
// table.
func New(start, end int) *Scanner {
	return &Scanner{Lister: SystemLister{}, Start: start, End: end}
}

// FindFreePort scans ascending from Start to End inclusive and returns
// the first port no socket holds.  A fully occupied range yields
// NoPort and errors.ErrNoFreePort.  The result is only a snapshot;
// another process may bind the port before the caller does.
func (s *Scanner) FindFreePort(ctx context.Context) (int, error) {
	if s.Start < 1 || s.End > 65535 || s.Start > s.End {
		return NoPort, fmt.Errorf("invalid scan range %d-%d", s.Start, s.End)
	}
	used, err := s.Lister.UsedPorts(ctx)
	if err != nil {
		return NoPort, err
	}
	for port := s.Start; port <= s.End; port++ {
		if _, taken := used[port]; !taken {
			return port, nil
		}
	}
	return NoPort, fmt.Errorf("%w: %d-%d", lferr.ErrNoFreePort, s.Start, s.End)
}
