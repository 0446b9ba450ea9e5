// Package tunnel opens SSH sessions with golang.org/x/crypto/ssh and
// carries local port forwards over them.  The Connector, Session, and
// Forward interfaces let callers swap the SSH layer for a fake.
package tunnel

import (
	"context"
	"net"
	"time"

	"localforward/util"
)

// AuthKind selects the single authentication method offered to a host.
type AuthKind int

const (
	AuthPassword AuthKind = iota
	AuthKey
)

func (k AuthKind) String() string {
	if k == AuthKey {
		return "publickey"
	}
	return "password"
}

// Auth describes how to authenticate to one host.
type Auth struct {
	Kind     AuthKind
	Password string // AuthPassword only

	KeyPath    string
	Passphrase string
	// PassphraseFunc is asked for a passphrase when the key turns out to
	// be encrypted and Passphrase is empty.  May be nil.
	PassphraseFunc func(ctx context.Context) (string, error)
}

// Target is everything needed to open one session.
type Target struct {
	Host string
	Port int
	User string
	Auth Auth
	// KeepAlive is the keepalive@openssh.com interval; zero sends none.
	KeepAlive time.Duration
}

// Addr returns host:port.
func (t Target) Addr() string { return util.FormatAddr(t.Host, t.Port) }

// Connector opens authenticated sessions.
type Connector interface {
	Connect(ctx context.Context, t Target) (Session, error)
}

// Session is one authenticated SSH connection.
type Session interface {
	// AddLocalForward binds bindHost:bindPort and relays every accepted
	// connection to remoteHost:remotePort through the session.
	AddLocalForward(ctx context.Context, bindHost string, bindPort int, remoteHost string, remotePort int) (Forward, error)

	// Addr returns the server's host:port.
	Addr() string

	// Close stops every forward and disconnects.  Safe to call twice.
	Close() error
}

// Forward is one bound local listener.
type Forward interface {
	// LocalAddr is the address actually bound.
	LocalAddr() net.Addr

	// Remote is the remoteHost:remotePort target.
	Remote() string

	// Close stops accepting, closes relayed connections, and waits for
	// them to finish.  Safe to call twice.
	Close() error
}
