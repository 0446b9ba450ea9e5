package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"localforward/config"
	lferr "localforward/internal/errors"
	"localforward/internal/events"
	"localforward/internal/metrics"
	"localforward/internal/retry"
	"localforward/tunnel"
	"localforward/util"
)

// PortFinder picks a free local port for auto-assigned forwards.
type PortFinder interface {
	FindFreePort(ctx context.Context) (int, error)
}

// Credentials supplies usernames and secrets missing from the config.
type Credentials interface {
	Username(ctx context.Context, key, addr string) (string, error)
	Secret(ctx context.Context, key, addr string) (string, error)
	Forget(key string)
}

// Orchestrator opens one round of sessions and forwards.
type Orchestrator struct {
	Connector tunnel.Connector
	Ports     PortFinder
	Creds     Credentials
	Observer  events.Observer
	Logger    *util.Logger
	Metrics   *metrics.Collector

	// BindAttempts bounds rescans after an auto-assigned port is taken
	// between scan and bind.
	BindAttempts int

	// autoPorts remembers the port each auto-assigned forward got so a
	// retry rebinds the same one.  Keyed by forwardKey.
	mu        sync.Mutex
	autoPorts map[string]int
}

// StartRound connects every enabled host in order and binds its enabled
// forwards.  Per-host and per-forward failures are reported through the
// Observer and skipped.  Only operator termination (EOF, Ctrl-C) or
// context cancellation stops the round early; the partial round is
// returned with the error so the caller can tear it down.
func (o *Orchestrator) StartRound(ctx context.Context, hosts []config.HostSpec) (*Round, error) {
	o.Metrics.RoundStarted()
	r := newRound(o.observer(), o.Logger, o.Metrics)

	for i, h := range hosts {
		if !h.Enabled {
			o.Logger.Debug("skipping disabled host %s", h.Addr())
			continue
		}
		if err := ctx.Err(); err != nil {
			return r, err
		}

		sess, err := o.connect(ctx, i, h)
		if err != nil {
			if lferr.IsTermination(err) {
				return r, err
			}
			if ctx.Err() != nil {
				return r, ctx.Err()
			}
			o.Metrics.RecordError(err.Error())
			o.observer().Notify(events.Event{
				Kind: events.ConnectFailed, Host: h.Addr(), Description: h.Description, Err: err,
			})
			continue
		}
		hs := r.add(h, sess)

		for j, fs := range h.LocalForward {
			if !fs.Enabled {
				continue
			}
			fwd, err := o.bind(ctx, sess, forwardKey(i, j), h, fs)
			if err != nil {
				if ctx.Err() != nil {
					return r, ctx.Err()
				}
				o.Metrics.RecordError(err.Error())
				o.observer().Notify(events.Event{
					Kind: events.ForwardFailed, Host: h.Addr(), Description: fs.Description,
					Local: fs.LocalAddr(), Remote: fs.RemoteAddr(), Err: err,
				})
				continue
			}
			r.addForward(hs, fwd)
			o.observer().Notify(events.Event{
				Kind: events.ForwardStarted, Host: h.Addr(), Description: fs.Description,
				Local: boundAddr(fs.BindHost(), fwd.LocalAddr()), Remote: fwd.Remote(),
			})
		}
	}
	return r, nil
}

// credKey identifies a host entry in the credential cache.  The index
// keeps two entries for the same server apart.
func credKey(i int, h config.HostSpec) string {
	return fmt.Sprintf("%d/%s", i, h.Addr())
}

// forwardKey identifies one forward entry across rounds.
func forwardKey(host, fwd int) string {
	return fmt.Sprintf("%d/%d", host, fwd)
}

// connect resolves credentials for h and opens its session.
func (o *Orchestrator) connect(ctx context.Context, i int, h config.HostSpec) (tunnel.Session, error) {
	key, addr := credKey(i, h), h.Addr()

	user := h.Username
	if user == "" {
		var err error
		if user, err = o.Creds.Username(ctx, key, addr); err != nil {
			return nil, err
		}
	}

	auth, err := o.auth(ctx, key, h)
	if err != nil {
		return nil, err
	}

	o.observer().Notify(events.Event{Kind: events.Connecting, Host: addr, Description: h.Description})
	start := time.Now()
	sess, err := o.Connector.Connect(ctx, tunnel.Target{
		Host:      h.Host,
		Port:      h.Port,
		User:      user,
		Auth:      auth,
		KeepAlive: h.KeepAlive(),
	})
	if err != nil {
		var se *lferr.SSHError
		if lferr.As(err, &se) && (se.Op == "auth" || se.Op == "key") {
			o.Creds.Forget(key)
		}
		return nil, err
	}
	o.Logger.Verbose("%s connected in %v", addr, time.Since(start).Truncate(time.Millisecond))
	o.observer().Notify(events.Event{Kind: events.Connected, Host: addr, Description: h.Description})
	return sess, nil
}

// auth builds the single authentication method for h.  Password auth
// is used without a key path; key auth otherwise.
func (o *Orchestrator) auth(ctx context.Context, key string, h config.HostSpec) (tunnel.Auth, error) {
	if !h.UsesKey() {
		pw := h.Password
		if pw == "" {
			var err error
			if pw, err = o.Creds.Secret(ctx, key, h.Addr()); err != nil {
				return tunnel.Auth{}, err
			}
		}
		return tunnel.Auth{Kind: tunnel.AuthPassword, Password: pw}, nil
	}

	a := tunnel.Auth{Kind: tunnel.AuthKey, KeyPath: h.PrivateKey, Passphrase: h.Passphrase}
	if a.Passphrase == "" {
		a.Passphrase = h.Password
	}
	if a.Passphrase == "" {
		addr := h.Addr()
		a.PassphraseFunc = func(ctx context.Context) (string, error) {
			return o.Creds.Secret(ctx, key, addr)
		}
	}
	return a, nil
}

// bind opens one forward.  An auto-assigned port reuses the port it got
// in an earlier round when that is still free, and is otherwise
// rescanned and rebound when another process takes it first; an
// explicit port is tried once.
func (o *Orchestrator) bind(ctx context.Context, sess tunnel.Session, key string, h config.HostSpec, fs config.ForwardSpec) (tunnel.Forward, error) {
	if !fs.IsAuto() {
		return sess.AddLocalForward(ctx, fs.BindHost(), fs.LocalPort, fs.RemoteHost, fs.RemotePort)
	}

	if port, ok := o.autoPort(key); ok {
		f, err := sess.AddLocalForward(ctx, fs.BindHost(), port, fs.RemoteHost, fs.RemotePort)
		if err == nil {
			return f, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		o.Logger.Verbose("previous port %d for %s unavailable: %v; rescanning", port, fs.RemoteAddr(), err)
	}

	attempts := o.BindAttempts
	if attempts <= 0 {
		attempts = config.DefaultBindAttempts
	}
	b := retry.BindBackoff(attempts)
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		o.Logger.Verbose("auto port for %s taken (attempt %d): %v; rescanning in %v",
			fs.RemoteAddr(), attempt, err, wait.Truncate(time.Millisecond))
	}

	var fwd tunnel.Forward
	err := b.Do(ctx, func(int) error {
		port, err := o.Ports.FindFreePort(ctx)
		if err != nil {
			return retry.Permanent(lferr.WrapForward(fs.LocalAddr(), fs.RemoteAddr(), h.Addr(), err))
		}
		f, err := sess.AddLocalForward(ctx, fs.BindHost(), port, fs.RemoteHost, fs.RemotePort)
		if err != nil {
			if lferr.IsRetryable(err) {
				return err
			}
			return retry.Permanent(err)
		}
		fwd = f
		o.setAutoPort(key, port)
		return nil
	})
	return fwd, err
}

func (o *Orchestrator) autoPort(key string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	port, ok := o.autoPorts[key]
	return port, ok
}

func (o *Orchestrator) setAutoPort(key string, port int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.autoPorts == nil {
		o.autoPorts = make(map[string]int)
	}
	o.autoPorts[key] = port
}

func (o *Orchestrator) observer() events.Observer {
	if o.Observer == nil {
		return events.Discard
	}
	return o.Observer
}

// boundAddr prints the configured bind host with the port actually
// bound.
func boundAddr(bindHost string, a net.Addr) string {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return util.FormatAddr(bindHost, tcp.Port)
	}
	if _, port, err := util.SplitAddr(a.String()); err == nil {
		return util.FormatAddr(bindHost, port)
	}
	return a.String()
}
