package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	lferr "localforward/internal/errors"
	"localforward/internal/metrics"
	"localforward/util"
)

// SSHConnector implements [Connector] with golang.org/x/crypto/ssh.
type SSHConnector struct {
	HostKeyCallback ssh.HostKeyCallback
	ConnTimeout     time.Duration
	Logger          *util.Logger
	Metrics         *metrics.Collector
}

// NewSSHConnector returns a connector.  A nil hostKey accepts any key.
func NewSSHConnector(hostKey ssh.HostKeyCallback, timeout time.Duration, logger *util.Logger, m *metrics.Collector) *SSHConnector {
	if hostKey == nil {
		//nolint:gosec // host key checking is opt-in
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SSHConnector{HostKeyCallback: hostKey, ConnTimeout: timeout, Logger: logger, Metrics: m}
}

// Connect dials the server, completes the handshake, and authenticates
// with the single method described by t.Auth.
func (c *SSHConnector) Connect(ctx context.Context, t Target) (Session, error) {
	method, err := AuthMethod(ctx, t.Auth)
	if err != nil {
		if lferr.IsTermination(err) {
			return nil, err
		}
		return nil, lferr.WrapSSH("key", t.Host, t.Port, err)
	}

	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{method},
		HostKeyCallback: c.HostKeyCallback,
		Timeout:         c.ConnTimeout,
	}

	addr := t.Addr()
	c.Logger.Debug("dialing %s as %s (%s)", addr, t.User, t.Auth.Kind)

	// Use a context-aware TCP dial so callers can cancel.
	dialer := net.Dialer{Timeout: c.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, lferr.WrapSSH("dial", t.Host, t.Port, err)
	}

	// The handshake has no context parameter; bound it by the timeout
	// and abort it on cancellation.
	tcpConn.SetDeadline(time.Now().Add(c.ConnTimeout)) //nolint:errcheck
	stop := context.AfterFunc(ctx, func() { tcpConn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, cfg)
	stopped := stop()
	if err != nil {
		tcpConn.Close()
		if !stopped {
			return nil, lferr.WrapSSH("handshake", t.Host, t.Port, ctx.Err())
		}
		return nil, classifyHandshake(t, err)
	}
	tcpConn.SetDeadline(time.Time{}) //nolint:errcheck

	client := ssh.NewClient(sshConn, chans, reqs)
	s := newSSHSession(client, t, c.Logger, c.Metrics)
	c.Logger.Verbose("connected to %s (server %s)", addr, sshConn.ServerVersion())
	return s, nil
}

// classifyHandshake maps a handshake failure onto an SSHError op.
func classifyHandshake(t Target, err error) error {
	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	switch {
	case errors.As(err, &keyErr), errors.As(err, &revoked):
		return lferr.WrapSSH("hostkey", t.Host, t.Port, err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return lferr.WrapSSH("auth", t.Host, t.Port, fmt.Errorf("%w: %v", lferr.ErrAuthFailed, err))
	default:
		return lferr.WrapSSH("handshake", t.Host, t.Port, err)
	}
}

// ── Session ──────────────────────────────────────────────────────────

// SSHSession implements [Session] over an *ssh.Client.
type SSHSession struct {
	client  *ssh.Client
	host    string
	port    int
	addr    string
	logger  *util.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	forwards []*LocalForward
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

func newSSHSession(client *ssh.Client, t Target, logger *util.Logger, m *metrics.Collector) *SSHSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SSHSession{
		client:  client,
		host:    t.Host,
		port:    t.Port,
		addr:    t.Addr(),
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	m.SessionOpened()

	s.wg.Add(1)
	go s.monitor()
	if t.KeepAlive > 0 {
		s.wg.Add(1)
		go s.keepaliveLoop(t.KeepAlive)
	}
	return s
}

// Addr implements Session.
func (s *SSHSession) Addr() string { return s.addr }

// AddLocalForward implements Session.
func (s *SSHSession) AddLocalForward(ctx context.Context, bindHost string, bindPort int, remoteHost string, remotePort int) (Forward, error) {
	local := util.FormatAddr(bindHost, bindPort)
	remote := util.FormatAddr(remoteHost, remotePort)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, lferr.WrapForward(local, remote, s.addr, lferr.ErrSessionClosed)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", local)
	if err != nil {
		return nil, lferr.WrapForward(local, remote, s.addr, err)
	}

	f := ServeLocalForward(ln, s.client, remote, s.addr, s.logger, s.metrics)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.Close()
		return nil, lferr.WrapForward(local, remote, s.addr, lferr.ErrSessionClosed)
	}
	s.forwards = append(s.forwards, f)
	s.mu.Unlock()
	return f, nil
}

// Close implements Session.
func (s *SSHSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		forwards := s.forwards
		s.forwards = nil
		s.mu.Unlock()

		for _, f := range forwards {
			f.Close()
		}
		s.cancel()
		if err := s.client.Close(); !util.IsHarmless(err) {
			s.closeErr = lferr.WrapSSH("close", s.host, s.port, err)
		}
		s.wg.Wait()
		s.metrics.SessionClosed()
	})
	return s.closeErr
}

// monitor logs when the server drops the connection.
func (s *SSHSession) monitor() {
	defer s.wg.Done()
	err := s.client.Wait()
	if s.ctx.Err() != nil {
		return
	}
	if err != nil && !util.IsHarmless(err) {
		s.logger.Warn("session %s closed by server: %v", s.addr, err)
	} else {
		s.logger.Warn("session %s closed by server", s.addr)
	}
	s.metrics.RecordError(fmt.Sprintf("session %s lost", s.addr))
}

// keepaliveLoop sends keepalive@openssh.com every interval until the
// session closes.  A failed request means the connection is dead.
func (s *SSHSession) keepaliveLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error("SSH keepalive to %s failed: %v", s.addr, err)
				s.metrics.RecordError(fmt.Sprintf("keepalive %s: %v", s.addr, err))
				return
			}
			s.metrics.RecordKeepAlive()
			s.logger.Debug("SSH keepalive %s OK", s.addr)
		}
	}
}
