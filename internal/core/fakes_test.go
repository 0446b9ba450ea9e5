package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"localforward/config"
	lferr "localforward/internal/errors"
	"localforward/internal/events"
	"localforward/internal/metrics"
	"localforward/tunnel"
	"localforward/util"
)

// ── tunnel fakes ─────────────────────────────────────────────────────

type fakeConnector struct {
	mu       sync.Mutex
	fail     map[string]error // keyed by host:port
	busy     map[int]bool     // local ports that report address-in-use
	targets  []tunnel.Target
	sessions []*fakeSession
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{fail: map[string]error{}, busy: map[int]bool{}}
}

func (c *fakeConnector) Connect(_ context.Context, t tunnel.Target) (tunnel.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, t)
	if err := c.fail[t.Addr()]; err != nil {
		return nil, err
	}
	s := &fakeSession{addr: t.Addr(), busy: c.busy}
	c.sessions = append(c.sessions, s)
	return s, nil
}

func (c *fakeConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets)
}

type fakeSession struct {
	addr string
	busy map[int]bool

	mu       sync.Mutex
	forwards []*fakeForward
	binds    []int
	closed   int
}

func (s *fakeSession) AddLocalForward(_ context.Context, bindHost string, bindPort int, remoteHost string, remotePort int) (tunnel.Forward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binds = append(s.binds, bindPort)
	local := util.FormatAddr(bindHost, bindPort)
	remote := util.FormatAddr(remoteHost, remotePort)
	if s.closed > 0 {
		return nil, lferr.WrapForward(local, remote, s.addr, lferr.ErrSessionClosed)
	}
	if s.busy[bindPort] {
		return nil, lferr.WrapForward(local, remote, s.addr,
			&net.OpError{Op: "listen", Net: "tcp", Err: syscall.EADDRINUSE})
	}
	f := &fakeForward{local: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: bindPort}, remote: remote}
	s.forwards = append(s.forwards, f)
	return f, nil
}

func (s *fakeSession) Addr() string { return s.addr }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeForward struct {
	local  *net.TCPAddr
	remote string

	mu     sync.Mutex
	closed int
}

func (f *fakeForward) LocalAddr() net.Addr { return f.local }
func (f *fakeForward) Remote() string      { return f.remote }

func (f *fakeForward) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeForward) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ── port and credential fakes ────────────────────────────────────────

// seqPorts hands out ascending ports from next.
type seqPorts struct {
	mu   sync.Mutex
	next int
	err  error
}

func (p *seqPorts) FindFreePort(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return -1, p.err
	}
	port := p.next
	p.next++
	return port, nil
}

type fakeCreds struct {
	mu        sync.Mutex
	user      string
	secret    string
	err       error // returned by every prompt when set
	userAsks  int
	secrAsks  int
	forgotten []string
	cache     map[string]string
}

func (c *fakeCreds) Username(_ context.Context, key, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if c.cache == nil {
		c.cache = map[string]string{}
	}
	if u, ok := c.cache["u:"+key]; ok {
		return u, nil
	}
	c.userAsks++
	c.cache["u:"+key] = c.user
	return c.user, nil
}

func (c *fakeCreds) Secret(_ context.Context, key, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if c.cache == nil {
		c.cache = map[string]string{}
	}
	if s, ok := c.cache["s:"+key]; ok {
		return s, nil
	}
	c.secrAsks++
	c.cache["s:"+key] = c.secret
	return c.secret, nil
}

func (c *fakeCreds) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgotten = append(c.forgotten, key)
	delete(c.cache, "u:"+key)
	delete(c.cache, "s:"+key)
}

// ── helpers ──────────────────────────────────────────────────────────

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

type harness struct {
	conn  *fakeConnector
	ports *seqPorts
	creds *fakeCreds
	rec   *events.Recorder
	orch  *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		conn:  newFakeConnector(),
		ports: &seqPorts{next: 49152},
		creds: &fakeCreds{user: "prompted", secret: "typed"},
		rec:   &events.Recorder{},
	}
	h.orch = &Orchestrator{
		Connector:    h.conn,
		Ports:        h.ports,
		Creds:        h.creds,
		Observer:     h.rec,
		Logger:       quietLogger(),
		Metrics:      metrics.New(),
		BindAttempts: 3,
	}
	return h
}

func host(name string, forwards ...config.ForwardSpec) config.HostSpec {
	return config.HostSpec{
		Description:         "desc " + name,
		Host:                name,
		Port:                22,
		Username:            "user",
		Password:            "pw",
		ServerAliveInterval: -1,
		Enabled:             true,
		LocalForward:        forwards,
	}
}

func fwd(localPort int, remote string, remotePort int) config.ForwardSpec {
	return config.ForwardSpec{
		Description: fmt.Sprintf("to %s:%d", remote, remotePort),
		LocalHost:   "127.0.0.1",
		LocalPort:   localPort,
		RemoteHost:  remote,
		RemotePort:  remotePort,
		Enabled:     true,
	}
}
