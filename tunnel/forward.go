package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	lferr "localforward/internal/errors"
	"localforward/internal/metrics"
	"localforward/util"
)

// Dialer opens connections on the far side of a session.
// *ssh.Client satisfies it.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

// LocalForward accepts on a local listener and relays each connection
// to a fixed remote target through a Dialer.
type LocalForward struct {
	ln      net.Listener
	remote  string
	via     string
	dialer  Dialer
	logger  *util.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// ServeLocalForward starts relaying connections accepted on ln to
// remote through d.  via names the session for log messages.
func ServeLocalForward(ln net.Listener, d Dialer, remote, via string, logger *util.Logger, m *metrics.Collector) *LocalForward {
	ctx, cancel := context.WithCancel(context.Background())
	f := &LocalForward{
		ln:      ln,
		remote:  remote,
		via:     via,
		dialer:  d,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	m.ForwardBound()
	f.wg.Add(1)
	go f.acceptLoop()
	return f
}

// LocalAddr implements Forward.
func (f *LocalForward) LocalAddr() net.Addr { return f.ln.Addr() }

// Remote implements Forward.
func (f *LocalForward) Remote() string { return f.remote }

func (f *LocalForward) acceptLoop() {
	defer f.wg.Done()
	for {
		c, err := f.ln.Accept()
		if err != nil {
			if f.ctx.Err() != nil || util.IsHarmless(err) {
				return
			}
			f.logger.Error("forward %s: accept: %v", f.ln.Addr(), err)
			f.metrics.RecordError(fmt.Sprintf("accept %s: %v", f.ln.Addr(), err))
			return
		}
		if !f.track(c) {
			return
		}
		f.wg.Add(1)
		go f.relay(c)
	}
}

// relay bridges one accepted connection to the remote target.
func (f *LocalForward) relay(local net.Conn) {
	defer f.wg.Done()
	defer f.untrack(local)

	f.metrics.ConnectionOpened()
	defer f.metrics.ConnectionClosed()

	start := time.Now()
	peer := local.RemoteAddr().String()

	remote, err := f.dial()
	if err != nil {
		local.Close()
		if f.ctx.Err() != nil {
			return
		}
		f.logger.Error("forward %s -> %s via %s: %v", f.ln.Addr(), f.remote, f.via, err)
		f.metrics.RecordError(fmt.Sprintf("dial %s via %s: %v", f.remote, f.via, err))
		return
	}
	if !f.track(remote) {
		local.Close()
		return
	}
	defer f.untrack(remote)

	f.logger.Verbose("bridging %s <-> %s via %s", peer, f.remote, f.via)
	toRemote, toLocal := util.Bridge(f.ctx, local, remote)
	f.metrics.Relayed(toRemote, toLocal)
	f.logger.Debug("%s closed after %v (out=%d in=%d)",
		peer, time.Since(start).Truncate(time.Millisecond), toRemote, toLocal)
}

type dialResult struct {
	conn net.Conn
	err  error
}

// dial opens the remote side but gives up as soon as the forward is
// closing.  A connection that arrives after that is closed.
func (f *LocalForward) dial() (net.Conn, error) {
	ch := make(chan dialResult, 1)
	go func() {
		c, err := f.dialer.Dial("tcp", f.remote)
		ch <- dialResult{c, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-f.ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, f.ctx.Err()
	}
}

// track registers c for teardown.  It closes c and reports false once
// the forward is closing.
func (f *LocalForward) track(c net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		c.Close()
		return false
	}
	f.conns[c] = struct{}{}
	return true
}

func (f *LocalForward) untrack(c net.Conn) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
}

// Close implements Forward.  After it returns the local port is free.
func (f *LocalForward) Close() error {
	f.closeOnce.Do(func() {
		f.cancel()
		if err := f.ln.Close(); !util.IsHarmless(err) {
			f.closeErr = err
		}

		f.mu.Lock()
		f.closed = true
		for c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()

		f.wg.Wait()
		f.metrics.ForwardClosed()
		f.logger.Debug("forward %s -> %s stopped", f.ln.Addr(), f.remote)
	})
	if f.closeErr != nil {
		return fmt.Errorf("%w: %v", lferr.ErrForwardClosed, f.closeErr)
	}
	return nil
}
