package core

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"localforward/config"
	lferr "localforward/internal/errors"
	"localforward/internal/events"
	"localforward/internal/metrics"
	"localforward/tunnel"
	"localforward/util"
)

// hostSession is one connected host and the forwards bound on it.
type hostSession struct {
	spec     config.HostSpec
	session  tunnel.Session
	forwards []tunnel.Forward
}

// Round owns everything opened by one StartRound call.
type Round struct {
	observer events.Observer
	logger   *util.Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	sessions []*hostSession

	once sync.Once
}

func newRound(obs events.Observer, logger *util.Logger, m *metrics.Collector) *Round {
	return &Round{observer: obs, logger: logger, metrics: m}
}

func (r *Round) add(h config.HostSpec, s tunnel.Session) *hostSession {
	hs := &hostSession{spec: h, session: s}
	r.mu.Lock()
	r.sessions = append(r.sessions, hs)
	r.mu.Unlock()
	return hs
}

func (r *Round) addForward(hs *hostSession, f tunnel.Forward) {
	r.mu.Lock()
	hs.forwards = append(hs.forwards, f)
	r.mu.Unlock()
}

// Sessions returns how many sessions the round opened.
func (r *Round) Sessions() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Forwards returns how many forwards the round bound.
func (r *Round) Forwards() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.sessions {
		n += len(hs.forwards)
	}
	return n
}

// LocalAddrs returns the bound address of every forward in host order.
func (r *Round) LocalAddrs() []net.Addr {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []net.Addr
	for _, hs := range r.sessions {
		for _, f := range hs.forwards {
			out = append(out, f.LocalAddr())
		}
	}
	return out
}

// Teardown closes every forward and then its session, sessions in
// parallel.  It is safe on a nil or partial round; calls after the
// first do nothing and return nil.
func (r *Round) Teardown() error {
	if r == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		sessions := r.sessions
		r.mu.Unlock()

		var g errgroup.Group
		forwards := 0
		for _, hs := range sessions {
			hs := hs
			forwards += len(hs.forwards)
			g.Go(func() error {
				r.logger.Debug("closing %s with %d forward(s); %s", hs.spec.Addr(), len(hs.forwards), hs.spec.Description)
				var errs []error
				for _, f := range hs.forwards {
					if err := f.Close(); err != nil {
						errs = append(errs, err)
					}
				}
				if err := hs.session.Close(); err != nil {
					errs = append(errs, err)
				}
				if err := lferr.Join(errs...); err != nil {
					return fmt.Errorf("closing %s: %w", hs.spec.Addr(), err)
				}
				return nil
			})
		}
		err = g.Wait()

		r.observer.Notify(events.Event{Kind: events.TornDown, Sessions: len(sessions), Forwards: forwards})
		r.logger.Verbose("metrics: %s", r.metrics.JSON())
	})
	return err
}
