// Package events carries progress notifications from the orchestrator
// to whatever presents them.  The orchestrator never formats output.
package events

import "sync"

// Kind identifies an event.
type Kind int

const (
	// Connecting is sent before a host is dialed.
	Connecting Kind = iota
	// Connected is sent once a host session is authenticated.
	Connected
	// ConnectFailed carries the per-host error in Err.
	ConnectFailed
	// ForwardStarted is sent after a local listener is bound.
	ForwardStarted
	// ForwardFailed carries the per-forward error in Err.
	ForwardFailed
	// TornDown reports how many sessions and forwards a teardown closed.
	TornDown
)

var kindNames = [...]string{
	Connecting:     "connecting",
	Connected:      "connected",
	ConnectFailed:  "connect-failed",
	ForwardStarted: "forward-started",
	ForwardFailed:  "forward-failed",
	TornDown:       "torn-down",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is one progress notification.  Fields not meaningful for a
// Kind are left zero.
type Event struct {
	Kind        Kind
	Host        string // SSH server host:port
	Description string // host or forward description from config
	Local       string // bound host:port (ForwardStarted) or configured bind address
	Remote      string // forward target host:port
	Err         error
	Sessions    int // TornDown
	Forwards    int // TornDown
}

// Observer receives events.  Notify must not block for long.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})

// Multi fans each event out to every observer in order.
func Multi(obs ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range obs {
			o.Notify(e)
		}
	})
}

// Recorder keeps every event it receives.  Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Observer.
func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events have kind k.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
