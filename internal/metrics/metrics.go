// Package metrics provides lightweight, lock-free counters and gauges
// for tracking sessions, forwards, and relayed traffic.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics across connection rounds.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	rounds            atomic.Int64
	sessionsActive    atomic.Int64
	sessionsTotal     atomic.Int64
	forwardsActive    atomic.Int64
	forwardsTotal     atomic.Int64
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesToRemote     atomic.Int64
	bytesToLocal      atomic.Int64
	keepAlives        atomic.Int64
	errorsTotal       atomic.Int64

	mu            sync.RWMutex
	startTime     time.Time
	lastKeepAlive time.Time
	lastError     time.Time
	lastErrorMsg  string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Rounds ───────────────────────────────────────────────────────────

// RoundStarted counts one connection round (the first run or a retry).
func (c *Collector) RoundStarted() {
	if c == nil {
		return
	}
	c.rounds.Add(1)
}

// Rounds returns how many rounds have been started.
func (c *Collector) Rounds() int64 {
	if c == nil {
		return 0
	}
	return c.rounds.Load()
}

// ── Sessions ─────────────────────────────────────────────────────────

// SessionOpened increments both the active and total session counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of open SSH sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// ── Forwards ─────────────────────────────────────────────────────────

// ForwardBound increments both the active and total forward counters.
func (c *Collector) ForwardBound() {
	if c == nil {
		return
	}
	c.forwardsActive.Add(1)
	c.forwardsTotal.Add(1)
}

// ForwardClosed decrements the active forward counter.
func (c *Collector) ForwardClosed() {
	if c == nil {
		return
	}
	c.forwardsActive.Add(-1)
}

// ActiveForwards returns the current number of bound listeners.
func (c *Collector) ActiveForwards() int64 {
	if c == nil {
		return 0
	}
	return c.forwardsActive.Load()
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of relayed connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// Relayed records bytes moved by one finished connection.
func (c *Collector) Relayed(toRemote, toLocal int64) {
	if c == nil {
		return
	}
	c.bytesToRemote.Add(toRemote)
	c.bytesToLocal.Add(toLocal)
}

// BytesToRemote returns total bytes sent from local clients.
func (c *Collector) BytesToRemote() int64 {
	if c == nil {
		return 0
	}
	return c.bytesToRemote.Load()
}

// BytesToLocal returns total bytes returned to local clients.
func (c *Collector) BytesToLocal() int64 {
	if c == nil {
		return 0
	}
	return c.bytesToLocal.Load()
}

// ── Keep-alive ───────────────────────────────────────────────────────

// RecordKeepAlive counts an answered keep-alive request.
func (c *Collector) RecordKeepAlive() {
	if c == nil {
		return
	}
	c.keepAlives.Add(1)
	c.mu.Lock()
	c.lastKeepAlive = time.Now()
	c.mu.Unlock()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	Rounds            int64  `json:"rounds"`
	SessionsActive    int64  `json:"sessions_active"`
	SessionsTotal     int64  `json:"sessions_total"`
	ForwardsActive    int64  `json:"forwards_active"`
	ForwardsTotal     int64  `json:"forwards_total"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesToRemote     int64  `json:"bytes_to_remote"`
	BytesToLocal      int64  `json:"bytes_to_local"`
	KeepAlives        int64  `json:"keepalives"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastKeepAlive     string `json:"last_keepalive,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		Rounds:            c.rounds.Load(),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		ForwardsActive:    c.forwardsActive.Load(),
		ForwardsTotal:     c.forwardsTotal.Load(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesToRemote:     c.bytesToRemote.Load(),
		BytesToLocal:      c.bytesToLocal.Load(),
		KeepAlives:        c.keepAlives.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastKeepAlive.IsZero() {
		s.LastKeepAlive = c.lastKeepAlive.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
