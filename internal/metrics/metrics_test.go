package metrics

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if got := c.Snapshot().SessionsTotal; got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestCollector_Forwards(t *testing.T) {
	c := New()

	c.ForwardBound()
	c.ForwardBound()
	c.ForwardBound()
	c.ForwardClosed()
	if c.ActiveForwards() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveForwards())
	}
	if got := c.Snapshot().ForwardsTotal; got != 3 {
		t.Errorf("total = %d, want 3", got)
	}
}

func TestCollector_Connections(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	if c.ActiveConnections() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveConnections())
	}
	c.ConnectionClosed()
	if c.ActiveConnections() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveConnections())
	}
	if c.TotalConnections() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalConnections())
	}
}

func TestCollector_Relayed(t *testing.T) {
	c := New()

	c.Relayed(1024, 512)
	c.Relayed(100, 0)

	if c.BytesToRemote() != 1124 {
		t.Errorf("to remote = %d, want 1124", c.BytesToRemote())
	}
	if c.BytesToLocal() != 512 {
		t.Errorf("to local = %d, want 512", c.BytesToLocal())
	}
}

func TestCollector_RoundsAndKeepAlive(t *testing.T) {
	c := New()
	c.RoundStarted()
	c.RoundStarted()
	c.RecordKeepAlive()

	if c.Rounds() != 2 {
		t.Errorf("rounds = %d, want 2", c.Rounds())
	}
	snap := c.Snapshot()
	if snap.KeepAlives != 1 || snap.LastKeepAlive == "" {
		t.Errorf("keepalive snapshot = %d %q", snap.KeepAlives, snap.LastKeepAlive)
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if msg := c.Snapshot().LastErrorMessage; msg != "second error" {
		t.Errorf("last error = %q", msg)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.Relayed(42, 7)

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON sessions = %d", snap.SessionsActive)
	}
	if snap.BytesToRemote != 42 || snap.BytesToLocal != 7 {
		t.Errorf("JSON bytes = %d/%d", snap.BytesToRemote, snap.BytesToLocal)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ConnectionOpened()
			c.Relayed(10, 10)
			c.ConnectionClosed()
		}()
	}
	wg.Wait()

	if c.ActiveConnections() != 0 || c.TotalConnections() != 50 {
		t.Errorf("active=%d total=%d", c.ActiveConnections(), c.TotalConnections())
	}
	if c.BytesToRemote() != 500 {
		t.Errorf("bytes = %d, want 500", c.BytesToRemote())
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.RoundStarted()
	c.SessionOpened()
	c.SessionClosed()
	c.ForwardBound()
	c.ForwardClosed()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.Relayed(100, 100)
	c.RecordKeepAlive()
	c.RecordError("test")

	if c.ActiveConnections() != 0 || c.ActiveSessions() != 0 || c.ActiveForwards() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.BytesToRemote() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.Snapshot() != (Snapshot{}) {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
