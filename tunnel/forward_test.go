package tunnel

import (
	"io"
	"net"
	"testing"
	"time"

	"localforward/internal/metrics"
	"localforward/internal/sshtest"
	"localforward/util"
)

// netDialer dials directly, standing in for an SSH client.
type netDialer struct{}

func (netDialer) Dial(network, addr string) (net.Conn, error) {
	return net.DialTimeout(network, addr, 2*time.Second)
}

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

func roundTrip(t *testing.T, addr, msg string) {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	if _, err := io.WriteString(c, msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != msg {
		t.Errorf("echo = %q, want %q", buf, msg)
	}
}

func TestLocalForward_Relays(t *testing.T) {
	host, port := sshtest.EchoServer(t)
	m := metrics.New()
	f := ServeLocalForward(listenLoopback(t), netDialer{}, util.FormatAddr(host, port), "test", quietLogger(), m)
	defer f.Close()

	roundTrip(t, f.LocalAddr().String(), "hello")
	roundTrip(t, f.LocalAddr().String(), "again")

	if m.ActiveForwards() != 1 {
		t.Errorf("active forwards = %d, want 1", m.ActiveForwards())
	}
	if m.TotalConnections() != 2 {
		t.Errorf("connections = %d, want 2", m.TotalConnections())
	}
}

func TestLocalForward_CloseFreesPortAndConns(t *testing.T) {
	host, port := sshtest.EchoServer(t)
	m := metrics.New()
	f := ServeLocalForward(listenLoopback(t), netDialer{}, util.FormatAddr(host, port), "test", quietLogger(), m)
	addr := f.LocalAddr().String()

	// An open relayed connection must not block Close.
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	roundTripConn(t, c, "x")

	done := make(chan error, 1)
	go func() { done <- f.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	// Relayed connection was closed by teardown.
	c.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Error("relayed connection still open after Close")
	}

	// The port can be bound again immediately.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("rebind %s after Close: %v", addr, err)
	}
	ln.Close()

	if err := f.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if m.ActiveForwards() != 0 || m.ActiveConnections() != 0 {
		t.Errorf("active forwards=%d conns=%d after Close", m.ActiveForwards(), m.ActiveConnections())
	}
}

func TestLocalForward_DialFailure(t *testing.T) {
	// Reserve a port and close it so nothing listens there.
	tmp := listenLoopback(t)
	dead := tmp.Addr().String()
	tmp.Close()

	m := metrics.New()
	f := ServeLocalForward(listenLoopback(t), netDialer{}, dead, "test", quietLogger(), m)
	defer f.Close()

	c, err := net.Dial("tcp", f.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Error("expected the local side to be closed when the remote dial fails")
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.ErrorCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if m.ErrorCount() == 0 {
		t.Error("dial failure was not recorded")
	}
}

// replyAfterEOF reads a whole request and answers only once the client
// has half-closed its side.
func replyAfterEOF(t *testing.T) string {
	t.Helper()
	ln := listenLoopback(t)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				req, _ := io.ReadAll(c)
				io.WriteString(c, "pong:"+string(req)) //nolint:errcheck
			}()
		}
	}()
	return ln.Addr().String()
}

func TestLocalForward_HalfCloseKeepsReply(t *testing.T) {
	f := ServeLocalForward(listenLoopback(t), netDialer{}, replyAfterEOF(t), "test", quietLogger(), nil)
	defer f.Close()

	c, err := net.Dial("tcp", f.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	if _, err := io.WriteString(c, "ping"); err != nil {
		t.Fatal(err)
	}
	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(got) != "pong:ping" {
		t.Errorf("reply = %q, want %q", got, "pong:ping")
	}
}

// stalledDialer blocks every Dial until release is closed, then hands
// back one end of a pipe.
type stalledDialer struct {
	entered chan struct{}
	release chan struct{}
	peer    chan net.Conn
}

func newStalledDialer() *stalledDialer {
	return &stalledDialer{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		peer:    make(chan net.Conn, 1),
	}
}

func (d *stalledDialer) Dial(string, string) (net.Conn, error) {
	d.entered <- struct{}{}
	<-d.release
	ours, theirs := net.Pipe()
	d.peer <- theirs
	return ours, nil
}

func TestLocalForward_CloseDoesNotWaitForDial(t *testing.T) {
	d := newStalledDialer()
	m := metrics.New()
	f := ServeLocalForward(listenLoopback(t), d, "blackhole:1", "test", quietLogger(), m)

	c, err := net.Dial("tcp", f.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	select {
	case <-d.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("remote dial never started")
	}

	done := make(chan error, 1)
	go func() { done <- f.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an in-flight remote dial")
	}
	if m.ActiveConnections() != 0 {
		t.Errorf("active connections = %d after Close", m.ActiveConnections())
	}

	// The dial finishing late must not leak its connection.
	close(d.release)
	theirs := <-d.peer
	defer theirs.Close()
	theirs.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := theirs.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("late remote conn read = %v, want EOF after close", err)
	}
}

func roundTripConn(t *testing.T, c net.Conn, msg string) {
	t.Helper()
	c.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	if _, err := io.WriteString(c, msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatal(err)
	}
	c.SetDeadline(time.Time{}) //nolint:errcheck
}
