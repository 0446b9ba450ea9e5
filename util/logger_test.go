package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(3) // debug level
	l.SetOutput(&buf)

	l.Error("e")
	l.Warn("w")
	l.Info("i")
	l.Verbose("v")
	l.Debug("d")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), output)
	}

	wantPrefixes := []string{"[ERR]", "[WRN]", "[INF]", "[VRB]", "[DBG]"}
	for i, prefix := range wantPrefixes {
		if !strings.Contains(lines[i], prefix) {
			t.Errorf("line %d %q missing prefix %q", i, lines[i], prefix)
		}
	}
}

func TestLogger_Verbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		want      []string
	}{
		{0, []string{"[ERR] lost"}},
		{1, []string{"[ERR] lost", "[WRN] retrying", "[INF] connected"}},
		{2, []string{"[ERR] lost", "[WRN] retrying", "[INF] connected", "[VRB] bridged"}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l := NewLogger(tt.verbosity)
		l.SetOutput(&buf)

		l.Error("lost")
		l.Warn("retrying")
		l.Info("connected")
		l.Verbose("bridged")
		l.Debug("keepalive")

		got := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("verbosity %d: got %q, want %q", tt.verbosity, got, tt.want)
		}
	}
}

func TestLogger_Timestamps(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(3) // debug turns timestamps on
	l.SetOutput(&buf)

	l.Info("test")

	output := buf.String()
	// Timestamp format is "HH:MM:SS.mmm"
	if !strings.Contains(output, ":") || len(output) < 15 {
		t.Errorf("expected timestamp prefix, got %q", output)
	}
}

func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)

	l.Named("orchestrator").Named("forward").Info("bound %d", 50000)

	want := "[INF] orchestrator.forward: bound 50000\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLogger_NamedSharesOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&first)
	child := l.Named("tunnel")

	// Redirecting the parent redirects the child as well.
	l.SetOutput(&second)
	child.Error("boom")

	if first.Len() != 0 {
		t.Errorf("old output should be unused, got %q", first.String())
	}
	if !strings.Contains(second.String(), "tunnel: boom") {
		t.Errorf("child output missing, got %q", second.String())
	}
}
