// Package errors provides domain-specific error types for localforward.
//
// These types carry structured context (operation, host, local and
// remote endpoints, retryability) so the orchestrator can decide how far
// a failure propagates and the console can print a full diagnostic.
package errors

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrInputClosed is returned when the controlling terminal reaches
	// EOF while a prompt is waiting.  It is a termination signal, not a
	// failure.
	ErrInputClosed = errors.New("input closed")

	// ErrInterrupted is returned when the user presses Ctrl-C while
	// the terminal is in raw mode.
	ErrInterrupted = errors.New("input interrupted")

	// ErrNoFreePort means the whole auto-assign range is in use.
	ErrNoFreePort = errors.New("no free local port in range")

	ErrSessionClosed = errors.New("session is closed")
	ErrForwardClosed = errors.New("forward is closed")
	ErrAuthFailed    = errors.New("authentication failed")
)

// ── Structured error types ───────────────────────────────────────────

// SSHError represents a per-host failure while opening a session.
type SSHError struct {
	Op   string // "dial", "handshake", "auth", "key", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ForwardError represents a per-forward failure: the local listener
// could not be bound, or the port could not be chosen.
type ForwardError struct {
	Local     string // local bind address ("127.0.0.1:0" when auto)
	Remote    string // remote target host:port
	Via       string // SSH host:port carrying the forward
	Err       error
	Retryable bool // a fresh port may succeed (address in use)
}

func (e *ForwardError) Error() string {
	s := fmt.Sprintf("forward %s -> %s via %s: %v", e.Local, e.Remote, e.Via, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *ForwardError) Unwrap() error { return e.Err }

// ConfigError represents a missing, unreadable, or invalid
// configuration.  It is the only error that aborts startup.
type ConfigError struct {
	Path    string      // config file, empty for CLI/env values
	Field   string      // offending key, e.g. "proxy_config[1].host"
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
	Err     error       // underlying cause (optional)
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Field != "" {
		msg += ": " + e.Field
		if e.Value != nil {
			msg += fmt.Sprintf("=%v", e.Value)
		}
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// WrapForward creates a ForwardError, detecting retryability from the
// underlying error.
func WrapForward(local, remote, via string, err error) *ForwardError {
	return &ForwardError{
		Local:     local,
		Remote:    remote,
		Via:       via,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying with a new port.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *ForwardError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return classifyRetryable(err)
}

// IsTermination reports whether err means the operator asked to stop
// (EOF or Ctrl-C on the terminal).
func IsTermination(err error) bool {
	return errors.Is(err, ErrInputClosed) || errors.Is(err, ErrInterrupted)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	// A port taken between scan and bind.
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
