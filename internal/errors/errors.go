// Package errors provides domain-specific error types for fluxctl.
//
// These types carry structured context (operation, command, session
// state, error source) that helps callers decide how to handle failures
// and provides better diagnostics than plain string wrapping.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("session is closed")
	ErrTimeout         = errors.New("operation timed out")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")

	// Local protocol violations.
	ErrBufferFull   = errors.New("buffer full")
	ErrBrokenStream = errors.New("broken stream")
	ErrNoReceiver   = errors.New("binary frame without an open receiver")
	ErrEmptyQueue   = errors.New("frame received while command queue is empty")
	ErrNoPayload    = errors.New("continue received but command has no file")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "handshake", "write", "read"
	Addr      string // network address or URL involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ProtocolError is a local protocol violation: a binary payload that
// overflows or underflows its declared size, or a frame that cannot be
// attributed to any command.
type ProtocolError struct {
	Op  string // "feed", "finalize", "dispatch"
	Err error  // one of the ErrBufferFull family of sentinels
	Msg string // detail, e.g. sizes involved
}

func (e *ProtocolError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("protocol %s: %v (%s)", e.Op, e.Err, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InvalidStateError is returned when a command is submitted while the
// session is not connected.  Nothing in the session is mutated.
type InvalidStateError struct {
	Command string
	State   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("can not send command %q because connection status is %q",
		e.Command, e.State)
}

// Is lets errors.Is(err, ErrNotConnected) match.
func (e *InvalidStateError) Is(target error) bool { return target == ErrNotConnected }

// RemoteError is an "error" status reported by the device for one
// command.  The session stays open.
type RemoteError struct {
	Command string
	Errors  []string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, strings.Join(e.Errors, " "))
}

// Source identifies where a fatal error was raised.
type Source string

const (
	SourceRemote Source = "REMOTE"
	SourceLocal  Source = "LOCAL"
)

// FatalError terminates the session.  Command is empty when the fatal
// happened during the connecting stage.
type FatalError struct {
	Source  Source
	Command string
	Errors  []string
}

func (e *FatalError) Error() string {
	s := fmt.Sprintf("fatal (%s)", e.Source)
	if e.Command != "" {
		s += fmt.Sprintf(" on %q", e.Command)
	}
	return s + ": " + strings.Join(e.Errors, " ")
}

// Is lets errors.Is(err, ErrClosed) match.
func (e *FatalError) Is(target error) bool { return target == ErrClosed }

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Protocol creates a ProtocolError.
func Protocol(op string, err error, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Op: op, Err: err, Msg: fmt.Sprintf(format, args...)}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsFatal reports whether err tore the session down.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true
		}
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
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

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
