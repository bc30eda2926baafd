// Package session implements the client side of the device control
// protocol: the connection state machine, the one-at-a-time command
// queue, binary download reassembly, and file upload streaming.
//
// A Session is not safe for concurrent use.  Every method, and every
// callback it invokes, runs on a single goroutine; Runner provides that
// goroutine for a live connection.  Callbacks receive the Session and
// may submit further commands through it directly.
package session

import (
	"github.com/google/uuid"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/metrics"
	"fluxctl/internal/protocol"
	"fluxctl/util"
)

// Frame is one websocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn is the outbound half of a message-oriented connection.
type Conn interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	Close() error
}

// FrameConn is a full-duplex message-oriented connection.  ReadFrame
// blocks until the next message or until the connection closes.
type FrameConn interface {
	Conn
	ReadFrame() (Frame, error)
}

// Session is one control connection to a device.
type Session struct {
	id         string
	remote     string
	conn       Conn
	credential string
	handlers   Handlers

	state     State
	queue     commandQueue
	awaiting  bool
	counter   int
	rawMode   bool
	receivers []*binaryReceiver
	extra     map[string][]protocol.Payload

	logger    *util.Logger
	metrics   *metrics.Collector
	validator *protocol.Validator
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.  A session id field is added to it.
func WithLogger(l *util.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics attaches a collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Session) { s.metrics = m }
}

// WithValidator enables schema checks on inbound text frames.  Frames
// that fail are logged and still dispatched.
func WithValidator(v *protocol.Validator) Option {
	return func(s *Session) { s.validator = v }
}

// WithID overrides the random session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithRemote records the endpoint address used in error messages.
func WithRemote(addr string) Option {
	return func(s *Session) { s.remote = addr }
}

// New creates a Session in the INIT state.  credential is sent as the
// first text frame once the socket opens.
func New(conn Conn, credential string, h Handlers, opts ...Option) *Session {
	s := &Session{
		conn:       conn,
		credential: credential,
		handlers:   h,
		state:      StateInit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	if s.logger == nil {
		s.logger = util.NewLogger(int(util.LogQuiet))
	}
	s.logger = s.logger.WithField("session", shortID(s.id))
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ── Accessors ────────────────────────────────────────────────────────

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Counter returns how many queued commands have been dispatched.
// Raw-mode bypass sends are not counted.
func (s *Session) Counter() int { return s.counter }

// IsBusy reports whether a dispatched command is awaiting its response.
func (s *Session) IsBusy() bool { return s.awaiting }

// RawMode reports whether the device is in raw passthrough mode.
func (s *Session) RawMode() bool { return s.rawMode }

// Pending returns the number of queued commands, including the one in
// flight.
func (s *Session) Pending() int { return s.queue.len() }

// Logger returns the session's logger.
func (s *Session) Logger() *util.Logger { return s.logger }

// ── Lifecycle ────────────────────────────────────────────────────────

// HandleOpen must be called once the socket is open.  It sends the
// credential and moves to CONNECTING.
func (s *Session) HandleOpen() error {
	if s.state != StateInit {
		return &ncerr.InvalidStateError{Command: "open", State: s.state.String()}
	}
	if err := s.writeText(s.credential); err != nil {
		return err
	}
	s.state = StateConnecting
	s.logger.Verbose("credential sent, waiting for device")
	return nil
}

// HandleClose must be called once when the socket reports closure.
// Later calls are ignored.  Queued commands are dropped without
// callbacks.
func (s *Session) HandleClose(ev CloseEvent) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if n := s.queue.len(); n > 0 {
		s.logger.Verbose("closed with %d command(s) outstanding", n)
	}
	s.receivers = nil
	s.logger.Verbose("connection closed (code=%d)", ev.Code)
	if s.handlers.OnClose != nil {
		s.handlers.OnClose(s, ev)
	}
}

// Close starts a local shutdown.  It is idempotent; the session reaches
// CLOSED when the socket reports closure.
func (s *Session) Close() error {
	switch s.state {
	case StateClosed, StateDisconnecting:
		return nil
	}
	s.state = StateDisconnecting
	return s.conn.Close()
}

// ── Submission ───────────────────────────────────────────────────────

// Submit queues cmd and dispatches it when the connection is idle.  In
// raw mode every command except "task quit" and "ping" is written
// immediately, bypassing the queue, and no callbacks fire for it.
func (s *Session) Submit(cmd string, opts Options) error {
	if s.state != StateConnected {
		return &ncerr.InvalidStateError{Command: cmd, State: s.state.String()}
	}
	if s.bypasses(cmd) {
		s.metrics.RawCommandSent()
		return s.writeText(cmd)
	}
	s.queue.push(&pendingCommand{text: cmd, opts: opts})
	return s.fire()
}

// SubmitFunc is shorthand for Submit with only a success callback.
func (s *Session) SubmitFunc(cmd string, onSuccess func(s *Session, cmd string, result protocol.Payload, data interface{})) error {
	return s.Submit(cmd, Options{OnSuccess: onSuccess})
}

func (s *Session) bypasses(cmd string) bool {
	return s.rawMode && cmd != protocol.QuitCommand && cmd != protocol.PingCommand
}

// fire dispatches the queue head if nothing is in flight.
func (s *Session) fire() error {
	if s.awaiting || s.state != StateConnected {
		return nil
	}
	head := s.queue.head()
	if head == nil {
		return nil
	}
	s.counter++
	s.awaiting = true
	s.metrics.CommandSent()
	s.logger.Debug("dispatch #%d %q", s.counter, head.text)
	return s.writeText(head.text)
}

// ── Wire ─────────────────────────────────────────────────────────────

func (s *Session) writeText(text string) error {
	if err := s.conn.WriteText([]byte(text)); err != nil {
		s.metrics.RecordError(err.Error())
		return ncerr.Wrap("write", s.remote, err)
	}
	s.metrics.FrameSent(len(text))
	return nil
}

func (s *Session) writeBinary(data []byte) error {
	if err := s.conn.WriteBinary(data); err != nil {
		s.metrics.RecordError(err.Error())
		return ncerr.Wrap("write", s.remote, err)
	}
	s.metrics.FrameSent(len(data))
	return nil
}
