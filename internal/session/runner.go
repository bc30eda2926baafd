package session

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/protocol"
)

// Runner drives a Session over a live FrameConn.  One goroutine reads
// frames; the loop goroutine started by Run owns the Session and is the
// only writer to the connection.
//
// Runner methods may be called from any goroutine except from inside a
// session callback, which must use the *Session it was given.
type Runner struct {
	sess *Session
	conn FrameConn

	calls chan func()
	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	mu        sync.Mutex
	fatal     *ncerr.FatalError
	closeEv   CloseEvent
	err       error
}

type inbound struct {
	frame Frame
	err   error
}

// NewRunner wraps conn in a new Session.  The handlers in h are chained
// after the runner's own bookkeeping.
func NewRunner(conn FrameConn, credential string, h Handlers, opts ...Option) *Runner {
	r := &Runner{
		conn:  conn,
		calls: make(chan func()),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	user := h
	h.OnConnected = func(s *Session) {
		r.readyOnce.Do(func() { close(r.ready) })
		if user.OnConnected != nil {
			user.OnConnected(s)
		}
	}
	h.OnFatal = func(s *Session, src ncerr.Source, cmd string, errs []string) {
		r.mu.Lock()
		if r.fatal == nil {
			r.fatal = &ncerr.FatalError{Source: src, Command: cmd, Errors: errs}
		}
		r.mu.Unlock()
		if user.OnFatal != nil {
			user.OnFatal(s, src, cmd, errs)
		}
	}
	r.sess = New(conn, credential, h, opts...)
	return r
}

// Session returns the underlying session.  Only touch it from callbacks
// or through Call.
func (r *Runner) Session() *Session { return r.sess }

// Ready is closed once the device reports connected.
func (r *Runner) Ready() <-chan struct{} { return r.ready }

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Err returns the reason the session ended: a *FatalError, a network
// error for an abnormal close, or nil.  Valid after Done is closed.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// CloseEvent returns how the socket closed.  Valid after Done is closed.
func (r *Runner) CloseEvent() CloseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeEv
}

// Run sends the credential and processes frames until the socket
// closes.  Cancelling ctx starts a local close; Run still waits for the
// socket to report closure.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	frames := make(chan inbound)
	go r.readLoop(frames)

	if err := r.sess.HandleOpen(); err != nil {
		r.sess.logger.Error("open: %v", err)
		r.sess.Close()
	}

	cancelled := ctx.Done()
	for {
		select {
		case in := <-frames:
			if in.err != nil {
				ev := closeEventFrom(in.err)
				r.sess.HandleClose(ev)
				return r.finish(ev)
			}
			if err := r.sess.HandleMessage(in.frame); err != nil {
				r.sess.logger.Verbose("%v", err)
			}
		case fn := <-r.calls:
			fn()
		case <-cancelled:
			cancelled = nil
			r.sess.logger.Verbose("context done, closing")
			r.sess.Close()
		}
	}
}

func (r *Runner) readLoop(out chan<- inbound) {
	for {
		f, err := r.conn.ReadFrame()
		if err != nil {
			out <- inbound{err: err}
			return
		}
		out <- inbound{frame: f}
	}
}

func (r *Runner) finish(ev CloseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeEv = ev
	switch {
	case r.fatal != nil:
		r.err = r.fatal
	case ev.Code == websocket.CloseNormalClosure, ev.Code == websocket.CloseGoingAway:
		r.err = nil
	default:
		r.err = ncerr.Wrap("read", r.sess.remote, ev.Err)
	}
	return r.err
}

// Call runs fn on the loop goroutine and returns its error.  It fails
// with ErrClosed once the loop has exited.
func (r *Runner) Call(ctx context.Context, fn func(s *Session) error) error {
	errc := make(chan error, 1)
	select {
	case r.calls <- func() { errc <- fn(r.sess) }:
		return <-errc
	case <-r.done:
		return ncerr.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues cmd from outside the loop.
func (r *Runner) Submit(ctx context.Context, cmd string, opts Options) error {
	return r.Call(ctx, func(s *Session) error { return s.Submit(cmd, opts) })
}

// Exec submits cmd and waits for its terminal response.  An "error"
// response is returned as a *RemoteError; a session torn down while
// waiting yields the session's fatal error or ErrClosed.  Commands sent
// in raw mode return immediately with a nil payload.  When ctx ends
// first the command stays queued and ErrTimeout is returned for a
// deadline.
func (r *Runner) Exec(ctx context.Context, cmd string, opts Options) (protocol.Payload, error) {
	type outcome struct {
		p   protocol.Payload
		err error
	}
	res := make(chan outcome, 1)

	wrapped := opts
	wrapped.OnSuccess = func(s *Session, c string, p protocol.Payload, data interface{}) {
		if opts.OnSuccess != nil {
			opts.OnSuccess(s, c, p, data)
		}
		res <- outcome{p: p}
	}
	wrapped.OnError = func(s *Session, c string, errs []string, data interface{}) {
		if opts.OnError != nil {
			opts.OnError(s, c, errs, data)
		}
		res <- outcome{err: &ncerr.RemoteError{Command: c, Errors: errs}}
	}

	err := r.Call(ctx, func(s *Session) error {
		raw := s.bypasses(cmd)
		if err := s.Submit(cmd, wrapped); err != nil {
			return err
		}
		if raw {
			res <- outcome{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-res:
		return o.p, o.err
	case <-r.done:
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, ncerr.ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ncerr.Protocol("exec", ncerr.ErrTimeout, "%q", cmd)
		}
		return nil, ctx.Err()
	}
}

// Close starts a local close.  It is safe to call more than once and
// after the loop has exited.
func (r *Runner) Close() error {
	err := r.Call(context.Background(), func(s *Session) error { return s.Close() })
	if errors.Is(err, ncerr.ErrClosed) {
		return nil
	}
	return err
}

func closeEventFrom(err error) CloseEvent {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseEvent{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error(), Err: err}
}
