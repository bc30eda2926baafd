package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"fluxctl/internal/capability"
	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/metrics"
	"fluxctl/internal/protocol"
	"fluxctl/internal/retry"
	"fluxctl/internal/session"
	"fluxctl/internal/transcript"
	"fluxctl/internal/transport"
	"fluxctl/util"
)

// ControlMode dials a device's control socket, waits for it to report
// connected and hands the running session to a capability.
type ControlMode struct {
	Dialer     transport.Dialer
	URL        string
	Credential string
	Capability capability.Capability
	Logger     *util.Logger
	Metrics    *metrics.Collector
	Validator  *protocol.Validator // nil disables frame checks

	Attempts   int           // dial attempts, at least 1
	Timeout    time.Duration // per dial and for the connecting stage
	CloseGrace time.Duration
	RecordPath string // CBOR transcript, empty to disable

	// Backoff overrides the dial retry policy.
	Backoff *retry.Backoff
}

// Plan describes what Run would do, for --dry-run.
func (m *ControlMode) Plan() string {
	var b strings.Builder
	fmt.Fprintf(&b, "url:        %s\n", m.URL)
	fmt.Fprintf(&b, "dialer:     %s\n", describeDialer(m.Dialer))
	fmt.Fprintf(&b, "capability: %s\n", describeCapability(m.Capability))
	fmt.Fprintf(&b, "attempts:   %d\n", m.attempts())
	if m.Timeout > 0 {
		fmt.Fprintf(&b, "timeout:    %s\n", m.Timeout)
	}
	if m.RecordPath != "" {
		fmt.Fprintf(&b, "record:     %s\n", m.RecordPath)
	}
	fmt.Fprintf(&b, "strict:     %v\n", m.Validator != nil)
	return b.String()
}

func (m *ControlMode) attempts() int {
	if m.Attempts < 1 {
		return 1
	}
	return m.Attempts
}

// Run connects, runs the capability and closes the session.  The
// session's own failure (a fatal frame or an abnormal close) wins over
// the capability's error.
func (m *ControlMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	conn, err := m.dial(ctx)
	if err != nil {
		return errors.Wrapf(err, "connect to %s", m.URL)
	}

	var fc session.FrameConn = conn
	if m.RecordPath != "" {
		f, err := os.Create(m.RecordPath)
		if err != nil {
			conn.Close()
			return errors.Wrap(err, "transcript")
		}
		defer f.Close()
		rec := transcript.NewRecorder(conn, f)
		defer func() {
			if err := rec.Err(); err != nil {
				m.Logger.Warn("%v", err)
			}
		}()
		fc = rec
	}

	r := session.NewRunner(fc, m.Credential, m.handlers(),
		session.WithLogger(m.Logger),
		session.WithMetrics(m.Metrics),
		session.WithValidator(m.Validator),
		session.WithRemote(m.URL),
	)
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	if err := m.awaitConnected(ctx, r, runErr); err != nil {
		return errors.Wrap(err, "handshake")
	}

	capErr := m.Capability.Handle(ctx, r)
	if err := r.Close(); err != nil {
		m.Logger.Verbose("close: %v", err)
	}
	err = <-runErr
	m.Logger.Verbose("session metrics:\n%s", m.Metrics.JSON())

	if err != nil {
		return errors.Wrap(err, "session")
	}
	if capErr != nil && !errors.Is(capErr, context.Canceled) {
		return errors.Wrap(capErr, "session")
	}
	return nil
}

func (m *ControlMode) dial(ctx context.Context) (*transport.WSConn, error) {
	b := m.Backoff
	if b == nil {
		b = retry.ForDial(m.attempts())
	}
	b.Notify = func(attempt int, err error, wait time.Duration) {
		m.Logger.Warn("dial attempt %d failed: %v (retrying in %s)", attempt, err, wait.Truncate(time.Millisecond))
	}

	opts := transport.WSOptions{HandshakeTimeout: m.Timeout, CloseGrace: m.CloseGrace}
	var conn *transport.WSConn
	err := b.Do(ctx, func(attempt int) error {
		m.Metrics.DialAttempt()
		m.Logger.Verbose("dialing %s (attempt %d)", m.URL, attempt)
		dctx := ctx
		if m.Timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, m.Timeout)
			defer cancel()
		}
		c, err := transport.DialWebSocket(dctx, m.Dialer, m.URL, opts)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

// awaitConnected blocks until the device reports connected.  On any
// other outcome the session is closed and Run has returned.
func (m *ControlMode) awaitConnected(ctx context.Context, r *session.Runner, runErr <-chan error) error {
	var timeout <-chan time.Time
	if m.Timeout > 0 {
		t := time.NewTimer(m.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-r.Ready():
		m.Logger.Info("connected to %s", m.URL)
		return nil
	case err := <-runErr:
		if err == nil {
			err = ncerr.ErrClosed
		}
		return err
	case <-timeout:
		r.Close()
		<-runErr
		return ncerr.Protocol("connect", ncerr.ErrTimeout, "no connected status within %s", m.Timeout)
	case <-ctx.Done():
		<-runErr
		return ctx.Err()
	}
}

func (m *ControlMode) handlers() session.Handlers {
	h := session.Handlers{
		OnConnecting: func(s *session.Session, stage string) {
			s.Logger().Verbose("connecting: %s", stage)
		},
		OnError: func(s *session.Session, cmd string, errs []string, _ interface{}) {
			s.Logger().Warn("%q: %s", cmd, strings.Join(errs, " "))
		},
		OnFatal: func(s *session.Session, src ncerr.Source, cmd string, errs []string) {
			m.Metrics.RecordError(strings.Join(errs, " "))
			s.Logger().Error("%v", &ncerr.FatalError{Source: src, Command: cmd, Errors: errs})
		},
		OnClose: func(s *session.Session, ev session.CloseEvent) {
			s.Logger().Verbose("socket closed: code=%d %s", ev.Code, ev.Reason)
		},
	}
	if rh, ok := m.Capability.(capability.RawHandler); ok {
		h.OnRaw = rh.OnRaw
	}
	return h
}

func describeDialer(d transport.Dialer) string {
	if s, ok := d.(fmt.Stringer); ok {
		return s.String()
	}
	return "direct tcp"
}

func describeCapability(c capability.Capability) string {
	switch c := c.(type) {
	case *capability.Script:
		return fmt.Sprintf("script (%d commands)", len(c.Commands))
	case *capability.Shell:
		return "shell"
	default:
		return fmt.Sprintf("%T", c)
	}
}
