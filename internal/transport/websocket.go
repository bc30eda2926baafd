package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/session"
)

// Defaults for WSOptions zero values.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseGrace       = 2 * time.Second
)

// WSOptions tunes a websocket connection.
type WSOptions struct {
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound message (0 = none).
	WriteTimeout time.Duration
	// CloseGrace is how long Close waits for the peer's close frame
	// before the read side gives up.
	CloseGrace time.Duration
}

// WSConn adapts a gorilla websocket connection to session.FrameConn.
// ReadFrame must only be called from one goroutine and the Write
// methods from one other; Close may be called from anywhere.
type WSConn struct {
	ws      *websocket.Conn
	opts    WSOptions
	closing atomic.Bool
	once    sync.Once
}

// NewWSConn wraps an established websocket connection.
func NewWSConn(ws *websocket.Conn, opts WSOptions) *WSConn {
	if opts.CloseGrace == 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	return &WSConn{ws: ws, opts: opts}
}

// DialWebSocket opens a websocket to rawURL, using d for the underlying
// TCP connection.  A handshake rejected with a 4xx status is not
// retryable.
func DialWebSocket(ctx context.Context, d Dialer, rawURL string, opts WSOptions) (*WSConn, error) {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	wd := websocket.Dialer{
		NetDialContext:   d.Dial,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	ws, resp, err := wd.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &ncerr.NetworkError{
				Op:        "handshake",
				Addr:      rawURL,
				Err:       fmt.Errorf("%w: HTTP %d", err, resp.StatusCode),
				Retryable: resp.StatusCode >= 500,
			}
		}
		return nil, ncerr.Wrap("dial", rawURL, err)
	}
	return NewWSConn(ws, opts), nil
}

// ReadFrame returns the next text or binary message.  After a local
// Close it reports a normal closure even if the peer never answered.
func (c *WSConn) ReadFrame() (session.Frame, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		c.ws.Close()
		if c.closing.Load() && !isCloseError(err) {
			return session.Frame{}, &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed locally"}
		}
		return session.Frame{}, err
	}
	return session.Frame{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

// WriteText sends one text message.
func (c *WSConn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// WriteBinary sends one binary message.
func (c *WSConn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *WSConn) write(mt int, data []byte) error {
	if c.closing.Load() {
		return ncerr.ErrClosed
	}
	if c.opts.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.ws.WriteMessage(mt, data)
}

// Close sends a normal-closure frame and bounds how long the reader
// waits for the peer's reply.  Only the first call has any effect.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		c.closing.Store(true)
		deadline := time.Now().Add(c.opts.CloseGrace)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		c.ws.SetReadDeadline(deadline)
		if err == websocket.ErrCloseSent {
			err = nil
		}
	})
	return err
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *WSConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func isCloseError(err error) bool {
	_, ok := err.(*websocket.CloseError)
	return ok
}
