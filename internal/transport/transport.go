// Package transport provides connection establishment for control
// sessions.  Dialers handle the "how" of reaching the device (plain TCP
// or SSH-tunnelled) and WSConn layers websocket framing on top, so the
// session layer only ever sees whole text and binary messages.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
