// Package protocol holds the wire-level vocabulary of the device control
// channel: the control endpoint, fixed constants, the status values a
// device may send, and decoding of inbound JSON frames.
//
// Nothing here may change without breaking interoperability with
// deployed device firmware.
package protocol

import (
	"net/url"
)

const (
	// ControlPath is the websocket path prefix; the device id follows it.
	ControlPath = "/ws/control/"

	// UploadChunkSize is the size of every outbound upload chunk except
	// possibly the last.
	UploadChunkSize = 3984

	// QuitCommand and PingCommand are exempt from the raw-mode bypass.
	QuitCommand = "task quit"
	PingCommand = "ping"

	// RawTask is the "task" value that switches a session to raw mode.
	RawTask = "raw"
)

// ControlURL returns ws://<host>/ws/control/<deviceID>.
func ControlURL(host, deviceID string) string {
	u := url.URL{Scheme: "ws", Host: host, Path: ControlPath + deviceID}
	return u.String()
}

// Status is the discriminator of an inbound JSON frame.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusFatal      Status = "fatal"
	StatusOK         Status = "ok"
	StatusPong       Status = "pong"
	StatusError      Status = "error"
	StatusContinue   Status = "continue"
	StatusUploading  Status = "uploading"
	StatusBinary     Status = "binary"
	StatusTransfer   Status = "transfer"
	StatusRaw        Status = "raw"
)

// KnownStatuses lists every status with dedicated handling.  Anything
// else is an auxiliary notice.
func KnownStatuses() []Status {
	return []Status{
		StatusConnecting, StatusConnected, StatusFatal,
		StatusOK, StatusPong, StatusError, StatusContinue,
		StatusUploading, StatusBinary, StatusTransfer, StatusRaw,
	}
}

// IsKnown reports whether s is one of [KnownStatuses].
func (s Status) IsKnown() bool {
	for _, k := range KnownStatuses() {
		if s == k {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s completes the command at the head of
// the queue.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusOK, StatusPong, StatusError, StatusFatal:
		return true
	}
	return false
}
