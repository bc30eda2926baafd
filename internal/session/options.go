package session

import (
	"io"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/protocol"
)

// Options carries the per-command callbacks.  Every callback receives
// the Session it runs on and the opaque Data given at submission; they
// all run on the session's event loop and must not block.
type Options struct {
	OnSuccess func(s *Session, cmd string, result protocol.Payload, data interface{})
	OnError   func(s *Session, cmd string, errs []string, data interface{})

	// OnUploading may report an amount that differs from the size given
	// to OnUploadBegin: the device refines it once it knows the real
	// size.  sent == amount means the upload is complete.
	OnUploadBegin func(s *Session, size int64, data interface{})
	OnUploading   func(s *Session, sent, amount int64, data interface{})

	OnDownloadBegin func(s *Session, size int64, data interface{})
	OnDownloading   func(s *Session, received, size int64, data interface{})

	OnTransferBegin func(s *Session, size int64, data interface{})
	OnTransfer      func(s *Session, completed, size int64, data interface{})

	// OnStatus handles auxiliary statuses by name.  Statuses with no
	// entry here are buffered and merged into the next ok/pong result.
	OnStatus map[string]StatusFunc

	// File is streamed to the device when it answers "continue".
	File io.Reader

	Data interface{}
}

// StatusFunc handles an auxiliary status frame; payload still carries
// its "status" field.
type StatusFunc func(s *Session, cmd string, payload protocol.Payload, data interface{})

// Handlers are session-level observers.
type Handlers struct {
	OnConnecting func(s *Session, stage string)
	OnConnected  func(s *Session)

	// OnError receives "error" responses of commands that registered no
	// OnError of their own.
	OnError func(s *Session, cmd string, errs []string, data interface{})

	// OnFatal fires once the session is being torn down.  cmd is empty
	// when the failure happened during the connecting stage.
	OnFatal func(s *Session, source ncerr.Source, cmd string, errs []string)

	OnClose func(s *Session, ev CloseEvent)

	// OnRaw receives raw-mode output that arrives with no command queued.
	OnRaw func(s *Session, text string)
}

// CloseEvent describes how the socket closed.
type CloseEvent struct {
	Code   int
	Reason string
	Err    error
}
