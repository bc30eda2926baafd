package session

import (
	"io"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/protocol"
)

// statusHandler reacts to one status frame aimed at the queue head.
type statusHandler func(s *Session, cmd *pendingCommand, p protocol.Payload) error

var statusHandlers = map[protocol.Status]statusHandler{
	protocol.StatusOK:        (*Session).onSuccess,
	protocol.StatusPong:      (*Session).onSuccess,
	protocol.StatusError:     (*Session).onError,
	protocol.StatusFatal:     (*Session).onFatal,
	protocol.StatusContinue:  (*Session).onContinue,
	protocol.StatusUploading: (*Session).onUploading,
	protocol.StatusBinary:    (*Session).onBinary,
	protocol.StatusTransfer:  (*Session).onTransfer,
}

// HandleMessage routes one inbound frame.  A returned error is local
// and informational: the session stays usable unless a fatal callback
// was delivered.
func (s *Session) HandleMessage(f Frame) error {
	s.metrics.FrameReceived(len(f.Data))

	switch s.state {
	case StateInit, StateClosed:
		s.logger.Debug("drop frame in state %s", s.state)
		return nil
	case StateConnecting:
		return s.handleConnecting(f)
	}

	if s.queue.len() == 0 {
		return s.handleIdle(f)
	}
	if f.Binary {
		return s.feed(f.Data)
	}

	p, repaired, err := protocol.Parse(f.Data)
	if err != nil {
		s.logger.Warn("unhandled response %q: %v", truncate(f.Data), err)
		s.metrics.RecordError(err.Error())
		return ncerr.Protocol("parse", err, "discarded text frame")
	}
	if repaired {
		s.logger.Debug("repaired NaN in response")
	}
	s.validate(p)

	head := s.queue.head()
	h, ok := statusHandlers[p.Status()]
	if !ok {
		h = (*Session).onNotice
	}
	if err := h(s, head, p); err != nil {
		return err
	}
	return s.fire()
}

func (s *Session) handleConnecting(f Frame) error {
	if f.Binary {
		s.localFatal("", []string{"unexpected binary frame while connecting"})
		return ncerr.Protocol("connect", ncerr.ErrClosed, "binary frame while connecting")
	}
	p, err := protocol.Decode(f.Data)
	if err != nil {
		s.localFatal("", []string{err.Error()})
		return ncerr.Protocol("connect", err, "invalid handshake frame")
	}
	s.validate(p)

	switch p.Status() {
	case protocol.StatusConnecting:
		stage, _ := p.String("stage")
		s.logger.Verbose("connecting: %s", stage)
		if s.handlers.OnConnecting != nil {
			s.handlers.OnConnecting(s, stage)
		}
	case protocol.StatusConnected:
		s.state = StateConnected
		s.metrics.Connected()
		s.logger.Info("connected")
		if s.handlers.OnConnected != nil {
			s.handlers.OnConnected(s)
		}
		return s.fire()
	case protocol.StatusFatal:
		errs := protocol.FatalErrorList(p["error"])
		s.logger.Error("device refused connection: %v", errs)
		s.Close()
		if s.handlers.OnFatal != nil {
			s.handlers.OnFatal(s, ncerr.SourceRemote, "", errs)
		}
	default:
		s.logger.Warn("unhandled status %q while connecting", p.Status())
	}
	return nil
}

// handleIdle handles frames that arrive with no command queued.  Only
// raw output is meaningful there.
func (s *Session) handleIdle(f Frame) error {
	if f.Binary {
		s.logger.Debug("drop %d byte binary frame: %v", len(f.Data), ncerr.ErrEmptyQueue)
		return nil
	}
	p, _, err := protocol.Parse(f.Data)
	if err != nil {
		s.logger.Warn("unhandled frame %q: %v", truncate(f.Data), err)
		return ncerr.Protocol("parse", err, "discarded idle frame")
	}
	if p.Status() != protocol.StatusRaw {
		s.logger.Debug("drop %q frame: %v", p.Status(), ncerr.ErrEmptyQueue)
		return nil
	}
	text, _ := p.String("text")
	if s.handlers.OnRaw != nil {
		s.handlers.OnRaw(s, text)
	}
	return nil
}

// ── Terminal statuses ────────────────────────────────────────────────

func (s *Session) complete() {
	s.queue.pop()
	s.awaiting = false
}

func (s *Session) onSuccess(cmd *pendingCommand, p protocol.Payload) error {
	s.complete()

	bins, err := s.finalizeReceivers()
	if err != nil {
		s.logger.Error("%q: %v", cmd.text, err)
		s.metrics.CommandFailed()
		s.extra = nil
		s.reportError(cmd, []string{err.Error()})
		return nil
	}
	if len(bins) > 0 {
		p["binaries"] = bins
	}
	for status, items := range s.extra {
		p[status] = items
	}
	s.extra = nil

	if task, ok := p["task"]; ok {
		name, _ := task.(string)
		s.rawMode = name == protocol.RawTask
		s.logger.Verbose("raw mode %v", s.rawMode)
	}

	s.metrics.CommandSucceeded()
	if cmd.opts.OnSuccess != nil {
		cmd.opts.OnSuccess(s, cmd.text, p, cmd.opts.Data)
	}
	return nil
}

func (s *Session) onError(cmd *pendingCommand, p protocol.Payload) error {
	s.complete()
	s.dropReceivers()
	s.metrics.CommandFailed()
	s.reportError(cmd, protocol.ErrorList(p["error"]))
	return nil
}

func (s *Session) onFatal(cmd *pendingCommand, p protocol.Payload) error {
	s.complete()
	s.dropReceivers()
	s.metrics.CommandFailed()
	errs := protocol.FatalErrorList(p["error"])
	s.logger.Error("fatal on %q: %v", cmd.text, errs)
	s.Close()
	if s.handlers.OnFatal != nil {
		s.handlers.OnFatal(s, ncerr.SourceRemote, cmd.text, errs)
	}
	return nil
}

func (s *Session) reportError(cmd *pendingCommand, errs []string) {
	switch {
	case cmd.opts.OnError != nil:
		cmd.opts.OnError(s, cmd.text, errs, cmd.opts.Data)
	case s.handlers.OnError != nil:
		s.handlers.OnError(s, cmd.text, errs, cmd.opts.Data)
	default:
		s.logger.Warn("%q failed: %v", cmd.text, errs)
	}
}

func (s *Session) localFatal(cmd string, errs []string) {
	s.dropReceivers()
	s.Close()
	if s.handlers.OnFatal != nil {
		s.handlers.OnFatal(s, ncerr.SourceLocal, cmd, errs)
	}
}

// ── Progress statuses ────────────────────────────────────────────────

func (s *Session) onContinue(cmd *pendingCommand, _ protocol.Payload) error {
	if cmd.opts.File == nil {
		s.logger.Warn("%q: device asked for upload data: %v", cmd.text, ncerr.ErrNoPayload)
		return nil
	}
	data, err := io.ReadAll(cmd.opts.File)
	if err != nil {
		s.metrics.RecordError(err.Error())
		return ncerr.Protocol("upload", err, "read payload for %q", cmd.text)
	}
	cmd.amount = int64(len(data))
	s.metrics.UploadStarted()
	if cmd.opts.OnUploadBegin != nil {
		cmd.opts.OnUploadBegin(s, cmd.amount, cmd.opts.Data)
	}
	n, err := streamUpload(s.writeBinary, data, protocol.UploadChunkSize)
	s.logger.Verbose("%q: streamed %d/%d bytes", cmd.text, n, len(data))
	return err
}

func (s *Session) onUploading(cmd *pendingCommand, p protocol.Payload) error {
	if amount, ok := p.Int("amount"); ok && amount != 0 {
		cmd.amount = amount
	}
	sent, _ := p.Int("sent")
	if cmd.opts.OnUploading != nil {
		cmd.opts.OnUploading(s, sent, cmd.amount, cmd.opts.Data)
	}
	return nil
}

func (s *Session) onBinary(cmd *pendingCommand, p protocol.Payload) error {
	mime, _ := p.String("mimetype")
	size := p.Size()
	s.receivers = append(s.receivers, newBinaryReceiver(mime, size))
	s.logger.Debug("%q: expecting %d bytes of %s", cmd.text, size, mime)
	if cmd.opts.OnDownloadBegin != nil {
		cmd.opts.OnDownloadBegin(s, size, cmd.opts.Data)
	}
	return nil
}

func (s *Session) onTransfer(cmd *pendingCommand, p protocol.Payload) error {
	completed, hasCompleted := p.Int("completed")
	size, _ := p.Int("size")
	if hasCompleted && completed == 0 && cmd.opts.OnTransferBegin != nil {
		cmd.opts.OnTransferBegin(s, size, cmd.opts.Data)
	}
	if cmd.opts.OnTransfer != nil {
		cmd.opts.OnTransfer(s, completed, size, cmd.opts.Data)
	}
	return nil
}

// onNotice handles statuses the protocol does not define: a command's
// own handler when it registered one, otherwise the payload is held for
// the next successful result.
func (s *Session) onNotice(cmd *pendingCommand, p protocol.Payload) error {
	status := string(p.Status())
	if status == "" {
		s.logger.Warn("%q: drop frame without status (%d keys)", cmd.text, len(p))
		return nil
	}
	if h, ok := cmd.opts.OnStatus[status]; ok {
		h(s, cmd.text, p, cmd.opts.Data)
		return nil
	}
	if s.extra == nil {
		s.extra = make(map[string][]protocol.Payload)
	}
	s.extra[status] = append(s.extra[status], p.Without("status"))
	return nil
}

// ── Binary streams ───────────────────────────────────────────────────

// feed routes a binary frame to the most recently opened receiver.
func (s *Session) feed(chunk []byte) error {
	if len(s.receivers) == 0 {
		s.logger.Warn("drop %d byte binary frame: %v", len(chunk), ncerr.ErrNoReceiver)
		return nil
	}
	r := s.receivers[len(s.receivers)-1]
	if err := r.Feed(chunk); err != nil {
		s.logger.Error("%v", err)
		s.metrics.RecordError(err.Error())
		return err
	}
	if cmd := s.queue.head(); cmd != nil && cmd.opts.OnDownloading != nil {
		cmd.opts.OnDownloading(s, r.Buffered(), r.Size(), cmd.opts.Data)
	}
	return nil
}

// finalizeReceivers assembles every open receiver in opening order and
// clears the list.
func (s *Session) finalizeReceivers() ([]protocol.Binary, error) {
	if len(s.receivers) == 0 {
		return nil, nil
	}
	receivers := s.receivers
	s.receivers = nil
	bins := make([]protocol.Binary, 0, len(receivers))
	for _, r := range receivers {
		b, err := r.Finalize()
		if err != nil {
			return nil, err
		}
		s.metrics.DownloadCompleted()
		bins = append(bins, b)
	}
	return bins, nil
}

func (s *Session) dropReceivers() {
	if n := len(s.receivers); n > 0 {
		s.logger.Debug("discard %d open binary stream(s)", n)
	}
	s.receivers = nil
}

func (s *Session) validate(p protocol.Payload) {
	if err := s.validator.Validate(p); err != nil {
		s.logger.Warn("malformed %q frame: %v", p.Status(), err)
	}
}

func truncate(b []byte) string {
	const limit = 120
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
