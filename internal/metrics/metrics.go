// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of a control session.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a control session.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	commandsSent      atomic.Int64
	commandsSucceeded atomic.Int64
	commandsFailed    atomic.Int64
	rawCommands       atomic.Int64
	framesIn          atomic.Int64
	framesOut         atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	uploads           atomic.Int64
	downloads         atomic.Int64
	dialAttempts      atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	connectedAt  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Command metrics ──────────────────────────────────────────────────

// CommandSent records a command written to the socket under the
// request/response protocol.
func (c *Collector) CommandSent() {
	if c == nil {
		return
	}
	c.commandsSent.Add(1)
}

// RawCommandSent records a fire-and-forget command in raw mode.
func (c *Collector) RawCommandSent() {
	if c == nil {
		return
	}
	c.rawCommands.Add(1)
}

// CommandSucceeded records an ok/pong terminal response.
func (c *Collector) CommandSucceeded() {
	if c == nil {
		return
	}
	c.commandsSucceeded.Add(1)
}

// CommandFailed records an error/fatal terminal response.
func (c *Collector) CommandFailed() {
	if c == nil {
		return
	}
	c.commandsFailed.Add(1)
}

// CommandsSent returns the number of dispatched commands.
func (c *Collector) CommandsSent() int64 {
	if c == nil {
		return 0
	}
	return c.commandsSent.Load()
}

// ── Frame metrics ────────────────────────────────────────────────────

// FrameReceived records one inbound frame of n bytes.
func (c *Collector) FrameReceived(n int) {
	if c == nil {
		return
	}
	c.framesIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// FrameSent records one outbound frame of n bytes.
func (c *Collector) FrameSent(n int) {
	if c == nil {
		return
	}
	c.framesOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Transfer metrics ─────────────────────────────────────────────────

// UploadStarted records an upload triggered by a "continue" status.
func (c *Collector) UploadStarted() {
	if c == nil {
		return
	}
	c.uploads.Add(1)
}

// DownloadCompleted records a finalized binary payload.
func (c *Collector) DownloadCompleted() {
	if c == nil {
		return
	}
	c.downloads.Add(1)
}

// ── Connection metrics ───────────────────────────────────────────────

// DialAttempt records one attempt to open the socket.
func (c *Collector) DialAttempt() {
	if c == nil {
		return
	}
	c.dialAttempts.Add(1)
}

// Connected records the moment the device reported readiness.
func (c *Collector) Connected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectedAt = time.Now()
	c.mu.Unlock()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	DialAttempts      int64  `json:"dial_attempts"`
	CommandsSent      int64  `json:"commands_sent"`
	CommandsSucceeded int64  `json:"commands_succeeded"`
	CommandsFailed    int64  `json:"commands_failed"`
	RawCommands       int64  `json:"raw_commands"`
	FramesIn          int64  `json:"frames_in"`
	FramesOut         int64  `json:"frames_out"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	Uploads           int64  `json:"uploads"`
	Downloads         int64  `json:"downloads"`
	ErrorsTotal       int64  `json:"errors_total"`
	ConnectedAt       string `json:"connected_at,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		DialAttempts:      c.dialAttempts.Load(),
		CommandsSent:      c.commandsSent.Load(),
		CommandsSucceeded: c.commandsSucceeded.Load(),
		CommandsFailed:    c.commandsFailed.Load(),
		RawCommands:       c.rawCommands.Load(),
		FramesIn:          c.framesIn.Load(),
		FramesOut:         c.framesOut.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		Uploads:           c.uploads.Load(),
		Downloads:         c.downloads.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.connectedAt.IsZero() {
		s.ConnectedAt = c.connectedAt.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
