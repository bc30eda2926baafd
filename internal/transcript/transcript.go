// Package transcript records the frames of a control session to a
// compact CBOR stream and reads them back for inspection.
//
// A transcript is a plain sequence of CBOR-encoded Entry values with no
// header, so a file truncated by a crash is still readable up to the
// last complete entry.
package transcript

import (
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"

	"fluxctl/internal/session"
)

// Direction of a recorded frame relative to the client.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Kind of a recorded frame.
type Kind string

const (
	KindText   Kind = "text"
	KindBinary Kind = "binary"
	KindClose  Kind = "close"
)

// Redacted replaces the credential in recorded output.
const Redacted = "<redacted>"

// Entry is one recorded frame.
type Entry struct {
	Seq  uint64    `cbor:"1,keyasint"`
	Time time.Time `cbor:"2,keyasint"`
	Dir  Direction `cbor:"3,keyasint"`
	Kind Kind      `cbor:"4,keyasint"`
	Data []byte    `cbor:"5,keyasint,omitempty"`
	Err  string    `cbor:"6,keyasint,omitempty"`
}

// String renders e as a single log-style line.  Binary payloads are
// summarized by size.
func (e Entry) String() string {
	arrow := "<"
	if e.Dir == Out {
		arrow = ">"
	}
	ts := e.Time.Format("15:04:05.000")
	switch e.Kind {
	case KindBinary:
		return fmt.Sprintf("%04d %s %s binary %d bytes", e.Seq, ts, arrow, len(e.Data))
	case KindClose:
		if e.Err != "" {
			return fmt.Sprintf("%04d %s %s close: %s", e.Seq, ts, arrow, e.Err)
		}
		return fmt.Sprintf("%04d %s %s close", e.Seq, ts, arrow)
	default:
		text := string(e.Data)
		if !utf8.ValidString(text) {
			text = fmt.Sprintf("%q", e.Data)
		}
		return fmt.Sprintf("%04d %s %s %s", e.Seq, ts, arrow, text)
	}
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Recorder wraps a session.FrameConn and appends every frame that
// passes through it to w.  The first outbound text frame is the
// credential and is stored as Redacted.
//
// Recording failures never break the session: the first one is kept
// and reported by Err, and later frames are not recorded.
type Recorder struct {
	conn session.FrameConn
	enc  *cbor.Encoder
	now  func() time.Time

	mu       sync.Mutex
	seq      uint64
	sentCred bool
	err      error
}

// NewRecorder returns a Recorder writing to w.
func NewRecorder(conn session.FrameConn, w io.Writer) *Recorder {
	return &Recorder{conn: conn, enc: encMode.NewEncoder(w), now: time.Now}
}

// Err returns the first recording error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) record(dir Direction, kind Kind, data []byte, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if dir == Out && kind == KindText && !r.sentCred {
		r.sentCred = true
		data = []byte(Redacted)
	}
	r.seq++
	e := Entry{Seq: r.seq, Time: r.now(), Dir: dir, Kind: kind, Data: data, Err: errText}
	if err := r.enc.Encode(e); err != nil {
		r.err = fmt.Errorf("transcript: %w", err)
	}
}

// ReadFrame reads from the wrapped connection and records the result.
func (r *Recorder) ReadFrame() (session.Frame, error) {
	f, err := r.conn.ReadFrame()
	if err != nil {
		r.record(In, KindClose, nil, err.Error())
		return f, err
	}
	kind := KindText
	if f.Binary {
		kind = KindBinary
	}
	r.record(In, kind, f.Data, "")
	return f, nil
}

// WriteText records and forwards a text frame.
func (r *Recorder) WriteText(data []byte) error {
	r.record(Out, KindText, data, "")
	return r.conn.WriteText(data)
}

// WriteBinary records and forwards a binary frame.
func (r *Recorder) WriteBinary(data []byte) error {
	r.record(Out, KindBinary, data, "")
	return r.conn.WriteBinary(data)
}

// Close records a local close and closes the wrapped connection.
func (r *Recorder) Close() error {
	r.record(Out, KindClose, nil, "")
	return r.conn.Close()
}

// Read decodes entries from rd and calls fn for each until the stream
// ends or fn returns an error.
func Read(rd io.Reader, fn func(Entry) error) error {
	dec := cbor.NewDecoder(rd)
	var last uint64
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("transcript entry after #%d: %w", last, err)
		}
		last = e.Seq
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Dump writes every entry of rd to w, one line each.
func Dump(w io.Writer, rd io.Reader) error {
	return Read(rd, func(e Entry) error {
		_, err := fmt.Fprintln(w, e.String())
		return err
	})
}
