package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/session"
)

// ── fake device ──────────────────────────────────────────────────────

type device struct {
	in     chan session.Frame
	out    chan session.Frame
	closed chan struct{}
	once   sync.Once
}

func newDevice() *device {
	return &device{
		in:     make(chan session.Frame, 64),
		out:    make(chan session.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (d *device) ReadFrame() (session.Frame, error) {
	select {
	case f := <-d.in:
		return f, nil
	case <-d.closed:
		return session.Frame{}, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (d *device) WriteText(b []byte) error   { return d.write(session.Frame{Data: b}) }
func (d *device) WriteBinary(b []byte) error { return d.write(session.Frame{Binary: true, Data: b}) }

func (d *device) write(f session.Frame) error {
	select {
	case <-d.closed:
		return ncerr.ErrClosed
	default:
	}
	d.out <- f
	return nil
}

func (d *device) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *device) send(s string)      { d.in <- session.Frame{Data: []byte(s)} }
func (d *device) sendBinary(b []byte) { d.in <- session.Frame{Binary: true, Data: b} }

// serve answers the credential with "connected" and hands every
// following text frame to respond.  Binary frames go to respond as
// well, with binary set.
func (d *device) serve(respond func(d *device, f session.Frame)) {
	go func() {
		select {
		case <-d.out:
		case <-d.closed:
			return
		}
		d.send(`{"status":"connected"}`)
		for {
			select {
			case f := <-d.out:
				respond(d, f)
			case <-d.closed:
				return
			}
		}
	}()
}

func start(t *testing.T, d *device, raw RawHandler) *session.Runner {
	t.Helper()
	var h session.Handlers
	if raw != nil {
		h.OnRaw = raw.OnRaw
	}
	r := session.NewRunner(d, "key", h)
	go r.Run(context.Background())
	t.Cleanup(func() { r.Close() })
	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("device never connected")
	}
	return r
}

// lockedBuffer is read by the test while the session loop writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func lines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// ── command lines ────────────────────────────────────────────────────

func TestParseLine(t *testing.T) {
	tests := []struct {
		in   string
		want Line
	}{
		{"ls", Line{Command: "ls"}},
		{"  play info  ", Line{Command: "play info"}},
		{"upload text/gcode {size} < job.gcode", Line{Command: "upload text/gcode {size}", Path: "job.gcode"}},
		{"file ls <dir>", Line{Command: "file ls <dir>"}},
		{"", Line{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLine(tt.in))
		})
	}
}

func TestLine_Options(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.gcode")
	require.NoError(t, os.WriteFile(path, make([]byte, 1234), 0o644))

	cmd, opts, err := Line{Command: "upload text/gcode {size}", Path: path}.Options()
	require.NoError(t, err)
	assert.Equal(t, "upload text/gcode 1234", cmd)

	// The payload no longer depends on the file staying around.
	require.NoError(t, os.Remove(path))
	data, err := io.ReadAll(opts.File)
	require.NoError(t, err)
	assert.Len(t, data, 1234)

	_, _, err = Line{Command: "upload", Path: filepath.Join(t.TempDir(), "missing")}.Options()
	assert.Error(t, err)

	cmd, opts, err = Line{Command: "ls"}.Options()
	require.NoError(t, err)
	assert.Equal(t, "ls", cmd)
	assert.Nil(t, opts.File)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".bin", extension("application/x-fluxctl-unknown"))
	assert.True(t, strings.HasPrefix(extension("image/png"), "."))
}

// ── Script ───────────────────────────────────────────────────────────

func TestScript_ResultsAndBinaries(t *testing.T) {
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		switch string(f.Data) {
		case "ls":
			d.send(`{"status":"ok","files":["a.fc"]}`)
		case "camera snap":
			d.send(`{"status":"binary","mimetype":"application/x-fluxctl-unknown","size":5}`)
			d.sendBinary([]byte("he"))
			d.sendBinary([]byte("llo"))
			d.send(`{"status":"ok"}`)
		}
	})
	r := start(t, d, nil)

	var out bytes.Buffer
	dir := t.TempDir()
	sc := &Script{Commands: []string{"ls", "", "camera snap"}, OutputDir: dir, Stdout: &out, CommandTimeout: 2 * time.Second}
	require.NoError(t, sc.Handle(context.Background(), r))

	got := lines(out.String())
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"status":"ok","files":["a.fc"]}`, got[0])

	var res struct {
		Binaries []SavedBinary `json:"binaries"`
	}
	require.NoError(t, json.Unmarshal([]byte(got[1]), &res))
	require.Len(t, res.Binaries, 1)
	b := res.Binaries[0]
	assert.Equal(t, 5, b.Size)
	assert.Equal(t, filepath.Join(dir, "result-1-0.bin"), b.Path)
	data, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestScript_StopsOnError(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		mu.Lock()
		seen = append(seen, string(f.Data))
		mu.Unlock()
		d.send(`{"status":"error","error":["NOT_FOUND","x"]}`)
	})
	r := start(t, d, nil)

	sc := &Script{Commands: []string{"bad", "never"}, Stdout: io.Discard, CommandTimeout: 2 * time.Second}
	err := sc.Handle(context.Background(), r)
	var remote *ncerr.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, []string{"NOT_FOUND", "x"}, remote.Errors)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bad"}, seen)
}

func TestScript_Upload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.gcode")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'G'}, 5000), 0o644))

	sizes := make(chan []int, 1)
	var got []int
	total := 0
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		if !f.Binary {
			if string(f.Data) != "upload text/gcode 5000" {
				t.Errorf("command = %q", f.Data)
			}
			d.send(`{"status":"continue"}`)
			return
		}
		got = append(got, len(f.Data))
		total += len(f.Data)
		if total == 5000 {
			sizes <- got
			d.send(`{"status":"ok"}`)
		}
	})
	r := start(t, d, nil)

	sc := &Script{Commands: []string{"upload text/gcode {size} < " + path}, Stdout: io.Discard, CommandTimeout: 2 * time.Second}
	require.NoError(t, sc.Handle(context.Background(), r))
	assert.Equal(t, []int{3984, 1016}, <-sizes)
}

func TestScript_RawOutput(t *testing.T) {
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		switch string(f.Data) {
		case "task raw":
			d.send(`{"status":"ok","task":"raw"}`)
		case "G28":
			d.send(`{"status":"raw","text":"ok G28"}`)
		}
	})
	out := &lockedBuffer{}
	sc := &Script{Commands: []string{"task raw", "G28"}, Stdout: out, CommandTimeout: 2 * time.Second}
	r := start(t, d, sc)

	require.NoError(t, sc.Handle(context.Background(), r))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "ok G28\n")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"task":"raw"`)
}

func TestScript_Timeout(t *testing.T) {
	d := newDevice()
	d.serve(func(*device, session.Frame) {})
	r := start(t, d, nil)

	sc := &Script{Commands: []string{"slow"}, Stdout: io.Discard, CommandTimeout: 50 * time.Millisecond}
	err := sc.Handle(context.Background(), r)
	assert.ErrorIs(t, err, ncerr.ErrTimeout)
}

// ── Shell ────────────────────────────────────────────────────────────

func TestShell_Commands(t *testing.T) {
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		switch string(f.Data) {
		case "ls":
			d.send(`{"status":"ok","files":[]}`)
		case "bad":
			d.send(`{"status":"error","error":"UNKNOWN_COMMAND"}`)
		default:
			t.Errorf("unexpected command %q", f.Data)
		}
	})
	r := start(t, d, nil)

	var out bytes.Buffer
	sh := &Shell{Stdin: strings.NewReader("ls\n\nbad\nquit\nnever\n"), Stdout: &out}
	require.NoError(t, sh.Handle(context.Background(), r))

	got := lines(out.String())
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"status":"ok","files":[]}`, got[0])
	assert.Equal(t, `error: command "bad" failed: UNKNOWN_COMMAND`, got[1])
}

func TestShell_StdinEOF(t *testing.T) {
	d := newDevice()
	d.serve(func(d *device, f session.Frame) { d.send(`{"status":"ok"}`) })
	r := start(t, d, nil)

	sh := &Shell{Stdin: strings.NewReader("ls"), Stdout: io.Discard}
	assert.NoError(t, sh.Handle(context.Background(), r))
}

func TestShell_KeepAlive(t *testing.T) {
	pings := make(chan struct{}, 16)
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		if string(f.Data) == "ping" {
			d.send(`{"status":"pong"}`)
			pings <- struct{}{}
		}
	})
	r := start(t, d, nil)

	pr, pw := io.Pipe()
	sh := &Shell{Stdin: pr, Stdout: io.Discard, KeepAlive: 20 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- sh.Handle(context.Background(), r) }()

	for i := 0; i < 2; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatal("no keepalive ping")
		}
	}
	pw.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shell did not stop at EOF")
	}
}

func TestShell_FatalEndsShell(t *testing.T) {
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		d.send(`{"status":"fatal","error":"KICKED"}`)
	})
	r := start(t, d, nil)

	sh := &Shell{Stdin: strings.NewReader("ls\nls\n"), Stdout: io.Discard}
	err := sh.Handle(context.Background(), r)
	var fatal *ncerr.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, ncerr.SourceRemote, fatal.Source)
	assert.Equal(t, []string{"KICKED"}, fatal.Errors)
}

func TestShell_RawOutput(t *testing.T) {
	out := &lockedBuffer{}
	sh := &Shell{Stdout: out}
	sh.OnRaw(nil, "ok T:200")
	sh.OnRaw(nil, "done\n")
	assert.Equal(t, "ok T:200\ndone\n", out.String())
}

// TestShell_UploadAfterTimeout checks that an upload whose wait timed
// out still streams its data when the device asks for it later.
func TestShell_UploadAfterTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.gcode")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'G'}, 5000), 0o644))

	sizes := make(chan []int, 1)
	var got []int
	total := 0
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		if !f.Binary {
			if string(f.Data) != "upload 5000" {
				t.Errorf("command = %q", f.Data)
			}
			time.Sleep(150 * time.Millisecond)
			d.send(`{"status":"continue"}`)
			return
		}
		got = append(got, len(f.Data))
		total += len(f.Data)
		if total == 5000 {
			sizes <- got
			d.send(`{"status":"ok"}`)
		}
	})
	r := start(t, d, nil)

	pr, pw := io.Pipe()
	out := &lockedBuffer{}
	sh := &Shell{Stdin: pr, Stdout: out, CommandTimeout: 50 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- sh.Handle(context.Background(), r) }()

	_, err := io.WriteString(pw, "upload {size} < "+path+"\n")
	require.NoError(t, err)

	select {
	case s := <-sizes:
		assert.Equal(t, []int{3984, 1016}, s)
	case <-time.After(2 * time.Second):
		t.Fatal("upload never streamed after the timeout")
	}
	assert.Contains(t, out.String(), "error:")

	pw.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shell did not stop at EOF")
	}
}

// TestShell_KeepAliveDeadLink checks that an unanswered ping is never
// stacked: the next tick closes the session instead.
func TestShell_KeepAliveDeadLink(t *testing.T) {
	var pings atomic.Int32
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		if string(f.Data) == "ping" {
			pings.Add(1)
		}
	})
	r := start(t, d, nil)

	pr, pw := io.Pipe()
	defer pw.Close()
	sh := &Shell{Stdin: pr, Stdout: io.Discard, KeepAlive: 10 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- sh.Handle(context.Background(), r) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ncerr.ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("dead link not detected")
	}
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed")
	}
	assert.LessOrEqual(t, pings.Load(), int32(1))
}

// TestShell_KeepAliveSkipsBusySession checks that no ping is queued
// behind a command still waiting for its answer.
func TestShell_KeepAliveSkipsBusySession(t *testing.T) {
	var pings atomic.Int32
	d := newDevice()
	d.serve(func(d *device, f session.Frame) {
		if string(f.Data) == "ping" {
			pings.Add(1)
		}
	})
	r := start(t, d, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Exec(ctx, "slow", session.Options{})
	require.ErrorIs(t, err, ncerr.ErrTimeout)

	pr, pw := io.Pipe()
	sh := &Shell{Stdin: pr, Stdout: io.Discard, KeepAlive: 10 * time.Millisecond}
	done := make(chan error, 1)
	go func() { done <- sh.Handle(context.Background(), r) }()

	time.Sleep(100 * time.Millisecond)
	var pending int
	require.NoError(t, r.Call(context.Background(), func(s *session.Session) error {
		pending = s.Pending()
		return nil
	}))
	assert.Equal(t, 1, pending)
	assert.Equal(t, int32(0), pings.Load())

	pw.Close()
	assert.NoError(t, <-done)
}
