// Package capability defines what happens over a connected control
// session.  Each Capability drives a session.Runner: Script replays a
// fixed list of commands, Shell reads them interactively.
package capability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"fluxctl/internal/session"
)

// Capability runs against a session that has already reported
// connected.  It blocks until its work is done, the session ends, or
// ctx is cancelled.
type Capability interface {
	Handle(ctx context.Context, r *session.Runner) error
}

// RawHandler is implemented by capabilities that want raw-mode output
// arriving while no command is queued.  The callback runs on the
// session loop and must not block.
type RawHandler interface {
	OnRaw(s *session.Session, text string)
}

// ── command lines ────────────────────────────────────────────────────

// SizePlaceholder in a command line is replaced with the byte size of
// the attached file.
const SizePlaceholder = "{size}"

// Line is one parsed command line.
type Line struct {
	Command string
	Path    string // file to upload, from "cmd < path"
}

// ParseLine splits "cmd < path" into its command and upload path.
func ParseLine(text string) Line {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, " < "); i >= 0 {
		return Line{
			Command: strings.TrimSpace(text[:i]),
			Path:    strings.TrimSpace(text[i+3:]),
		}
	}
	return Line{Command: text}
}

// Options reads the upload file, if any, and returns the command text
// with SizePlaceholder filled in.  The file is read up front so that a
// command still queued after its caller gave up can upload later.
func (l Line) Options() (string, session.Options, error) {
	if l.Path == "" {
		return l.Command, session.Options{}, nil
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return "", session.Options{}, fmt.Errorf("upload: %w", err)
	}
	cmd := strings.ReplaceAll(l.Command, SizePlaceholder, strconv.Itoa(len(data)))
	return cmd, session.Options{File: bytes.NewReader(data)}, nil
}

// ── output ───────────────────────────────────────────────────────────

// syncWriter serializes writes from the capability goroutine and the
// session loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func writeRaw(w io.Writer, text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	io.WriteString(w, text)
}
