package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fluxctl/internal/protocol"
	"fluxctl/internal/session"
	"fluxctl/util"
)

// Script executes Commands in order, printing each result as one line
// of JSON.  Binaries in a result are written to OutputDir and replaced
// by their path in the printed JSON.  The first failing command stops
// the script.
type Script struct {
	Commands       []string
	CommandTimeout time.Duration // 0 waits forever
	OutputDir      string
	Stdout         io.Writer
	Logger         *util.Logger

	once sync.Once
	out  *syncWriter
	n    int
}

// SavedBinary is how a downloaded binary appears in printed results.
type SavedBinary struct {
	MimeType string `json:"mimetype"`
	Size     int    `json:"size"`
	Path     string `json:"path"`
}

func (sc *Script) stdout() io.Writer {
	sc.once.Do(func() {
		w := sc.Stdout
		if w == nil {
			w = os.Stdout
		}
		sc.out = &syncWriter{w: w}
	})
	return sc.out
}

func (sc *Script) log() *util.Logger {
	if sc.Logger == nil {
		sc.Logger = util.NewLogger(int(util.LogQuiet))
	}
	return sc.Logger
}

// OnRaw prints raw-mode output as it arrives.
func (sc *Script) OnRaw(_ *session.Session, text string) {
	writeRaw(sc.stdout(), text)
}

// Handle runs every command and returns the first error.
func (sc *Script) Handle(ctx context.Context, r *session.Runner) error {
	for _, text := range sc.Commands {
		line := ParseLine(text)
		if line.Command == "" {
			continue
		}
		if err := sc.run(ctx, r, line); err != nil {
			return err
		}
	}
	return nil
}

func (sc *Script) run(ctx context.Context, r *session.Runner, line Line) error {
	cmd, opts, err := line.Options()
	if err != nil {
		return err
	}

	if sc.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sc.CommandTimeout)
		defer cancel()
	}

	sc.log().Verbose("> %s", cmd)
	p, err := r.Exec(ctx, cmd, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if p == nil {
		// raw mode: output arrives through OnRaw
		return nil
	}
	return sc.print(p)
}

func (sc *Script) print(p protocol.Payload) error {
	out := p.Without("binaries")
	if bins := p.Binaries(); len(bins) > 0 {
		sc.n++
		saved, err := saveBinaries(sc.OutputDir, sc.n, bins)
		if err != nil {
			return err
		}
		for _, b := range saved {
			sc.log().Info("saved %s (%d bytes)", b.Path, b.Size)
		}
		out["binaries"] = saved
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintf(sc.stdout(), "%s\n", data)
	return err
}

// saveBinaries writes bins into dir as result-<n>-<i><ext>.
func saveBinaries(dir string, n int, bins []protocol.Binary) ([]SavedBinary, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	saved := make([]SavedBinary, 0, len(bins))
	for i, b := range bins {
		path := filepath.Join(dir, fmt.Sprintf("result-%d-%d%s", n, i, extension(b.MimeType)))
		if err := os.WriteFile(path, b.Data, 0o644); err != nil {
			return nil, fmt.Errorf("save binary: %w", err)
		}
		saved = append(saved, SavedBinary{MimeType: b.MimeType, Size: b.Size(), Path: path})
	}
	return saved, nil
}

func extension(mimeType string) string {
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
