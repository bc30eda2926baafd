package capability

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/protocol"
	"fluxctl/internal/session"
	"fluxctl/util"
)

// Prompt is printed before each line when stdout is a terminal.
const Prompt = "fluxctl> "

// Shell reads commands from Stdin one line at a time and prints each
// result.  Remote errors are printed and the shell carries on; a lost
// session ends it.  While idle it pings the device every KeepAlive and
// closes the session when a ping goes unanswered for a whole interval.
type Shell struct {
	Stdin          io.Reader
	Stdout         io.Writer
	KeepAlive      time.Duration // 0 disables pings
	CommandTimeout time.Duration
	Logger         *util.Logger

	once    sync.Once
	out     *syncWriter
	prompt  bool
	pinging atomic.Bool
}

func (sh *Shell) init() {
	sh.once.Do(func() {
		w := sh.Stdout
		if w == nil {
			w = os.Stdout
		}
		if f, ok := w.(*os.File); ok {
			sh.prompt = term.IsTerminal(int(f.Fd()))
		}
		sh.out = &syncWriter{w: w}
		if sh.Logger == nil {
			sh.Logger = util.NewLogger(int(util.LogQuiet))
		}
	})
}

// OnRaw prints raw-mode output as it arrives.
func (sh *Shell) OnRaw(_ *session.Session, text string) {
	sh.init()
	writeRaw(sh.out, text)
}

// Handle runs the read-execute loop until stdin ends, the user types
// quit or exit, or the session closes.
func (sh *Shell) Handle(ctx context.Context, r *session.Runner) error {
	sh.init()
	stdin := sh.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-r.Done():
				return
			}
		}
	}()

	var tick <-chan time.Time
	if sh.KeepAlive > 0 {
		t := time.NewTicker(sh.KeepAlive)
		defer t.Stop()
		tick = t.C
	}

	sh.showPrompt()
	for {
		select {
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			line := ParseLine(text)
			switch line.Command {
			case "":
			case "quit", "exit":
				return nil
			default:
				if err := sh.run(ctx, r, line); err != nil {
					return err
				}
			}
			sh.showPrompt()
		case <-tick:
			if err := sh.keepAlive(ctx, r); err != nil {
				return err
			}
		case <-r.Done():
			return r.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// keepAlive pings an idle session.  A ping still unanswered at the
// next tick means the link is dead: the session is closed.
func (sh *Shell) keepAlive(ctx context.Context, r *session.Runner) error {
	if sh.pinging.Load() {
		sh.Logger.Warn("no pong within %s, closing", sh.KeepAlive)
		r.Close()
		return ncerr.Protocol("keepalive", ncerr.ErrTimeout, "no pong within %s", sh.KeepAlive)
	}
	done := func(*session.Session) { sh.pinging.Store(false) }
	return r.Call(ctx, func(s *session.Session) error {
		if s.Pending() > 0 {
			return nil
		}
		sh.pinging.Store(true)
		return s.Submit(protocol.PingCommand, session.Options{
			OnSuccess: func(s *session.Session, _ string, _ protocol.Payload, _ interface{}) { done(s) },
			OnError:   func(s *session.Session, _ string, _ []string, _ interface{}) { done(s) },
		})
	})
}

func (sh *Shell) showPrompt() {
	if sh.prompt {
		io.WriteString(sh.out, Prompt)
	}
}

// run executes one line.  Only errors that end the session are
// returned.
func (sh *Shell) run(ctx context.Context, r *session.Runner, line Line) error {
	cmd, opts, err := line.Options()
	if err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
		return nil
	}

	if sh.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sh.CommandTimeout)
		defer cancel()
	}

	p, err := r.Exec(ctx, cmd, opts)
	var remote *ncerr.RemoteError
	switch {
	case err == nil:
	case errors.As(err, &remote):
		fmt.Fprintf(sh.out, "error: %s\n", remote.Error())
		return nil
	case errors.Is(err, ncerr.ErrTimeout):
		fmt.Fprintf(sh.out, "error: %v\n", err)
		return nil
	default:
		return err
	}
	if p == nil {
		return nil
	}

	bins := p.Binaries()
	out := p.Without("binaries")
	if len(bins) > 0 {
		list := make([]string, 0, len(bins))
		for _, b := range bins {
			list = append(list, fmt.Sprintf("%s (%d bytes)", b.MimeType, b.Size()))
		}
		out["binaries"] = list
	}
	data, err := json.Marshal(out)
	if err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
		return nil
	}
	fmt.Fprintf(sh.out, "%s\n", data)
	return nil
}
