package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/usecase/acquire"
	"github.com/m-mizutani/deepspace/pkg/usecase/camera"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	idlePrompt = "> "
	busyPrompt = "(analyzing...) > "
)

const chatHelp = `Enter the path of an image file (drag and drop works) to analyze it.
Commands:
  :camera   capture a photo from the camera
  :history  show all past analyses
  :clear    delete all past analyses
  :help     show this message
  exit      quit`

func chatCommand() *cli.Command {
	var cfg config

	flags := cameraFlags(&cfg)
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive session to analyze images one after another",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, cleanup, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cleanup()

			d, err := cfg.newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			rl, err := newReadline(c, idlePrompt)
			if err != nil {
				return err
			}
			defer rl.Close()

			s := newChatSession(d, cfg.newCamera(), rl, rl.Stdout(), cfg.noColor)
			return s.run(ctx, rl.Refresh)
		},
	}
}

// chatSession is the interactive loop. Log entries are printed by a watcher
// so results of uploads still in flight appear when they arrive.
type chatSession struct {
	deps   *deps
	camera adapter.Camera
	in     lineReader
	out    io.Writer
	r      *renderer

	mu       sync.Mutex
	lastSeen model.InteractionID

	// modal is set while the camera prompt owns the input line
	modal atomic.Bool
}

func newChatSession(d *deps, cam adapter.Camera, in lineReader, out io.Writer, noColor bool) *chatSession {
	return &chatSession{
		deps:   d,
		camera: cam,
		in:     in,
		out:    out,
		r:      newRenderer(out, noColor),
	}
}

func (s *chatSession) run(ctx context.Context, refresh func()) error {
	fmt.Fprintln(s.out, "Deep space image analysis. Type :help for commands, exit to quit.")
	s.flush()

	ctx, cancel := context.WithCancel(ctx)
	updates := s.deps.log.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				s.flush()
				s.syncPrompt(refresh)
			}
		}
	}()

	err := s.loop(ctx)
	cancel()
	wg.Wait()

	if s.deps.uc.Busy() {
		fmt.Fprintln(s.out, "Waiting for pending analyses...")
	}
	s.deps.uc.Wait()
	s.flush()

	return err
}

func (s *chatSession) loop(ctx context.Context) error {
	for {
		s.in.SetPrompt(s.prompt())
		line, err := s.in.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, readline.ErrInterrupt) {
				if line == "" {
					return nil
				}
				continue
			}
			return goerr.Wrap(err, "failed to read input")
		}

		if quit := s.handle(ctx, line); quit {
			return nil
		}
	}
}

func (s *chatSession) prompt() string {
	if s.deps.uc.Busy() {
		return busyPrompt
	}
	return idlePrompt
}

// syncPrompt shows the busy state in the prompt unless the camera modal
// is running
func (s *chatSession) syncPrompt(refresh func()) {
	if s.modal.Load() {
		return
	}
	s.in.SetPrompt(s.prompt())
	refresh()
}

// handle runs one line of input and reports whether the session should end
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	switch line {
	case "":
		return false
	case "exit", "quit", ":quit", ":q":
		return true
	case ":help", ":h":
		fmt.Fprintln(s.out, chatHelp)
	case ":history":
		s.r.history(s.deps.log.Entries())
	case ":clear":
		s.deps.log.Clear(ctx)
		s.flush()
		fmt.Fprintln(s.out, "History cleared.")
	case ":camera":
		s.modal.Store(true)
		acquired, err := runCameraModal(ctx, s.in, camera.New(s.camera), s.r)
		s.modal.Store(false)
		if err != nil {
			s.r.errorf("%v", err)
			return false
		}
		if acquired != nil {
			s.submit(ctx, acquired)
		}
	default:
		if strings.HasPrefix(line, ":") {
			s.r.errorf("Unknown command %s. Type :help for commands.", line)
			return false
		}
		paths, err := splitPaths(line)
		if err != nil {
			s.r.errorf("%v", err)
			return false
		}
		acquired, err := acquire.FromFiles(ctx, paths...)
		if err != nil {
			logging.From(ctx).Debug("failed to acquire image", "error", err)
			s.r.errorf("Cannot use %s: %v", paths[0], err)
			return false
		}
		s.submit(ctx, acquired)
	}

	return false
}

func (s *chatSession) submit(ctx context.Context, acquired *acquire.Acquired) {
	if _, err := s.deps.uc.Submit(ctx, acquired); err != nil {
		s.r.errorf("%v", err)
		return
	}
	s.flush()
	s.r.analyzing()
}

// flush prints log entries added since the last call. After a clear the
// whole log is printed again.
func (s *chatSession) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.deps.log.Entries()
	start := 0
	if s.lastSeen != "" {
		for i := range entries {
			if entries[i].ID == s.lastSeen {
				start = i + 1
				break
			}
		}
	}

	for _, x := range entries[start:] {
		s.r.interaction(x)
	}
	if len(entries) > 0 {
		s.lastSeen = entries[len(entries)-1].ID
	} else {
		s.lastSeen = ""
	}
}

// splitPaths splits a line into file paths. Paths may be quoted with single
// or double quotes, and spaces may be escaped with a backslash, which is what
// terminals insert on drag and drop.
func splitPaths(line string) ([]string, error) {
	var (
		paths   []string
		cur     strings.Builder
		quote   rune
		escaped bool
		inToken bool
	)

	for _, ch := range line {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\' && quote != '\'':
			escaped = true
			inToken = true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteRune(ch)
			}
		case ch == '"' || ch == '\'':
			quote = ch
			inToken = true
		case ch == ' ' || ch == '\t':
			if inToken {
				paths = append(paths, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(ch)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, goerr.New("unterminated quote", goerr.V("input", line))
	}
	if escaped {
		cur.WriteRune('\\')
	}
	if inToken {
		paths = append(paths, cur.String())
	}
	if len(paths) == 0 {
		return nil, goerr.Wrap(model.ErrNoFile, "no file path given")
	}
	return paths, nil
}
