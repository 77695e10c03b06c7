package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/usecase/acquire"
	"github.com/m-mizutani/deepspace/pkg/usecase/camera"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	livePrompt  = "[c]apture / [q]cancel > "
	errorPrompt = "[r]etry / [q]cancel > "
)

// lineReader is the part of *readline.Instance used by interactive loops
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

func newReadline(c *cli.Command, prompt string) (*readline.Instance, error) {
	rlCfg := &readline.Config{
		Prompt:          prompt,
		Stdout:          c.Root().Writer,
		Stderr:          c.Root().ErrWriter,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	}
	// readline wraps os.Stdin itself so it can be cancelled on Close
	if r := c.Root().Reader; r != nil && r != os.Stdin {
		rlCfg.Stdin = io.NopCloser(r)
	}

	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize terminal")
	}
	return rl, nil
}

func cameraCommand() *cli.Command {
	var cfg config

	flags := cameraFlags(&cfg)
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "camera",
		Usage: "Capture a photo from the camera and classify it",
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

			rl, err := newReadline(c, livePrompt)
			if err != nil {
				return err
			}
			defer rl.Close()

			r := newRenderer(rl.Stdout(), cfg.noColor)
			acquired, err := runCameraModal(ctx, rl, camera.New(cfg.newCamera()), r)
			if err != nil {
				return err
			}
			if acquired == nil {
				return nil
			}

			result, err := submitAndWait(ctx, d.uc, acquired, r, c.Root().ErrWriter)
			if err != nil {
				return err
			}
			r.interaction(result)
			return nil
		},
	}
}

// runCameraModal drives a camera session until a photo is captured or the
// user cancels. It returns nil without error on cancel. The session is
// always closed on return.
func runCameraModal(ctx context.Context, in lineReader, session *camera.Session, r *renderer) (*acquire.Acquired, error) {
	defer session.Close()

	r.cameraState(model.CameraRequesting, nil)
	if err := session.Open(ctx); err != nil {
		logging.From(ctx).Debug("camera open failed", "error", err)
	}

	for {
		state := session.State()
		r.cameraState(state, session.Err())

		switch state {
		case model.CameraLive:
			in.SetPrompt(livePrompt)
		case model.CameraPermissionError:
			in.SetPrompt(errorPrompt)
		default:
			return nil, nil
		}

		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				session.Cancel()
				r.cameraState(model.CameraClosed, nil)
				return nil, nil
			}
			return nil, goerr.Wrap(err, "failed to read input")
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "c", "capture":
			if state != model.CameraLive {
				r.errorf("The camera is not live.")
				continue
			}
			acquired, err := session.Capture(ctx)
			if err != nil {
				logging.From(ctx).Debug("capture failed", "error", err)
				continue
			}
			r.cameraState(model.CameraCaptured, nil)
			return acquired, nil

		case "r", "retry":
			if state != model.CameraPermissionError {
				r.errorf("Nothing to retry.")
				continue
			}
			r.cameraState(model.CameraRequesting, nil)
			if err := session.Retry(ctx); err != nil {
				logging.From(ctx).Debug("camera retry failed", "error", err)
			}

		case "q", "cancel", "exit":
			session.Cancel()
			r.cameraState(model.CameraClosed, nil)
			return nil, nil

		default:
			r.errorf("Unknown choice %q.", line)
		}
	}
}
