package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/usecase/acquire"
	"github.com/m-mizutani/deepspace/pkg/usecase/classify"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func classifyCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)

	return &cli.Command{
		Name:      "classify",
		Aliases:   []string{"c"},
		Usage:     "Upload an image and show the predicted class",
		ArgsUsage: "<image-file> [more files are ignored]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, cleanup, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cleanup()

			if c.Args().Len() == 0 {
				return goerr.Wrap(model.ErrNoFile, "image file is required")
			}

			acquired, err := acquire.FromFiles(ctx, c.Args().Slice()...)
			if err != nil {
				return goerr.Wrap(err, "failed to read image")
			}

			d, err := cfg.newDeps(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			r := newRenderer(c.Root().Writer, cfg.noColor)
			result, err := submitAndWait(ctx, d.uc, acquired, r, c.Root().ErrWriter)
			if err != nil {
				return err
			}
			r.interaction(result)
			return nil
		},
	}
}

// submitAndWait submits acquired and blocks until the answer is recorded. A
// spinner is shown while waiting when progress is a terminal.
func submitAndWait(ctx context.Context, uc *classify.UseCase, acquired *acquire.Acquired, r *renderer, progress io.Writer) (model.Interaction, error) {
	p, err := uc.Submit(ctx, acquired)
	if err != nil {
		return model.Interaction{}, goerr.Wrap(err, "failed to submit image")
	}
	r.interaction(p.User)

	if f, ok := progress.(*os.File); ok {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
			spinner.WithWriterFile(f),
			spinner.WithSuffix(" "+analyzingNotice),
		)
		s.Start()
		defer s.Stop()
	} else {
		r.analyzing()
	}

	return p.Wait(), nil
}
