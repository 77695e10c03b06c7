package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "deepspace",
		Usage: "Classify astronomical images with a remote model",
		Commands: []*cli.Command{
			classifyCommand(),
			cameraCommand(),
			chatCommand(),
			historyCommand(),
			clearCommand(),
		},
	}
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := newApp()

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
