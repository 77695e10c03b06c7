package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var (
		cfg    config
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the history as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Show past analyses",
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

			entries := d.log.Entries()
			if asJSON {
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return goerr.Wrap(err, "failed to marshal history")
				}
				fmt.Fprintln(c.Root().Writer, string(data))
				return nil
			}

			newRenderer(c.Root().Writer, cfg.noColor).history(entries)
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)

	return &cli.Command{
		Name:  "clear",
		Usage: "Delete all past analyses and stored images",
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

			n := d.log.Len()
			d.log.Clear(ctx)
			fmt.Fprintf(c.Root().Writer, "Cleared %d interactions\n", n)
			return nil
		},
	}
}
