package main

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func (a *app) pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete sessions not updated for a while",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Value: 30 * 24 * time.Hour,
				Usage: "Age of the sessions to delete",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			olderThan := cmd.Duration("older-than")
			if olderThan <= 0 {
				return goerr.New("older-than must be positive", goerr.V("older_than", olderThan))
			}

			store, closer, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closer() }()

			deleted, err := store.Prune(ctx, olderThan)
			if err != nil {
				return err
			}
			for _, id := range deleted {
				fmt.Fprintln(a.out, id)
			}
			ctxlog.From(ctx).Info("sessions pruned", "count", len(deleted), "older_than", olderThan)
			return nil
		},
	}
}
