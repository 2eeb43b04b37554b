package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/ctxlog"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what the Before hook prepares for subcommands.
type app struct {
	out    io.Writer
	cfg    *config
	logger *slog.Logger
	closer func()
}

func newApp(out io.Writer) *cli.Command {
	a := &app{out: out, closer: func() {}}

	return &cli.Command{
		Name:  "taskcore",
		Usage: "Run autonomous missions with a planning agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Sources: cli.EnvVars("TASKCORE_CONFIG"),
				Usage:   "YAML config file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("TASKCORE_LOG_LEVEL"),
				Usage:   "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "log-file",
				Sources: cli.EnvVars("TASKCORE_LOG_FILE"),
				Usage:   "Also write JSON logs to this file",
			},
			&cli.StringFlag{
				Name:    "backend",
				Sources: cli.EnvVars("TASKCORE_BACKEND"),
				Usage:   "State backend (file, sqlite)",
			},
			&cli.StringFlag{
				Name:    "state-path",
				Sources: cli.EnvVars("TASKCORE_STATE_PATH"),
				Usage:   "State directory (file) or database file (sqlite)",
			},
			&cli.StringFlag{
				Name:    "provider",
				Sources: cli.EnvVars("TASKCORE_PROVIDER"),
				Usage:   "Oracle provider (openai, claude, gemini)",
			},
			&cli.StringFlag{
				Name:    "model",
				Sources: cli.EnvVars("TASKCORE_MODEL"),
				Usage:   "Model name of the provider",
			},
			&cli.StringFlag{
				Name:    "event-file",
				Sources: cli.EnvVars("TASKCORE_EVENT_FILE"),
				Usage:   "Append events as JSON lines to this file",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			applyFlags(cfg, cmd)
			if err := cfg.validate(); err != nil {
				return ctx, err
			}
			a.cfg = cfg

			logger, closer, err := newLogger(cmd.String("log-level"), cmd.String("log-file"))
			if err != nil {
				return ctx, err
			}
			a.logger, a.closer = logger, closer
			return ctxlog.With(ctx, logger), nil
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			a.closer()
			return nil
		},
		Commands: []*cli.Command{
			a.runCommand(),
			a.resumeCommand(),
			a.showCommand(),
			a.pruneCommand(),
		},
	}
}

// applyFlags overrides file values with explicitly given flags and env vars.
func applyFlags(cfg *config, cmd *cli.Command) {
	set := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	set("provider", &cfg.Provider)
	set("model", &cfg.Model)
	set("state-path", &cfg.StatePath)
	set("event-file", &cfg.EventFile)
	if cmd.IsSet("backend") {
		cfg.Backend = backendKind(cmd.String("backend"))
	}
}
