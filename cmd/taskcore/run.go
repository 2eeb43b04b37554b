package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/agent"
	"github.com/m-mizutani/taskcore/event"
	"github.com/m-mizutani/taskcore/toolrunner"
	"github.com/urfave/cli/v3"
)

func sessionFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "session",
		Aliases:  []string{"s"},
		Sources:  cli.EnvVars("TASKCORE_SESSION"),
		Usage:    "Session ID",
		Required: required,
	}
}

func (a *app) runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a mission. A new session is created unless --session is given",
		ArgsUsage: "<mission>",
		Flags:     []cli.Flag{sessionFlag(false)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mission := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if mission == "" {
				return goerr.New("mission is required")
			}
			sessionID := cmd.String("session")
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			ag, closer, err := a.newAgent(ctx)
			if err != nil {
				return err
			}
			defer closer()

			out, err := ag.Execute(ctx, sessionID, mission)
			if err != nil {
				return err
			}
			printOutcome(a.out, out)
			return nil
		},
	}
}

func (a *app) resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Answer the pending question of a session and continue",
		ArgsUsage: "<answer>",
		Flags: []cli.Flag{
			sessionFlag(true),
			&cli.StringFlag{
				Name:     "key",
				Aliases:  []string{"k"},
				Usage:    "Answer key of the pending question",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			answer := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if answer == "" {
				return goerr.New("answer is required")
			}

			ag, closer, err := a.newAgent(ctx)
			if err != nil {
				return err
			}
			defer closer()

			out, err := ag.Resume(ctx, cmd.String("session"), cmd.String("key"), answer)
			if err != nil {
				return err
			}
			printOutcome(a.out, out)
			return nil
		},
	}
}

func (a *app) newAgent(ctx context.Context) (*agent.Agent, func(), error) {
	cfg := a.cfg
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() { _ = closeStore() })

	oracle, err := newOracle(ctx, cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	sets, closeSets := newToolSets(cfg)
	closers = append(closers, closeSets)

	runner, err := toolrunner.New(ctx,
		toolrunner.WithToolSets(sets...),
		toolrunner.WithTimeout(cfg.Tools.Timeout),
		toolrunner.WithMaxRetries(cfg.Tools.MaxRetries),
		toolrunner.WithBackoffUnit(cfg.Tools.BackoffUnit),
	)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	emitters := []taskcore.Emitter{event.NewLogger(event.WithLogger(a.logger))}
	if cfg.EventFile != "" {
		f, err := os.OpenFile(cfg.EventFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			closeAll()
			return nil, nil, goerr.Wrap(err, "failed to open event file", goerr.V("path", cfg.EventFile))
		}
		closers = append(closers, func() { _ = f.Close() })
		emitters = append(emitters, event.NewJSONLines(f))
	}

	opts := []agent.Option{
		agent.WithLogger(a.logger),
		agent.WithEmitter(event.Multi(emitters...)),
		agent.WithMaxAttempts(cfg.Agent.MaxAttempts),
		agent.WithMaxReplans(cfg.Agent.MaxReplans),
		agent.WithIterationLimit(cfg.Agent.IterationLimit),
		agent.WithConfidenceThreshold(cfg.Agent.ConfidenceThreshold),
		agent.WithHistoryOptions(
			taskcore.WithSummaryThreshold(cfg.Agent.SummaryThreshold),
			taskcore.WithMaxMessages(cfg.Agent.MaxMessages),
		),
	}
	if cfg.Agent.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}

	return agent.New(oracle, store, runner, opts...), closeAll, nil
}

func printOutcome(w io.Writer, out *agent.Outcome) {
	fmt.Fprintf(w, "session:    %s\n", out.SessionID)
	fmt.Fprintf(w, "status:     %s\n", out.Status)
	fmt.Fprintf(w, "iterations: %d\n", out.Iterations)

	switch out.Status {
	case agent.StatusAwaitingUser:
		if out.Question != nil {
			fmt.Fprintf(w, "question:   %s\n", out.Question.Question)
			fmt.Fprintf(w, "answer key: %s\n", out.Question.AnswerKey)
		}
	case agent.StatusFailed:
		if out.Err != nil {
			fmt.Fprintf(w, "error:      %v\n", out.Err)
		}
	}
	if out.Summary != "" {
		fmt.Fprintf(w, "summary:    %s\n", out.Summary)
	}
	if out.StateErrors > 0 {
		fmt.Fprintf(w, "state errors: %d\n", out.StateErrors)
	}
	if out.Plan != nil {
		fmt.Fprintln(w)
		printPlan(w, out.Plan)
	}
}
