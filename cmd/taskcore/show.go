package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/urfave/cli/v3"
)

func (a *app) showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Show a session and its plan, or list sessions without --session",
		Flags: []cli.Flag{
			sessionFlag(false),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the persisted documents as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, closer, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closer() }()

			sessionID := cmd.String("session")
			if sessionID == "" {
				ids, err := store.Sessions(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(a.out, id)
				}
				return nil
			}

			st, err := store.LoadState(ctx, sessionID)
			if err != nil {
				return err
			}
			if st == nil {
				return goerr.Wrap(taskcore.ErrNotFound, "session not found", goerr.V("session_id", sessionID))
			}

			var list *taskcore.TodoList
			if st.TodoListID != "" {
				if list, err = store.LoadTodoList(ctx, st.TodoListID); err != nil {
					return err
				}
			}

			if cmd.Bool("json") {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"session": st, "plan": list})
			}

			printState(a.out, st)
			if list != nil {
				fmt.Fprintln(a.out)
				printPlan(a.out, list)
			}
			return nil
		},
	}
}

func printState(w io.Writer, st *taskcore.SessionState) {
	fmt.Fprintf(w, "session:  %s\n", st.SessionID)
	fmt.Fprintf(w, "mission:  %s\n", st.Mission)
	fmt.Fprintf(w, "phase:    %s\n", st.Phase)
	fmt.Fprintf(w, "version:  %d\n", st.Version)
	fmt.Fprintf(w, "updated:  %s\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
	if q := st.PendingQuestion; q != nil {
		fmt.Fprintf(w, "question: %s (key: %s)\n", q.Question, q.AnswerKey)
	}
}

func printPlan(w io.Writer, list *taskcore.TodoList) {
	fmt.Fprintf(w, "plan %s (version %d)\n", list.TodoListID, list.Version)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tSTATUS\tATTEMPTS\tREPLANS\tDEPS\tDESCRIPTION")
	for _, item := range list.Sorted() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%v\t%s\n",
			item.Position, item.Status, item.Attempts, item.ReplanCount, item.Dependencies, item.Description)
	}
	_ = tw.Flush()

	for _, note := range list.Notes {
		fmt.Fprintf(w, "note: %s\n", note)
	}
}
