package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nshkrdotcom/mcpflow/agent"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow once with a single query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			wf, err := cfg.Workflow(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(cfg, wf)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := signalContext()
			defer cancel()

			session, err := rt.newSession(ctx, wf, wf.Servers)
			if err != nil {
				return err
			}
			eventsDone := drainEvents(session, showProgress(opts.logLevel))

			result, err := session.Run(ctx, query)
			session.Close()
			<-eventsDone
			if err != nil {
				return err
			}

			fmt.Println(result.Text)
			if result.Outcome == agent.OutcomeBudgetExhausted {
				fmt.Printf("\n[stopped: turn budget of %d exhausted before a final answer]\n", wf.MaxTurns)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "the query to run")
	return cmd
}
