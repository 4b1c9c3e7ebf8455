package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nshkrdotcom/mcpflow/agent"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <workflow>",
		Short: "Run a workflow as an interactive chat loop",
		Long: `Starts an interactive session with the workflow. Each line of input runs
one query; the conversation history carries across queries. Type "quit"
or "exit" (or press Ctrl-D) to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			defer func() {
				session.Close()
				<-eventsDone
			}()

			fmt.Printf("Chatting with workflow %q (model %s). Type quit to exit.\n", args[0], wf.Model)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "quit" || line == "exit" {
					return nil
				}

				result, err := session.Run(ctx, line)
				if err != nil {
					if errors.Is(err, ctx.Err()) {
						return nil
					}
					fmt.Fprintln(os.Stderr, "query failed:", err)
					continue
				}

				fmt.Println(result.Text)
				if result.Outcome == agent.OutcomeBudgetExhausted {
					fmt.Printf("[stopped: turn budget of %d exhausted]\n", wf.MaxTurns)
				}
			}
		},
	}
}
