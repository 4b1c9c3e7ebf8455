package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nshkrdotcom/mcpflow/llm"
)

func newWorkflowsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List configured workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODEL\tSERVERS\tDESCRIPTION")
			for _, name := range cfg.WorkflowNames() {
				wf := cfg.Workflows[name]
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, wf.Model, len(wf.Servers), wf.Description)
			}
			return w.Flush()
		},
	}
}

func newServersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tTARGET")
			for _, name := range cfg.ServerNames() {
				connCfg, err := cfg.ConnConfig(name)
				if err != nil {
					return err
				}
				target := connCfg.Command
				if connCfg.URL != "" {
					target = connCfg.URL
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, connCfg.Transport(), target)
			}
			return w.Flush()
		},
	}
}

func newModelsCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tCONTEXT\tTOOLS")
			for _, m := range llm.ListModels(provider) {
				tools := "no"
				if m.SupportsTools {
					tools = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.ID, m.Provider, m.ContextWindow, tools)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")
	return cmd
}
