package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/routing"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Routing rule utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a routing rules file and print the effective rule order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			custom, err := routing.LoadRuleFile(args[0])
			if err != nil {
				return err
			}
			table := routing.NewTable(routing.Merge(routing.StandardRules(func() int { return 0 }), custom)...)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d custom rule(s) OK\n", args[0], len(custom))
			for _, r := range table.Rules() {
				fmt.Fprintf(out, "%4d  %-24s %-9s %s\n", r.Priority, r.Name, r.Route, r.Description)
			}
			return nil
		},
	})
	return cmd
}
