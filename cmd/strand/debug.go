package main

import (
	"github.com/spf13/cobra"

	"strand/internal/repo"
	"strand/internal/ui"
)

func (a *app) debugCommand() *cobra.Command {
	debugCmd := &cobra.Command{
		Use:    "debug",
		Short:  "Low-level commands for inspecting strand itself",
		Hidden: true,
	}
	debugCmd.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Print counters gathered while running the command",
		Long: `Snapshot the working copy and print the counters collected while doing
so, one "name{labels} value" line per counter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				if _, err := r.Status(cmd.Context(), nil); err != nil {
					return err
				}
				return r.Metrics().Dump(u.Out())
			})
		},
	})
	return debugCmd
}
