package main

import (
	"github.com/spf13/cobra"

	"strand/internal/repo"
	"strand/internal/ui"
)

func (a *app) operationCommand() *cobra.Command {
	opCmd := &cobra.Command{
		Use:     "operation",
		Aliases: []string{"op"},
		Short:   "Inspect and undo repository operations",
		Long: `Every command that changes the repository records an operation.
Operations can be listed, compared, undone and restored.`,
	}

	var limit int
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "List operations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				ops, err := r.OpLog(cmd.Context(), limit)
				if err != nil {
					return err
				}
				u.OpLog(ops)
				return nil
			})
		},
	}
	logCmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many operations")

	undoCmd := &cobra.Command{
		Use:   "undo [operation]",
		Short: "Revert an operation, keeping later ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := "@"
			if len(args) == 1 {
				expr = args[0]
			}
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				_, conflicts, err := r.Undo(cmd.Context(), expr)
				if err != nil {
					return err
				}
				u.Printf("Undid operation %s\n", expr)
				for _, ref := range conflicts {
					u.Warnf("Warning: %s was changed since and was left as is\n", ref)
				}
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <operation>",
		Short: "Return the repository to the state after an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				if _, err := r.Restore(cmd.Context(), args[0]); err != nil {
					return err
				}
				u.Printf("Restored to operation %s\n", args[0])
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}

	diffCmd := &cobra.Command{
		Use:   "diff [from] [to]",
		Short: "Show how the repository view changed between operations",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var from, to string
			if len(args) > 0 {
				from = args[0]
			}
			if len(args) > 1 {
				to = args[1]
			}
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				patch, err := r.OpDiff(cmd.Context(), from, to)
				if err != nil {
					return err
				}
				u.ViewDiff(patch)
				return nil
			})
		},
	}

	mergeCmd := &cobra.Command{
		Use:   "merge-heads",
		Short: "Merge concurrent operations into one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				op, conflicts, err := r.MergeOperationHeads(cmd.Context())
				if err != nil {
					return err
				}
				if op == nil {
					u.Printf("Nothing to merge\n")
					return nil
				}
				u.Printf("Merged operation heads into %s\n", op.ID.Short(ui.HintIDLength))
				for _, ref := range conflicts {
					u.Warnf("Warning: %s was changed concurrently; kept the first value\n", ref)
				}
				return nil
			})
		},
	}

	opCmd.AddCommand(logCmd, undoCmd, restoreCmd, diffCmd, mergeCmd)
	return opCmd
}
