package main

import (
	"github.com/spf13/cobra"

	"strand/internal/repo"
	"strand/internal/ui"
)

func (a *app) bookmarkCommand() *cobra.Command {
	bookmarkCmd := &cobra.Command{
		Use:     "bookmark",
		Aliases: []string{"b"},
		Short:   "Manage bookmarks",
		Long:    `Bookmarks are named pointers to commits. They follow their commit when it is rewritten.`,
	}

	var revision string
	createCmd := &cobra.Command{
		Use:   "create <name>...",
		Short: "Create bookmarks pointing at a commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				for _, name := range args {
					if err := r.CreateBookmark(cmd.Context(), name, revision); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	createCmd.Flags().StringVarP(&revision, "revision", "r", "@", "the commit to point at")

	var setRevision string
	setCmd := &cobra.Command{
		Use:   "set <name>...",
		Short: "Create or move bookmarks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				for _, name := range args {
					if err := r.SetBookmark(cmd.Context(), name, setRevision); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	setCmd.Flags().StringVarP(&setRevision, "revision", "r", "@", "the commit to point at")

	deleteCmd := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete bookmarks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				for _, name := range args {
					if err := r.DeleteBookmark(cmd.Context(), name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l"},
		Short:   "List bookmarks and their targets",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				bookmarks, err := r.Bookmarks(cmd.Context())
				if err != nil {
					return err
				}
				u.Bookmarks(bookmarks)
				return nil
			})
		},
	}

	bookmarkCmd.AddCommand(createCmd, setCmd, deleteCmd, listCmd)
	return bookmarkCmd
}
