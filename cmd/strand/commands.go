package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"strand/internal/errors"
	"strand/internal/repo"
	"strand/internal/tree"
	"strand/internal/ui"
)

func (a *app) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Create a new repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.repository
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("getting current directory: %w", err)
				}
				dir = cwd
			}
			root, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", dir, err)
			}
			if err := a.fs.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", root, err)
			}
			opts, err := a.options()
			if err != nil {
				return err
			}
			r, err := repo.Init(root, opts)
			if err != nil {
				return err
			}
			defer r.Close()
			ui.New(a.out, a.errOut, a.colorMode(r.Config())).Printf("Initialized repo in %s\n", root)
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status [paths...]",
		Aliases: []string{"st"},
		Short:   "Show the working-copy commit and its changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				m, err := a.matcher(r, args)
				if err != nil {
					return err
				}
				st, err := r.Status(cmd.Context(), m)
				if err != nil {
					return err
				}
				u.Status(st)
				return nil
			})
		},
	}
}

func (a *app) logCommand() *cobra.Command {
	var revisions string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				commits, err := r.Log(cmd.Context(), revisions)
				if err != nil {
					return err
				}
				u.Log(commits, r.Workspace())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&revisions, "revisions", "r", "", "which revisions to show (default: all())")
	return cmd
}

// showWorkingCopy prints the working copy after a command moved or
// rewrote it.
func showWorkingCopy(ctx context.Context, r *repo.Repo, u *ui.UI) error {
	st, err := r.Status(ctx, tree.All)
	if err != nil {
		return err
	}
	u.WorkingCopyMoved(st)
	return nil
}

func (a *app) newCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "new [revisions...]",
		Short: "Create a new empty commit and edit it",
		Long: `Create a new empty commit on top of the given revisions (the working
copy by default) and make it the working copy. Several revisions create a
merge commit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				if _, err := r.New(cmd.Context(), args, message); err != nil {
					return err
				}
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "description of the new commit")
	return cmd
}

func (a *app) commitCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Describe the working copy and start a new commit on top of it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				if _, err := r.Commit(cmd.Context(), message); err != nil {
					return err
				}
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "description of the committed changes")
	return cmd
}

func (a *app) describeCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "describe [revision]",
		Short: "Set the description of a commit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := "@"
			if len(args) == 1 {
				rev = args[0]
			}
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				c, err := r.Describe(cmd.Context(), rev, message)
				if err != nil {
					return err
				}
				u.Commit("Described commit", c)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "the new description")
	return cmd
}

func (a *app) editCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <revision>",
		Short: "Make a commit the working copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				if _, err := r.Edit(cmd.Context(), args[0]); err != nil {
					return err
				}
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}
}

func (a *app) abandonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon [revisions...]",
		Short: "Hide commits and rebase their descendants onto their parents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				abandoned, err := r.Abandon(cmd.Context(), args)
				if err != nil {
					return err
				}
				for _, c := range abandoned {
					u.Commit("Abandoned commit", c)
				}
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}
}

func (a *app) rebaseCommand() *cobra.Command {
	var (
		revision     string
		source       string
		destinations []string
	)
	cmd := &cobra.Command{
		Use:   "rebase (-r <revision> | -s <source>) -d <destination>...",
		Short: "Move commits onto other parents",
		Long: `Move commits onto new parents. With -s the commit moves together with
its descendants; with -r only the commit moves and its children are
rebased onto its old parents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, rev := repo.RebaseSource, source
			switch {
			case revision != "" && source != "":
				return errors.ValidationError("-r and -s cannot be used together", nil)
			case revision != "":
				mode, rev = repo.RebaseRevision, revision
			case source == "":
				rev = "@"
			}
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				c, err := r.Rebase(cmd.Context(), mode, rev, destinations)
				if err != nil {
					return err
				}
				u.Commit("Rebased commit", c)
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}
	cmd.Flags().StringVarP(&revision, "revision", "r", "", "rebase only this commit")
	cmd.Flags().StringVarP(&source, "source", "s", "", "rebase this commit and its descendants (default: @)")
	cmd.Flags().StringSliceVarP(&destinations, "destination", "d", nil, "the new parents")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func (a *app) squashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "squash",
		Short: "Move the working copy's changes into its parent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				if _, err := r.Squash(cmd.Context()); err != nil {
					return err
				}
				return showWorkingCopy(cmd.Context(), r, u)
			})
		},
	}
}

func (a *app) diffCommand() *cobra.Command {
	var revision string
	cmd := &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Compare a commit with its parents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				m, err := a.matcher(r, args)
				if err != nil {
					return err
				}
				files, err := r.Diff(cmd.Context(), revision, m)
				if err != nil {
					return err
				}
				u.Diff(files)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&revision, "revision", "r", "@", "the commit to show")
	return cmd
}

func (a *app) watchCommand() *cobra.Command {
	var quiet time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Snapshot the working copy whenever files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(r *repo.Repo, u *ui.UI) error {
				u.Printf("Watching %s, press Ctrl-C to stop\n", r.Root())
				return r.Watch(cmd.Context(), quiet, func(st *repo.Status) {
					u.Printf("Snapshot at %s\n", time.Now().Format("15:04:05"))
					u.Status(st)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&quiet, "quiet", 500*time.Millisecond, "how long files must stay unchanged before a snapshot")
	return cmd
}
