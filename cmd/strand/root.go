package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"strand/internal/config"
	"strand/internal/errors"
	"strand/internal/fileset"
	"strand/internal/logging"
	"strand/internal/metrics"
	"strand/internal/repo"
	"strand/internal/ui"
)

// app holds what every command shares: global flags, output streams and
// the filesystem the repository lives on.
type app struct {
	fs      afero.Fs
	out     io.Writer
	errOut  io.Writer
	metrics *metrics.Metrics

	repository string
	workspace  string
	color      string
	verbose    bool
}

// Execute runs the command line in args and returns the process exit
// code.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{fs: afero.NewOsFs(), out: out, errOut: errOut, metrics: metrics.New()}
	return a.execute(ctx, args)
}

func (a *app) execute(ctx context.Context, args []string) int {
	rootCmd := a.rootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.New(a.out, a.errOut, a.colorMode(nil)).Error(err)
		return 1
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand is a version control system built around changes",
		Long: `Strand records the working copy as a commit, rebases descendants
automatically when history is rewritten and logs every repository change
as an operation that can be undone.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !ui.ValidMode(a.color) {
				return errors.ValidationError(fmt.Sprintf("invalid --color value %q", a.color), nil).
					WithHint("use auto, always or never")
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.repository, "repository", "R", "", "path to the repository (default: search from the current directory)")
	flags.StringVar(&a.workspace, "workspace", "", "workspace to operate in")
	flags.StringVar(&a.color, "color", "", "when to colorize output (auto, always, never)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		a.initCommand(),
		a.statusCommand(),
		a.logCommand(),
		a.newCommand(),
		a.commitCommand(),
		a.describeCommand(),
		a.editCommand(),
		a.abandonCommand(),
		a.rebaseCommand(),
		a.squashCommand(),
		a.diffCommand(),
		a.bookmarkCommand(),
		a.operationCommand(),
		a.watchCommand(),
		a.debugCommand(),
	)
	return rootCmd
}

// colorMode picks the --color flag, then ui.color from cfg, then auto.
func (a *app) colorMode(cfg *config.Config) string {
	switch {
	case a.color != "":
		return a.color
	case cfg != nil && ui.ValidMode(cfg.UI.Color):
		return cfg.UI.Color
	}
	return ui.ModeAuto
}

func (a *app) options() (repo.Options, error) {
	opts := repo.Options{Fs: a.fs, Workspace: a.workspace, Metrics: a.metrics}
	if a.verbose {
		logger, err := logging.NewDevelopment()
		if err != nil {
			return opts, fmt.Errorf("initializing logger: %w", err)
		}
		opts.Logger = logger
	}
	return opts, nil
}

// root returns the workspace root named by -R or found above the current
// directory.
func (a *app) root() (string, error) {
	if a.repository != "" {
		return filepath.Abs(a.repository)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return repo.Discover(a.fs, cwd)
}

// withRepo opens the repository, runs fn and closes it again.
func (a *app) withRepo(fn func(r *repo.Repo, u *ui.UI) error) error {
	root, err := a.root()
	if err != nil {
		return err
	}
	opts, err := a.options()
	if err != nil {
		return err
	}
	r, err := repo.Open(root, opts)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r, ui.New(a.out, a.errOut, a.colorMode(r.Config())))
}

// matcher turns path arguments into a filter. Paths are relative to the
// current directory when it is inside the workspace, else to its root.
func (a *app) matcher(r *repo.Repo, args []string) (*fileset.Set, error) {
	rel := ""
	if cwd, err := os.Getwd(); err == nil && a.repository == "" {
		if p, err := filepath.Rel(r.Root(), cwd); err == nil && p != "." && !strings.HasPrefix(p, "..") {
			rel = filepath.ToSlash(p)
		}
	}
	return fileset.Parse(rel, args...)
}
