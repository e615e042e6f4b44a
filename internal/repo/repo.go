// Package repo ties the stores, the operation log and the working copy
// together into the commands a user runs against a workspace.
package repo

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"strand/internal/config"
	"strand/internal/errors"
	"strand/internal/graph"
	"strand/internal/logging"
	"strand/internal/metrics"
	"strand/internal/object"
	"strand/internal/oplog"
	"strand/internal/rewrite"
	"strand/internal/safe"
	"strand/internal/tree"
	"strand/internal/validation"
	"strand/internal/workingcopy"
)

const (
	dbDir    = "db"
	storeDir = "store"
)

// Options configures how a repository is opened. Everything is optional.
type Options struct {
	Fs afero.Fs
	// DB replaces the on-disk badger database. The caller keeps ownership.
	DB        *badger.DB
	Config    *config.Config
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Workspace string
	// Clock stamps commits and operations.
	Clock    func() time.Time
	Username string
	Hostname string
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Workspace == "" {
		o.Workspace = oplog.DefaultWorkspace
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Username == "" {
		if u, err := user.Current(); err == nil {
			o.Username = u.Username
		}
	}
	if o.Hostname == "" {
		o.Hostname, _ = os.Hostname()
	}
	o.Metrics = metrics.OrNew(o.Metrics)
	return o
}

// Repo is an open repository seen from one workspace.
type Repo struct {
	mu sync.Mutex

	root      string
	dir       string
	workspace string
	fs        afero.Fs
	cfg       *config.Config
	logger    *logging.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	username  string
	hostname  string

	db      *badger.DB
	ownsDB  bool
	safe    *safe.Safe
	backend *object.Backend
	graph   *graph.Graph
	merger  *tree.Merger
	ops     *oplog.Log
	wc      *workingcopy.WorkingCopy
	states  *workingcopy.StateStore
}

// Init creates a repository in root with an empty working-copy commit on
// top of the root commit.
func Init(root string, opts Options) (*Repo, error) {
	opts = opts.withDefaults()
	dir := filepath.Join(root, workingcopy.RepoDir)
	exists, err := afero.DirExists(opts.Fs, dir)
	if err != nil {
		return nil, errors.Filesystem(dir, err)
	}
	if exists {
		return nil, errors.ValidationError(fmt.Sprintf("%s is already a strand repository", root), nil)
	}
	if err := opts.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Filesystem(dir, err)
	}

	r, err := open(root, opts)
	if err != nil {
		return nil, err
	}
	if err := config.Write(opts.Fs, filepath.Join(dir, config.FileName), &config.Config{Snapshot: r.cfg.Snapshot}); err != nil {
		r.Close()
		return nil, err
	}

	mut := rewrite.NewMutableRepo(r.graph, r.merger, oplog.NewView(), r.settings(), r.metrics, r.logger.Logger)
	wc, err := mut.NewEmptyCommit(nil, "")
	if err != nil {
		r.Close()
		return nil, err
	}
	mut.SetWorkingCopy(r.workspace, wc.ID)
	if err := mut.EnforceHeads(); err != nil {
		r.Close()
		return nil, err
	}
	op, err := r.ops.Init(mut.View(), r.metadata("initialize repo", r.clock()))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("recording first operation: %w", err)
	}

	state := workingcopy.NewState(r.workspace)
	state.CommitID = wc.ID
	state.TreeID = wc.Tree
	state.OperationID = op.ID
	if err := r.states.Save(state); err != nil {
		r.Close()
		return nil, fmt.Errorf("saving working-copy state: %w", err)
	}
	r.logger.Info("initialized repository", zap.String("root", root))
	return r, nil
}

// Open opens the repository whose workspace root is root. Use Discover to
// find root from a directory inside it.
func Open(root string, opts Options) (*Repo, error) {
	opts = opts.withDefaults()
	dir := filepath.Join(root, workingcopy.RepoDir)
	exists, err := afero.DirExists(opts.Fs, dir)
	if err != nil {
		return nil, errors.Filesystem(dir, err)
	}
	if !exists {
		return nil, errors.NotFound(fmt.Sprintf("there is no strand repository at %s", root)).WithHint("strand init")
	}
	r, err := open(root, opts)
	if err != nil {
		return nil, err
	}
	if _, err := r.states.Load(r.workspace); err != nil {
		r.Close()
		if errors.HasType(err, errors.ErrorTypeNotFound) {
			return nil, errors.NotFound(fmt.Sprintf("workspace %q has no working-copy state", r.workspace))
		}
		return nil, err
	}
	return r, nil
}

// Discover walks up from dir to the nearest workspace root.
func Discover(fs afero.Fs, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Filesystem(dir, err)
	}
	for cur := abs; ; cur = filepath.Dir(cur) {
		ok, err := afero.DirExists(fs, filepath.Join(cur, workingcopy.RepoDir))
		if err != nil {
			return "", errors.Filesystem(cur, err)
		}
		if ok {
			return cur, nil
		}
		if filepath.Dir(cur) == cur {
			break
		}
	}
	return "", errors.NotFound(fmt.Sprintf("there is no strand repository in %s or any parent directory", abs)).
		WithHint("strand init")
}

func open(root string, opts Options) (*Repo, error) {
	if err := validation.ValidateWorkspaceName(opts.Workspace); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, workingcopy.RepoDir)
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.Fs, config.UserConfigPath(), filepath.Join(dir, config.FileName)); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logging.NewLogger(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
	}

	r := &Repo{
		root:      root,
		dir:       dir,
		workspace: opts.Workspace,
		fs:        opts.Fs,
		cfg:       cfg,
		logger:    logger,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		username:  opts.Username,
		hostname:  opts.Hostname,
		db:        opts.DB,
	}
	if r.db == nil {
		dbOpts := badger.DefaultOptions(filepath.Join(dir, dbDir))
		dbOpts.Logger = logger.Badger()
		db, err := badger.Open(dbOpts)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		r.db = db
		r.ownsDB = true
	}

	minSize, err := cfg.CompressMinSize()
	if err != nil {
		r.Close()
		return nil, err
	}
	compression := safe.DefaultCompressionOptions()
	compression.MinSize = minSize
	compression.Level = cfg.Store.CompressionLevel
	if r.safe, err = safe.New(r.db, safe.Options{
		Fs:          opts.Fs,
		Root:        filepath.Join(dir, storeDir, "objects"),
		CacheSize:   cfg.Store.CacheEntries,
		Compression: compression,
		Logger:      logger.Logger,
		Metrics:     r.metrics,
	}); err != nil {
		r.Close()
		return nil, fmt.Errorf("opening content store: %w", err)
	}
	if r.backend, err = object.NewBackend(r.safe, cfg.Store.CacheEntries); err != nil {
		r.Close()
		return nil, err
	}
	if r.graph, err = graph.New(r.backend, cfg.Store.CacheEntries, logger.Logger); err != nil {
		r.Close()
		return nil, err
	}
	r.merger = tree.NewMerger(r.backend, r.metrics)
	r.ops = oplog.NewLog(r.safe, r.db, logger.Logger)
	r.states = workingcopy.NewStateStore(r.db)

	maxFileSize, err := cfg.MaxFileSize()
	if err != nil {
		r.Close()
		return nil, err
	}
	r.wc = workingcopy.New(r.backend, workingcopy.Options{
		Fs:          opts.Fs,
		Root:        root,
		MaxFileSize: maxFileSize,
		Concurrency: cfg.Snapshot.Concurrency,
		Logger:      logger.Logger,
		Metrics:     r.metrics,
	})
	return r, nil
}

// Close releases the content store and, unless it was supplied by the
// caller, the database.
func (r *Repo) Close() error {
	var err error
	if r.safe != nil {
		err = r.safe.Close()
	}
	if r.ownsDB && r.db != nil {
		if cerr := r.db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
	}
	return err
}

func (r *Repo) Root() string              { return r.root }
func (r *Repo) Workspace() string         { return r.workspace }
func (r *Repo) Config() *config.Config    { return r.cfg }
func (r *Repo) Metrics() *metrics.Metrics { return r.metrics }

func (r *Repo) settings() rewrite.Settings {
	return rewrite.Settings{
		UserName:  r.cfg.User.Name,
		UserEmail: r.cfg.User.Email,
		Clock:     r.clock,
	}
}

func (r *Repo) metadata(description string, start time.Time) oplog.Metadata {
	return oplog.Metadata{
		Description: description,
		Username:    r.username,
		Hostname:    r.hostname,
		Start:       start.UTC(),
		End:         r.clock().UTC(),
		Tags:        map[string]string{"workspace": r.workspace},
	}
}
