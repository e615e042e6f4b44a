package workingcopy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Monitor watches a workspace directory on the real filesystem and signals
// on Changes whenever something outside the repository directory moves.
// Signals are coalesced: a pending signal absorbs later ones.
type Monitor struct {
	root    string
	watcher *fsnotify.Watcher
	changes chan struct{}
	logger  *zap.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

func NewMonitor(root string, logger *zap.Logger) (*Monitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	m := &Monitor{
		root:    root,
		watcher: watcher,
		changes: make(chan struct{}, 1),
		logger:  logger,
	}
	if err := m.addTree(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	m.wg.Add(1)
	go m.watchLoop()
	return m, nil
}

func (m *Monitor) Changes() <-chan struct{} { return m.changes }

func (m *Monitor) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := m.watcher.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
}

func (m *Monitor) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFSEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (m *Monitor) handleFSEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(m.root, event.Name)
	if err != nil {
		m.logger.Error("getting relative path", zap.Error(err))
		return
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if skippedDirs[first] {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := m.addTree(event.Name); err != nil {
				m.logger.Error("adding new directory to watcher", zap.Error(err))
			}
		}
	}

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Close stops watching and waits for the event loop to exit.
func (m *Monitor) Close() error {
	var err error
	m.once.Do(func() {
		err = m.watcher.Close()
		m.wg.Wait()
	})
	return err
}
