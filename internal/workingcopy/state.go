package workingcopy

import (
	"github.com/dgraph-io/badger/v4"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/merge"
	"strand/internal/object"
	"strand/internal/storage"
)

const statePrefix = "wc"

// FileState is what the last snapshot or checkout knew about one path.
// Conflict is set for conflicts; Materialized is the digest of the marker
// file written for it, zero when nothing was written.
type FileState struct {
	Size         int64            `json:"size"`
	ModTime      int64            `json:"mtime"`
	Value        object.Value     `json:"value"`
	Conflict     *object.Conflict `json:"conflict,omitempty"`
	Materialized content.Digest   `json:"materialized"`
}

func (s FileState) merge() merge.Merge[object.Value] {
	if s.Conflict != nil {
		return s.Conflict.Merge()
	}
	return merge.Resolved(s.Value)
}

// onDisk reports whether the path has a file in the working directory.
func (s FileState) onDisk() bool {
	return s.Conflict == nil || !s.Materialized.IsZero()
}

// State is the persisted record of one workspace's working directory.
type State struct {
	Workspace   string               `json:"workspace"`
	OperationID content.Digest       `json:"operation_id"`
	CommitID    content.Digest       `json:"commit_id"`
	TreeID      content.Digest       `json:"tree_id"`
	SnapshotAt  int64                `json:"snapshot_at"`
	Files       map[string]FileState `json:"files"`
}

func (s *State) GetID() string { return s.Workspace }

func NewState(workspace string) *State {
	return &State{
		Workspace: workspace,
		TreeID:    object.EmptyTreeID,
		Files:     make(map[string]FileState),
	}
}

func (s *State) clone() *State {
	out := *s
	out.Files = make(map[string]FileState, len(s.Files))
	for p, f := range s.Files {
		out.Files[p] = f
	}
	return &out
}

// StateStore keeps working-copy states in badger under "wc:<workspace>".
type StateStore struct {
	store *storage.BadgerStore[*State]
}

func NewStateStore(db *badger.DB) *StateStore {
	return &StateStore{store: storage.NewBadgerStore[*State](db, statePrefix)}
}

func (s *StateStore) Load(workspace string) (*State, error) {
	st := NewState(workspace)
	if err := s.store.Get(workspace, st); err != nil {
		return nil, err
	}
	if st.Files == nil {
		st.Files = make(map[string]FileState)
	}
	return st, nil
}

func (s *StateStore) Save(st *State) error {
	if st.Workspace == "" {
		return errors.Internal("working-copy state has no workspace", nil)
	}
	return s.store.Put(st)
}

func (s *StateStore) Delete(workspace string) error {
	return s.store.Delete(workspace)
}

// Workspaces lists the workspaces that have a recorded state.
func (s *StateStore) Workspaces() ([]string, error) {
	return s.store.IDs()
}
