package oplog

import (
	"time"

	"strand/internal/content"
)

// Metadata describes who ran an operation and why.
type Metadata struct {
	Description string            `json:"description"`
	Username    string            `json:"username"`
	Hostname    string            `json:"hostname"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Operation is one entry in the log. The first operation has no parents;
// merges of concurrent operations have several.
type Operation struct {
	ID       content.Digest   `json:"-"`
	Parents  []content.Digest `json:"parents"`
	View     content.Digest   `json:"view"`
	Metadata Metadata         `json:"metadata"`
}

func (o *Operation) IsRoot() bool { return len(o.Parents) == 0 }

// GetID names op head records in the badger store.
func (h *headsRecord) GetID() string { return h.Name }

type headsRecord struct {
	Name  string           `json:"name"`
	Heads []content.Digest `json:"heads"`
}
