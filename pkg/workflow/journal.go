package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Run is the journaled record of one batch. Every stage transition is
// persisted before the next stage starts, so the journal alone tells an
// operator where a dead run stopped and whether the source still holds
// the data.
type Run struct {
	ID     string `json:"id"`
	Period string `json:"period"`
	Stage  Stage  `json:"stage"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Artifacts []string       `json:"artifacts,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	Total     int            `json:"total"`

	Confirmation string `json:"confirmation,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Journal persists run records.
type Journal interface {
	Save(ctx context.Context, r *Run) error
	Load(ctx context.Context, id string) (*Run, error)
	Close() error
}

// FileJournal stores one JSON file per run, written atomically.
type FileJournal struct {
	dir string
}

// NewFileJournal creates dir if needed.
func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workflow: create journal dir: %w", err)
	}
	return &FileJournal{dir: dir}, nil
}

func (j *FileJournal) path(id string) string {
	return filepath.Join(j.dir, id+".json")
}

// Save writes the run record via temp-file rename so a crash never leaves
// a torn journal entry.
func (j *FileJournal) Save(_ context.Context, r *Run) error {
	r.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow: marshal run: %w", err)
	}

	tmp := j.path(r.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("workflow: write journal: %w", err)
	}
	if err := os.Rename(tmp, j.path(r.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workflow: commit journal: %w", err)
	}
	return nil
}

func (j *FileJournal) Load(_ context.Context, id string) (*Run, error) {
	data, err := os.ReadFile(j.path(id))
	if err != nil {
		return nil, err
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("workflow: decode journal %s: %w", id, err)
	}
	return &r, nil
}

func (j *FileJournal) Close() error { return nil }

// NopJournal discards run records; used by plan mode and tests.
type NopJournal struct{}

func (NopJournal) Save(context.Context, *Run) error { return nil }

func (NopJournal) Load(context.Context, string) (*Run, error) {
	return nil, os.ErrNotExist
}

func (NopJournal) Close() error { return nil }
