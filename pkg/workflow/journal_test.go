package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileJournal_SaveLoad(t *testing.T) {
	journal, err := NewFileJournal(t.TempDir())
	require.NoError(t, err)
	defer journal.Close()

	run := &Run{
		ID:        "run-1",
		Period:    "2026-06",
		Stage:     StagePushed,
		StartedAt: time.Now().UTC().Truncate(time.Second),
		Artifacts: []string{"append.m1.2026-06.csv.gz"},
		Counts:    map[string]int{"m1": 7},
		Total:     7,
	}
	require.NoError(t, journal.Save(context.Background(), run))

	got, err := journal.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.Period, got.Period)
	assert.Equal(t, StagePushed, got.Stage)
	assert.Equal(t, run.Counts, got.Counts)
	assert.False(t, got.UpdatedAt.IsZero(), "Save must stamp UpdatedAt")
}

func TestFileJournal_SaveOverwrites(t *testing.T) {
	journal, err := NewFileJournal(t.TempDir())
	require.NoError(t, err)

	run := &Run{ID: "run-2", Stage: StageBuilding}
	require.NoError(t, journal.Save(context.Background(), run))

	run.Stage = StageDone
	run.Confirmation = "committed"
	require.NoError(t, journal.Save(context.Background(), run))

	got, err := journal.Load(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, StageDone, got.Stage)
	assert.Equal(t, "committed", got.Confirmation)
}

func TestFileJournal_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewFileJournal(dir)
	require.NoError(t, err)

	require.NoError(t, journal.Save(context.Background(), &Run{ID: "run-3"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"),
			"temp file left behind: %s", filepath.Join(dir, e.Name()))
	}
}

func TestFileJournal_LoadMissing(t *testing.T) {
	journal, err := NewFileJournal(t.TempDir())
	require.NoError(t, err)

	_, err = journal.Load(context.Background(), "nope")
	assert.True(t, os.IsNotExist(err))
}

func TestNopJournal(t *testing.T) {
	j := NopJournal{}
	require.NoError(t, j.Save(context.Background(), &Run{ID: "x"}))
	_, err := j.Load(context.Background(), "x")
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, j.Close())
}
