package router

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/retireflow/retireflow/pkg/annotated"
)

// Key identifies one output group: a measurement within a retirement
// period (YYYY-MM).
type Key struct {
	Measurement string
	Period      string
}

func (k Key) String() string {
	return k.Measurement + "." + k.Period
}

// FileName returns the deterministic, collision-free artifact name for the
// key. The same key always maps to the same name across runs; that is what
// makes the separator rule below meaningful.
func (k Key) FileName() string {
	return fmt.Sprintf("append.%s.%s.csv", k.Measurement, k.Period)
}

// KeyFor computes the group key of a record.
func KeyFor(rec *annotated.Record) Key {
	return Key{Measurement: rec.Measurement, Period: rec.Period()}
}

// Group is the append-only, file-backed artifact accumulating records for
// one key. It is created lazily on first routed record and closed exactly
// once at end of batch.
type Group struct {
	Key  Key
	Path string

	f *os.File
	w *bufio.Writer

	// blockVersion is the annotation block version last written to this
	// group; 0 means no block written yet. A differing live version forces
	// re-annotation before the next record.
	blockVersion int
	records      int
	closed       bool
}

// openGroup opens (or creates) the backing file. When the file already
// holds content from an earlier run that was never finalized, one blank
// separator line is queued so the next annotation block is visibly
// delimited from the stale content.
func openGroup(dir string, key Key) (*Group, error) {
	path := filepath.Join(dir, key.FileName())

	existing := false
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		existing = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("router: open group %s: %w", key, err)
	}

	g := &Group{
		Key:  key,
		Path: path,
		f:    f,
		w:    bufio.NewWriter(f),
	}
	if existing {
		if _, err := g.w.WriteString("\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("router: write separator for %s: %w", key, err)
		}
	}
	return g, nil
}

// annotate writes the 4 header lines of blk unless this exact block
// version was already the last one written to the group.
func (g *Group) annotate(blk *annotated.Block) error {
	if g.blockVersion == blk.Version {
		return nil
	}
	for _, line := range blk.Lines {
		if _, err := g.w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("router: write annotation for %s: %w", g.Key, err)
		}
	}
	g.blockVersion = blk.Version
	return nil
}

// append writes one raw record line, preserving input order.
func (g *Group) append(raw string) error {
	if _, err := g.w.WriteString(raw + "\n"); err != nil {
		return fmt.Errorf("router: append to %s: %w", g.Key, err)
	}
	g.records++
	return nil
}

// Records returns the number of records routed to this group.
func (g *Group) Records() int {
	return g.records
}

// Close flushes and closes the backing file.
func (g *Group) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	if err := g.w.Flush(); err != nil {
		g.f.Close()
		return fmt.Errorf("router: flush %s: %w", g.Key, err)
	}
	if err := g.f.Close(); err != nil {
		return fmt.Errorf("router: close %s: %w", g.Key, err)
	}
	return nil
}
