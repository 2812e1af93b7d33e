// Package router partitions parsed records into per-(measurement, period)
// output groups, re-emitting the annotation block whenever a group needs
// it: once on creation, and again after any mid-stream schema change.
package router

import (
	"github.com/retireflow/retireflow/pkg/annotated"
	"go.uber.org/zap"
)

// Router owns the accumulating output groups for one batch. It is not safe
// for concurrent use; a batch routes strictly sequentially.
type Router struct {
	dir    string
	groups map[Key]*Group
	order  []Key
	counts map[string]int
	total  int
	log    *zap.Logger
}

// New creates a router writing groups into dir, which must exist and be
// exclusively owned by the running batch.
func New(dir string, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		dir:    dir,
		groups: make(map[Key]*Group),
		counts: make(map[string]int),
		log:    log,
	}
}

// Route appends rec to its group, creating the group lazily and inserting
// the annotation block when the group has not yet seen blk's version.
// Because groups track the block version they last emitted, a mid-stream
// schema change re-annotates every group before its next record without
// ever duplicating identical consecutive blocks.
func (r *Router) Route(rec *annotated.Record, blk *annotated.Block) error {
	key := KeyFor(rec)

	g, ok := r.groups[key]
	if !ok {
		var err error
		g, err = openGroup(r.dir, key)
		if err != nil {
			return err
		}
		r.groups[key] = g
		r.order = append(r.order, key)
		r.log.Debug("opened output group",
			zap.String("measurement", key.Measurement),
			zap.String("period", key.Period))
	}

	if err := g.annotate(blk); err != nil {
		return err
	}
	if err := g.append(rec.Raw); err != nil {
		return err
	}

	r.counts[rec.Measurement]++
	r.total++
	return nil
}

// Total returns the number of records routed so far.
func (r *Router) Total() int {
	return r.total
}

// Counts returns routed record counts keyed by measurement (not by group).
func (r *Router) Counts() map[string]int {
	out := make(map[string]int, len(r.counts))
	for m, n := range r.counts {
		out[m] = n
	}
	return out
}

// Groups returns all groups in creation order.
func (r *Router) Groups() []*Group {
	out := make([]*Group, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.groups[key])
	}
	return out
}

// Close flushes and closes every group. All groups are closed even if one
// fails; the first error wins.
func (r *Router) Close() error {
	var firstErr error
	for _, key := range r.order {
		if err := r.groups[key].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
