// Package batch drives the parser and the router to exhaustion for one
// retirement batch and reports the outcome: success with a summary, an
// empty result, or a classified structural error.
package batch

import (
	"context"
	"io"
	"sort"

	"github.com/retireflow/retireflow/pkg/annotated"
	"github.com/retireflow/retireflow/pkg/router"
	"go.uber.org/zap"
)

// MeasurementCount is one summary row.
type MeasurementCount struct {
	Measurement string
	Count       int
}

// Result is the outcome of a completed batch build. When Empty is true no
// eligible records existed and no artifacts were produced; that is a valid
// terminal state, not an error.
type Result struct {
	Empty     bool
	Summary   []MeasurementCount
	Total     int
	Artifacts []string
}

// Builder materializes output groups from an annotated record stream.
// It exclusively owns all groups for the duration of one batch; closed
// artifacts are handed off as immutable paths in the Result.
type Builder struct {
	parser *annotated.Parser
	router *router.Router
	log    *zap.Logger
}

// New creates a builder reading the stream from r and writing group files
// into dir.
func New(r io.Reader, dir string, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		parser: annotated.NewParser(r),
		router: router.New(dir, log),
		log:    log,
	}
}

// Run consumes the stream to exhaustion. On a structural error the batch
// aborts immediately with the classified error and no artifacts; the
// caller discards the working directory, so no half-written group is ever
// re-read. Parsing and routing are fully sequential.
func (b *Builder) Run(ctx context.Context) (*Result, error) {
	for {
		select {
		case <-ctx.Done():
			b.router.Close()
			return nil, ctx.Err()
		default:
		}

		rec, err := b.parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			b.router.Close()
			return nil, err
		}

		if err := b.router.Route(rec, b.parser.Block()); err != nil {
			b.router.Close()
			return nil, err
		}
	}

	if b.router.Total() == 0 {
		b.router.Close()
		b.log.Info("batch produced no eligible records")
		return &Result{Empty: true}, nil
	}

	if err := b.router.Close(); err != nil {
		return nil, err
	}

	counts := b.router.Counts()
	summary := make([]MeasurementCount, 0, len(counts))
	for m, n := range counts {
		summary = append(summary, MeasurementCount{Measurement: m, Count: n})
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Measurement < summary[j].Measurement
	})

	groups := b.router.Groups()
	artifacts := make([]string, 0, len(groups))
	for _, g := range groups {
		artifacts = append(artifacts, g.Path)
	}

	b.log.Info("batch built",
		zap.Int("groups", len(artifacts)),
		zap.Int("records", b.router.Total()))

	return &Result{
		Summary:   summary,
		Total:     b.router.Total(),
		Artifacts: artifacts,
	}, nil
}
