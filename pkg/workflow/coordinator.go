package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/retireflow/retireflow/pkg/annotated"
	"github.com/retireflow/retireflow/pkg/archive"
	"github.com/retireflow/retireflow/pkg/batch"
	"github.com/retireflow/retireflow/pkg/source"
)

const tracerName = "github.com/retireflow/retireflow/pkg/workflow"

// Coordinator runs one retirement batch end to end. The core invariant it
// enforces: once the push succeeds, the source-side delete for the period
// executes regardless of the confirmation outcome. A pushed batch is
// recoverable from the archive's inbound share even if the append step
// fails over there, so the source is free to reclaim space.
type Coordinator struct {
	Store    source.Store
	Pusher   archive.Pusher
	Codec    archive.Codec
	Listener archive.Awaiter
	Journal  Journal

	// Period is the retirement period being processed (YYYY-MM).
	Period string

	// TagKey is the retirement tag column in delete predicates.
	TagKey string

	// WorkDir is the parent under which the batch's exclusive working
	// directory is created; empty means the system temp dir.
	WorkDir string

	// ConfirmTimeout bounds the confirmation rendezvous.
	ConfirmTimeout time.Duration

	// Input, when set, replaces Store.Query as the record stream. Used by
	// plan mode and by operators replaying a pre-exported stream.
	Input io.Reader

	// DryRun stops after the build and summary; nothing is compressed,
	// pushed, or deleted.
	DryRun bool

	// OnProgress, when set, is invoked per artifact during the compress
	// and push phases.
	OnProgress func(phase string, done, total int)

	Log *zap.Logger
}

// Outcome is the composite result of a run.
type Outcome struct {
	RunID        string
	Status       Status
	Result       *batch.Result
	Confirmation archive.ConfirmResult
	DeleteErr    error
	Err          error
}

// Run executes the workflow. The working directory is removed on every
// exit path, including cancellation.
func (c *Coordinator) Run(ctx context.Context) *Outcome {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	if c.Journal == nil {
		c.Journal = NopJournal{}
	}
	if c.TagKey == "" {
		c.TagKey = "RetDate"
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 60 * time.Second
	}

	run := &Run{
		ID:        uuid.NewString(),
		Period:    c.Period,
		Stage:     StageBuilding,
		StartedAt: time.Now().UTC(),
	}
	log = log.With(zap.String("run_id", run.ID), zap.String("period", c.Period))
	out := &Outcome{RunID: run.ID}

	c.saveStage(ctx, run, StageBuilding, log)

	dir, err := os.MkdirTemp(c.WorkDir, "retireflow-"+c.Period+"-")
	if err != nil {
		out.Status = StatusAborted
		out.Err = fmt.Errorf("workflow: create working dir: %w", err)
		return out
	}
	defer os.RemoveAll(dir)

	tracer := otel.Tracer(tracerName)

	// The delete stop bound is fixed before the query begins so a
	// long-running batch never deletes records tagged with a future
	// period due to clock drift.
	runStart := time.Now().UTC()

	// Stage: build (parse + route).
	ctx, span := tracer.Start(ctx, "batch.build")
	result, err := c.build(ctx, dir, log)
	span.End()
	if err != nil {
		if se, ok := annotated.AsStructural(err); ok {
			log.Error("structural error, batch aborted",
				zap.String("class", se.Class.String()),
				zap.Int("line", se.Line),
				zap.String("raw", se.Raw))
			out.Status = StatusStructuralError
		} else {
			out.Status = StatusAborted
		}
		out.Err = err
		c.failRun(ctx, run, err, log)
		return out
	}
	out.Result = result

	if result.Empty {
		out.Status = StatusEmpty
		run.Stage = StageDone
		c.saveStage(ctx, run, StageDone, log)
		return out
	}

	run.Total = result.Total
	run.Counts = make(map[string]int, len(result.Summary))
	for _, mc := range result.Summary {
		run.Counts[mc.Measurement] = mc.Count
	}
	c.saveStage(ctx, run, StageBuilt, log)

	if c.DryRun {
		out.Status = StatusEmpty
		if result.Total > 0 {
			out.Status = StatusArchived
		}
		return out
	}

	// Stage: compress. Fatal before anything is transferred or deleted.
	ctx, span = tracer.Start(ctx, "batch.compress")
	compressed, err := c.compress(ctx, result.Artifacts)
	span.SetAttributes(attribute.Int("artifacts", len(result.Artifacts)))
	span.End()
	if err != nil {
		out.Status = StatusCompressFailed
		out.Err = err
		c.failRun(ctx, run, err, log)
		return out
	}
	run.Artifacts = artifactNames(compressed)
	c.saveStage(ctx, run, StageCompressed, log)

	// Stage: push. Fatal, nothing deleted, safe to retry the whole batch.
	ctx, span = tracer.Start(ctx, "batch.push")
	err = c.push(ctx, compressed)
	span.End()
	if err != nil {
		out.Status = StatusTransferFailed
		out.Err = err
		c.failRun(ctx, run, err, log)
		return out
	}
	c.saveStage(ctx, run, StagePushed, log)
	log.Info("artifacts pushed", zap.Int("files", len(compressed)))

	// Stage: await confirmation. Never fatal, never gates the delete.
	c.saveStage(ctx, run, StageAwaiting, log)
	ctx, span = tracer.Start(ctx, "batch.confirm")
	out.Confirmation = c.await(ctx)
	span.SetAttributes(attribute.String("outcome", out.Confirmation.Outcome.String()))
	span.End()

	run.Confirmation = out.Confirmation.Outcome.String()
	switch out.Confirmation.Outcome {
	case archive.Committed:
		c.saveStage(ctx, run, StageConfirmed, log)
	case archive.Rejected:
		log.Warn("archive rejected batch", zap.String("message", out.Confirmation.Message))
		c.saveStage(ctx, run, StageRejected, log)
	case archive.TimedOut:
		log.Warn("confirmation timed out", zap.Duration("timeout", c.ConfirmTimeout))
		c.saveStage(ctx, run, StageTimedOut, log)
	}

	// Stage: delete. Runs unconditionally now that the push succeeded,
	// with arguments independent of the confirmation outcome.
	predicate := fmt.Sprintf("%s=%q", c.TagKey, c.Period)
	ctx, span = tracer.Start(ctx, "batch.delete")
	deleteErr := c.Store.Delete(ctx, predicate, time.Unix(0, 0).UTC(), runStart)
	span.End()
	if deleteErr != nil {
		// The data now exists in two places; flag for reconciliation but
		// do not re-transfer.
		log.Error("source delete failed, manual reconciliation required", zap.Error(deleteErr))
		out.DeleteErr = deleteErr
		out.Status = StatusDeleteFailed
		run.Error = deleteErr.Error()
		c.saveStage(ctx, run, StageDeleteFailed, log)
		c.saveStage(ctx, run, StageDone, log)
		return out
	}
	c.saveStage(ctx, run, StageDeleted, log)

	if out.Confirmation.Outcome == archive.Committed {
		out.Status = StatusArchived
	} else {
		out.Status = StatusArchivedUnconfirmed
	}
	c.saveStage(ctx, run, StageDone, log)
	log.Info("batch finished", zap.String("status", out.Status.String()))
	return out
}

// build obtains the record stream and materializes the output groups.
func (c *Coordinator) build(ctx context.Context, dir string, log *zap.Logger) (*batch.Result, error) {
	stream := c.Input
	if stream == nil {
		body, err := c.Store.Query(ctx, c.Period)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		stream = body
	}
	return batch.New(stream, dir, log).Run(ctx)
}

// compress runs the codec over every artifact with bounded parallelism.
// Per-file compression is deterministic; only the schedule is concurrent.
func (c *Coordinator) compress(ctx context.Context, artifacts []string) ([]string, error) {
	compressed := make([]string, len(artifacts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	done := 0
	for i, src := range artifacts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst, err := c.Codec.Compress(src)
			if err != nil {
				return err
			}
			compressed[i] = dst
			return nil
		})
		done++
		c.progress("compress", done, len(artifacts))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compressed, nil
}

func (c *Coordinator) push(ctx context.Context, files []string) error {
	if err := c.Pusher.Push(ctx, files); err != nil {
		return err
	}
	c.progress("push", len(files), len(files))
	return nil
}

func (c *Coordinator) await(ctx context.Context) archive.ConfirmResult {
	if c.Listener == nil {
		return archive.ConfirmResult{Outcome: archive.TimedOut}
	}
	return c.Listener.Await(ctx, c.ConfirmTimeout)
}

func (c *Coordinator) progress(phase string, done, total int) {
	if c.OnProgress != nil {
		c.OnProgress(phase, done, total)
	}
}

// saveStage persists a stage transition. Journal trouble is logged, never
// allowed to alter the batch outcome.
func (c *Coordinator) saveStage(ctx context.Context, run *Run, stage Stage, log *zap.Logger) {
	run.Stage = stage
	if err := c.Journal.Save(ctx, run); err != nil {
		log.Warn("journal save failed", zap.String("stage", string(stage)), zap.Error(err))
	}
}

func (c *Coordinator) failRun(ctx context.Context, run *Run, err error, log *zap.Logger) {
	run.Error = err.Error()
	c.saveStage(ctx, run, StageDone, log)
}

func artifactNames(paths []string) []string {
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}
