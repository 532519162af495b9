package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/Ale866/malta-photogramme3d/internal/job"
	"github.com/Ale866/malta-photogramme3d/internal/progress"
)

// ModelCatalog is the slice of the catalog the executor needs: turn a
// finished pipeline output into a model entry and return its id.
type ModelCatalog interface {
	CreateFromJob(ctx context.Context, ownerID uint64, sourceJobID, outputDir, title string) (string, error)
}

// Executor drives one job end to end: running transition, external process
// with line-fed progress inference, throttled persistence/fan-out, catalog
// entry, terminal transition. Every failure path funnels into MarkFailed;
// nothing escapes to crash the worker.
type Executor struct {
	Lifecycle     *job.Lifecycle
	Catalog       ModelCatalog
	Runner        Runner
	Broadcaster   Broadcaster
	Classifier    progress.Classifier
	FlushInterval time.Duration
	TailCap       int
}

func (e *Executor) Execute(ctx context.Context, jobID string) error {
	j, err := e.Lifecycle.MarkRunning(ctx, jobID)
	if err != nil {
		return err
	}

	co := NewCoordinator(e.Lifecycle, e.Broadcaster, j.ID, e.FlushInterval, e.TailCap)
	co.Start(ctx)
	if e.Broadcaster != nil {
		e.Broadcaster.Update(ctx, j.Snapshot())
	}

	// single producer: the runner's line goroutine owns the tracker
	tracker := progress.NewTracker(e.Classifier)
	onLine := func(line string) {
		co.Observe(tracker.Consume(line))
	}

	if runErr := e.Runner.Run(ctx, j.InputDir, j.OutputDir, onLine); runErr != nil {
		log.Printf("pipeline_failed job=%s err=%v", j.ID, runErr)
		if err := co.FinishFailed(ctx, runErr.Error()); err != nil {
			log.Printf("mark_failed_error job=%s err=%v", j.ID, err)
		}
		return runErr
	}

	modelID, err := e.Catalog.CreateFromJob(ctx, j.OwnerID, j.ID, j.OutputDir, j.Title)
	if err != nil {
		log.Printf("catalog_create_failed job=%s err=%v", j.ID, err)
		if ferr := co.FinishFailed(ctx, err.Error()); ferr != nil {
			log.Printf("mark_failed_error job=%s err=%v", j.ID, ferr)
		}
		return err
	}

	return co.FinishSucceeded(ctx, modelID)
}
