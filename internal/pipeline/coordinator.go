package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Ale866/malta-photogramme3d/internal/job"
	"github.com/Ale866/malta-photogramme3d/internal/progress"
)

// Broadcaster pushes a job snapshot to whoever is watching. Implementations
// must be non-blocking best-effort: delivery failures never stall the
// pipeline. Injected at construction, never a package global.
type Broadcaster interface {
	Update(ctx context.Context, snapshot job.StatusDTO)
}

// NopBroadcaster drops every update.
type NopBroadcaster struct{}

func (NopBroadcaster) Update(context.Context, job.StatusDTO) {}

// DefaultFlushInterval throttles durable writes and fan-out while a job runs.
const DefaultFlushInterval = 1000 * time.Millisecond

// Coordinator decouples the high-frequency line events of one running job
// from the low-frequency JobStore writes and realtime fan-out. Line events
// accumulate in memory; a ticker flushes the accumulator on a fixed interval;
// one final flush is guaranteed before the terminal transition so the last
// burst of progress and log lines is never lost.
type Coordinator struct {
	lifecycle   *job.Lifecycle
	broadcaster Broadcaster
	jobID       string
	interval    time.Duration
	tailCap     int

	mu       sync.Mutex
	stage    job.Stage
	progress int
	tail     []string
	dirty    bool
	started  bool

	startOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	loopDone  chan struct{}
}

func NewCoordinator(lc *job.Lifecycle, b Broadcaster, jobID string, interval time.Duration, tailCap int) *Coordinator {
	if b == nil {
		b = NopBroadcaster{}
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if tailCap <= 0 {
		tailCap = job.DefaultLogTailCap
	}
	return &Coordinator{
		lifecycle:   lc,
		broadcaster: b,
		jobID:       jobID,
		interval:    interval,
		tailCap:     tailCap,
		stage:       job.StageStarting,
		stop:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
}

// Start launches the periodic flush loop. Calling it more than once is a
// no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		go c.loop(ctx)
	})
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.flush(ctx); err != nil {
				// persistence hiccups are retried on the next tick,
				// never fatal to the pipeline
				log.Printf("job_flush_failed job=%s err=%v", c.jobID, err)
			}
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Observe folds one inference event into the accumulator. Called from the
// process's line-reading goroutine.
func (c *Coordinator) Observe(ev progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Stage.Known() && ev.Stage.Rank() >= c.stage.Rank() {
		c.stage = ev.Stage
	}
	if ev.Progress > c.progress {
		c.progress = ev.Progress
	}
	c.tail = append(c.tail, ev.Line)
	if len(c.tail) > c.tailCap {
		// drop-oldest sliding window
		c.tail = c.tail[len(c.tail)-c.tailCap:]
	}
	c.dirty = true
}

// flush persists the accumulator and broadcasts the resulting snapshot. The
// accumulator stays dirty on failure so the next tick retries.
func (c *Coordinator) flush(ctx context.Context) error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	stage := c.stage
	prog := c.progress
	tail := make([]string, len(c.tail))
	copy(tail, c.tail)
	// dirty is cleared together with the copy: an Observe landing while the
	// store write is in flight re-marks the accumulator and the next flush
	// picks it up
	c.dirty = false
	c.mu.Unlock()

	updated, err := c.lifecycle.ApplyRuntimeUpdate(ctx, c.jobID, job.RuntimePatch{
		Stage:    stage,
		Progress: &prog,
		LogTail:  tail,
	})
	if err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return err
	}

	c.broadcaster.Update(ctx, updated.Snapshot())
	return nil
}

// halt cancels the flush interval exactly once and waits for the loop to
// exit, so the final flush never races a ticker flush.
func (c *Coordinator) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.loopDone
	}
}

// FinishSucceeded performs the final flush, transitions the job to succeeded
// and broadcasts the terminal snapshot.
func (c *Coordinator) FinishSucceeded(ctx context.Context, modelID string) error {
	c.halt()
	if err := c.flush(ctx); err != nil {
		log.Printf("job_final_flush_failed job=%s err=%v", c.jobID, err)
	}
	updated, err := c.lifecycle.MarkSucceeded(ctx, c.jobID, modelID)
	if err != nil {
		return err
	}
	c.broadcaster.Update(ctx, updated.Snapshot())
	return nil
}

// FinishFailed performs the final flush, transitions the job to failed and
// broadcasts the terminal snapshot.
func (c *Coordinator) FinishFailed(ctx context.Context, errMsg string) error {
	c.halt()
	if err := c.flush(ctx); err != nil {
		log.Printf("job_final_flush_failed job=%s err=%v", c.jobID, err)
	}
	updated, err := c.lifecycle.MarkFailed(ctx, c.jobID, errMsg)
	if err != nil {
		return err
	}
	c.broadcaster.Update(ctx, updated.Snapshot())
	return nil
}
