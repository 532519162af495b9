// Package tracker reconciles the two ways a client can follow a job: a
// polling timer against the status endpoint and a realtime push
// subscription. Exactly one of them is authoritative at a time, and both are
// stopped once the job reaches a terminal state.
package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Ale866/malta-photogramme3d/internal/job"
)

// DefaultPollInterval is used when the caller does not configure one.
const DefaultPollInterval = 5 * time.Second

// Fetcher retrieves a one-off status snapshot.
type Fetcher interface {
	FetchStatus(ctx context.Context, jobID string) (job.StatusDTO, error)
}

// Handlers receive push-subscription events.
type Handlers struct {
	OnConnect    func()
	OnSnapshot   func(job.StatusDTO)
	OnUpdate     func(job.StatusDTO)
	OnDisconnect func(error)
	OnError      func(error)
}

// Subscriber attempts a realtime subscription for one job. Connect returns a
// close function once the transport handshake succeeded; handlers fire from
// the subscription's own goroutine afterwards.
type Subscriber interface {
	Connect(ctx context.Context, jobID string, h Handlers) (close func(), err error)
}

type State int

const (
	StateIdle State = iota
	StatePolling
	StateSocket
)

type Tracker struct {
	fetcher    Fetcher
	subscriber Subscriber
	interval   time.Duration
	onChange   func(job.StatusDTO)

	mu         sync.Mutex
	jobID      string
	state      State
	snapshot   *job.StatusDTO
	lastErr    error
	pollCancel context.CancelFunc
	subClose   func()
}

// New builds a tracker. subscriber may be nil, in which case the tracker is
// poll-only. onChange may be nil; it runs on the tracker's goroutines and
// must not call back into the tracker.
func New(fetcher Fetcher, subscriber Subscriber, interval time.Duration, onChange func(job.StatusDTO)) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		fetcher:    fetcher,
		subscriber: subscriber,
		interval:   interval,
		onChange:   onChange,
	}
}

// Start begins tracking jobID: one immediate fetch (the job may already be
// finished), interval polling, and a concurrent push-subscription attempt
// that silences the poller once connected.
func (t *Tracker) Start(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("job id is required")
	}

	t.Stop()

	t.mu.Lock()
	t.jobID = jobID
	t.state = StatePolling
	t.snapshot = nil
	t.lastErr = nil
	t.mu.Unlock()

	t.pollOnce(ctx)

	t.mu.Lock()
	if t.state == StateIdle {
		// the immediate fetch already saw a terminal status
		t.mu.Unlock()
		return nil
	}
	t.startPollingLocked(ctx)
	t.mu.Unlock()

	if t.subscriber != nil {
		go t.connect(ctx, jobID)
	}
	return nil
}

// Stop terminates polling and the subscription and returns to idle. The last
// snapshot stays readable.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Snapshot returns the most recent snapshot, if any.
func (t *Tracker) Snapshot() (job.StatusDTO, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return job.StatusDTO{}, false
	}
	return *t.snapshot, true
}

// State reports which source is currently authoritative.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the last tracking error, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Tracker) stopLocked() {
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
	if t.subClose != nil {
		t.subClose()
		t.subClose = nil
	}
	t.jobID = ""
	t.state = StateIdle
}

func (t *Tracker) startPollingLocked(ctx context.Context) {
	if t.pollCancel != nil || t.state == StateIdle {
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	t.pollCancel = cancel
	t.state = StatePolling

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
				t.pollOnce(pctx)
			}
		}
	}()
}

func (t *Tracker) stopPollingLocked() {
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
}

func (t *Tracker) pollOnce(ctx context.Context) {
	t.mu.Lock()
	jobID := t.jobID
	t.mu.Unlock()
	if jobID == "" {
		return
	}

	snap, err := t.fetcher.FetchStatus(ctx, jobID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.lastErr = err
		return
	}
	t.lastErr = nil
	t.applyLocked(snap)
}

// applyLocked folds a snapshot in, ignoring snapshots for jobs other than
// the tracked one (a stale subscription racing a new Start) and shutting
// everything down on terminal status.
func (t *Tracker) applyLocked(snap job.StatusDTO) {
	if t.jobID == "" || snap.JobID != t.jobID {
		return
	}
	t.snapshot = &snap
	if t.onChange != nil {
		t.onChange(snap)
	}
	if snap.Status.Terminal() {
		t.stopLocked()
	}
}

func (t *Tracker) connect(ctx context.Context, jobID string) {
	apply := func(snap job.StatusDTO) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.applyLocked(snap)
	}

	closeFn, err := t.subscriber.Connect(ctx, jobID, Handlers{
		OnConnect: func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.jobID != jobID || t.state == StateIdle {
				return
			}
			// push is authoritative now
			t.stopPollingLocked()
			t.state = StateSocket
		},
		OnSnapshot: apply,
		OnUpdate:   apply,
		OnDisconnect: func(err error) {
			t.resumePolling(ctx, jobID, err)
		},
		OnError: func(err error) {
			t.resumePolling(ctx, jobID, err)
		},
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		// never leave the job untracked: polling keeps running
		t.lastErr = err
		return
	}
	if t.jobID != jobID || t.state == StateIdle {
		// tracking stopped or moved on while the handshake was in flight
		closeFn()
		return
	}
	t.subClose = closeFn
}

func (t *Tracker) resumePolling(ctx context.Context, jobID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobID != jobID || t.state == StateIdle {
		return
	}
	if err != nil {
		t.lastErr = err
	}
	t.startPollingLocked(ctx)
}
