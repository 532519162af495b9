package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ale866/malta-photogramme3d/internal/job"
)

type fakeFetcher struct {
	mu    sync.Mutex
	snap  job.StatusDTO
	err   error
	calls int64
}

func (f *fakeFetcher) set(snap job.StatusDTO) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
}

func (f *fakeFetcher) FetchStatus(_ context.Context, _ string) (job.StatusDTO, error) {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return job.StatusDTO{}, f.err
	}
	return f.snap, nil
}

func (f *fakeFetcher) count() int64 { return atomic.LoadInt64(&f.calls) }

type fakeSubscriber struct {
	mu       sync.Mutex
	failWith error
	handlers Handlers
	closed   bool
}

func (s *fakeSubscriber) Connect(_ context.Context, _ string, h Handlers) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.handlers = h
	if h.OnConnect != nil {
		h.OnConnect()
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
	}, nil
}

func (s *fakeSubscriber) push(snap job.StatusDTO) {
	s.mu.Lock()
	h := s.handlers
	s.mu.Unlock()
	if h.OnUpdate != nil {
		h.OnUpdate(snap)
	}
}

func (s *fakeSubscriber) dropConnection(err error) {
	s.mu.Lock()
	h := s.handlers
	s.mu.Unlock()
	if h.OnDisconnect != nil {
		h.OnDisconnect(err)
	}
}

func running(jobID string, progress int) job.StatusDTO {
	return job.StatusDTO{JobID: jobID, Status: job.StatusRunning, Stage: job.StageSfM, Progress: progress}
}

func succeeded(jobID string) job.StatusDTO {
	return job.StatusDTO{JobID: jobID, Status: job.StatusSucceeded, Stage: job.StageDone, Progress: 100, ModelID: "m1"}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestImmediateFetchOfFinishedJob(t *testing.T) {
	f := &fakeFetcher{}
	f.set(succeeded("j1"))

	tr := New(f, nil, 10*time.Millisecond, nil)
	if err := tr.Start(context.Background(), "j1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if tr.State() != StateIdle {
		t.Fatalf("expected idle after terminal first fetch, got %v", tr.State())
	}
	snap, ok := tr.Snapshot()
	if !ok || snap.Status != job.StatusSucceeded || snap.ModelID != "m1" {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}

	// polling must not continue
	n := f.count()
	time.Sleep(50 * time.Millisecond)
	if f.count() != n {
		t.Fatal("tracker kept polling a terminal job")
	}
}

func TestPollingFallbackWhenSubscriptionUnavailable(t *testing.T) {
	f := &fakeFetcher{}
	f.set(running("j1", 10))
	sub := &fakeSubscriber{failWith: errors.New("gateway down")}

	tr := New(f, sub, 10*time.Millisecond, nil)
	if err := tr.Start(context.Background(), "j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, func() bool { return f.count() >= 3 }, "tracker did not keep polling")
	if tr.State() != StatePolling {
		t.Fatalf("expected polling, got %v", tr.State())
	}
}

func TestSocketSilencesPolling(t *testing.T) {
	f := &fakeFetcher{}
	f.set(running("j1", 10))
	sub := &fakeSubscriber{}

	tr := New(f, sub, 10*time.Millisecond, nil)
	if err := tr.Start(context.Background(), "j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, func() bool { return tr.State() == StateSocket }, "socket never became authoritative")

	// polling stops within one tick of the connection
	time.Sleep(20 * time.Millisecond)
	n := f.count()
	time.Sleep(50 * time.Millisecond)
	if f.count() != n {
		t.Fatal("polling continued while socket connected")
	}

	sub.push(running("j1", 60))
	snap, ok := tr.Snapshot()
	if !ok || snap.Progress != 60 {
		t.Fatalf("pushed update not applied: %+v", snap)
	}
}

func TestDisconnectResumesPolling(t *testing.T) {
	f := &fakeFetcher{}
	f.set(running("j1", 10))
	sub := &fakeSubscriber{}

	tr := New(f, sub, 10*time.Millisecond, nil)
	if err := tr.Start(context.Background(), "j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, func() bool { return tr.State() == StateSocket }, "socket never connected")

	sub.dropConnection(errors.New("transport closed"))
	waitFor(t, func() bool { return tr.State() == StatePolling }, "polling did not resume")

	n := f.count()
	waitFor(t, func() bool { return f.count() > n }, "no polls after disconnect")
}

func TestTerminalUpdateStopsEverything(t *testing.T) {
	f := &fakeFetcher{}
	f.set(running("j1", 10))
	sub := &fakeSubscriber{}

	tr := New(f, sub, 10*time.Millisecond, nil)
	if err := tr.Start(context.Background(), "j1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return tr.State() == StateSocket }, "socket never connected")

	sub.push(succeeded("j1"))
	waitFor(t, func() bool { return tr.State() == StateIdle }, "tracker did not stop on terminal update")

	snap, ok := tr.Snapshot()
	if !ok || snap.Status != job.StatusSucceeded {
		t.Fatalf("terminal snapshot not retained: %+v", snap)
	}
	waitFor(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.closed
	}, "subscription not closed on terminal state")
}

func TestForeignJobSnapshotsIgnored(t *testing.T) {
	f := &fakeFetcher{}
	f.set(running("j1", 10))
	sub := &fakeSubscriber{}

	tr := New(f, sub, 10*time.Millisecond, nil)
	if err := tr.Start(context.Background(), "j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, func() bool { return tr.State() == StateSocket }, "socket never connected")

	sub.push(succeeded("j2")) // stale subscription for a previous job

	if tr.State() != StateSocket {
		t.Fatal("foreign snapshot changed tracker state")
	}
	snap, ok := tr.Snapshot()
	if ok && snap.JobID == "j2" {
		t.Fatal("foreign snapshot applied")
	}
}
