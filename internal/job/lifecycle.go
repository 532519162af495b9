package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ale866/malta-photogramme3d/internal/common"
)

// DefaultLogTailCap bounds the per-job sliding window of recent output lines.
const DefaultLogTailCap = 200

const defaultFailureMessage = "pipeline failed"

var nonTerminal = []Status{StatusQueued, StatusRunning}

// Lifecycle is the single authority for job status transitions:
//
//	queued -> running -> {succeeded, failed}
//
// succeeded and failed are terminal. Runtime updates against a terminal job
// are silently dropped so that a late throttled flush can never revive a
// finished job.
type Lifecycle struct {
	repo       *Repo
	logTailCap int
}

func NewLifecycle(repo *Repo, logTailCap int) *Lifecycle {
	if logTailCap <= 0 {
		logTailCap = DefaultLogTailCap
	}
	return &Lifecycle{repo: repo, logTailCap: logTailCap}
}

type CreateInput struct {
	OwnerID    uint64
	Title      string
	ImagePaths []string
	InputDir   string
	OutputDir  string
}

// Create inserts a new job in state queued, progress 0, stage starting.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (*Job, error) {
	if in.OwnerID == 0 {
		return nil, fmt.Errorf("%w: missing owner", ErrValidation)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(in.ImagePaths) == 0 {
		return nil, fmt.Errorf("%w: no images uploaded", ErrValidation)
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	j := &Job{
		ID:         id,
		OwnerID:    in.OwnerID,
		Title:      title,
		InputDir:   in.InputDir,
		OutputDir:  in.OutputDir,
		ImagePaths: in.ImagePaths,
		Status:     StatusQueued,
		Stage:      StageStarting,
		Progress:   0,
		LogTail:    StringList{},
	}
	if err := l.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Get resolves a job by id.
func (l *Lifecycle) Get(ctx context.Context, id string) (*Job, error) {
	return l.repo.GetByID(ctx, id)
}

// GetOwned resolves a job and enforces ownership.
func (l *Lifecycle) GetOwned(ctx context.Context, id string, ownerID uint64) (*Job, error) {
	j, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return j, nil
}

// MarkRunning moves a queued job to running, stamping StartedAt once and
// raising progress to at least 1. Calling it on a job that is already
// running is a no-op; calling it on a terminal job is an invalid transition.
func (l *Lifecycle) MarkRunning(ctx context.Context, id string) (*Job, error) {
	j, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case j.Status == StatusRunning:
		return j, nil
	case j.Status.Terminal():
		return nil, fmt.Errorf("%w: %s -> running", ErrInvalidTransition, j.Status)
	}

	now := time.Now()
	fields := map[string]any{
		"status":   StatusRunning,
		"progress": maxInt(j.Progress, 1),
	}
	if j.StartedAt == nil {
		fields["started_at"] = now
	}

	n, err := l.repo.updateWhereStatus(ctx, id, []Status{StatusQueued}, fields)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// lost a race; decide from the fresh record
		cur, err := l.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status == StatusRunning {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %s -> running", ErrInvalidTransition, cur.Status)
	}
	return l.repo.GetByID(ctx, id)
}

// RuntimePatch carries the throttled in-flight fields. Nil/empty members are
// left untouched.
type RuntimePatch struct {
	Stage    Stage
	Progress *int
	LogTail  []string
}

// ApplyRuntimeUpdate merges a runtime patch into a non-terminal job:
// progress never decreases, stage rank never regresses, and the log tail is
// trimmed to the most recent entries. Terminal jobs are returned unchanged.
func (l *Lifecycle) ApplyRuntimeUpdate(ctx context.Context, id string, patch RuntimePatch) (*Job, error) {
	j, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	fields := map[string]any{}

	progress := j.Progress
	if patch.Progress != nil {
		if p := ClampProgress(*patch.Progress); p > progress {
			progress = p
			fields["progress"] = progress
		}
	}

	stage := j.Stage
	if patch.Stage.Known() && patch.Stage.Rank() >= stage.Rank() {
		if patch.Stage != stage {
			stage = patch.Stage
			fields["stage"] = stage
		}
	}

	var tail StringList
	if patch.LogTail != nil {
		tail = trimTail(patch.LogTail, l.logTailCap)
		fields["log_tail"] = tail
	}

	if len(fields) == 0 {
		return j, nil
	}

	n, err := l.repo.updateWhereStatus(ctx, id, nonTerminal, fields)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// the job went terminal between read and write; drop the patch
		return l.repo.GetByID(ctx, id)
	}

	j.Progress = progress
	j.Stage = stage
	if patch.LogTail != nil {
		j.LogTail = tail
	}
	return j, nil
}

// MarkSucceeded moves a non-terminal job to succeeded with the catalog entry
// it produced. Progress snaps to 100 and stage to done.
func (l *Lifecycle) MarkSucceeded(ctx context.Context, id string, modelID string) (*Job, error) {
	j, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s -> succeeded", ErrInvalidTransition, j.Status)
	}

	n, err := l.repo.updateWhereStatus(ctx, id, nonTerminal, map[string]any{
		"status":      StatusSucceeded,
		"progress":    100,
		"stage":       StageDone,
		"model_id":    modelID,
		"error":       nil,
		"finished_at": time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		cur, err := l.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> succeeded", ErrInvalidTransition, cur.Status)
	}
	return l.repo.GetByID(ctx, id)
}

// MarkFailed moves a non-terminal job to failed. An empty message gets a
// generic one.
func (l *Lifecycle) MarkFailed(ctx context.Context, id string, errMsg string) (*Job, error) {
	j, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, j.Status)
	}

	if strings.TrimSpace(errMsg) == "" {
		errMsg = defaultFailureMessage
	}

	n, err := l.repo.updateWhereStatus(ctx, id, nonTerminal, map[string]any{
		"status":      StatusFailed,
		"error":       errMsg,
		"model_id":    nil,
		"finished_at": time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		cur, err := l.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, cur.Status)
	}
	return l.repo.GetByID(ctx, id)
}

func trimTail(lines []string, limit int) StringList {
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make(StringList, len(lines))
	copy(out, lines)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
