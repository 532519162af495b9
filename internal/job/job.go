package job

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// NormalizeStatus maps stored status strings to the closed enum. "done" is a
// legacy synonym for "succeeded" that still exists in old rows; it must be
// normalized at every storage read boundary.
func NormalizeStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return Status(s), nil
	}
	if s == "done" {
		return StatusSucceeded, nil
	}
	return "", fmt.Errorf("unknown model job status: %q", s)
}

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Stage labels the pipeline phase believed active. Ranks are ordered; a job's
// stage never moves to a lower rank.
type Stage string

const (
	StageStarting  Stage = "starting"
	StageSfM       Stage = "sfm"
	StageMVS       Stage = "mvs"
	StageMesh      Stage = "mesh_or_splat"
	StagePackaging Stage = "packaging"
	StageDone      Stage = "done"
)

type stageRange struct {
	rank  int
	floor int
	ceil  int
}

var stageRanges = map[Stage]stageRange{
	StageStarting:  {rank: 0, floor: 0, ceil: 5},
	StageSfM:       {rank: 1, floor: 5, ceil: 40},
	StageMVS:       {rank: 2, floor: 40, ceil: 70},
	StageMesh:      {rank: 3, floor: 70, ceil: 90},
	StagePackaging: {rank: 4, floor: 90, ceil: 100},
	StageDone:      {rank: 5, floor: 100, ceil: 100},
}

func (s Stage) Known() bool { _, ok := stageRanges[s]; return ok }

func (s Stage) Rank() int { return stageRanges[s].rank }

// Floor is the minimum percent implied by reaching this stage.
func (s Stage) Floor() int { return stageRanges[s].floor }

// Ceil is the percent at which this stage hands over to the next one.
func (s Stage) Ceil() int { return stageRanges[s].ceil }

// ClampProgress forces a percent into [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// StringList is stored as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(v any) error {
	if v == nil {
		*l = StringList{}
		return nil
	}
	switch raw := v.(type) {
	case []byte:
		return json.Unmarshal(raw, l)
	case string:
		return json.Unmarshal([]byte(raw), l)
	}
	return fmt.Errorf("stringlist: unsupported column type %T", v)
}

type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	OwnerID uint64 `gorm:"index;not null"`
	Title   string `gorm:"type:varchar(255);not null"`

	InputDir   string     `gorm:"type:varchar(512)"`
	OutputDir  string     `gorm:"type:varchar(512)"`
	ImagePaths StringList `gorm:"type:text"`

	Status   Status     `gorm:"type:varchar(16);index;not null"`
	Stage    Stage      `gorm:"type:varchar(32);not null"`
	Progress int        `gorm:"not null"`
	LogTail  StringList `gorm:"type:text"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	// Filled when succeeded
	ModelID *string `gorm:"size:26;index"`

	StartedAt  *time.Time
	FinishedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "model_jobs" }

// StatusDTO is the wire shape shared by the status endpoint and the realtime
// channel. Optional fields are present only when meaningful.
type StatusDTO struct {
	JobID      string     `json:"jobId"`
	Status     Status     `json:"status"`
	Stage      Stage      `json:"stage"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
	ModelID    string     `json:"modelId,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (j *Job) Snapshot() StatusDTO {
	dto := StatusDTO{
		JobID:      j.ID,
		Status:     j.Status,
		Stage:      j.Stage,
		Progress:   j.Progress,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if j.Error != nil {
		dto.Error = *j.Error
	}
	if j.ModelID != nil {
		dto.ModelID = *j.ModelID
	}
	return dto
}
