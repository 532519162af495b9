package job

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, j *Job) error {
	return r.db.WithContext(ctx).Create(j).Error
}

// GetByID loads a job and normalizes its stored status. Legacy "done" rows
// come back as "succeeded".
func (r *Repo) GetByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st, err := NormalizeStatus(string(j.Status))
	if err != nil {
		return nil, err
	}
	j.Status = st
	return &j, nil
}

// updateWhereStatus applies a partial update guarded by the job's current
// status. Returns the number of rows touched; zero means the guard lost a
// race and the caller must re-read to decide what happened.
func (r *Repo) updateWhereStatus(ctx context.Context, id string, allowed []Status, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(fields)
	return res.RowsAffected, res.Error
}
