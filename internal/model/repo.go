package model

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("model not found")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, m *Model) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Model, error) {
	var m Model
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListByOwner returns the owner's models, newest first.
func (r *Repo) ListByOwner(ctx context.Context, ownerID uint64) ([]Model, error) {
	var out []Model
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
