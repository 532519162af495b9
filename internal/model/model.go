package model

import "time"

// Model is a catalog entry for a finished 3D reconstruction.
type Model struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	OwnerID uint64 `gorm:"index;not null"`
	Title   string `gorm:"type:varchar(255);not null"`

	SourceJobID *string `gorm:"size:26;index"`
	OutputDir   string  `gorm:"type:varchar(512);not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Model) TableName() string { return "models" }
