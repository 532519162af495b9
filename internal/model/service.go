package model

import (
	"context"
	"errors"
	"strings"

	"github.com/Ale866/malta-photogramme3d/internal/common"
)

type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

// CreateFromJob creates the catalog entry for a pipeline run's output and
// returns its id.
func (s *Service) CreateFromJob(ctx context.Context, ownerID uint64, sourceJobID, outputDir, title string) (string, error) {
	if ownerID == 0 {
		return "", errors.New("missing ownerId")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errors.New("title is required")
	}
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return "", errors.New("outputDir is required")
	}

	id, err := common.NewULID()
	if err != nil {
		return "", err
	}

	var jobRef *string
	if sourceJobID != "" {
		jobRef = &sourceJobID
	}

	m := &Model{
		ID:          id,
		OwnerID:     ownerID,
		Title:       title,
		SourceJobID: jobRef,
		OutputDir:   outputDir,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return "", err
	}
	return m.ID, nil
}

func (s *Service) List(ctx context.Context, ownerID uint64) ([]Model, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// GetOwned resolves a model and enforces ownership. Non-owner reads look like
// missing rows.
func (s *Service) GetOwned(ctx context.Context, id string, ownerID uint64) (*Model, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return m, nil
}
