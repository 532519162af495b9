package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Ale866/malta-photogramme3d/internal/common"
	"github.com/Ale866/malta-photogramme3d/internal/config"
	"github.com/Ale866/malta-photogramme3d/internal/job"
	"github.com/Ale866/malta-photogramme3d/internal/model"
	"github.com/Ale866/malta-photogramme3d/internal/store/redisstore"
	"github.com/Ale866/malta-photogramme3d/internal/upload"
)

// JobQueue enqueues a job id for asynchronous processing.
type JobQueue interface {
	PublishJob(ctx context.Context, jobID string) error
}

// Handler bundles the dependencies shared by the HTTP handlers.
type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Redis  *redisstore.Store
	Queue  JobQueue
	Jobs   *job.Lifecycle
	Models *model.Service
	Stager *upload.Stager
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, queue JobQueue) *Handler {
	return &Handler{
		DB:     db,
		Cfg:    cfg,
		Redis:  rds,
		Queue:  queue,
		Jobs:   job.NewLifecycle(job.NewRepo(db), cfg.JobLogTailSize),
		Models: model.NewService(model.NewRepo(db)),
		Stager: upload.NewStager(cfg.UploadDir, cfg.OutputDir),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}
