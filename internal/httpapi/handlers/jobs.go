package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ale866/malta-photogramme3d/internal/common"
	"github.com/Ale866/malta-photogramme3d/internal/httpapi/middleware"
	"github.com/Ale866/malta-photogramme3d/internal/job"
)

// Upload accepts a multipart form with a title and one or more image files,
// stages the files on disk, records the job and enqueues it for processing.
func (h *Handler) Upload(c *gin.Context) {
	uid := c.GetUint64(middleware.UserIDKey)

	title := c.PostForm("title")
	form, err := c.MultipartForm()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, "invalid multipart form")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		common.Fail(c, http.StatusBadRequest, 10011, "no images uploaded")
		return
	}
	if title == "" {
		common.Fail(c, http.StatusBadRequest, 10012, "title is required")
		return
	}

	staged, err := h.Stager.StageUpload(title, files)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20010, "failed to store uploaded files")
		return
	}

	j, err := h.Jobs.Create(c.Request.Context(), job.CreateInput{
		OwnerID:    uid,
		Title:      title,
		ImagePaths: staged.ImagePaths,
		InputDir:   staged.InputDir,
		OutputDir:  staged.OutputDir,
	})
	if err != nil {
		if errors.Is(err, job.ErrValidation) {
			common.Fail(c, http.StatusBadRequest, 10013, err.Error())
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	if err := h.Queue.PublishJob(c.Request.Context(), j.ID); err != nil {
		log.Printf("enqueue_failed job_id=%s err=%v", j.ID, err)
		common.Fail(c, http.StatusInternalServerError, 20011, "failed to enqueue job")
		return
	}

	common.OK(c, gin.H{"job_id": j.ID})
}

// GetJobStatus returns the current status snapshot of an owned job.
func (h *Handler) GetJobStatus(c *gin.Context) {
	uid := c.GetUint64(middleware.UserIDKey)
	jobID := c.Param("job_id")

	j, err := h.Jobs.GetOwned(c.Request.Context(), jobID, uid)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
		case errors.Is(err, job.ErrForbidden):
			common.Fail(c, http.StatusForbidden, 40301, "job belongs to another user")
		default:
			common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		}
		return
	}

	common.OK(c, j.Snapshot())
}
