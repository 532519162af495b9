package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ale866/malta-photogramme3d/internal/common"
	"github.com/Ale866/malta-photogramme3d/internal/httpapi/middleware"
	"github.com/Ale866/malta-photogramme3d/internal/model"
)

func modelDTO(m *model.Model) gin.H {
	return gin.H{
		"id":            m.ID,
		"title":         m.Title,
		"source_job_id": m.SourceJobID,
		"output_dir":    m.OutputDir,
		"created_at":    m.CreatedAt,
	}
}

func (h *Handler) ListModels(c *gin.Context) {
	uid := c.GetUint64(middleware.UserIDKey)

	list, err := h.Models.List(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	out := make([]gin.H, 0, len(list))
	for i := range list {
		out = append(out, modelDTO(&list[i]))
	}
	common.OK(c, gin.H{"models": out})
}

func (h *Handler) GetModel(c *gin.Context) {
	uid := c.GetUint64(middleware.UserIDKey)
	id := c.Param("model_id")

	m, err := h.Models.GetOwned(c.Request.Context(), id, uid)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "model not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, modelDTO(m))
}
