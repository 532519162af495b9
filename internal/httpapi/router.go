package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Ale866/malta-photogramme3d/internal/common"
	"github.com/Ale866/malta-photogramme3d/internal/config"
	"github.com/Ale866/malta-photogramme3d/internal/httpapi/handlers"
	"github.com/Ale866/malta-photogramme3d/internal/httpapi/middleware"
	"github.com/Ale866/malta-photogramme3d/internal/realtime"
	"github.com/Ale866/malta-photogramme3d/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, queue handlers.JobQueue, hub *realtime.Hub) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	r.Use(cors.New(corsCfg))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, queue)

	r.GET("/ping", h.Ping)

	// auth
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)

	// realtime gateway (authenticates during the handshake)
	r.GET("/ws", hub.Handle)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// jobs (JWT required)
	authGroup.POST("/upload", h.Upload)
	authGroup.GET("/jobs/:job_id", h.GetJobStatus)

	// model catalog
	authGroup.GET("/models", h.ListModels)
	authGroup.GET("/models/:model_id", h.GetModel)

	return r
}
