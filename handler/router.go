package handler

import (
	"net/http"

	"github.com/chaos-io/bgstudio/middleware"
	"github.com/gin-gonic/gin"
)

// BuildInfo 版本信息，由 main 在链接期注入
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
	GitBranch string
}

func NewRouter(mode string, h *SessionHandler, info BuildInfo) *gin.Engine {
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    info.Version,
			"build_time": info.BuildTime,
			"git_commit": info.GitCommit,
			"git_branch": info.GitBranch,
		})
	})

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/sessions", h.Create)
		api.GET("/sessions/:id", h.Get)
		api.DELETE("/sessions/:id", h.Delete)
		api.POST("/sessions/:id/file", h.SelectFile)
		api.POST("/sessions/:id/removal", h.StartRemoval)
		api.PUT("/sessions/:id/color", h.ChangeColor)
		api.POST("/sessions/:id/reset", h.Reset)
		api.GET("/sessions/:id/events", h.Events)
		api.GET("/sessions/:id/download", h.Download)
		api.GET("/blobs/:id", h.Blob)
	}

	return r
}
