package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parkstatus-backend/internal/store"
)

// NewRouter creates the monitoring router: health, Prometheus metrics, and
// read/control endpoints for running import jobs.
func NewRouter(s store.Store, cps store.CheckpointStore) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, cps)

	r.GET("/healthz", handler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	imports := r.Group("/imports")
	{
		imports.GET("", handler.ListActiveImports)
		imports.GET("/:import_id", handler.GetImport)
		imports.POST("/:import_id/pause", handler.PauseImport)
		imports.POST("/:import_id/cancel", handler.CancelImport)
	}

	return r
}
