package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/commute-trips-backend/internal/config"
	"github.com/jengzang/commute-trips-backend/internal/handler"
	"github.com/jengzang/commute-trips-backend/internal/middleware"
	"github.com/jengzang/commute-trips-backend/internal/service"
)

// Services are the dependencies of the HTTP handlers
type Services struct {
	Ingest   *service.IngestService
	Analysis *service.AnalysisService
	Trips    *service.TripService
	Stats    *service.StatsService
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", handler.Health)

	fixHandler := handler.NewFixHandler(svc.Ingest)
	analysisHandler := handler.NewAnalysisHandler(svc.Analysis)
	tripHandler := handler.NewTripHandler(svc.Trips)
	statsHandler := handler.NewStatsHandler(svc.Stats)

	api := r.Group("/api/v1")
	{
		// Device uploads
		api.POST("/fixes", middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst), fixHandler.Ingest)

		me := api.Group("/me", middleware.Auth(cfg.JWTSecret))
		{
			me.POST("/analysis/date", analysisHandler.AnalyzeDate)
			me.POST("/analysis/range", analysisHandler.AnalyzeRange)

			me.GET("/trips", tripHandler.GetTrips)
			me.DELETE("/trips", analysisHandler.DeleteTrips)
			me.GET("/trips/:id", tripHandler.GetTripByID)
			me.GET("/trips/:id/trace", tripHandler.GetTripTrace)

			me.GET("/stats", statsHandler.GetStatistics)
		}
	}

	return r
}
