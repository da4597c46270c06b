// Package server assembles the HTTP surface: global middleware, the
// health and system endpoints, and every module's routes.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/videoseg/masktrace/internal/config"
	"github.com/videoseg/masktrace/internal/modules/modulemanager"

	// Modules self-register through their init functions
	_ "github.com/videoseg/masktrace/internal/modules/trackingmodule"
)

var startTime = time.Now()

// SetupRouter builds the gin engine with middleware and all routes
func SetupRouter(cfg *config.Config) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	if cfg.Server.EnableCORS {
		router.Use(corsMiddleware())
	}

	router.GET("/api/health", handleHealth)
	router.GET("/api/system/status", handleSystemStatus)
	router.GET("/api/system/modules", handleListModules)

	modulemanager.RegisterRoutes(router)

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(startTime).Round(time.Second).String(),
	})
}

func handleListModules(c *gin.Context) {
	modules := modulemanager.ListModules()
	out := make([]gin.H, 0, len(modules))
	for _, m := range modules {
		out = append(out, gin.H{
			"id":   m.ID(),
			"name": m.Name(),
			"core": m.Core(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"modules": out})
}
