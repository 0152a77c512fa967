// Package api serves a read-only view of the published extracts and the run
// history.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andresuchdata/history-extracts/internal/api/handlers"
	"github.com/andresuchdata/history-extracts/internal/api/middleware"
	"github.com/andresuchdata/history-extracts/internal/service"
)

type Services struct {
	Extracts *service.ExtractsService
	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:  defaultOrigins,
		AllowMethods:  []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if services == nil {
		return router
	}

	if services.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(services.Gatherer, promhttp.HandlerOpts{})))
	}

	if services.Extracts != nil {
		h := handlers.NewExtractsHandler(services.Extracts)
		apiGroup := router.Group("/api/v1")
		{
			apiGroup.GET("/extracts", h.ListExtracts)
			apiGroup.GET("/extracts/latest", h.GetLatest)
			apiGroup.GET("/extracts/:stamp", h.GetExtract)
			apiGroup.GET("/runs", h.ListRuns)
			apiGroup.GET("/runs/:id", h.GetRun)
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
