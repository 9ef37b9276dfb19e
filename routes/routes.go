package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-citizenlink/handlers"
)

type Deps struct {
	Scheduler handlers.Scheduler
	Validator handlers.JurisdictionResolver
	Geocoder  handlers.AddressResolver // nil when reverse geocoding is off
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
	ClientURL string // dashboard origin, empty disables CORS headers
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))
	if d.ClientURL != "" {
		r.Use(cors(d.ClientURL))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Hello, welcome to CitizenLink!",
		})
	})

	api := r.Group("/api")
	{
		api.GET("/snapshot", func(c *gin.Context) {
			handlers.GetSnapshot(c, d.Scheduler)
		})
		api.GET("/clusters/:id", func(c *gin.Context) {
			handlers.GetCluster(c, d.Scheduler)
		})
		api.POST("/recluster", func(c *gin.Context) {
			handlers.TriggerRecluster(c, d.Scheduler)
		})
		api.GET("/status", func(c *gin.Context) {
			handlers.GetStatus(c, d.Scheduler)
		})
		api.GET("/jurisdiction", func(c *gin.Context) {
			handlers.GetJurisdiction(c, d.Validator)
		})
		api.GET("/address", func(c *gin.Context) {
			handlers.GetAddress(c, d.Geocoder, d.Logger)
		})
	}

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
