package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/avapt/assetwatch/pkg/config"
	"github.com/avapt/assetwatch/pkg/ingest"
	"github.com/avapt/assetwatch/pkg/models"
)

// DeviceStore is the store surface the API consumes. The concrete
// implementation is *store.Store; tests substitute a fake.
type DeviceStore interface {
	Available() bool
	BulkIndex(ctx context.Context, docs []models.Device) (int, error)
	SearchDevices(ctx context.Context, q string, size int) (models.SearchResult, error)
	VulnerableDevices(ctx context.Context) (models.SearchResult, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Server is the JSON API consumed by the dashboard front-ends.
type Server struct {
	router *gin.Engine
	store  DeviceStore
	jobs   *ingest.Jobs
	shodan *ingest.ShodanClient
	config config.Config
	logger *logrus.Logger
}

// NewServer wires the API around an already-connected store.
func NewServer(cfg config.Config, st DeviceStore, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		store:  st,
		jobs:   ingest.NewJobs(),
		shodan: ingest.NewShodanClient(cfg.ShodanAPIKey),
		config: cfg,
		logger: logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/ingest/shodan_sample", s.handleIngestSample)
		api.POST("/ingest/shodan_query", s.handleIngestQuery)
		api.GET("/ingest/jobs/:id", s.handleJobStatus)

		api.GET("/devices", s.handleGetDevices)
		api.GET("/devices/search", s.handleSearchDevices)
		api.GET("/devices/vulnerable", s.handleVulnerableDevices)

		api.GET("/cves", s.handleCVEFeed)
		api.GET("/cve/match", s.handleCVEMatch)

		api.GET("/stats", s.handleStats)

		api.POST("/fingerprint/lab", s.handleFingerprintLab)

		api.GET("/roes/template", s.handleROETemplate)
		api.POST("/roes", s.handleSubmitROE)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the API server.
func (s *Server) Run() error {
	s.logger.Infof("API listening on %s (lab_mode=%v)", s.config.ListenAddr, s.config.LabMode)
	return s.router.Run(s.config.ListenAddr)
}
