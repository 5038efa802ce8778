package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/avapt/assetwatch/pkg/cvematch"
	"github.com/avapt/assetwatch/pkg/ingest"
	"github.com/avapt/assetwatch/pkg/models"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "AssetWatch Prototype API",
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "disconnected"
	if s.store.Available() {
		status = "connected"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"opensearch": status,
		"lab_mode":   s.config.LabMode,
	})
}

func (s *Server) handleIngestSample(c *gin.Context) {
	if !s.store.Available() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "OpenSearch not available"})
		return
	}

	count, err := ingest.Sample(c.Request.Context(), s.store)
	if err != nil {
		s.logger.Errorf("Error ingesting sample data: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "indexed": count})
}

type shodanQueryRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) handleIngestQuery(c *gin.Context) {
	var req shodanQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	if !s.store.Available() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "OpenSearch not available"})
		return
	}
	if s.config.ShodanAPIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SHODAN_API_KEY not configured"})
		return
	}

	job := s.jobs.Create(req.Query)
	// Detached from the request context: the ingestion outlives the
	// triggering call and is tracked through the job registry.
	go ingest.RunQuery(context.Background(), s.store, s.shodan, s.jobs, job, s.logger)

	c.JSON(http.StatusOK, gin.H{
		"status": "started",
		"query":  req.Query,
		"job_id": job.ID,
	})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// searchAndDegrade runs a device search, swallowing store errors into an
// empty result so the read paths never surface a 5xx to the dashboards.
func (s *Server) searchAndDegrade(c *gin.Context, q string, size int) models.SearchResult {
	res, err := s.store.SearchDevices(c.Request.Context(), q, size)
	if err != nil {
		s.logger.Errorf("Error getting devices: %v", err)
		return models.SearchResult{Devices: []models.Device{}}
	}
	return res
}

func (s *Server) handleGetDevices(c *gin.Context) {
	c.JSON(http.StatusOK, s.searchAndDegrade(c, c.Query("q"), intQuery(c, "size", 100)))
}

func (s *Server) handleSearchDevices(c *gin.Context) {
	c.JSON(http.StatusOK, s.searchAndDegrade(c, c.Query("q"), intQuery(c, "size", 50)))
}

func (s *Server) handleVulnerableDevices(c *gin.Context) {
	res, err := s.store.VulnerableDevices(c.Request.Context())
	if err != nil {
		s.logger.Errorf("Error getting vulnerable devices: %v", err)
		res = models.SearchResult{Devices: []models.Device{}}
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCVEFeed(c *gin.Context) {
	c.JSON(http.StatusOK, cvematch.Table())
}

func (s *Server) handleCVEMatch(c *gin.Context) {
	matches := cvematch.MatchText(c.Query("text"))
	if matches == nil {
		matches = []cvematch.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Errorf("Error getting stats: %v", err)
		stats = models.Stats{}
	}
	c.JSON(http.StatusOK, stats)
}

type fingerprintRequest struct {
	Target string `json:"target" binding:"required"`
}

func (s *Server) handleFingerprintLab(c *gin.Context) {
	var req fingerprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}

	if !s.config.LabMode {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Lab mode is disabled. Enable LAB_MODE to run lab fingerprinting.",
		})
		return
	}

	// The server never probes; it only points at the local CLI.
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Fingerprinting for " + req.Target + " queued (run 'assetwatch fingerprint --target " + req.Target + " --lab' locally).",
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
