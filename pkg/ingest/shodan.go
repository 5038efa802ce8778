package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avapt/assetwatch/pkg/models"
)

const shodanBaseURL = "https://api.shodan.io"

// bannerLimit truncates oversized Shodan banner payloads.
const bannerLimit = 2000

// ShodanClient performs read-only searches against the Shodan REST API.
// It only ever reads metadata Shodan already holds; it never contacts
// the devices themselves.
type ShodanClient struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

// NewShodanClient builds a client with the default endpoint and timeout.
func NewShodanClient(apiKey string) *ShodanClient {
	return &ShodanClient{
		APIKey:  apiKey,
		BaseURL: shodanBaseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// shodanMatch is the subset of a Shodan search hit we translate.
type shodanMatch struct {
	IPStr     string   `json:"ip_str"`
	Port      int      `json:"port"`
	Data      string   `json:"data"`
	Product   string   `json:"product"`
	Hostnames []string `json:"hostnames"`
	Location  struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"location"`
}

// Search runs one host search and translates the matches into canonical
// device documents. The lab flag is never set on this path, whatever the
// query: only explicitly consented lab records may carry it.
func (c *ShodanClient) Search(ctx context.Context, query string) ([]models.Device, error) {
	endpoint := fmt.Sprintf("%s/shodan/host/search?key=%s&query=%s",
		c.BaseURL, url.QueryEscape(c.APIKey), url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build shodan request: %w", err)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shodan search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shodan search: unexpected status %s", res.Status)
	}

	var reply struct {
		Matches []shodanMatch `json:"matches"`
	}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode shodan reply: %w", err)
	}

	devices := make([]models.Device, 0, len(reply.Matches))
	for _, m := range reply.Matches {
		devices = append(devices, translateShodanMatch(m))
	}
	return devices, nil
}

func translateShodanMatch(m shodanMatch) models.Device {
	banner := m.Data
	if len(banner) > bannerLimit {
		banner = banner[:bannerLimit]
	}

	doc := models.Device{
		IP:              m.IPStr,
		Port:            m.Port,
		Service:         m.Product,
		Banner:          banner,
		Vulnerabilities: []models.Vulnerability{},
		Lab:             false,
	}
	if len(m.Hostnames) > 0 {
		doc.Hostname = m.Hostnames[0]
	}
	if m.Location.Latitude != nil && m.Location.Longitude != nil {
		doc.Geo = &models.GeoPoint{Lat: *m.Location.Latitude, Lon: *m.Location.Longitude}
	}
	return doc
}

// RunQuery executes one Shodan ingestion under the job registry: search,
// bulk index, record the outcome. Shodan errors (bad key, quota) mark
// the job failed with a zero count; they never crash the server.
func RunQuery(ctx context.Context, idx DeviceIndexer, client *ShodanClient, jobs *Jobs, job Job, log *logrus.Logger) {
	jobs.SetRunning(job.ID)

	devices, err := client.Search(ctx, job.Query)
	if err != nil {
		log.Errorf("Shodan ingestion %s failed: %v", job.ID, err)
		jobs.SetFailed(job.ID, err)
		return
	}

	count, err := idx.BulkIndex(ctx, devices)
	if err != nil {
		log.Errorf("Shodan ingestion %s: indexing failed: %v", job.ID, err)
		jobs.SetFailed(job.ID, err)
		return
	}

	log.Infof("Shodan ingestion %s indexed %d devices for query %q", job.ID, count, job.Query)
	jobs.SetCompleted(job.ID, count)
}
