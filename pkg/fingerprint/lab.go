// Package fingerprint holds the lab-only one-shot prober. Unlike the
// ingestion paths, it touches the target directly, so it refuses to run
// outside lab mode.
package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avapt/assetwatch/pkg/models"
)

// ErrLabModeRequired is returned when a probe is attempted outside lab
// mode.
var ErrLabModeRequired = errors.New("lab mode required: refusing to probe")

// defaultPorts are the only ports the lab probe touches.
var defaultPorts = []int{80, 443, 554}

// Result is the outcome of one lab probe.
type Result struct {
	Target    string         `json:"target"`
	OpenPorts []int          `json:"open_ports"`
	HTTP      *HTTPInfo      `json:"http,omitempty"`
	ProbedAt  time.Time      `json:"probed_at"`
	Errors    map[int]string `json:"errors,omitempty"`
}

// HTTPInfo captures the HEAD response of the target's web interface.
type HTTPInfo struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
}

// Prober performs conservative single-attempt connect probes against one
// consented lab target.
type Prober struct {
	LabMode  bool
	Timeout  time.Duration
	Ports    []int
	HTTPPort int
	log      *logrus.Logger
}

// NewProber builds a prober. labMode must be true for Probe to do
// anything.
func NewProber(labMode bool, log *logrus.Logger) *Prober {
	if log == nil {
		log = logrus.New()
	}
	return &Prober{
		LabMode:  labMode,
		Timeout:  5 * time.Second,
		Ports:    defaultPorts,
		HTTPPort: 80,
		log:      log,
	}
}

// Probe runs one connect sweep over the configured ports plus an HTTP
// HEAD against the web port. Single attempt per port, short timeouts,
// no retries.
func (p *Prober) Probe(ctx context.Context, target string) (Result, error) {
	result := Result{Target: target, ProbedAt: time.Now().UTC()}

	if !p.LabMode {
		return result, ErrLabModeRequired
	}

	p.log.Infof("Lab probe of %s on ports %v", target, p.Ports)

	dialer := net.Dialer{Timeout: p.Timeout}
	for _, port := range p.Ports {
		addr := fmt.Sprintf("%s:%d", target, port)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if result.Errors == nil {
				result.Errors = map[int]string{}
			}
			result.Errors[port] = err.Error()
			continue
		}
		conn.Close()
		result.OpenPorts = append(result.OpenPorts, port)
	}

	result.HTTP = p.httpHead(ctx, target)
	return result, nil
}

func (p *Prober) httpHead(ctx context.Context, target string) *HTTPInfo {
	client := &http.Client{Timeout: p.Timeout}
	url := fmt.Sprintf("http://%s:%d", target, p.HTTPPort)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil
	}
	res, err := client.Do(req)
	if err != nil {
		p.log.Debugf("HTTP HEAD of %s failed: %v", url, err)
		return nil
	}
	defer res.Body.Close()

	info := &HTTPInfo{StatusCode: res.StatusCode, Headers: map[string]string{}}
	for name := range res.Header {
		info.Headers[name] = res.Header.Get(name)
	}
	return info
}

// Save writes the probe result to fingerprint_<target>.json in dir.
func (r Result) Save(dir string) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("%s/fingerprint_%s.json", dir, r.Target)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Device converts the probe into a canonical lab-flagged document. This
// is the only path besides the sample bundle allowed to set the lab flag.
func (r Result) Device() models.Device {
	port := 0
	if len(r.OpenPorts) > 0 {
		port = r.OpenPorts[0]
	}

	banner := ""
	if r.HTTP != nil {
		if server := r.HTTP.Headers["Server"]; server != "" {
			banner = fmt.Sprintf("HTTP %d Server: %s", r.HTTP.StatusCode, server)
		} else {
			banner = fmt.Sprintf("HTTP %d", r.HTTP.StatusCode)
		}
	}

	return models.Device{
		IP:              r.Target,
		Port:            port,
		Banner:          banner,
		Vulnerabilities: []models.Vulnerability{},
		Lab:             true,
		FirstSeen:       r.ProbedAt,
	}
}
