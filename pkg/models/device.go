package models

import (
	"time"
)

// Device represents one observed network-exposed endpoint. This is the
// canonical document shape stored in the devices index; every ingestion
// path (sample bundle, Shodan query, lab fingerprint) writes this shape.
type Device struct {
	IP              string          `json:"ip"`                 // IP address of the device
	Port            int             `json:"port"`               // Exposed port
	Hostname        string          `json:"hostname,omitempty"` // Hostname, if known
	Service         string          `json:"service,omitempty"`  // Service name (e.g. rtsp, http)
	Vendor          string          `json:"vendor,omitempty"`   // Vendor/manufacturer
	Model           string          `json:"model,omitempty"`    // Device model
	Firmware        string          `json:"firmware,omitempty"` // Firmware version
	Banner          string          `json:"banner,omitempty"`   // Raw service banner text
	Geo             *GeoPoint       `json:"geo,omitempty"`      // Location, absent when unknown
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`    // Known vulnerabilities
	Lab             bool            `json:"lab"`                // True only for consented lab-origin records
	FirstSeen       time.Time       `json:"first_seen"`         // Defaulted at index time when zero
}

// GeoPoint is a latitude/longitude pair stored as a geo_point.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Vulnerability is one entry of a device's vulnerability list. The list is
// mapped as a nested field so each record matches independently.
type Vulnerability struct {
	ID          string  `json:"id"`          // Vulnerability ID (e.g. CVE)
	Description string  `json:"description"` // Short description
	CVSS        float64 `json:"cvss"`        // CVSS base score
	Category    string  `json:"category"`    // Category (e.g. auth-bypass, rce)
}

// Vulnerable reports whether the device carries at least one vulnerability.
func (d Device) Vulnerable() bool {
	return len(d.Vulnerabilities) > 0
}

// CVEMapEntry is one product-to-CVE mapping in the cve_map index.
type CVEMapEntry struct {
	Product string  `json:"product"` // CPE URI or product token
	CVE     string  `json:"cve"`     // CVE identifier
	CVSS    float64 `json:"cvss"`    // CVSS base score
}

// SearchResult is the paged outcome of a device search.
type SearchResult struct {
	Total   int      `json:"total"`
	Devices []Device `json:"devices"`
}

// Stats summarizes the indexed corpus for the dashboard.
type Stats struct {
	TotalDevices      int `json:"total_devices"`
	VulnerableDevices int `json:"vulnerable_devices"`
	TotalCVEs         int `json:"total_cves"`
}
