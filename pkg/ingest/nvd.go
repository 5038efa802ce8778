package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/avapt/assetwatch/pkg/models"
)

// CVEIndexer is the slice of the store the CVE loader needs.
type CVEIndexer interface {
	BulkIndexCVEs(ctx context.Context, entries []models.CVEMapEntry) (int, error)
}

// nvdFeed mirrors the NVD 1.1 data feed structure: items carry the CVE
// id, an optional CVSSv3 base score and the affected CPE URIs.
type nvdFeed struct {
	CVEItems []struct {
		CVE struct {
			CVEDataMeta struct {
				ID string `json:"ID"`
			} `json:"CVE_data_meta"`
		} `json:"cve"`
		Impact struct {
			BaseMetricV3 struct {
				CVSSV3 struct {
					BaseScore float64 `json:"baseScore"`
				} `json:"cvssV3"`
			} `json:"baseMetricV3"`
		} `json:"impact"`
		Configurations struct {
			Nodes []struct {
				CPEMatch []struct {
					CPE23URI string `json:"cpe23Uri"`
				} `json:"cpe_match"`
			} `json:"nodes"`
		} `json:"configurations"`
	} `json:"CVE_Items"`
}

// ParseNVDFeed extracts product-to-CVE entries from NVD feed JSON.
func ParseNVDFeed(data []byte) ([]models.CVEMapEntry, error) {
	var feed nvdFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse NVD feed: %w", err)
	}

	var entries []models.CVEMapEntry
	for _, item := range feed.CVEItems {
		id := item.CVE.CVEDataMeta.ID
		if id == "" {
			continue
		}
		cvss := item.Impact.BaseMetricV3.CVSSV3.BaseScore
		for _, node := range item.Configurations.Nodes {
			for _, match := range node.CPEMatch {
				if match.CPE23URI == "" {
					continue
				}
				entries = append(entries, models.CVEMapEntry{
					Product: match.CPE23URI,
					CVE:     id,
					CVSS:    cvss,
				})
			}
		}
	}
	return entries, nil
}

// LoadNVDFile reads a local NVD feed file and indexes its cpe->CVE
// entries into cve_map, returning the number written.
func LoadNVDFile(ctx context.Context, idx CVEIndexer, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read NVD file: %w", err)
	}

	entries, err := ParseNVDFeed(data)
	if err != nil {
		return 0, err
	}
	return idx.BulkIndexCVEs(ctx, entries)
}
