package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/avapt/assetwatch/pkg/models"
)

// IndexCVE writes one product-to-CVE mapping into cve_map.
func (s *Store) IndexCVE(ctx context.Context, entry models.CVEMapEntry) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cve entry: %w", err)
	}

	res, err := s.client.Index(
		CVEIndex,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index cve %s: %s", entry.CVE, res.Status())
	}
	return nil
}

// BulkIndexCVEs writes many cve_map entries in one round trip.
func (s *Store) BulkIndexCVEs(ctx context.Context, entries []models.CVEMapEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if err := s.ensureConnected(ctx); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	for _, entry := range entries {
		buf.WriteString(`{"index":{}}` + "\n")
		line, err := json.Marshal(entry)
		if err != nil {
			return 0, fmt.Errorf("marshal cve %s: %w", entry.CVE, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(
		&buf,
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(CVEIndex),
	)
	if err != nil {
		return 0, s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("bulk index cves: %s", res.Status())
	}

	var reply struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("decode bulk reply: %w", err)
	}
	if reply.Errors {
		return 0, fmt.Errorf("bulk index cves: batch reported item errors")
	}
	return len(entries), nil
}

// SearchCVEProduct fuzzy-matches a product token against cve_map.
func (s *Store) SearchCVEProduct(ctx context.Context, token string, size int) ([]models.CVEMapEntry, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 20
	}

	body, err := json.Marshal(cveProductQuery(token, size))
	if err != nil {
		return nil, fmt.Errorf("marshal cve query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(CVEIndex),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search cves: %s", res.Status())
	}

	var reply struct {
		Hits struct {
			Hits []struct {
				Source models.CVEMapEntry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode cve reply: %w", err)
	}

	entries := make([]models.CVEMapEntry, 0, len(reply.Hits.Hits))
	for _, hit := range reply.Hits.Hits {
		entries = append(entries, hit.Source)
	}
	return entries, nil
}
