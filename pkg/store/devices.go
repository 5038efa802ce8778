package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/avapt/assetwatch/pkg/models"
)

// vulnerableCap bounds the vulnerable-device listing.
const vulnerableCap = 1000

// searchResponse mirrors the subset of the search reply we consume.
type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source models.Device `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// IndexDevice writes a single device document. A zero FirstSeen is
// defaulted to the current time, so stored documents always carry a
// timestamp. Duplicates are allowed: every call creates a new document.
func (s *Store) IndexDevice(ctx context.Context, doc models.Device) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	if doc.FirstSeen.IsZero() {
		doc.FirstSeen = time.Now().UTC()
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}

	res, err := s.client.Index(
		DeviceIndex,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index device %s: %s", doc.IP, res.Status())
	}
	return nil
}

// BulkIndex writes many documents in one round trip and returns the
// number submitted. An empty batch is a no-op. Any per-item error fails
// the whole call, but the node may still have applied part of the batch:
// this is a best-effort acknowledgment, not a transaction.
func (s *Store) BulkIndex(ctx context.Context, docs []models.Device) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	if err := s.ensureConnected(ctx); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	now := time.Now().UTC()
	for _, doc := range docs {
		if doc.FirstSeen.IsZero() {
			doc.FirstSeen = now
		}
		buf.WriteString(`{"index":{}}` + "\n")
		line, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("marshal device %s: %w", doc.IP, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(
		&buf,
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(DeviceIndex),
	)
	if err != nil {
		return 0, s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("bulk index: %s", res.Status())
	}

	var reply struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("decode bulk reply: %w", err)
	}
	if reply.Errors {
		for _, item := range reply.Items {
			for op, detail := range item {
				if len(detail.Error) > 0 {
					s.log.Errorf("bulk %s failed (status %d): %s", op, detail.Status, detail.Error)
				}
			}
		}
		return 0, fmt.Errorf("bulk index: batch reported item errors")
	}

	return len(docs), nil
}

// SearchDevices runs a free-text query over the device corpus. An empty
// query lists everything newest first; otherwise matches are fuzzy
// (AUTO) across the identity/text fields and ranked by relevance.
func (s *Store) SearchDevices(ctx context.Context, q string, size int) (models.SearchResult, error) {
	empty := models.SearchResult{Devices: []models.Device{}}

	if err := s.ensureConnected(ctx); err != nil {
		return empty, err
	}
	if size <= 0 {
		size = 100
	}

	var query map[string]interface{}
	if q == "" {
		query = matchAllQuery(size)
	} else {
		query = fuzzyQuery(q, size)
	}

	return s.searchDevices(ctx, query)
}

// VulnerableDevices returns documents whose vulnerability list is
// non-empty, capped at 1000.
func (s *Store) VulnerableDevices(ctx context.Context) (models.SearchResult, error) {
	empty := models.SearchResult{Devices: []models.Device{}}

	if err := s.ensureConnected(ctx); err != nil {
		return empty, err
	}
	return s.searchDevices(ctx, vulnerableQuery(vulnerableCap))
}

func (s *Store) searchDevices(ctx context.Context, query map[string]interface{}) (models.SearchResult, error) {
	result := models.SearchResult{Devices: []models.Device{}}

	body, err := json.Marshal(query)
	if err != nil {
		return result, fmt.Errorf("marshal query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(DeviceIndex),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return result, s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return result, fmt.Errorf("search devices: %s", res.Status())
	}

	var reply searchResponse
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return result, fmt.Errorf("decode search reply: %w", err)
	}

	result.Total = reply.Hits.Total.Value
	for _, hit := range reply.Hits.Hits {
		result.Devices = append(result.Devices, hit.Source)
	}
	return result, nil
}

// Stats counts the corpus for the dashboard: total devices, devices with
// at least one vulnerability, and cve_map entries.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats

	if err := s.ensureConnected(ctx); err != nil {
		return stats, err
	}

	total, err := s.count(ctx, DeviceIndex, nil)
	if err != nil {
		return stats, err
	}
	vulnerable, err := s.count(ctx, DeviceIndex, map[string]interface{}{"query": vulnerableFilter()})
	if err != nil {
		return stats, err
	}
	cves, err := s.count(ctx, CVEIndex, nil)
	if err != nil {
		return stats, err
	}

	stats.TotalDevices = total
	stats.VulnerableDevices = vulnerable
	stats.TotalCVEs = cves
	return stats, nil
}

// count tolerates a missing index via ignore_unavailable so stats work
// before the first ingest creates cve_map.
func (s *Store) count(ctx context.Context, index string, query map[string]interface{}) (int, error) {
	opts := []func(*opensearchapi.CountRequest){
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(index),
		s.client.Count.WithIgnoreUnavailable(true),
	}
	if query != nil {
		body, err := json.Marshal(query)
		if err != nil {
			return 0, fmt.Errorf("marshal count query: %w", err)
		}
		opts = append(opts, s.client.Count.WithBody(bytes.NewReader(body)))
	}

	res, err := s.client.Count(opts...)
	if err != nil {
		return 0, s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("count %s: %s", index, res.Status())
	}

	var reply struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("decode count reply: %w", err)
	}
	return reply.Count, nil
}

// DeleteAll drops the devices index entirely. Cleanup tooling only,
// never called from the serving path.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	res, err := s.client.Indices.Delete(
		[]string{DeviceIndex},
		s.client.Indices.Delete.WithContext(ctx),
		s.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("delete index %s: %s", DeviceIndex, res.Status())
	}
	return nil
}
