package store

import (
	"context"
	"fmt"
	"strings"
)

// deviceMapping declares precise field types for the devices index: the
// ip type for exact/CIDR matching, keyword for categorical attributes,
// analyzed text for banners, geo_point for locations and a nested mapping
// for the vulnerability list so sub-records are queried independently.
// Single shard, zero replicas: single-node demo deployment only.
const deviceMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0
  },
  "mappings": {
    "properties": {
      "ip":       {"type": "ip"},
      "port":     {"type": "integer"},
      "hostname": {"type": "keyword"},
      "service":  {"type": "keyword"},
      "vendor":   {"type": "keyword"},
      "model":    {"type": "keyword"},
      "firmware": {"type": "keyword"},
      "banner":   {"type": "text"},
      "geo":      {"type": "geo_point"},
      "vulnerabilities": {
        "type": "nested",
        "properties": {
          "id":          {"type": "keyword"},
          "description": {"type": "text"},
          "cvss":        {"type": "float"},
          "category":    {"type": "keyword"}
        }
      },
      "lab":        {"type": "boolean"},
      "first_seen": {"type": "date"}
    }
  }
}`

const cveMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0
  },
  "mappings": {
    "properties": {
      "product": {"type": "keyword"},
      "cve":     {"type": "keyword"},
      "cvss":    {"type": "float"}
    }
  }
}`

// EnsureSchema creates the devices and cve_map indices if they do not
// exist. Existing mappings are never overwritten; a mapping change
// requires a manual migration.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	if err := s.ensureIndex(ctx, DeviceIndex, deviceMapping); err != nil {
		return err
	}
	return s.ensureIndex(ctx, CVEIndex, cveMapping)
}

func (s *Store) ensureIndex(ctx context.Context, name, mapping string) error {
	exists, err := s.client.Indices.Exists(
		[]string{name},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return s.markDown(err)
	}
	defer exists.Body.Close()

	if exists.StatusCode == 200 {
		return nil
	}

	res, err := s.client.Indices.Create(
		name,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return s.markDown(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("create index %s: %s", name, res.String())
	}

	s.log.Infof("Created index %s", name)
	return nil
}
