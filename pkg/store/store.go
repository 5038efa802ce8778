package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/avapt/assetwatch/pkg/config"
)

// ErrUnavailable is returned when the document store cannot be reached.
// Read paths in the API layer translate it into empty results; write
// paths surface it to the caller.
var ErrUnavailable = errors.New("document store unavailable")

const (
	// DeviceIndex holds the canonical device documents.
	DeviceIndex = "devices"
	// CVEIndex holds product-to-CVE mappings.
	CVEIndex = "cve_map"
)

// Store wraps the OpenSearch client with connection tracking. The client
// is safe for concurrent use; availability is tracked with an atomic flag
// and reconnect probes are collapsed through a singleflight group so a
// burst of callers during an outage triggers a single ping.
type Store struct {
	client    *opensearch.Client
	log       *logrus.Logger
	available atomic.Bool
	reconnect singleflight.Group
}

// Connect builds a Store and probes the node up to cfg.ConnectRetries
// times with a fixed cfg.ConnectDelay between attempts. On exhaustion the
// Store is returned in a degraded (unavailable) state rather than failing:
// reads return empty results and writes return ErrUnavailable until a
// later probe succeeds.
func Connect(cfg config.Config, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.OpenSearchURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	s := &Store{
		client: client,
		log:    log,
	}

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		if err := s.ping(context.Background()); err != nil {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"of":      retries,
				"url":     cfg.OpenSearchURL,
			}).Warnf("OpenSearch not reachable: %v", err)
			if attempt < retries {
				time.Sleep(cfg.ConnectDelay)
			}
			continue
		}
		s.available.Store(true)
		log.Infof("Connected to OpenSearch at %s", cfg.OpenSearchURL)
		break
	}

	if !s.available.Load() {
		log.Error("OpenSearch unreachable after all attempts, continuing in degraded mode")
	}

	return s, nil
}

// Available reports the last known connection state.
func (s *Store) Available() bool {
	return s.available.Load()
}

// ping performs a liveness probe against the node.
func (s *Store) ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("ping failed: %s", res.Status())
	}
	return nil
}

// ensureConnected gates every store operation. When the store is marked
// down, all concurrent callers share a single reconnect probe.
func (s *Store) ensureConnected(ctx context.Context) error {
	if s.available.Load() {
		return nil
	}

	_, err, _ := s.reconnect.Do("reconnect", func() (interface{}, error) {
		if err := s.ping(ctx); err != nil {
			return nil, err
		}
		s.available.Store(true)
		s.log.Info("Reconnected to OpenSearch")
		return nil, nil
	})
	if err != nil {
		return ErrUnavailable
	}
	return nil
}

// markDown flags the connection as lost after a transport failure.
func (s *Store) markDown(err error) error {
	if s.available.CompareAndSwap(true, false) {
		s.log.Warnf("Lost connection to OpenSearch: %v", err)
	}
	return ErrUnavailable
}
