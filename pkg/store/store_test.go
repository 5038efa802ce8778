package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avapt/assetwatch/pkg/config"
	"github.com/avapt/assetwatch/pkg/models"
)

// fakeNode emulates the slice of the OpenSearch REST surface the store
// touches.
type fakeNode struct {
	mu        sync.Mutex
	pings     int
	failPings int
	indexed   [][]byte
	bulks     [][]byte
	created   []string
	deleted   []string
	bulkFails bool

	searchReply string
	totalCount  int
	vulnCount   int
	cveCount    int
}

func (f *fakeNode) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodHead && path == "/":
		f.pings++
		if f.pings <= f.failPings {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodHead && (path == "/devices" || path == "/cve_map"):
		for _, name := range f.created {
			if "/"+name == path {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPut && (path == "/devices" || path == "/cve_map"):
		f.created = append(f.created, strings.TrimPrefix(path, "/"))
		io.WriteString(w, `{"acknowledged":true}`)

	case r.Method == http.MethodPost && (path == "/devices/_doc" || path == "/cve_map/_doc"):
		body, _ := io.ReadAll(r.Body)
		f.indexed = append(f.indexed, body)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"result":"created"}`)

	case path == "/devices/_bulk" || path == "/cve_map/_bulk":
		body, _ := io.ReadAll(r.Body)
		f.bulks = append(f.bulks, body)
		if f.bulkFails {
			io.WriteString(w, `{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception"}}}]}`)
			return
		}
		io.WriteString(w, `{"errors":false,"items":[]}`)

	case strings.HasSuffix(path, "/_search"):
		reply := f.searchReply
		if reply == "" {
			reply = `{"hits":{"total":{"value":0},"hits":[]}}`
		}
		io.WriteString(w, reply)

	case path == "/devices/_count":
		n := f.totalCount
		if r.ContentLength > 0 {
			n = f.vulnCount
		}
		json.NewEncoder(w).Encode(map[string]int{"count": n})

	case path == "/cve_map/_count":
		json.NewEncoder(w).Encode(map[string]int{"count": f.cveCount})

	case r.Method == http.MethodDelete && path == "/devices":
		f.deleted = append(f.deleted, "devices")
		io.WriteString(w, `{"acknowledged":true}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"unhandled route"}`)
	}
}

func (f *fakeNode) snapshot() (pings int, indexed, bulks [][]byte, created, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings, append([][]byte{}, f.indexed...), append([][]byte{}, f.bulks...),
		append([]string{}, f.created...), append([]string{}, f.deleted...)
}

func testConfig(url string) config.Config {
	return config.Config{
		OpenSearchURL:  url,
		ConnectRetries: 3,
		ConnectDelay:   time.Millisecond,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func connectTestStore(t *testing.T, node *fakeNode) *Store {
	t.Helper()
	srv := node.server(t)
	st, err := Connect(testConfig(srv.URL), quietLogger())
	require.NoError(t, err)
	return st
}

func TestConnectRetriesUntilReachable(t *testing.T) {
	node := &fakeNode{failPings: 2}
	st := connectTestStore(t, node)

	assert.True(t, st.Available())
	pings, _, _, _, _ := node.snapshot()
	assert.Equal(t, 3, pings)
}

func TestConnectExhaustionDegrades(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	st, err := Connect(testConfig(url), quietLogger())
	require.NoError(t, err)
	assert.False(t, st.Available())
}

func TestDegradedReadsAndWrites(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	st, err := Connect(testConfig(url), quietLogger())
	require.NoError(t, err)

	ctx := context.Background()

	res, err := st.SearchDevices(ctx, "", 100)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Devices)

	err = st.IndexDevice(ctx, models.Device{IP: "203.0.113.1"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = st.BulkIndex(ctx, []models.Device{{IP: "203.0.113.1"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBulkIndexEmptyIsNoOp(t *testing.T) {
	node := &fakeNode{}
	st := connectTestStore(t, node)

	count, err := st.BulkIndex(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, _, bulks, _, _ := node.snapshot()
	assert.Empty(t, bulks)
}

func TestIndexDeviceDefaultsTimestamp(t *testing.T) {
	node := &fakeNode{}
	st := connectTestStore(t, node)

	err := st.IndexDevice(context.Background(), models.Device{IP: "203.0.113.9", Port: 554})
	require.NoError(t, err)
	_, indexed, _, _, _ := node.snapshot()
	require.Len(t, indexed, 1)

	var stored models.Device
	require.NoError(t, json.Unmarshal(indexed[0], &stored))
	assert.False(t, stored.FirstSeen.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), stored.FirstSeen, time.Minute)
}

func TestIndexDevicePreservesTimestamp(t *testing.T) {
	node := &fakeNode{}
	st := connectTestStore(t, node)

	seen := time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC)
	err := st.IndexDevice(context.Background(), models.Device{IP: "203.0.113.9", FirstSeen: seen})
	require.NoError(t, err)

	_, indexed, _, _, _ := node.snapshot()
	var stored models.Device
	require.NoError(t, json.Unmarshal(indexed[0], &stored))
	assert.True(t, stored.FirstSeen.Equal(seen))
}

func TestBulkIndexReportsBatchErrors(t *testing.T) {
	node := &fakeNode{bulkFails: true}
	st := connectTestStore(t, node)

	_, err := st.BulkIndex(context.Background(), []models.Device{{IP: "203.0.113.9"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestBulkIndexCountsSubmittedDocs(t *testing.T) {
	node := &fakeNode{}
	st := connectTestStore(t, node)

	docs := []models.Device{{IP: "203.0.113.1"}, {IP: "203.0.113.2"}}
	count, err := st.BulkIndex(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, _, bulks, _, _ := node.snapshot()
	require.Len(t, bulks, 1)
	lines := strings.Split(strings.TrimSpace(string(bulks[0])), "\n")
	assert.Len(t, lines, 4) // action+source per doc
}

func TestSearchDevicesParsesHits(t *testing.T) {
	node := &fakeNode{searchReply: `{
		"hits": {
			"total": {"value": 7},
			"hits": [
				{"_source": {"ip": "203.0.113.10", "port": 554, "vendor": "Hikvision", "vulnerabilities": [{"id": "CVE-2017-7921", "cvss": 10.0}], "lab": false, "first_seen": "2026-01-03T10:00:00Z"}},
				{"_source": {"ip": "198.51.100.5", "port": 80, "vulnerabilities": [], "lab": true, "first_seen": "2026-01-02T10:00:00Z"}}
			]
		}
	}`}
	st := connectTestStore(t, node)

	res, err := st.SearchDevices(context.Background(), "camera", 10)
	require.NoError(t, err)

	assert.Equal(t, 7, res.Total)
	require.Len(t, res.Devices, 2)
	assert.Equal(t, "203.0.113.10", res.Devices[0].IP)
	assert.Equal(t, "Hikvision", res.Devices[0].Vendor)
	assert.True(t, res.Devices[0].Vulnerable())
	assert.True(t, res.Devices[1].Lab)
}

func TestSearchDevicesNoMatches(t *testing.T) {
	node := &fakeNode{}
	st := connectTestStore(t, node)

	res, err := st.SearchDevices(context.Background(), "nonexistent-term-xyz", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Devices)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	node := &fakeNode{}
	st := connectTestStore(t, node)

	require.NoError(t, st.EnsureSchema(context.Background()))
	_, _, _, created, _ := node.snapshot()
	assert.ElementsMatch(t, []string{"devices", "cve_map"}, created)

	require.NoError(t, st.EnsureSchema(context.Background()))
	_, _, _, created, _ = node.snapshot()
	assert.Len(t, created, 2)
}

func TestStatsCounts(t *testing.T) {
	node := &fakeNode{totalCount: 42, vulnCount: 9, cveCount: 120}
	st := connectTestStore(t, node)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Stats{TotalDevices: 42, VulnerableDevices: 9, TotalCVEs: 120}, stats)
}

func TestDeleteAllDropsIndex(t *testing.T) {
	node := &fakeNode{}
	st := connectTestStore(t, node)

	require.NoError(t, st.DeleteAll(context.Background()))
	_, _, _, _, deleted := node.snapshot()
	assert.Equal(t, []string{"devices"}, deleted)
}

func TestReconnectAfterOutage(t *testing.T) {
	node := &fakeNode{failPings: 3} // exhaust all startup attempts
	st := connectTestStore(t, node)
	require.False(t, st.Available())

	// Node is healthy again; the next call re-probes and proceeds.
	res, err := st.SearchDevices(context.Background(), "", 10)
	require.NoError(t, err)
	assert.True(t, st.Available())
	assert.Empty(t, res.Devices)
}
