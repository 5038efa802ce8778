package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avapt/assetwatch/pkg/models"
)

// fakeIndexer records bulk batches in place of the store.
type fakeIndexer struct {
	docs []models.Device
	err  error
}

func (f *fakeIndexer) BulkIndex(_ context.Context, docs []models.Device) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.docs = append(f.docs, docs...)
	return len(docs), nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

const shodanReply = `{
	"total": 2,
	"matches": [
		{
			"ip_str": "203.0.113.70",
			"port": 554,
			"data": "RTSP/1.0 200 OK Server: Hikvision",
			"product": "rtsp",
			"hostnames": ["cam70.example.net", "alt.example.net"],
			"location": {"latitude": 48.8566, "longitude": 2.3522}
		},
		{
			"ip_str": "198.51.100.80",
			"port": 80,
			"data": "HTTP/1.1 200 OK",
			"location": {"latitude": null, "longitude": null}
		}
	]
}`

func newFakeShodan(t *testing.T, handler http.HandlerFunc) *ShodanClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewShodanClient("test-key")
	client.BaseURL = srv.URL
	return client
}

func TestShodanSearchTranslation(t *testing.T) {
	client := newFakeShodan(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shodan/host/search", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "product:camera", r.URL.Query().Get("query"))
		io.WriteString(w, shodanReply)
	})

	devices, err := client.Search(context.Background(), "product:camera")
	require.NoError(t, err)
	require.Len(t, devices, 2)

	first := devices[0]
	assert.Equal(t, "203.0.113.70", first.IP)
	assert.Equal(t, 554, first.Port)
	assert.Equal(t, "rtsp", first.Service)
	assert.Equal(t, "cam70.example.net", first.Hostname)
	require.NotNil(t, first.Geo)
	assert.Equal(t, 48.8566, first.Geo.Lat)
	assert.NotNil(t, first.Vulnerabilities)
	assert.Empty(t, first.Vulnerabilities)

	second := devices[1]
	assert.Empty(t, second.Hostname)
	assert.Nil(t, second.Geo)
}

// The query path must never produce lab-flagged documents, whatever the
// query says.
func TestShodanSearchNeverSetsLab(t *testing.T) {
	client := newFakeShodan(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, shodanReply)
	})

	for _, query := range []string{"product:camera", "lab:true", "lab"} {
		devices, err := client.Search(context.Background(), query)
		require.NoError(t, err)
		for _, d := range devices {
			assert.False(t, d.Lab, "query %q produced a lab document", query)
		}
	}
}

func TestShodanSearchTruncatesBanner(t *testing.T) {
	long := strings.Repeat("A", bannerLimit+500)
	client := newFakeShodan(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"matches":[{"ip_str":"203.0.113.1","port":80,"data":"`+long+`"}]}`)
	})

	devices, err := client.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Len(t, devices[0].Banner, bannerLimit)
}

func TestShodanSearchErrorStatus(t *testing.T) {
	client := newFakeShodan(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"Invalid API key"}`)
	})

	_, err := client.Search(context.Background(), "q")
	assert.Error(t, err)
}

func TestRunQueryCompletesJob(t *testing.T) {
	client := newFakeShodan(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, shodanReply)
	})

	idx := &fakeIndexer{}
	jobs := NewJobs()
	job := jobs.Create("product:camera")

	RunQuery(context.Background(), idx, client, jobs, job, quietLogger())

	got, ok := jobs.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, got.State)
	assert.Equal(t, 2, got.Indexed)
	assert.Len(t, idx.docs, 2)
}

func TestRunQueryFailsOnShodanError(t *testing.T) {
	client := newFakeShodan(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	idx := &fakeIndexer{}
	jobs := NewJobs()
	job := jobs.Create("q")

	RunQuery(context.Background(), idx, client, jobs, job, quietLogger())

	got, _ := jobs.Get(job.ID)
	assert.Equal(t, JobFailed, got.State)
	assert.Zero(t, got.Indexed)
	assert.NotEmpty(t, got.Error)
	assert.Empty(t, idx.docs)
}

func TestRunQueryFailsOnIndexError(t *testing.T) {
	client := newFakeShodan(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, shodanReply)
	})

	idx := &fakeIndexer{err: errors.New("store unavailable")}
	jobs := NewJobs()
	job := jobs.Create("q")

	RunQuery(context.Background(), idx, client, jobs, job, quietLogger())

	got, _ := jobs.Get(job.ID)
	assert.Equal(t, JobFailed, got.State)
	assert.Equal(t, "store unavailable", got.Error)
}
