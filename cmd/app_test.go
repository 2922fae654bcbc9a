package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/apicomponents/s3-collection/collection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, opts ...collection.ManifestOption) (string, *App, *collection.Manifest) {
	t.Helper()
	tmp := t.TempDir()
	blobs := &collection.LocalBlobStore{Root: filepath.Join(tmp, "blobs")}

	// seed an empty snapshot so loads resolve on the snapshot path instead of
	// waiting out the rebuild grace delay
	snaps := &collection.BlobSnapshotStore{Store: blobs}
	require.NoError(t, snaps.Put(context.Background(), &collection.SnapshotDocument{Dates: []string{}}))

	manifest := collection.NewManifest(blobs, opts...)
	app := NewApp(manifest, AppConfig{Address: "127.0.0.1:0"})
	require.NoError(t, app.Start())
	t.Cleanup(func() {
		_ = app.Stop(context.Background())
		_ = app.Wait()
	})
	require.NotEmpty(t, app.Address())
	return "http://" + app.Address(), app, manifest
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, payload any, out any) int {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out))
	}
	return resp.StatusCode
}

func TestAppHTTP(t *testing.T) {
	t.Run("endpoints", testAppEndpoints)
	t.Run("ui_content_type", testAppUIContentType)
	t.Run("dates_flow", testAppDatesFlow)
	t.Run("dates_validation", testAppDatesValidation)
	t.Run("background_refresh", testAppBackgroundRefresh)
}

func testAppEndpoints(t *testing.T) {
	base, _, _ := newTestApp(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{name: "healthz", method: http.MethodGet, path: "/healthz", status: http.StatusOK},
		{name: "ui_index", method: http.MethodGet, path: "/", status: http.StatusOK},
		{name: "metrics_index", method: http.MethodGet, path: "/metrics/index", status: http.StatusOK},
		{name: "index_refresh", method: http.MethodPost, path: "/index/refresh", status: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, base+tc.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func testAppUIContentType(t *testing.T) {
	base, _, _ := newTestApp(t)

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func testAppDatesFlow(t *testing.T) {
	base, _, manifest := newTestApp(t)

	for _, date := range []string{"2020-01-05", "2020-01-01", "2020-01-10"} {
		var out map[string]any
		status := postJSON(t, base+"/dates", map[string]string{"date": date}, &out)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", out["status"])
	}

	var out struct {
		Dates []string `json:"dates"`
	}
	status := getJSON(t, base+"/dates?before=2020-01-10&limit=2", &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"2020-01-01", "2020-01-05"}, out.Dates)

	assert.Equal(t, []string{"2020-01-01", "2020-01-05", "2020-01-10"}, manifest.Dates())

	// nothing precedes the first date
	status = getJSON(t, base+"/dates?before=2020-01-01", &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{}, out.Dates)
}

func testAppDatesValidation(t *testing.T) {
	base, _, _ := newTestApp(t)

	var out map[string]any

	status := getJSON(t, base+"/dates", &out)
	assert.Equal(t, http.StatusBadRequest, status)

	status = getJSON(t, base+"/dates?before=not-a-date", &out)
	assert.Equal(t, http.StatusBadRequest, status)

	status = getJSON(t, base+"/dates?before=2020-01-01&limit=zero", &out)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, base+"/dates", map[string]string{"date": "01/02/2020"}, &out)
	assert.Equal(t, http.StatusBadRequest, status)

	status = postJSON(t, base+"/dates", map[string]string{}, &out)
	assert.Equal(t, http.StatusBadRequest, status)
}

func testAppBackgroundRefresh(t *testing.T) {
	tmp := t.TempDir()
	blobs := &collection.LocalBlobStore{Root: filepath.Join(tmp, "blobs")}
	snaps := &collection.BlobSnapshotStore{Store: blobs}
	require.NoError(t, snaps.Put(context.Background(), &collection.SnapshotDocument{Dates: []string{"2020-01-01"}}))

	manifest := collection.NewManifest(blobs)
	app := NewApp(manifest, AppConfig{
		Address:              "127.0.0.1:0",
		IndexRefreshInterval: 20 * time.Millisecond,
	})
	require.NoError(t, app.Start())
	t.Cleanup(func() {
		_ = app.Stop(context.Background())
		_ = app.Wait()
	})

	// the loop keeps the index loaded; within the freshness TTL each tick is
	// a no-op hit rather than a remote load
	require.Eventually(t, func() bool {
		s := manifest.Metrics().Snapshot()
		return s.LoadsTotal >= 1 && s.FreshnessHitsTotal >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), manifest.Metrics().Snapshot().LoadsTotal)
}
