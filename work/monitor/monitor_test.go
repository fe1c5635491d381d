package monitor

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-kiosk/work/capability"
	"iptv-kiosk/work/catalog"
	"iptv-kiosk/work/config"
	"iptv-kiosk/work/engine"
	"iptv-kiosk/work/planner"
	"iptv-kiosk/work/protocol"
	"iptv-kiosk/work/supervisor"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cat := catalog.New([]catalog.StreamRecord{
		{URL: "http://a.example/1.m3u8", Name: "One", LastWorking: time.Now()},
		{URL: "http://b.example/2.m3u8", Name: "Two", LastWorking: time.Now()},
	})
	pl := planner.New(cfg, protocol.NullOptimizer{}, false)
	sup := supervisor.New(cfg, log.New(io.Discard, "", 0))
	eng := engine.New(cfg, cat, pl, sup, nil, capability.Info{}, log.New(io.Discard, "", 0))

	return New("127.0.0.1:0", eng, cat, nil)
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, engine.StateIdle, resp.Engine.State)
	assert.Equal(t, 2, resp.CatalogStreams)
	assert.Empty(t, resp.RecentAttempts)
}

func TestStatusEndpointGzip(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 2, resp.CatalogStreams)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "iptv_kiosk_player_state")
}

func TestStatusRejectsPost(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
