package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_Healthz(t *testing.T) {
	srv := httptest.NewServer(NewServer(ServerOptions{}).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Readyz(t *testing.T) {
	var live atomic.Bool
	s := NewServer(ServerOptions{
		Ready: live.Load,
		Status: func() map[string]string {
			if live.Load() {
				return map[string]string{"0xpool": "live"}
			}
			return map[string]string{"0xpool": "backfilling"}
		},
	})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	var body struct {
		Ready bool              `json:"ready"`
		Pools map[string]string `json:"pools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, body.Ready)
	assert.Equal(t, "backfilling", body.Pools["0xpool"])

	live.Store(true)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	RecordLiveMerge("0xpool", "5m")

	srv := httptest.NewServer(NewServer(ServerOptions{}).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RejectsPost(t *testing.T) {
	srv := httptest.NewServer(NewServer(ServerOptions{}).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
