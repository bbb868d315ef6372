package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/kvstore"
	"github.com/rzpsarthak13/storefwd/internal/remote"
	"github.com/rzpsarthak13/storefwd/pkg/storefwd"
)

func newTestServer(t *testing.T) (*httptest.Server, *remote.MemoryStore) {
	t.Helper()
	cfg := storefwd.DefaultConfig()
	cfg.Dispatch.DrainRate = 0

	rs := remote.NewMemoryStore()
	svc, err := storefwd.New(cfg, storefwd.Options{
		Store:  kvstore.NewMemoryKVStore(),
		Remote: rs,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(newServer(svc, zerolog.Nop()).routes())
	t.Cleanup(ts.Close)
	return ts, rs
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestEnqueueAndSync(t *testing.T) {
	ts, rs := newTestServer(t)

	resp, err := http.Post(ts.URL+"/enqueue", "application/json",
		strings.NewReader(`{"table":"orders","kind":"insert","payload":{"id":"o1","total":12.5}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var st core.QueueStatus
	decode(t, resp, &st)
	assert.Equal(t, 1, st.PendingChanges)

	resp, err = http.Get(ts.URL + "/pending")
	require.NoError(t, err)
	var pending []pendingView
	decode(t, resp, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "orders:o1", pending[0].Key)
	assert.Equal(t, 1, pending[0].Priority)

	resp, err = http.Post(ts.URL+"/sync", "application/json", nil)
	require.NoError(t, err)
	decode(t, resp, &st)
	assert.Equal(t, 0, st.PendingChanges)

	row, ok := rs.Row("orders", "o1")
	require.True(t, ok)
	assert.Equal(t, 12.5, row["total"])
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, body := range []string{
		`not json`,
		`{"kind":"insert","payload":{"id":"x"}}`,
		`{"table":"products","kind":"update","payload":{"name":"no id"}}`,
		`{"table":"orders","kind":"merge","payload":{"id":"o1"}}`,
	} {
		resp, err := http.Post(ts.URL+"/enqueue", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestOnlineToggle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/online", "application/json", strings.NewReader(`{"online":false}`))
	require.NoError(t, err)
	var st core.QueueStatus
	decode(t, resp, &st)
	assert.False(t, st.IsOnline)

	resp, err = http.Post(ts.URL+"/online", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	decode(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["online"])

	resp, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	var stats storefwd.Stats
	decode(t, resp, &stats)
	assert.Equal(t, 0, stats.CurrentQueueSize)
}

func TestNewLogger(t *testing.T) {
	_, closeFn, err := newLogger(storefwd.LoggingConfig{Level: "debug"})
	require.NoError(t, err)
	assert.NoError(t, closeFn())

	_, _, err = newLogger(storefwd.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	logger, closeFn, err := newLogger(storefwd.LoggingConfig{Level: "info", File: t.TempDir() + "/syncd.log", MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info().Msg("hello")
	assert.NoError(t, closeFn())
}
