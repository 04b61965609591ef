package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkidx/config"
)

func metricsApp(t *testing.T, listen string) *app {
	t.Helper()
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	cfg.Log.Level = "error"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = listen
	return &app{cfg: cfg}
}

func TestMetricsEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m, stop, err := metricsApp(t, addr).newManager(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, m)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chunkidx_chunks_")
}

func TestMetricsEndpoint_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, _, err = metricsApp(t, ln.Addr().String()).newManager(context.Background(), false)
	assert.ErrorContains(t, err, "metrics endpoint")
}
