package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/drip/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:     config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Database:   config.DatabaseConfig{Path: filepath.Join(dir, "drip.db")},
		Gateway:    config.GatewayConfig{Instance: "test", Timeout: time.Second},
		Dispatcher: config.DispatcherConfig{TickInterval: time.Second, BatchSize: 1, SendTimeout: time.Second, Timezone: "UTC", ReplyWindow: time.Hour},
		Inbound:    config.InboundConfig{DedupPath: filepath.Join(dir, "inbound.db"), DedupTTL: time.Hour, CleanupInterval: time.Minute},
		Logging:    config.LoggingConfig{Level: "error", Format: "json"},
	}
}

func TestNewAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, a.dispatcher)
	assert.Nil(t, a.metricsServer)

	require.NoError(t, a.Shutdown(context.Background()))
}

func TestNewWithoutDispatcherAndWithMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics = config.MetricsConfig{Enabled: true, ListenAddr: "127.0.0.1:0", Path: "/metrics", CollectInterval: time.Second}

	a, err := New(cfg, Options{NoDispatcher: true})
	require.NoError(t, err)
	assert.Nil(t, a.dispatcher)
	assert.NotNil(t, a.metricsServer)
	assert.NotNil(t, a.metricsCollector)

	a.metricsCollector.Start(context.Background())
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestNewBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispatcher.Timezone = "Nowhere/Invalid"

	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	opts := GatewayOptions(config.GatewayConfig{
		BaseURL: "http://evo", APIKey: "k", Instance: "i", Timeout: time.Second, RequestsPerSecond: 2, DryRun: true,
	})
	assert.Equal(t, "http://evo", opts.BaseURL)
	assert.Equal(t, 2.0, opts.RequestsPerSecond)
	assert.True(t, opts.DryRun)

	dc := DispatcherConfig(config.DispatcherConfig{TickInterval: 5 * time.Second, BatchSize: 3, SendTimeout: time.Second})
	assert.Equal(t, 5*time.Second, dc.TickInterval)
	assert.Equal(t, 3, dc.BatchSize)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	logger = NewLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("dbg")
	assert.True(t, strings.Contains(buf.String(), "msg=dbg"))
}
