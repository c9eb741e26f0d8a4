package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "langrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
name: gopher-ls
version: 1.4.0
max_concurrency: 8
resolve_cache_size: 256
registration_debounce: 200ms
log:
  level: debug
  format: text
transport:
  protocol: lsp
  type: tcp
  address: 127.0.0.1:7777
  call_timeout: 10s
observability:
  enable_metrics: true
  metrics:
    namespace: gopls
    addr: 127.0.0.1:9090
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gopher-ls", cfg.Name)
	assert.Equal(t, "1.4.0", cfg.Version)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 256, cfg.ResolveCacheSize)
	assert.Equal(t, 200*time.Millisecond, cfg.RegistrationDebounce)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, transport.TransportTypeTCP, cfg.Transport.Type)
	assert.Equal(t, "127.0.0.1:7777", cfg.Transport.Address)
	assert.Equal(t, 10*time.Second, cfg.Transport.CallTimeout)
	assert.True(t, cfg.Observability.EnableMetrics)
	assert.Equal(t, "gopls", cfg.Observability.MetricsConfig.Namespace)

	// untouched fields keep their defaults
	assert.Equal(t, DefaultConfig().ShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "name: [unterminated"},
		{"negative concurrency", "max_concurrency: -1"},
		{"zero cache", "resolve_cache_size: 0"},
		{"bad level", "log:\n  level: loud"},
		{"bad format", "log:\n  format: xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, rpcerrors.IsKind(err, rpcerrors.KindConfiguration))
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, rpcerrors.IsKind(err, rpcerrors.KindConfiguration))
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	logger, err := cfg.Log.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.Contains(t, cfg.String(), "lsp over stdio")
}
