package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	req.NoError(err)
	req.Equal(5*time.Second, cfg.RateWindow)
	req.Equal(20, cfg.RateMaxPerWindow)
	req.Equal(BackendBadger, cfg.StoreBackend)
	req.Equal("localhost:9090", cfg.Address())
}

func TestLoad_FromEnvironment(t *testing.T) {
	req := require.New(t)
	t.Setenv("PORT", "8181")
	t.Setenv("RATE_WINDOW", "2s")
	t.Setenv("RATE_MAX_PER_WINDOW", "3")
	t.Setenv("STORE_BACKEND", "redis")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	req.NoError(err)
	req.Equal(8181, cfg.Port)
	req.Equal(2*time.Second, cfg.RateWindow)
	req.Equal(3, cfg.RateMaxPerWindow)
	req.Equal(BackendRedis, cfg.StoreBackend)
}

func TestLoad_DotEnvFile(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), ".env")
	req.NoError(os.WriteFile(path, []byte("SEARCH_LIMIT=7\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SEARCH_LIMIT") })

	cfg, err := Load(path)
	req.NoError(err)
	req.Equal(7, cfg.SearchLimit)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	req := require.New(t)
	t.Setenv("RATE_MAX_PER_WINDOW", "0")
	t.Setenv("STORE_BACKEND", "sqlite")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	req.Error(err)
	req.Contains(err.Error(), "RATE_MAX_PER_WINDOW")
	req.Contains(err.Error(), "sqlite")
}

func TestValidate_TokenNeedsSecret(t *testing.T) {
	cfg := Config{
		RateWindow: time.Second, RateMaxPerWindow: 1, SendBuffer: 1, SearchLimit: 1,
		PingPeriod: time.Second, PongWait: 2 * time.Second,
		StoreBackend: BackendBadger, DirectoryBackend: BackendBadger,
		RequireToken: true,
	}
	require.ErrorContains(t, cfg.Validate(), "JWT_SECRET")
}
