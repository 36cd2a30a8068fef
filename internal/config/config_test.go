package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Bus.Driver)
	assert.Equal(t, "INVOICES", cfg.Bus.Stream)
	assert.Equal(t, 5, cfg.Bus.MaxDeliver)
	assert.InDelta(t, 0.70, cfg.Policy.MinExtractionConfidence, 1e-9)
	assert.Equal(t, 90, cfg.Policy.DuplicateWindowDays)
	assert.InDelta(t, 5000.0, cfg.Policy.AutoApprovalCeiling, 1e-9)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
policy:
  auto_approval_ceiling: 2500
  approver_routes:
    IT: it-lead
`), 0o644))

	t.Setenv("AP_HTTP_ADDR", ":7070")
	t.Setenv("AP_DUPLICATE_WINDOW_DAYS", "30")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr, "environment wins over file")
	assert.InDelta(t, 2500.0, cfg.Policy.AutoApprovalCeiling, 1e-9)
	assert.Equal(t, 30, cfg.Policy.DuplicateWindowDays)
	assert.Equal(t, "it-lead", cfg.Policy.ApproverRoutes["IT"])
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("AP_STORE_DRIVER", "postgres")
	_, err := Load("")
	assert.Error(t, err, "postgres driver needs a DSN")

	t.Setenv("AP_POSTGRES_DSN", "postgres://localhost/ap")
	_, err = Load("")
	assert.NoError(t, err)

	t.Setenv("AP_BUS_DRIVER", "kafka")
	_, err = Load("")
	assert.Error(t, err, "unknown bus driver")
}
