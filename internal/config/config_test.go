package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ELD_CONFIG", "")
	t.Setenv("PORT", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []model.DocumentType{model.DocDispatchRecord}, cfg.ELD.RequiredDocumentTypes)
	assert.Equal(t, 60.0, cfg.ELD.AverageSpeedMPH)
}

func TestLoadOverlayThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
rate_rps: 5
eld:
  required_document_types: [DISPATCH_RECORD, BILL_OF_LADING]
  average_speed_mph: 55
`), 0o600))
	t.Setenv("ELD_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("LOCK_TTL", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port, "env wins over overlay")
	assert.Equal(t, 5.0, cfg.RateRPS)
	assert.Equal(t, 55.0, cfg.ELD.AverageSpeedMPH)
	assert.Len(t, cfg.ELD.RequiredDocumentTypes, 2)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
}

func TestValidateRejectsUnknownDocumentType(t *testing.T) {
	cfg := Default()
	cfg.ELD.RequiredDocumentTypes = []model.DocumentType{"NAPKIN"}
	assert.Error(t, cfg.Validate())
}

func TestValidateHMACNeedsSecret(t *testing.T) {
	cfg := Default()
	cfg.AuthMode = "hmac"
	assert.Error(t, cfg.Validate())
	cfg.AuthHMACSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}
