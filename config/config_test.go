package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recovery.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
listen_addr = "0.0.0.0:9000"
drain_duration = "5s"

[db]
path = "/var/lib/recovery/state.db"

[smtp]
host = "smtp.example.com"
from = "Recovery <noreply@example.com>"
check_mx = true

[archive]
locations = ["file:///var/lib/recovery/archive", "s3://receipts/prod?region=eu-west-1"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.DrainDuration.Duration)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout.Duration)
	assert.Equal(t, "/var/lib/recovery/state.db", cfg.DB.Path)
	assert.Equal(t, 8, cfg.DB.PoolSize)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.True(t, cfg.SMTP.CheckMX)
	assert.Len(t, cfg.Archive.Locations, 2)
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(*Config)
		target error
	}{
		"empty db path":        {mutate: func(c *Config) { c.DB.Path = " " }},
		"zero pool":            {mutate: func(c *Config) { c.DB.PoolSize = 0 }},
		"bad sender":           {mutate: func(c *Config) { c.SMTP.Host = "smtp.example.com"; c.SMTP.From = "nobody" }},
		"bad archive scheme":   {mutate: func(c *Config) { c.Archive.Locations = []string{"ftp://x"} }, target: interfaces.ErrInvalidLocationURI},
		"recipients no target": {mutate: func(c *Config) { c.Archive.Recipients = []string{"age1xyz"} }},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
		})
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	_, err := Load(writeConfig(t, `[server]
drain_duration = "soon"`))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
