package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "database.url", envKey("AE_DATABASE_URL"))
	assert.Equal(t, "database.max_conns", envKey("AE_DATABASE_MAX_CONNS"))
	assert.Equal(t, "intervention.stats_cache_ttl", envKey("AE_INTERVENTION_STATS_CACHE_TTL"))
	assert.Equal(t, "", envKey(FileEnvVar))
}

func TestLoadFrom_Layering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://file/db
  max_conns: 4
scheduler:
  check_schedule: "30 1 * * *"
calendar:
  breaks:
    - name: Half term
      start: "2025-10-24"
      end: "2025-10-31"
`), 0o600))

	t.Setenv("AE_DATABASE_MAX_CONNS", "20")
	t.Setenv("AE_INTERVENTION_LOCK_TTL", "5m")
	t.Setenv("AE_AUTH_SERVICE_KEY_HASHES", "h1,h2")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/db", cfg.Database.URL)
	assert.Equal(t, int32(20), cfg.Database.MaxConns, "environment beats file")
	assert.Equal(t, "30 1 * * *", cfg.Scheduler.CheckSchedule)
	assert.Equal(t, 5*time.Minute, cfg.Intervention.LockTTL)
	assert.Equal(t, []string{"h1", "h2"}, cfg.Auth.ServiceKeyHashes)

	// Untouched defaults survive.
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "system", cfg.Intervention.ProvisionerName)

	cal, err := cfg.Calendar.Build()
	require.NoError(t, err)
	require.Len(t, cal.Breaks(), 1)
	assert.Equal(t, "Half term", cal.Breaks()[0].Name)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")

	cfg.Database.URL = "postgres://localhost/db"
	assert.NoError(t, cfg.Validate())

	cfg.Calendar.Anchor = "2025-09-06" // a Saturday
	cfg.Observability.LogFormat = "xml"
	cfg.App.Environment = EnvProduction
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Friday")
	assert.Contains(t, err.Error(), "log_format")
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestDefaultsBuildDefaultCalendar(t *testing.T) {
	cal, err := Defaults().Calendar.Build()
	require.NoError(t, err)
	assert.Equal(t, 40, cal.TotalWeeks())
	assert.Equal(t, 6, cal.WeekLength())
	assert.Len(t, cal.Breaks(), 3)
	assert.Equal(t, "Europe/London", Defaults().SchedulerLocation().String())
}
