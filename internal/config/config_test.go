package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "LOG_CONSOLE", "GEOEXTRACT_LIMITS_FILE", "GEOEXTRACT_LIMITS_REFRESH", "GEOEXTRACT_TRANSFORM_CACHE", "GEOEXTRACT_TILE_CACHE"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.LogLevel != "info" || c.LogConsole || c.LimitsFile != "" {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.LimitsRefresh != 30*time.Second {
		t.Errorf("LimitsRefresh = %v", c.LimitsRefresh)
	}
	if c.TempDir == "" {
		t.Error("TempDir empty")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_CONSOLE", "yes")
	t.Setenv("GEOEXTRACT_TMPDIR", "/scratch")
	t.Setenv("GEOEXTRACT_LIMITS_FILE", "/etc/geoextract/limits.properties")
	t.Setenv("GEOEXTRACT_LIMITS_REFRESH", "5m")
	t.Setenv("GEOEXTRACT_TILE_CACHE", "not-a-number")

	c := FromEnv()
	if c.LogLevel != "debug" || !c.LogConsole || c.TempDir != "/scratch" {
		t.Errorf("overrides not applied: %+v", c)
	}
	if c.LimitsFile != "/etc/geoextract/limits.properties" || c.LimitsRefresh != 5*time.Minute {
		t.Errorf("limits settings: %+v", c)
	}
	if c.TileCacheSize != 256 {
		t.Errorf("invalid int should fall back to default, got %d", c.TileCacheSize)
	}
}

func TestFromEnv_RefreshFloor(t *testing.T) {
	t.Setenv("GEOEXTRACT_LIMITS_REFRESH", "10ms")
	if got := FromEnv().LimitsRefresh; got != time.Second {
		t.Errorf("LimitsRefresh = %v, want 1s floor", got)
	}
}
