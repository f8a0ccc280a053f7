package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel      string
	LogConsole    bool
	TempDir       string
	LimitsFile    string
	LimitsRefresh time.Duration
	TransformLRU  int
	TileCacheSize int
}

func FromEnv() Config {
	refresh := getduration("GEOEXTRACT_LIMITS_REFRESH", 30*time.Second)
	if refresh < time.Second {
		refresh = time.Second
	}
	return Config{
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogConsole:    getbool("LOG_CONSOLE", false),
		TempDir:       getenv("GEOEXTRACT_TMPDIR", os.TempDir()),
		LimitsFile:    getenv("GEOEXTRACT_LIMITS_FILE", ""),
		LimitsRefresh: refresh,
		TransformLRU:  getint("GEOEXTRACT_TRANSFORM_CACHE", 128),
		TileCacheSize: getint("GEOEXTRACT_TILE_CACHE", 256),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
