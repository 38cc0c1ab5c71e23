// Package config handles tablewatch configuration: process settings from the
// environment (optionally seeded from a .env file) and the detector's JSON
// thresholds.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	LogLevel      string
	SiteName      string
	Theme         string
	PollInterval  time.Duration
	DriftInterval time.Duration

	CDP      CDP
	Detector DetectorPaths
	Redis    Redis
}

// CDP configures the browser connection.
type CDP struct {
	Host           string
	Port           int
	TabFilter      string
	AutoLaunch     bool
	PokerURL       string
	ProfileDir     string
	ChromePath     string
	Headless       bool
	MaxRetries     int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	IdleReconnect  time.Duration
	MaxFailures    int
}

type DetectorPaths struct {
	ConfigPath  string
	BaselineDir string
	ReportsDir  string
	// ReportRetention is how long alert reports and saved frames are kept;
	// zero keeps them forever.
	ReportRetention time.Duration
}

// Redis is optional; an empty URL disables alert publishing.
type Redis struct {
	URL    string
	Stream string
}

// Load reads the environment. Files in envFiles (default ".env") are loaded
// first without overriding variables that are already set.
func Load(envFiles ...string) *Config {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable env file", "error", err)
	}

	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		SiteName:      getEnv("SITE_NAME", "betfair"),
		Theme:         getEnv("SITE_THEME", "default"),
		PollInterval:  getEnvDuration("POLL_INTERVAL", time.Second),
		DriftInterval: getEnvDuration("DRIFT_INTERVAL", 30*time.Second),
		CDP: CDP{
			Host:           getEnv("CDP_HOST", "localhost"),
			Port:           getEnvInt("CDP_PORT", 9222),
			TabFilter:      getEnv("CDP_TAB_FILTER", "betfair"),
			AutoLaunch:     getEnvBool("CDP_AUTO_LAUNCH", true),
			PokerURL:       getEnv("CDP_POKER_URL", "https://poker-com-ngm.bfcdl.com/poker"),
			ProfileDir:     getEnv("CDP_PROFILE_DIR", defaultProfileDir()),
			ChromePath:     getEnv("CHROME_PATH", ""),
			Headless:       getEnvBool("CHROME_HEADLESS", false),
			MaxRetries:     getEnvInt("CDP_MAX_RETRIES", 3),
			ConnectTimeout: getEnvDuration("CDP_CONNECT_TIMEOUT", 10*time.Second),
			CommandTimeout: getEnvDuration("CDP_COMMAND_TIMEOUT", 5*time.Second),
			IdleReconnect:  getEnvDuration("CDP_IDLE_RECONNECT", 5*time.Minute),
			MaxFailures:    getEnvInt("CDP_MAX_FAILURES", 5),
		},
		Detector: DetectorPaths{
			ConfigPath:  getEnv("DETECTOR_CONFIG", ""),
			BaselineDir: getEnv("BASELINE_DIR", "data/baselines"),
			ReportsDir:  getEnv("REPORTS_DIR", "data/reports"),

			ReportRetention: getEnvDuration("REPORT_RETENTION", 7*24*time.Hour),
		},
		Redis: Redis{
			URL:    getEnv("REDIS_URL", ""),
			Stream: getEnv("REDIS_ALERT_STREAM", "tablewatch:alerts"),
		},
	}
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func defaultProfileDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + "tablewatch" + string(os.PathSeparator) + "chrome-profile"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

// getEnvDuration accepts Go durations ("750ms") or bare seconds ("2.5").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}
