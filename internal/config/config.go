package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the kwitch daemon.
type Config struct {
	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Logging
	LogLevel string
	LogFile  string

	// Persistence
	DBPath     string
	HistoryDir string

	// Kick status API
	KickAPIBase    string
	RequestDelayMS int
	HTTPTimeoutMS  int
	RetainStale    bool

	// CDP connection and tab matching
	CDPEnabled    bool
	CDPAddress    string
	CDPPort       int
	TabURLFilter  string
	EvalTimeoutMS int

	// Browser launcher
	LaunchBrowser     bool
	BrowserProfileDir string

	// Injection
	SelectorProfile  string
	AnchorAttempts   int
	AnchorIntervalMS int

	// Go-live notifications, empty disables them.
	NtfyEndpoint string
	NtfyRetries  int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:          getEnvOrDefault("KWITCH_BIND_ADDR", "127.0.0.1:8199"),
		PortCandidates:    getEnvListOrDefault("KWITCH_PORT_CANDIDATES", []string{"127.0.0.1:8200", "127.0.0.1:8201", "127.0.0.1:8202"}),
		PortAutoFallback:  getEnvBoolOrDefault("KWITCH_PORT_AUTO_FALLBACK", true),
		LogLevel:          strings.ToLower(getEnvOrDefault("KWITCH_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("KWITCH_LOG_FILE", "logs/kwitchd.log"),
		DBPath:            getEnvOrDefault("KWITCH_DB_PATH", "./data/kwitch.db"),
		HistoryDir:        getEnvOrDefault("KWITCH_HISTORY_DIR", ""),
		KickAPIBase:       getEnvOrDefault("KWITCH_KICK_API_BASE", "https://kick.com/api/v2"),
		RequestDelayMS:    getEnvIntOrDefault("KWITCH_REQUEST_DELAY_MS", 200),
		HTTPTimeoutMS:     getEnvIntOrDefault("KWITCH_HTTP_TIMEOUT_MS", 10000),
		RetainStale:       getEnvBoolOrDefault("KWITCH_RETAIN_STALE", false),
		CDPEnabled:        getEnvBoolOrDefault("KWITCH_CDP_ENABLED", true),
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter:      getEnvOrDefault("KWITCH_TAB_URL_FILTER", "twitch.tv"),
		EvalTimeoutMS:     getEnvIntOrDefault("KWITCH_EVAL_TIMEOUT_MS", 5000),
		LaunchBrowser:     getEnvBoolOrDefault("KWITCH_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("KWITCH_BROWSER_PROFILE_DIR", "./data/browser-profile"),
		SelectorProfile:   getEnvOrDefault("KWITCH_SELECTOR_PROFILE", ""),
		AnchorAttempts:    getEnvIntOrDefault("KWITCH_ANCHOR_ATTEMPTS", 30),
		AnchorIntervalMS:  getEnvIntOrDefault("KWITCH_ANCHOR_INTERVAL_MS", 1000),
		NtfyEndpoint:      getEnvOrDefault("KWITCH_NTFY_ENDPOINT", ""),
		NtfyRetries:       getEnvIntOrDefault("KWITCH_NTFY_RETRIES", 3),
	}

	if cfg.RequestDelayMS < 0 {
		cfg.RequestDelayMS = 0
	}
	if cfg.HTTPTimeoutMS < 1000 {
		cfg.HTTPTimeoutMS = 1000
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.NtfyRetries < 0 {
		cfg.NtfyRetries = 0
	}
	if cfg.AnchorAttempts < 1 {
		cfg.AnchorAttempts = 1
	}
	if cfg.AnchorIntervalMS < 100 {
		cfg.AnchorIntervalMS = 100
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("config: CHROMIUM_CDP_PORT out of range: %d", cfg.CDPPort)
	}

	return cfg, nil
}

// CDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMS) * time.Millisecond
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMS) * time.Millisecond
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) AnchorInterval() time.Duration {
	return time.Duration(c.AnchorIntervalMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping empty items.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
