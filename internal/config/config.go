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

// Config holds all configuration for the capture server.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	FetchTimeout time.Duration

	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	LogLevel         string
	LogFile          string

	// Capture behavior
	URLFilter    string
	MatchRules   string
	MaxBodyBytes int
	DrainTimeout time.Duration

	// Export
	ExportDir    string
	ExportFormat string
	ExportName   string
	JournalMaxMB int
	NtfyURL      string

	// Browser launch
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:     os.Getenv("CAPTURE_TAB_URL_FILTER"),
		FetchTimeout:     time.Duration(getEnvIntOrDefault("CAPTURE_FETCH_TIMEOUT_MS", 10000)) * time.Millisecond,
		BindAddr:         getEnvOrDefault("CAPTURE_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   splitList(getEnvOrDefault("CAPTURE_PORT_CANDIDATES", "8191-8199")),
		PortAutoFallback: getEnvBoolOrDefault("CAPTURE_PORT_AUTO_FALLBACK", true),
		LogLevel:         strings.ToLower(getEnvOrDefault("CAPTURE_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("CAPTURE_LOG_FILE", "logs/capture.log"),
		URLFilter:        getEnvOrDefault("CAPTURE_URL_FILTER", "/api/"),
		MatchRules:       os.Getenv("CAPTURE_MATCH_RULES"),
		MaxBodyBytes:     getEnvIntOrDefault("CAPTURE_MAX_BODY_BYTES", 20*1024*1024),
		DrainTimeout:     time.Duration(getEnvIntOrDefault("CAPTURE_DRAIN_TIMEOUT_MS", 30000)) * time.Millisecond,
		ExportDir:        getEnvOrDefault("CAPTURE_EXPORT_DIR", "./exports"),
		ExportFormat:     strings.ToLower(getEnvOrDefault("CAPTURE_EXPORT_FORMAT", "json")),
		ExportName:       getEnvOrDefault("CAPTURE_EXPORT_NAME", "api_requests.json"),
		JournalMaxMB:     getEnvIntOrDefault("CAPTURE_JOURNAL_MAX_MB", 200),
		NtfyURL:          os.Getenv("CAPTURE_NTFY_URL"),
		LaunchBrowser:    getEnvBoolOrDefault("CAPTURE_LAUNCH_BROWSER", false),
		StartURL:         getEnvOrDefault("CAPTURE_START_URL", "about:blank"),
		ProfileDir:       getEnvOrDefault("CAPTURE_PROFILE_DIR", "./browser_profile"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", c.CDPPort)
	}
	switch c.ExportFormat {
	case "json", "jsonl":
	default:
		return fmt.Errorf("CAPTURE_EXPORT_FORMAT must be json or jsonl, got %q", c.ExportFormat)
	}
	if c.ExportName == "" {
		return fmt.Errorf("CAPTURE_EXPORT_NAME must not be empty")
	}
	if c.DrainTimeout < 0 {
		c.DrainTimeout = 0
	}
	if c.FetchTimeout < time.Second {
		c.FetchTimeout = time.Second
	}
	if c.MaxBodyBytes < 0 {
		c.MaxBodyBytes = 0
	}
	return nil
}

// GetCDPURL returns the DevTools HTTP endpoint of the observed browser.
func (c *Config) GetCDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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
