package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds guide service settings.
// Load from env and/or a .env file (LoadEnvFile).
type Config struct {
	// Feed
	FeedURL      string        // XMLTV feed URL (required for sync/run)
	FetchTimeout time.Duration // HTTP timeout for the feed download
	StatePath    string        // ETag/Last-Modified checkpoint file; "" disables conditional GET

	// Store
	DBPath string // SQLite schedule database path

	// Ingestion policy
	DenyWords []string      // content-safety denylist, comma-separated in env
	BatchSize int           // records per store flush
	Retention time.Duration // programs ending before now-Retention are pruned after sync

	// Scheduling
	SyncInterval     time.Duration // periodic re-sync interval in run mode
	RetryInterval    time.Duration // shorter interval after a failed run
	MinFetchInterval time.Duration // rate-limit floor between feed downloads

	// Catch-up defaults, used when the lineup file carries no per-channel policy.
	ArchiveEnabled bool
	ArchiveDays    int

	// HTTP API
	ListenAddr string
	BaseURL    string // external base URL, used by the startup endpoint check
	LineupPath string // JSON channel lineup (provider id -> EPG id + archive policy); "" = none
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load()
// to use a .env file.
func Load() *Config {
	c := &Config{
		FeedURL:          os.Getenv("IPTV_GUIDE_FEED_URL"),
		FetchTimeout:     getEnvDuration("IPTV_GUIDE_FETCH_TIMEOUT", 45*time.Second),
		StatePath:        os.Getenv("IPTV_GUIDE_FEED_STATE"),
		DBPath:           getEnv("IPTV_GUIDE_DB", "./guide.db"),
		DenyWords:        getEnvList("IPTV_GUIDE_DENY_WORDS"),
		BatchSize:        getEnvInt("IPTV_GUIDE_BATCH_SIZE", 100),
		Retention:        getEnvDuration("IPTV_GUIDE_RETENTION", 24*time.Hour),
		SyncInterval:     getEnvDuration("IPTV_GUIDE_SYNC_INTERVAL", 6*time.Hour),
		RetryInterval:    getEnvDuration("IPTV_GUIDE_RETRY_INTERVAL", 30*time.Minute),
		MinFetchInterval: getEnvDuration("IPTV_GUIDE_MIN_FETCH_INTERVAL", time.Minute),
		ArchiveEnabled:   getEnvBool("IPTV_GUIDE_ARCHIVE_ENABLED", false),
		ArchiveDays:      getEnvInt("IPTV_GUIDE_ARCHIVE_DAYS", 7),
		ListenAddr:       getEnv("IPTV_GUIDE_ADDR", ":5080"),
		BaseURL:          getEnv("IPTV_GUIDE_BASE_URL", "http://localhost:5080"),
		LineupPath:       os.Getenv("IPTV_GUIDE_LINEUP"),
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 45 * time.Second
	}
	if c.ArchiveDays <= 0 {
		c.ArchiveDays = 7
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated env var, trimming blanks.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
