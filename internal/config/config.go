package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the sync engine's settings: the catalog database path, one
// section per upstream source, and pipeline overrides.
// Load from env; call LoadEnvFile(".env") before Load() to use a .env file.
type Config struct {
	// Catalog database.
	DBPath string // e.g. /var/lib/catalogsync/catalog.db

	// IPTV provider (Xtream player API).
	XtreamBaseURL string // e.g. http://provider:8080
	XtreamUser    string
	XtreamPass    string
	XtreamLabel   string // human label; defaults to the provider host
	StreamExt     string // container extension for built stream URLs

	// Media archive.
	ArchiveBaseURL  string
	ArchiveToken    string
	ArchiveChannels []string // channel ids, comma-separated in env
	ArchiveLabel    string

	// Pipeline overrides. Zero means "use the device profile's value".
	ConcurrencyLimit int
	DBBatchSize      int
	BufferCapacity   int

	SourceTimeout time.Duration

	// Optional surfaces.
	MetricsAddr string // e.g. ":9109"; empty disables the listener
}

// Load reads config from environment. Xtream credentials fall back to a
// subscription file with "Username:" / "Password:" lines when the env vars
// are empty.
func Load() *Config {
	c := &Config{
		DBPath:           getEnv("CATSYNC_DB", "./catalog.db"),
		XtreamBaseURL:    os.Getenv("CATSYNC_XTREAM_URL"),
		XtreamUser:       os.Getenv("CATSYNC_XTREAM_USER"),
		XtreamPass:       os.Getenv("CATSYNC_XTREAM_PASS"),
		XtreamLabel:      os.Getenv("CATSYNC_XTREAM_LABEL"),
		StreamExt:        getEnv("CATSYNC_STREAM_EXT", "m3u8"),
		ArchiveBaseURL:   os.Getenv("CATSYNC_ARCHIVE_URL"),
		ArchiveToken:     os.Getenv("CATSYNC_ARCHIVE_TOKEN"),
		ArchiveChannels:  splitList(os.Getenv("CATSYNC_ARCHIVE_CHANNELS")),
		ArchiveLabel:     getEnv("CATSYNC_ARCHIVE_LABEL", "archive"),
		ConcurrencyLimit: getEnvInt("CATSYNC_CONCURRENCY", 0),
		DBBatchSize:      getEnvInt("CATSYNC_DB_BATCH", 0),
		BufferCapacity:   getEnvInt("CATSYNC_BUFFER", 0),
		SourceTimeout:    getEnvDuration("CATSYNC_SOURCE_TIMEOUT", 90*time.Second),
		MetricsAddr:      os.Getenv("CATSYNC_METRICS_ADDR"),
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 90 * time.Second
	}
	if c.XtreamUser == "" || c.XtreamPass == "" {
		if user, pass, err := readSubscriptionFile(os.Getenv("CATSYNC_SUBSCRIPTION_FILE")); err == nil {
			if c.XtreamUser == "" {
				c.XtreamUser = user
			}
			if c.XtreamPass == "" {
				c.XtreamPass = pass
			}
		}
	}
	return c
}

// readSubscriptionFile reads "Username: x" and "Password: x" lines from
// path. Provider renewals ship credentials in this shape, so supporting it
// directly beats asking people to copy values into env vars.
func readSubscriptionFile(path string) (user, pass string, err error) {
	if path == "" {
		return "", "", os.ErrNotExist
	}
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Username:") {
			user = strings.TrimSpace(strings.TrimPrefix(line, "Username:"))
		} else if strings.HasPrefix(line, "Password:") {
			pass = strings.TrimSpace(strings.TrimPrefix(line, "Password:"))
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("subscription file: missing Username or Password")
	}
	return user, pass, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
