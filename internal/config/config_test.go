package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	os.Clearenv()
	c := Load()
	if c.DBPath != "./catalog.db" {
		t.Errorf("DBPath default: got %q", c.DBPath)
	}
	if c.StreamExt != "m3u8" {
		t.Errorf("StreamExt default: got %q", c.StreamExt)
	}
	if c.SourceTimeout != 90*time.Second {
		t.Errorf("SourceTimeout default: got %v", c.SourceTimeout)
	}
	if c.ConcurrencyLimit != 0 {
		t.Errorf("ConcurrencyLimit should default 0 (profile decides); got %d", c.ConcurrencyLimit)
	}
	if c.MetricsAddr != "" {
		t.Errorf("MetricsAddr default should be empty; got %q", c.MetricsAddr)
	}
}

func TestLoad_xtream(t *testing.T) {
	os.Clearenv()
	os.Setenv("CATSYNC_XTREAM_URL", "http://host:8080")
	os.Setenv("CATSYNC_XTREAM_USER", "u")
	os.Setenv("CATSYNC_XTREAM_PASS", "p")
	os.Setenv("CATSYNC_STREAM_EXT", "ts")
	c := Load()
	if c.XtreamBaseURL != "http://host:8080" || c.XtreamUser != "u" || c.XtreamPass != "p" {
		t.Errorf("xtream config: %+v", c)
	}
	if c.StreamExt != "ts" {
		t.Errorf("StreamExt: got %q", c.StreamExt)
	}
}

func TestLoad_archiveChannels(t *testing.T) {
	os.Clearenv()
	os.Setenv("CATSYNC_ARCHIVE_CHANNELS", "movies, shows ,")
	c := Load()
	if len(c.ArchiveChannels) != 2 || c.ArchiveChannels[0] != "movies" || c.ArchiveChannels[1] != "shows" {
		t.Errorf("ArchiveChannels = %v", c.ArchiveChannels)
	}
	os.Clearenv()
	c = Load()
	if c.ArchiveChannels != nil {
		t.Errorf("empty env should give nil channels; got %v", c.ArchiveChannels)
	}
}

func TestLoad_overrides(t *testing.T) {
	os.Clearenv()
	os.Setenv("CATSYNC_CONCURRENCY", "5")
	os.Setenv("CATSYNC_DB_BATCH", "100")
	os.Setenv("CATSYNC_BUFFER", "32")
	os.Setenv("CATSYNC_SOURCE_TIMEOUT", "30s")
	c := Load()
	if c.ConcurrencyLimit != 5 || c.DBBatchSize != 100 || c.BufferCapacity != 32 {
		t.Errorf("overrides: %+v", c)
	}
	if c.SourceTimeout != 30*time.Second {
		t.Errorf("SourceTimeout: got %v", c.SourceTimeout)
	}
}

// Subscription file: Load fills XtreamUser/XtreamPass from file when env is empty.
func TestLoad_subscriptionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.txt")
	if err := os.WriteFile(path, []byte("Username: myuser\nPassword: mypass\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	os.Setenv("CATSYNC_SUBSCRIPTION_FILE", path)
	c := Load()
	if c.XtreamUser != "myuser" || c.XtreamPass != "mypass" {
		t.Errorf("Load from subscription file: user=%q pass=%q", c.XtreamUser, c.XtreamPass)
	}
}

func TestLoad_subscriptionFile_missingPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.txt")
	if err := os.WriteFile(path, []byte("Username: u\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	os.Setenv("CATSYNC_SUBSCRIPTION_FILE", path)
	c := Load()
	if c.XtreamUser != "" || c.XtreamPass != "" {
		t.Errorf("missing Password in file should leave creds empty; got user=%q pass=%q", c.XtreamUser, c.XtreamPass)
	}
}

func TestLoad_subscriptionFile_envOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.txt")
	if err := os.WriteFile(path, []byte("Username: fileuser\nPassword: filepass\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Clearenv()
	os.Setenv("CATSYNC_SUBSCRIPTION_FILE", path)
	os.Setenv("CATSYNC_XTREAM_USER", "envuser")
	c := Load()
	if c.XtreamUser != "envuser" {
		t.Errorf("env user should override; got %q", c.XtreamUser)
	}
	if c.XtreamPass != "filepass" {
		t.Errorf("pass should come from file when env pass empty; got %q", c.XtreamPass)
	}
}
