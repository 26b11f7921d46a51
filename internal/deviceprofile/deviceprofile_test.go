package deviceprofile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassFromEnv(t *testing.T) {
	cases := []struct {
		env  string
		want Class
	}{
		{"constrained", ClassConstrained},
		{"stick", ClassConstrained},
		{"standard", ClassStandard},
		{"HIGH", ClassHigh},
		{"tablet", ClassHigh},
		{"", Class("")},
		{"bogus", Class("")},
	}
	for _, c := range cases {
		t.Setenv("CATSYNC_DEVICE_CLASS", c.env)
		if got := classFromEnv(); got != c.want {
			t.Errorf("classFromEnv(%q) = %q, want %q", c.env, got, c.want)
		}
	}
}

func TestForceRefresh_envOverride(t *testing.T) {
	t.Setenv("CATSYNC_DEVICE_CLASS", "constrained")
	p := ForceRefresh()
	if p.Class != ClassConstrained {
		t.Fatalf("Class = %q", p.Class)
	}
	if p.BufferCapacity != 64 || p.DBBatchSize != 100 || p.ConcurrencyLimit != 2 {
		t.Errorf("constrained numbers: %+v", p)
	}

	t.Setenv("CATSYNC_DEVICE_CLASS", "high")
	p = ForceRefresh()
	if p.Class != ClassHigh || p.ConcurrencyLimit != 4 {
		t.Errorf("high profile: %+v", p)
	}

	// Current() must serve the cached detection.
	if got := Current(); got.Class != ClassHigh {
		t.Errorf("Current() after refresh = %q", got.Class)
	}
}

func TestProfileNumbersScaleUp(t *testing.T) {
	c := profiles[ClassConstrained]
	s := profiles[ClassStandard]
	h := profiles[ClassHigh]
	if !(c.BufferCapacity < s.BufferCapacity && s.BufferCapacity < h.BufferCapacity) {
		t.Error("buffer capacity must grow with device class")
	}
	if !(c.DBBatchSize < s.DBBatchSize && s.DBBatchSize < h.DBBatchSize) {
		t.Error("batch size must grow with device class")
	}
	if !(c.ConcurrencyLimit < s.ConcurrencyLimit && s.ConcurrencyLimit < h.ConcurrencyLimit) {
		t.Error("concurrency must grow with device class")
	}
}

func TestReadMemTotalMB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	content := "MemTotal:        2048000 kB\nMemFree:          512000 kB\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if got := readMemTotalMB(path); got != 2000 {
		t.Errorf("readMemTotalMB = %d, want 2000", got)
	}
	if got := readMemTotalMB(filepath.Join(dir, "missing")); got != 0 {
		t.Errorf("missing file should give 0; got %d", got)
	}
	if err := os.WriteFile(path, []byte("garbage\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := readMemTotalMB(path); got != 0 {
		t.Errorf("garbage file should give 0; got %d", got)
	}
}
