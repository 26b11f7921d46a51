// Package deviceprofile classifies the running device once per process and
// hands out tuned pipeline parameters (channel buffer capacity, DB batch
// size, phase concurrency). The same pipeline code runs everywhere; only
// these numbers differ, so a streaming stick avoids GC thrash while a
// high-memory box keeps throughput.
//
// Downstream code calls Current() and never inspects raw memory itself.
package deviceprofile

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Class is the coarse device bucket.
type Class string

const (
	ClassConstrained Class = "constrained" // streaming-stick class, < ~1.5 GB
	ClassStandard    Class = "standard"    // typical set-top / small board
	ClassHigh        Class = "high"        // tablet / desktop class
)

// Profile carries the tuned parameters consumed by the orchestrator and the
// persistence consumer.
type Profile struct {
	Class            Class
	MemTotalMB       int
	BufferCapacity   int // decided-item channel capacity (backpressure bound)
	DBBatchSize      int // max items per CommitBatch call
	ConcurrencyLimit int // phase semaphore permits
}

var profiles = map[Class]Profile{
	ClassConstrained: {Class: ClassConstrained, BufferCapacity: 64, DBBatchSize: 100, ConcurrencyLimit: 2},
	ClassStandard:    {Class: ClassStandard, BufferCapacity: 256, DBBatchSize: 250, ConcurrencyLimit: 3},
	ClassHigh:        {Class: ClassHigh, BufferCapacity: 1024, DBBatchSize: 500, ConcurrencyLimit: 4},
}

var (
	mu       sync.Mutex
	detected *Profile
)

// Current returns the cached profile, detecting it on first call.
func Current() Profile {
	mu.Lock()
	defer mu.Unlock()
	if detected == nil {
		p := detect()
		detected = &p
	}
	return *detected
}

// ForceRefresh drops the cache and re-detects. Escape hatch for tests that
// change CATSYNC_DEVICE_CLASS between cases.
func ForceRefresh() Profile {
	mu.Lock()
	detected = nil
	mu.Unlock()
	return Current()
}

func detect() Profile {
	memMB := readMemTotalMB("/proc/meminfo")

	cls := classFromEnv()
	if cls == "" {
		switch {
		case memMB > 0 && memMB < 1536:
			cls = ClassConstrained
		case memMB > 0 && memMB < 6144:
			cls = ClassStandard
		case memMB >= 6144:
			cls = ClassHigh
		default:
			// No memory signal (non-Linux, container without /proc): assume
			// standard rather than starving a capable host.
			cls = ClassStandard
		}
	}

	p := profiles[cls]
	p.MemTotalMB = memMB
	return p
}

func classFromEnv() Class {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CATSYNC_DEVICE_CLASS"))) {
	case "constrained", "stick", "low":
		return ClassConstrained
	case "standard", "mid":
		return ClassStandard
	case "high", "tablet", "desktop":
		return ClassHigh
	}
	return ""
}

// readMemTotalMB parses the MemTotal line from a meminfo-format file.
// Returns 0 when the file is missing or unparseable.
func readMemTotalMB(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}
