package httpclient

import (
	"net/url"
	"sync"
)

// HostSemaphore caps concurrent in-flight requests per upstream host. The
// three catalog phases hit the same provider host at once; one shared limiter
// keeps the combined pressure bounded no matter how many phase tasks run.
//
//	release := GlobalHostSem.Acquire(rawURL)
//	defer release()
type HostSemaphore struct {
	limit int

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// GlobalHostSem is the process-wide limiter: at most 4 concurrent requests
// per host.
var GlobalHostSem = NewHostSemaphore(4)

func NewHostSemaphore(limit int) *HostSemaphore {
	if limit < 1 {
		limit = 1
	}
	return &HostSemaphore{limit: limit, slots: make(map[string]chan struct{})}
}

// Acquire blocks until the host named by rawURL has a free slot and returns
// the release func. Path and query are ignored; only scheme+host identify
// the limiter bucket.
func (h *HostSemaphore) Acquire(rawURL string) func() {
	key := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		key = u.Scheme + "://" + u.Host
	}

	h.mu.Lock()
	slot, ok := h.slots[key]
	if !ok {
		slot = make(chan struct{}, h.limit)
		h.slots[key] = slot
	}
	h.mu.Unlock()

	slot <- struct{}{}
	return func() { <-slot }
}
