// Package scan runs full catalog synchronisation passes. One ExecuteScan
// call walks every enabled source through the four content phases — live,
// VOD and series concurrently under a device-tuned permit limit, episodes
// strictly afterwards because episode enumeration depends on the series
// identities discovered first — and streams every decided item through a
// bounded channel into batched store commits.
//
// A phase failing does not abort its siblings; its error lands in the
// result and the other phases drain normally. Every raw item observed gets
// exactly one ledger entry, so the per-scan ledger count equals the number
// of items seen.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mediafold/catalogsync/internal/deviceprofile"
	"github.com/mediafold/catalogsync/internal/fingerprint"
	"github.com/mediafold/catalogsync/internal/ledger"
	"github.com/mediafold/catalogsync/internal/metrics"
	"github.com/mediafold/catalogsync/internal/model"
	"github.com/mediafold/catalogsync/internal/preflight"
	"github.com/mediafold/catalogsync/internal/source"
	"github.com/mediafold/catalogsync/internal/store"
)

// concurrentPhases are the phases eligible to run in parallel.
var concurrentPhases = []model.Phase{model.PhaseLive, model.PhaseVOD, model.PhaseSeries}

// PhaseStats accumulates one phase's item counts across all sources.
// Counters are atomics because sources within a phase run concurrently.
type PhaseStats struct {
	Observed int64
	Accepted int64
	Rejected int64
	Skipped  int64
}

// Result is the outcome of one scan.
type Result struct {
	ScanID   string
	Started  time.Time
	Duration time.Duration

	Phases map[model.Phase]*PhaseStats
	Tally  *ledger.Tally

	// SourceErrors holds preflight failures keyed by source type. A source
	// present here contributed nothing to the scan.
	SourceErrors map[model.SourceType]error
	// PhaseErrors holds phase-level scan failures ("source/phase" keyed).
	PhaseErrors map[string]error
	// CommitError is the first persistence-batch failure, if any. Items
	// decided after it were discarded, so the scan must be rerun.
	CommitError error
}

// Failed reports whether anything went wrong during the scan.
func (r *Result) Failed() bool {
	return len(r.SourceErrors) > 0 || len(r.PhaseErrors) > 0 || r.CommitError != nil
}

// Err flattens the result's failures into one error, nil on a clean scan.
func (r *Result) Err() error {
	var errs []error
	for st, err := range r.SourceErrors {
		errs = append(errs, fmt.Errorf("source %s: %w", st, err))
	}
	for key, err := range r.PhaseErrors {
		errs = append(errs, fmt.Errorf("phase %s: %w", key, err))
	}
	if r.CommitError != nil {
		errs = append(errs, fmt.Errorf("persistence: %w", r.CommitError))
	}
	return errors.Join(errs...)
}

// Engine wires the adapters, the catalog store and the tuned profile into a
// runnable scan pipeline. Safe for sequential reuse; one scan at a time.
type Engine struct {
	store    *store.Store
	adapters []source.Adapter
	profile  deviceprofile.Profile
	cmp      *fingerprint.Comparator

	// mu serialises the decide stage (lookup, merge, stage) so two phase
	// tasks cannot race on one canonical key. Network I/O stays parallel.
	mu      sync.Mutex
	pending map[string]*model.CanonicalWork // works staged but not yet committed
	aliases map[string]string               // legacy keys upgraded this scan -> typed key
	seen    map[string]bool                 // per-scan source-id dedupe
}

func NewEngine(st *store.Store, adapters []source.Adapter, profile deviceprofile.Profile) *Engine {
	return &Engine{
		store:    st,
		adapters: adapters,
		profile:  profile,
		cmp:      fingerprint.NewComparator(st),
	}
}

// ExecuteScan runs one full synchronisation pass. The returned Result is
// always populated; the error mirrors Result.Err for callers that only care
// pass/fail. Re-authentication failures surface via
// errors.Is(err, preflight.ErrAuthRequired).
func (e *Engine) ExecuteScan(ctx context.Context) (*Result, error) {
	res := &Result{
		ScanID:  uuid.NewString(),
		Started: time.Now().UTC(),
		Phases: map[model.Phase]*PhaseStats{
			model.PhaseLive:     {},
			model.PhaseVOD:      {},
			model.PhaseSeries:   {},
			model.PhaseEpisodes: {},
		},
		Tally:        ledger.NewTally(),
		SourceErrors: make(map[model.SourceType]error),
		PhaseErrors:  make(map[string]error),
	}
	e.pending = make(map[string]*model.CanonicalWork)
	e.aliases = make(map[string]string)
	e.seen = make(map[string]bool)

	log.Printf("scan %s: starting (profile %s: %d permits, batch %d, buffer %d)",
		res.ScanID, e.profile.Class, e.profile.ConcurrencyLimit, e.profile.DBBatchSize, e.profile.BufferCapacity)

	active := e.preflightAll(ctx, res)

	deltas := make(chan store.Delta, e.profile.BufferCapacity)
	consumerDone := make(chan struct{})
	go e.consume(ctx, deltas, res, consumerDone)

	e.runPhases(ctx, active, concurrentPhases, deltas, res)
	// Episodes depend on the series identities cached during the series
	// phase, so they only start once every concurrent phase has drained.
	e.runPhases(ctx, active, []model.Phase{model.PhaseEpisodes}, deltas, res)

	close(deltas)
	<-consumerDone

	res.Duration = time.Since(res.Started)
	metrics.ScanDuration.Observe(res.Duration.Seconds())
	e.logSummary(res)
	return res, res.Err()
}

// preflightAll probes every adapter and returns the ones cleared to scan.
// Disabled sources are skipped quietly; failed probes are recorded on the
// result with their classification and excluded from the scan.
func (e *Engine) preflightAll(ctx context.Context, res *Result) []source.Adapter {
	var active []source.Adapter
	for _, a := range e.adapters {
		if !a.Enabled() {
			log.Printf("scan %s: source %s (%s) not configured, skipping", res.ScanID, a.Type(), a.Label())
			continue
		}
		if err := a.Preflight(ctx); err != nil {
			class := "unreachable"
			if errors.Is(err, preflight.ErrAuthRequired) {
				class = "auth"
			}
			metrics.PreflightFailures.WithLabelValues(string(a.Type()), class).Inc()
			log.Printf("scan %s: source %s preflight failed (%s): %v", res.ScanID, a.Type(), class, err)
			res.SourceErrors[a.Type()] = err
			continue
		}
		log.Printf("scan %s: source %s (%s) preflight ok", res.ScanID, a.Type(), a.Label())
		active = append(active, a)
	}
	return active
}

// runPhases fans (adapter, phase) tasks out under the profile's permit
// count and waits for all of them. Task errors are collected, never
// propagated as cancellation.
func (e *Engine) runPhases(ctx context.Context, adapters []source.Adapter, phases []model.Phase, deltas chan<- store.Delta, res *Result) {
	sem := semaphore.NewWeighted(int64(e.profile.ConcurrencyLimit))
	var wg sync.WaitGroup
	var errMu sync.Mutex

	for _, a := range adapters {
		for _, ph := range phases {
			if err := sem.Acquire(ctx, 1); err != nil {
				errMu.Lock()
				res.PhaseErrors[string(a.Type())+"/"+string(ph)] = err
				errMu.Unlock()
				continue
			}
			wg.Add(1)
			go func(a source.Adapter, ph model.Phase) {
				defer wg.Done()
				defer sem.Release(1)
				metrics.PhasesActive.Inc()
				defer metrics.PhasesActive.Dec()

				start := time.Now()
				stats := res.Phases[ph]
				err := a.Scan(ctx, ph, func(it model.RawItem, parseErr error) error {
					return e.decide(ctx, res.ScanID, ph, it, parseErr, deltas, stats, res.Tally)
				})
				if err != nil {
					errMu.Lock()
					res.PhaseErrors[string(a.Type())+"/"+string(ph)] = err
					errMu.Unlock()
					log.Printf("scan %s: %s/%s failed after %s: %v", res.ScanID, a.Type(), ph, time.Since(start).Round(time.Millisecond), err)
					return
				}
				log.Printf("scan %s: %s/%s done in %s (%d observed, %d accepted)",
					res.ScanID, a.Type(), ph, time.Since(start).Round(time.Millisecond),
					atomic.LoadInt64(&stats.Observed), atomic.LoadInt64(&stats.Accepted))
			}(a, ph)
		}
	}
	wg.Wait()
}

// consume is the streaming persistence consumer: it drains the decided-item
// channel into batches no larger than the profile's DB batch size and
// commits each batch in one transaction. A flush also happens on a timer so
// a slow trickle of items still reaches disk promptly. The bounded channel
// is what gives the pipeline backpressure — when commits fall behind, phase
// tasks block on send instead of ballooning memory.
func (e *Engine) consume(ctx context.Context, deltas <-chan store.Delta, res *Result, done chan<- struct{}) {
	defer close(done)
	buf := make([]store.Delta, 0, e.profile.DBBatchSize)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if res.CommitError == nil {
			if err := e.store.CommitBatch(ctx, buf); err != nil {
				res.CommitError = err
				log.Printf("scan %s: batch commit failed, discarding further items: %v", res.ScanID, err)
			} else {
				metrics.BatchCommits.Inc()
				metrics.BatchSize.Observe(float64(len(buf)))
				e.evictCommitted(buf)
			}
		}
		buf = buf[:0]
	}

	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				flush()
				return
			}
			buf = append(buf, d)
			if len(buf) >= e.profile.DBBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// evictCommitted drops committed works from the pending map so it does not
// hold the whole catalog in memory on a long scan. Pointer equality guards
// the case where a later item re-merged the same key: that newer version is
// still uncommitted and must stay findable.
func (e *Engine) evictCommitted(batch []store.Delta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range batch {
		if d.Work != nil && e.pending[d.Work.Key] == d.Work {
			delete(e.pending, d.Work.Key)
		}
	}
}

func (e *Engine) logSummary(res *Result) {
	log.Printf("scan %s: finished in %s: %d items ledgered (%d accepted, %d rejected, %d skipped)",
		res.ScanID, res.Duration.Round(time.Millisecond), res.Tally.Total(),
		res.Tally.Count(ledger.Accepted), res.Tally.Count(ledger.Rejected), res.Tally.Count(ledger.Skipped))
	for _, r := range []ledger.Reason{
		ledger.ReasonCreatedNew, ledger.ReasonLinkedAuthority, ledger.ReasonLinkedMerged,
		ledger.ReasonAlreadyProcessed, ledger.ReasonDuplicateSource, ledger.ReasonInvalidTitle,
		ledger.ReasonUnsupportedFormat, ledger.ReasonParseError, ledger.ReasonNetworkError,
	} {
		if n := res.Tally.CountReason(r); n > 0 {
			log.Printf("scan %s:   %-20s %d", res.ScanID, r, n)
		}
	}
}
