package scan

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mediafold/catalogsync/internal/canonkey"
	"github.com/mediafold/catalogsync/internal/fingerprint"
	"github.com/mediafold/catalogsync/internal/ledger"
	"github.com/mediafold/catalogsync/internal/merge"
	"github.com/mediafold/catalogsync/internal/metrics"
	"github.com/mediafold/catalogsync/internal/model"
	"github.com/mediafold/catalogsync/internal/store"
)

// supportedContainers is the playback allowlist applied to archive files.
// IPTV items carry provider-chosen stream extensions and are not gated.
var supportedContainers = map[string]bool{
	"mp4": true, "mkv": true, "avi": true, "mov": true,
	"webm": true, "ts": true, "m3u8": true,
}

// decide runs one raw item through the full decision pipeline: per-scan
// dedupe, format validation, fingerprint short-circuit, canonical key
// resolution, merge, and staging onto the persistence channel. Exactly one
// ledger entry leaves this function per call, whatever the outcome.
func (e *Engine) decide(ctx context.Context, scanID string, phase model.Phase, it model.RawItem, parseErr error, deltas chan<- store.Delta, stats *PhaseStats, tally *ledger.Tally) error {
	atomic.AddInt64(&stats.Observed, 1)

	if parseErr != nil {
		// Network-shaped failures must retry on the next scan, so no
		// fingerprint is written for them; genuine parse failures get one so
		// the same broken payload is not re-chewed every run.
		if isNetworkErr(parseErr) {
			atomic.AddInt64(&stats.Rejected, 1)
			return e.stage(ctx, deltas, tally, phase, store.Delta{
				Ledger: entry(scanID, it, phase, ledger.Rejected, ledger.ReasonNetworkError, parseErr.Error()),
			})
		}
		atomic.AddInt64(&stats.Rejected, 1)
		return e.stage(ctx, deltas, tally, phase, store.Delta{
			Fingerprint: fpRow(it),
			Ledger:      entry(scanID, it, phase, ledger.Rejected, ledger.ReasonParseError, parseErr.Error()),
		})
	}

	if e.markSeen(it) {
		atomic.AddInt64(&stats.Skipped, 1)
		return e.stage(ctx, deltas, tally, phase, store.Delta{
			Ledger: entry(scanID, it, phase, ledger.Skipped, ledger.ReasonDuplicateSource, ""),
		})
	}

	if it.Source == model.SourceMediaArchive {
		if !supportedContainers[it.Container] || it.SizeBytes == 0 {
			atomic.AddInt64(&stats.Rejected, 1)
			return e.stage(ctx, deltas, tally, phase, store.Delta{
				Fingerprint: fpRow(it),
				Ledger:      entry(scanID, it, phase, ledger.Rejected, ledger.ReasonUnsupportedFormat, "container="+it.Container),
			})
		}
	}

	hash := fingerprint.Compute(it)
	process, err := e.cmp.ShouldProcess(ctx, it, hash)
	if err != nil {
		return err // store trouble is a phase-level failure
	}
	if !process {
		atomic.AddInt64(&stats.Skipped, 1)
		// Refresh last_seen_at so stale-fingerprint sweeps have a live signal.
		return e.stage(ctx, deltas, tally, phase, store.Delta{
			Fingerprint: fpRow(it),
			Ledger:      entry(scanID, it, phase, ledger.Skipped, ledger.ReasonAlreadyProcessed, ""),
		})
	}

	res, err := canonkey.Resolve(it)
	if errors.Is(err, canonkey.ErrInvalidTitle) {
		atomic.AddInt64(&stats.Rejected, 1)
		return e.stage(ctx, deltas, tally, phase, store.Delta{
			Fingerprint: fpRow(it),
			Ledger:      entry(scanID, it, phase, ledger.Rejected, ledger.ReasonInvalidTitle, it.Title),
		})
	}
	if err != nil {
		return err
	}

	delta, reason, err := e.mergeItem(ctx, it, res)
	if err != nil {
		return err
	}
	atomic.AddInt64(&stats.Accepted, 1)
	delta.Fingerprint = fpRow(it)
	delta.Ledger = entry(scanID, it, phase, ledger.Accepted, reason, res.Key)
	return e.stage(ctx, deltas, tally, phase, delta)
}

// mergeItem is the serialised decide stage: find the stored (or pending)
// work for the resolved key, fold the item in, and note any legacy-key
// upgrade. Holding mu here is what keeps two concurrent phase tasks from
// both "creating" the same canonical work.
func (e *Engine) mergeItem(ctx context.Context, it model.RawItem, res canonkey.Resolution) (store.Delta, ledger.Reason, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := append([]string{res.Key}, res.LegacyKeys...)
	// A spelling already upgraded this scan must land on its typed key, or a
	// late sighting would re-find the stored legacy row (whose re-keying is
	// still in flight) and resurrect it.
	for i, k := range keys {
		if to, ok := e.aliases[k]; ok {
			keys[i] = to
		}
	}
	target := keys[0]

	existing, matchedKey := e.findPending(keys)
	if existing == nil {
		var err error
		existing, matchedKey, err = e.store.FindWorkByKeys(ctx, keys...)
		if err != nil {
			return store.Delta{}, "", err
		}
	}

	merged, _ := merge.Merge(existing, it, target, res.Recognition)

	var upgradeFrom string
	if matchedKey != "" && matchedKey != target {
		upgradeFrom = matchedKey
		delete(e.pending, matchedKey)
		e.aliases[matchedKey] = target
	}
	for _, lk := range res.LegacyKeys {
		if lk != target {
			e.aliases[lk] = target
		}
	}
	e.pending[merged.Key] = &merged

	reason := ledger.ReasonLinkedMerged
	switch {
	case existing == nil:
		reason = ledger.ReasonCreatedNew
	case res.Recognition == model.RecognitionConfirmed:
		reason = ledger.ReasonLinkedAuthority
	}

	return store.Delta{
		UpgradeFrom: upgradeFrom,
		Work:        &merged,
		Ref: &model.SourceRef{
			CanonicalKey: merged.Key,
			Source:       it.Source,
			SourceID:     it.SourceID,
			SourceLabel:  it.SourceLabel,
		},
	}, reason, nil
}

// findPending checks the works staged this scan but not yet committed, in
// the same key order the store lookup uses.
func (e *Engine) findPending(keys []string) (*model.CanonicalWork, string) {
	for _, k := range keys {
		if w, ok := e.pending[k]; ok {
			return w, k
		}
	}
	return nil, ""
}

// markSeen records a source id for this scan and reports whether it was
// already there.
func (e *Engine) markSeen(it model.RawItem) bool {
	key := string(it.Source) + "/" + it.SourceID
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen[key] {
		return true
	}
	e.seen[key] = true
	return false
}

// stage ledgers the entry and hands the delta to the persistence consumer,
// blocking when the buffer is full (backpressure) and bailing on cancel.
func (e *Engine) stage(ctx context.Context, deltas chan<- store.Delta, tally *ledger.Tally, phase model.Phase, d store.Delta) error {
	tally.Record(*d.Ledger)
	metrics.ItemsTotal.WithLabelValues(string(phase), string(d.Ledger.Decision)).Inc()
	metrics.ReasonsTotal.WithLabelValues(string(d.Ledger.Reason)).Inc()
	select {
	case deltas <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func entry(scanID string, it model.RawItem, phase model.Phase, d ledger.Decision, r ledger.Reason, detail string) *ledger.Entry {
	e := ledger.NewEntry(scanID, it, phase, d, r, detail)
	return &e
}

func fpRow(it model.RawItem) *store.FingerprintRow {
	return &store.FingerprintRow{
		Source:     it.Source,
		SourceID:   it.SourceID,
		Hash:       fingerprint.Compute(it),
		LastSeenAt: time.Now().UTC(),
	}
}

// isNetworkErr classifies a per-item error as transient connectivity
// trouble rather than bad payload.
func isNetworkErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "timeout") || strings.Contains(s, "connection refused") ||
		strings.Contains(s, "HTTP 5") || strings.Contains(s, "no such host")
}
