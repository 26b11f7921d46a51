// Package ledger defines the append-only ingest audit trail. Every RawItem
// observed during a scan produces exactly one Entry; totals per scan must
// equal the number of items observed, which is how "no silent drops" is
// verified after the fact.
package ledger

import (
	"sync"
	"time"

	"github.com/mediafold/catalogsync/internal/model"
)

// Decision is the terminal outcome for one candidate item in one scan.
type Decision string

const (
	Accepted Decision = "ACCEPTED"
	Rejected Decision = "REJECTED"
	Skipped  Decision = "SKIPPED"
)

// Reason is the closed enumeration of outcome reason codes.
type Reason string

const (
	ReasonCreatedNew        Reason = "CREATED_NEW"
	ReasonLinkedAuthority   Reason = "LINKED_AUTHORITY"
	ReasonLinkedMerged      Reason = "LINKED_MERGED"
	ReasonInvalidTitle      Reason = "INVALID_TITLE"
	ReasonUnsupportedFormat Reason = "UNSUPPORTED_FORMAT"
	ReasonDuplicateSource   Reason = "DUPLICATE_SOURCE"
	ReasonParseError        Reason = "PARSE_ERROR"
	ReasonNetworkError      Reason = "NETWORK_ERROR"
	ReasonAlreadyProcessed  Reason = "ALREADY_PROCESSED"
	ReasonSourceDisabled    Reason = "SOURCE_DISABLED"
	ReasonRateLimited       Reason = "RATE_LIMITED"
)

// Entry is one immutable audit record. Appended once, never mutated.
type Entry struct {
	ScanID   string
	Source   model.SourceType
	SourceID string
	Phase    model.Phase
	Decision Decision
	Reason   Reason
	Detail   string // optional human-readable context (error text, key)
	At       time.Time
}

// NewEntry stamps an entry with the current time.
func NewEntry(scanID string, it model.RawItem, phase model.Phase, d Decision, r Reason, detail string) Entry {
	return Entry{
		ScanID:   scanID,
		Source:   it.Source,
		SourceID: it.SourceID,
		Phase:    phase,
		Decision: d,
		Reason:   r,
		Detail:   detail,
		At:       time.Now().UTC(),
	}
}

// Tally accumulates per-scan decision counts. Safe for concurrent use by
// all phase tasks; the orchestrator reads it once phases drain.
type Tally struct {
	mu        sync.Mutex
	total     int
	byDecison map[Decision]int
	byReason  map[Reason]int
}

func NewTally() *Tally {
	return &Tally{
		byDecison: make(map[Decision]int),
		byReason:  make(map[Reason]int),
	}
}

func (t *Tally) Record(e Entry) {
	t.mu.Lock()
	t.total++
	t.byDecison[e.Decision]++
	t.byReason[e.Reason]++
	t.mu.Unlock()
}

// Total returns the number of entries recorded so far.
func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Count returns the number of entries with the given decision.
func (t *Tally) Count(d Decision) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byDecison[d]
}

// CountReason returns the number of entries with the given reason code.
func (t *Tally) CountReason(r Reason) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byReason[r]
}
