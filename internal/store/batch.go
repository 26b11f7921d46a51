package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mediafold/catalogsync/internal/ledger"
	"github.com/mediafold/catalogsync/internal/model"
)

// Delta is one decided item's worth of persistence: at minimum a fingerprint
// write-back and a ledger entry; for accepted items also the merged work,
// its source ref, and possibly an in-place key upgrade.
type Delta struct {
	// UpgradeFrom, when non-empty, re-keys the stored work filed under this
	// legacy key to Work.Key before the upsert. Applied in the same
	// transaction so refs and resume rows move atomically.
	UpgradeFrom string

	Work *model.CanonicalWork
	Ref  *model.SourceRef

	Fingerprint *FingerprintRow
	Ledger      *ledger.Entry
}

// FingerprintRow is the stored fingerprint for one source id.
type FingerprintRow struct {
	Source     model.SourceType
	SourceID   string
	Hash       uint64
	LastSeenAt time.Time
}

// CommitBatch applies a batch of deltas in one transaction. Called by the
// streaming persistence consumer with batches no larger than the device
// profile's DB batch size; safe to call repeatedly per scan.
func (s *Store) CommitBatch(ctx context.Context, batch []Delta) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range batch {
			if d.UpgradeFrom != "" && d.Work != nil {
				if err := upgradeKeyTx(tx, d.UpgradeFrom, d.Work.Key); err != nil {
					return err
				}
			}
			if d.Work != nil {
				if err := upsertWorkTx(tx, *d.Work); err != nil {
					return err
				}
			}
			if d.Ref != nil {
				if err := upsertSourceRefTx(tx, *d.Ref); err != nil {
					return err
				}
			}
			if d.Fingerprint != nil {
				if err := upsertFingerprintTx(tx, *d.Fingerprint); err != nil {
					return err
				}
			}
			if d.Ledger != nil {
				if err := appendLedgerTx(tx, *d.Ledger); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Fingerprint returns the stored hash for a source id. Implements
// fingerprint.Lookup.
func (s *Store) Fingerprint(ctx context.Context, source model.SourceType, sourceID string) (uint64, bool, error) {
	var hex string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM fingerprints WHERE source_type = ? AND source_id = ?`,
		string(source), sourceID).Scan(&hex)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get fingerprint: %w", err)
	}
	h, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		// Unparseable row: treat as unseen so the item reprocesses and the
		// row gets overwritten with a good value.
		return 0, false, nil
	}
	return h, true, nil
}

// FingerprintCount returns the number of stored fingerprints.
func (s *Store) FingerprintCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM fingerprints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("fingerprint count: %w", err)
	}
	return n, nil
}

func upsertFingerprintTx(tx *sql.Tx, row FingerprintRow) error {
	_, err := tx.Exec(
		`INSERT INTO fingerprints (source_type, source_id, hash, last_seen_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(source_type, source_id) DO UPDATE SET
             hash = excluded.hash, last_seen_at = excluded.last_seen_at`,
		string(row.Source), row.SourceID,
		strconv.FormatUint(row.Hash, 16), fmtTime(row.LastSeenAt))
	if err != nil {
		return fmt.Errorf("upsert fingerprint %s/%s: %w", row.Source, row.SourceID, err)
	}
	return nil
}

func appendLedgerTx(tx *sql.Tx, e ledger.Entry) error {
	_, err := tx.Exec(
		`INSERT INTO ingest_ledger (scan_id, source_type, source_id, phase, decision, reason, detail, at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ScanID, string(e.Source), e.SourceID, string(e.Phase),
		string(e.Decision), string(e.Reason), nullableString(e.Detail), fmtTime(e.At))
	if err != nil {
		return fmt.Errorf("append ledger %s/%s: %w", e.Source, e.SourceID, err)
	}
	return nil
}

// LedgerCount returns the number of ledger entries for one scan — the
// figure that must equal the number of raw items observed.
func (s *Store) LedgerCount(ctx context.Context, scanID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ingest_ledger WHERE scan_id = ?`, scanID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger count: %w", err)
	}
	return n, nil
}

// LedgerSummary aggregates one scan's ledger by decision and reason.
func (s *Store) LedgerSummary(ctx context.Context, scanID string) (map[ledger.Decision]int, map[ledger.Reason]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, reason, COUNT(1) FROM ingest_ledger WHERE scan_id = ? GROUP BY decision, reason`,
		scanID)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger summary: %w", err)
	}
	defer rows.Close()

	byDecision := make(map[ledger.Decision]int)
	byReason := make(map[ledger.Reason]int)
	for rows.Next() {
		var d, r string
		var n int
		if err := rows.Scan(&d, &r, &n); err != nil {
			return nil, nil, err
		}
		byDecision[ledger.Decision(d)] += n
		byReason[ledger.Reason(r)] += n
	}
	return byDecision, byReason, rows.Err()
}

// LatestScanID returns the scan id of the most recent ledger entry, or ""
// when the ledger is empty.
func (s *Store) LatestScanID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT scan_id FROM ingest_ledger ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest scan id: %w", err)
	}
	return id, nil
}
