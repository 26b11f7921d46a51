package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mediafold/catalogsync/internal/model"
)

const workColumns = "key, kind, title, year, genres, rating, plot, cast_names, director, external_ids, artwork_url, playback_url, container, recognition, created_at, updated_at"

// GetWork fetches one canonical work by key. Returns (nil, nil) when absent.
func (s *Store) GetWork(ctx context.Context, key string) (*model.CanonicalWork, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workColumns+` FROM canonical_works WHERE key = ?`, key)
	w, err := scanWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work: %w", err)
	}
	return w, nil
}

// FindWorkByKeys returns the first work found trying each key in order.
// Used by the resolver to locate a record still filed under a legacy key
// spelling. The matched key is returned alongside so the caller knows
// whether an in-place upgrade is needed.
func (s *Store) FindWorkByKeys(ctx context.Context, keys ...string) (*model.CanonicalWork, string, error) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		w, err := s.GetWork(ctx, k)
		if err != nil {
			return nil, "", err
		}
		if w != nil {
			return w, k, nil
		}
	}
	return nil, "", nil
}

// WorkCount returns the number of canonical works.
func (s *Store) WorkCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM canonical_works`).Scan(&n); err != nil {
		return 0, fmt.Errorf("work count: %w", err)
	}
	return n, nil
}

// SourceRefs returns all refs pointing at a canonical key.
func (s *Store) SourceRefs(ctx context.Context, canonicalKey string) ([]model.SourceRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT canonical_key, source_type, source_id, source_label FROM source_refs WHERE canonical_key = ? ORDER BY source_type, source_id`,
		canonicalKey)
	if err != nil {
		return nil, fmt.Errorf("query source refs: %w", err)
	}
	defer rows.Close()

	var refs []model.SourceRef
	for rows.Next() {
		var r model.SourceRef
		var label sql.NullString
		if err := rows.Scan(&r.CanonicalKey, &r.Source, &r.SourceID, &label); err != nil {
			return nil, err
		}
		r.SourceLabel = label.String
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// SetResumePosition records a playback resume point for a work. The sync
// engine itself never sets these — the playback path does — but the rows
// must survive a key upgrade, which is why the table lives here.
func (s *Store) SetResumePosition(ctx context.Context, canonicalKey, profile string, positionMS int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resume_positions (canonical_key, profile, position_ms, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(canonical_key, profile) DO UPDATE SET position_ms = excluded.position_ms, updated_at = excluded.updated_at`,
		canonicalKey, profile, positionMS, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set resume position: %w", err)
	}
	return nil
}

// ResumePosition returns the stored resume point, or (0, false) when none.
func (s *Store) ResumePosition(ctx context.Context, canonicalKey, profile string) (int64, bool, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position_ms FROM resume_positions WHERE canonical_key = ? AND profile = ?`,
		canonicalKey, profile).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resume position: %w", err)
	}
	return pos, true, nil
}

// AbsorbWork resolves a post-hoc duplicate: two independently created works
// turned out to share one authority identity. The caller decides the winner
// (by convention the older record, merged field-wise already) and passes the
// merged work; this repoints the loser's source refs and resume history to
// the winner and deletes the loser, all in one transaction.
func (s *Store) AbsorbWork(ctx context.Context, merged model.CanonicalWork, loserKey string) error {
	if loserKey == "" || loserKey == merged.Key {
		return errors.New("absorb: loser key must differ from winner")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertWorkTx(tx, merged); err != nil {
			return err
		}
		if err := repointKeyTx(tx, loserKey, merged.Key); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM canonical_works WHERE key = ?`, loserKey); err != nil {
			return fmt.Errorf("absorb: delete loser: %w", err)
		}
		return nil
	})
}

// upsertWorkTx writes the full merged state of a work. The merge engine has
// already applied the field guards, so this is a plain last-write upsert.
func upsertWorkTx(tx *sql.Tx, w model.CanonicalWork) error {
	genres, err := marshalJSON(w.Genres)
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}
	extIDs, err := marshalJSON(w.ExternalIDs)
	if err != nil {
		return fmt.Errorf("marshal external ids: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO canonical_works (`+workColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
             kind = excluded.kind, title = excluded.title, year = excluded.year,
             genres = excluded.genres, rating = excluded.rating, plot = excluded.plot,
             cast_names = excluded.cast_names, director = excluded.director,
             external_ids = excluded.external_ids, artwork_url = excluded.artwork_url,
             playback_url = excluded.playback_url, container = excluded.container,
             recognition = excluded.recognition, updated_at = excluded.updated_at`,
		w.Key, string(w.Kind), w.Title, w.Year, genres, w.Rating,
		nullableString(w.Plot), nullableString(w.Cast), nullableString(w.Director),
		extIDs, nullableString(w.ArtworkURL), nullableString(w.PlaybackURL),
		nullableString(w.Container), string(w.Recognition),
		fmtTime(w.CreatedAt), fmtTime(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert work %s: %w", w.Key, err)
	}
	return nil
}

func upsertSourceRefTx(tx *sql.Tx, r model.SourceRef) error {
	_, err := tx.Exec(
		`INSERT INTO source_refs (canonical_key, source_type, source_id, source_label)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(source_type, source_id) DO UPDATE SET
             canonical_key = excluded.canonical_key, source_label = excluded.source_label`,
		r.CanonicalKey, string(r.Source), r.SourceID, nullableString(r.SourceLabel))
	if err != nil {
		return fmt.Errorf("upsert source ref %s/%s: %w", r.Source, r.SourceID, err)
	}
	return nil
}

// upgradeKeyTx rewrites a stored work's key in place and repoints every
// dependent row, inside the caller's transaction. If a work already exists
// under the new key (two records created independently before the identity
// was known), the old row is folded into it instead: dependents are
// repointed and the old row deleted — the new-key row itself is written by
// the same batch delta.
func upgradeKeyTx(tx *sql.Tx, oldKey, newKey string) error {
	var exists int
	err := tx.QueryRow(`SELECT COUNT(1) FROM canonical_works WHERE key = ?`, newKey).Scan(&exists)
	if err != nil {
		return fmt.Errorf("upgrade key: probe %s: %w", newKey, err)
	}
	if exists > 0 {
		if err := repointKeyTx(tx, oldKey, newKey); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM canonical_works WHERE key = ?`, oldKey); err != nil {
			return fmt.Errorf("upgrade key: drop legacy row %s: %w", oldKey, err)
		}
		return nil
	}
	if _, err := tx.Exec(`UPDATE canonical_works SET key = ? WHERE key = ?`, newKey, oldKey); err != nil {
		return fmt.Errorf("upgrade key %s -> %s: %w", oldKey, newKey, err)
	}
	return repointKeyTx(tx, oldKey, newKey)
}

func repointKeyTx(tx *sql.Tx, oldKey, newKey string) error {
	if _, err := tx.Exec(`UPDATE source_refs SET canonical_key = ? WHERE canonical_key = ?`, newKey, oldKey); err != nil {
		return fmt.Errorf("repoint source refs %s -> %s: %w", oldKey, newKey, err)
	}
	// Resume rows may already exist under the new key for the same profile;
	// keep the newer position in that case.
	if _, err := tx.Exec(
		`INSERT INTO resume_positions (canonical_key, profile, position_ms, updated_at)
         SELECT ?, profile, position_ms, updated_at FROM resume_positions WHERE canonical_key = ?
         ON CONFLICT(canonical_key, profile) DO UPDATE SET
             position_ms = excluded.position_ms, updated_at = excluded.updated_at
         WHERE excluded.updated_at > resume_positions.updated_at`,
		newKey, oldKey); err != nil {
		return fmt.Errorf("repoint resume positions %s -> %s: %w", oldKey, newKey, err)
	}
	if _, err := tx.Exec(`DELETE FROM resume_positions WHERE canonical_key = ?`, oldKey); err != nil {
		return fmt.Errorf("drop old resume positions %s: %w", oldKey, err)
	}
	return nil
}

func scanWork(scanner interface{ Scan(dest ...any) error }) (*model.CanonicalWork, error) {
	var (
		w          model.CanonicalWork
		kind       string
		genres     sql.NullString
		plot       sql.NullString
		castNames  sql.NullString
		director   sql.NullString
		extIDs     sql.NullString
		artwork    sql.NullString
		playback   sql.NullString
		container  sql.NullString
		rec        string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&w.Key, &kind, &w.Title, &w.Year, &genres, &w.Rating,
		&plot, &castNames, &director, &extIDs, &artwork, &playback,
		&container, &rec, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	w.Kind = model.MediaKind(kind)
	w.Plot = plot.String
	w.Cast = castNames.String
	w.Director = director.String
	w.ArtworkURL = artwork.String
	w.PlaybackURL = playback.String
	w.Container = container.String
	w.Recognition = model.RecognitionState(rec)
	w.CreatedAt = parseTime(createdRaw)
	w.UpdatedAt = parseTime(updatedRaw)
	if genres.Valid && genres.String != "" {
		if err := json.Unmarshal([]byte(genres.String), &w.Genres); err != nil {
			return nil, fmt.Errorf("unmarshal genres for %s: %w", w.Key, err)
		}
	}
	if extIDs.Valid && extIDs.String != "" {
		if err := json.Unmarshal([]byte(extIDs.String), &w.ExternalIDs); err != nil {
			return nil, fmt.Errorf("unmarshal external ids for %s: %w", w.Key, err)
		}
	}
	return &w, nil
}

func marshalJSON(v any) (any, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
