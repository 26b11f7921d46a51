// Package fingerprint decides "unchanged — skip" vs "changed — process" for
// each raw item by hashing its identity-relevant fields and comparing against
// the hash stored for the same source id on the previous run.
//
// The field subset is fixed and deliberately excludes volatile echo-backs
// like the provider's "added" timestamp, so an item that merely gets
// re-listed does not look changed. Hash collisions are accepted as
// statistically negligible; there is no collision-recovery path.
package fingerprint

import (
	"context"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mediafold/catalogsync/internal/model"
)

// fieldSep keeps adjacent fields from gluing into a colliding string
// ("ab"+"c" vs "a"+"bc").
const fieldSep = "\x00"

// Compute returns the stable 64-bit fingerprint of an item's
// identity-relevant fields: source id, title, kind, year, category, artwork
// URL, guide-channel mapping id, container, playback URL and episode
// coordinates. AddedAt, SizeBytes and descriptive metadata are excluded on
// purpose: descriptive fields are merged under enrich-only guards anyway and
// must not force reprocessing.
func Compute(it model.RawItem) uint64 {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(it.SourceID)
	b.WriteString(fieldSep)
	b.WriteString(it.Title)
	b.WriteString(fieldSep)
	b.WriteString(string(it.Kind))
	b.WriteString(fieldSep)
	b.WriteString(strconv.Itoa(it.Year))
	b.WriteString(fieldSep)
	b.WriteString(it.Category)
	b.WriteString(fieldSep)
	b.WriteString(it.ArtworkURL)
	b.WriteString(fieldSep)
	b.WriteString(it.GuideChannelID)
	b.WriteString(fieldSep)
	b.WriteString(it.Container)
	b.WriteString(fieldSep)
	b.WriteString(it.PlaybackURL)
	if it.Kind == model.KindEpisode {
		b.WriteString(fieldSep)
		b.WriteString(it.SeriesID)
		b.WriteString(fieldSep)
		b.WriteString(strconv.Itoa(it.Season))
		b.WriteString(fieldSep)
		b.WriteString(strconv.Itoa(it.Episode))
	}
	if it.Authority != nil {
		b.WriteString(fieldSep)
		b.WriteString(it.Authority.Namespace)
		b.WriteString(fieldSep)
		b.WriteString(it.Authority.ID)
	}
	return xxhash.Sum64String(b.String())
}

// Lookup reads the previously stored fingerprint for a source id.
// Implemented by the store.
type Lookup interface {
	Fingerprint(ctx context.Context, source model.SourceType, sourceID string) (hash uint64, found bool, err error)
}

// Comparator answers ShouldProcess against a Lookup.
type Comparator struct {
	prev Lookup
}

func NewComparator(prev Lookup) *Comparator {
	return &Comparator{prev: prev}
}

// ShouldProcess returns false only on an exact match against the stored
// fingerprint. First sighting of a source id always processes. The new
// fingerprint is NOT written here — the persistence consumer writes it
// unconditionally after the item's terminal decision, including rejects, so
// a once-rejected item is not reprocessed on every future unchanged scan.
func (c *Comparator) ShouldProcess(ctx context.Context, it model.RawItem, hash uint64) (bool, error) {
	stored, found, err := c.prev.Fingerprint(ctx, it.Source, it.SourceID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return stored != hash, nil
}
