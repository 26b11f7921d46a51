// Package merge folds an incoming raw item into the canonical record for its
// key under per-field guard policies. All canonical field writes go through
// the policy table here — no other code path assigns to a CanonicalWork
// field — so the guard behaviour stays centrally testable.
package merge

import (
	"time"

	"github.com/mediafold/catalogsync/internal/model"
)

// Policy names the guard applied to one canonical field.
type Policy string

const (
	// EnrichOnly keeps an existing non-empty value; the incoming value is
	// adopted only when the stored one is absent. A first-seen curated plot
	// must not be clobbered by a lower-quality later source.
	EnrichOnly Policy = "enrichOnly"
	// AlwaysUpdate adopts the incoming value whenever it is present.
	AlwaysUpdate Policy = "alwaysUpdate"
	// MonotonicUp adopts the incoming value only when it outranks the
	// existing one under the field's ordering.
	MonotonicUp Policy = "monotonicUp"
)

// rule binds a field name to its policy and the application function.
// apply returns true when the field changed.
type rule struct {
	field  string
	policy Policy
	apply  func(dst *model.CanonicalWork, in incoming) bool
}

// incoming is the merge engine's view of a raw item plus its resolution.
type incoming struct {
	item        model.RawItem
	recognition model.RecognitionState
}

// rules is the full merge-policy table. Order matters only for readability.
var rules = []rule{
	{"plot", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		return setStringIfEmpty(&d.Plot, in.item.Plot)
	}},
	{"cast", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		return setStringIfEmpty(&d.Cast, in.item.Cast)
	}},
	{"director", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		return setStringIfEmpty(&d.Director, in.item.Director)
	}},
	{"genres", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		if len(d.Genres) > 0 || len(in.item.Genres) == 0 {
			return false
		}
		d.Genres = append([]string(nil), in.item.Genres...)
		return true
	}},
	{"rating", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		if d.Rating != 0 || in.item.Rating == 0 {
			return false
		}
		d.Rating = in.item.Rating
		return true
	}},
	{"artworkURL", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		return setStringIfEmpty(&d.ArtworkURL, in.item.ArtworkURL)
	}},
	{"title", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		return setStringIfEmpty(&d.Title, in.item.Title)
	}},
	{"year", EnrichOnly, func(d *model.CanonicalWork, in incoming) bool {
		if d.Year != 0 || in.item.Year == 0 {
			return false
		}
		d.Year = in.item.Year
		return true
	}},
	{"externalIDs", AlwaysUpdate, func(d *model.CanonicalWork, in incoming) bool {
		changed := false
		if in.item.Authority != nil && in.item.Authority.Namespace != "" {
			if d.ExternalIDs == nil {
				d.ExternalIDs = make(map[string]string)
			}
			if d.ExternalIDs[in.item.Authority.Namespace] != in.item.Authority.ID {
				d.ExternalIDs[in.item.Authority.Namespace] = in.item.Authority.ID
				changed = true
			}
		}
		for ns, id := range in.item.ExternalIDs {
			if id == "" {
				continue
			}
			if d.ExternalIDs == nil {
				d.ExternalIDs = make(map[string]string)
			}
			if d.ExternalIDs[ns] != id {
				d.ExternalIDs[ns] = id
				changed = true
			}
		}
		return changed
	}},
	{"playbackURL", AlwaysUpdate, func(d *model.CanonicalWork, in incoming) bool {
		return setStringIfPresent(&d.PlaybackURL, in.item.PlaybackURL)
	}},
	{"container", AlwaysUpdate, func(d *model.CanonicalWork, in incoming) bool {
		return setStringIfPresent(&d.Container, in.item.Container)
	}},
	{"recognition", MonotonicUp, func(d *model.CanonicalWork, in incoming) bool {
		if in.recognition.Better(d.Recognition) {
			d.Recognition = in.recognition
			return true
		}
		return false
	}},
}

// PolicyFor returns the policy assigned to a field name, for tests and
// diagnostics. Empty string means the field is not in the table.
func PolicyFor(field string) Policy {
	for _, r := range rules {
		if r.field == field {
			return r.policy
		}
	}
	return ""
}

// Merge folds incoming into existing. When existing is nil a new work is
// constructed directly from the item (no guards apply — everything is new).
// When existing is non-nil each field is merged independently under its
// policy; UpdatedAt is always refreshed. Returns the merged work and whether
// any guarded field actually changed.
func Merge(existing *model.CanonicalWork, it model.RawItem, key string, rec model.RecognitionState) (model.CanonicalWork, bool) {
	now := time.Now().UTC()
	if existing == nil {
		w := newWork(it, key, rec, now)
		return w, true
	}

	w := *existing
	// Deep-copy the mutable containers so the caller's copy stays untouched.
	if existing.ExternalIDs != nil {
		w.ExternalIDs = make(map[string]string, len(existing.ExternalIDs))
		for k, v := range existing.ExternalIDs {
			w.ExternalIDs[k] = v
		}
	}
	w.Genres = append([]string(nil), existing.Genres...)
	w.Key = key

	in := incoming{item: it, recognition: rec}
	changed := false
	for _, r := range rules {
		if r.apply(&w, in) {
			changed = true
		}
	}
	w.UpdatedAt = now
	return w, changed
}

func newWork(it model.RawItem, key string, rec model.RecognitionState, now time.Time) model.CanonicalWork {
	w := model.CanonicalWork{
		Key:         key,
		Kind:        it.Kind,
		Title:       it.Title,
		Year:        it.Year,
		Genres:      append([]string(nil), it.Genres...),
		Rating:      it.Rating,
		Plot:        it.Plot,
		Cast:        it.Cast,
		Director:    it.Director,
		ArtworkURL:  it.ArtworkURL,
		PlaybackURL: it.PlaybackURL,
		Container:   it.Container,
		Recognition: rec,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if it.Authority != nil && it.Authority.Namespace != "" {
		w.ExternalIDs = map[string]string{it.Authority.Namespace: it.Authority.ID}
	}
	for ns, id := range it.ExternalIDs {
		if id == "" {
			continue
		}
		if w.ExternalIDs == nil {
			w.ExternalIDs = make(map[string]string)
		}
		w.ExternalIDs[ns] = id
	}
	return w
}

func setStringIfEmpty(dst *string, v string) bool {
	if *dst != "" || v == "" {
		return false
	}
	*dst = v
	return true
}

func setStringIfPresent(dst *string, v string) bool {
	if v == "" || *dst == v {
		return false
	}
	*dst = v
	return true
}
