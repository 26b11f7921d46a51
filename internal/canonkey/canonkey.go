// Package canonkey derives the stable cross-source identity key for a raw
// item. A typed authority reference wins when present; otherwise a
// deterministic heuristic key is built from the normalised title, year and
// media kind. The package also knows which older key spellings a typed key
// supersedes, so a legacy record can be re-keyed in place instead of
// duplicated.
//
// Key formats:
//
//	typed      <namespace>:<kind>:<id>        e.g. tmdb:movie:603
//	legacy     <namespace>:<id>               e.g. tmdb:603 (pre-typed spelling)
//	heuristic  heur:<kind>:<normtitle>:<year> e.g. heur:movie:the matrix:1999
//	episode    heur:episode:<normseries>:s02e05
package canonkey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mediafold/catalogsync/internal/model"
)

// ErrInvalidTitle means resolution could not produce even a heuristic key.
// Items failing this way are rejected before the merge stage.
var ErrInvalidTitle = errors.New("canonkey: title yields no usable identity")

var (
	nonAlphaRe = regexp.MustCompile(`[^a-z0-9 ]`)
	spaceRe    = regexp.MustCompile(`\s+`)
	// Release-group / quality noise that must not split identities:
	// "Movie (2020) 4K" and "Movie (2020) HD" are the same work.
	qualityRe = regexp.MustCompile(`\b(hd|fhd|uhd|4k|sd|hdr|hevc|x264|x265|multi|vip)\b`)
)

// NormalizeTitle lowercases, strips punctuation and quality/release noise,
// and collapses whitespace. Empty output means the title carried no identity.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlphaRe.ReplaceAllString(s, " ")
	s = qualityRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Resolution is the outcome of resolving one raw item.
type Resolution struct {
	Key         string
	Recognition model.RecognitionState
	// LegacyKeys lists older spellings of Key that an existing stored work
	// may still be filed under. Ordered most- to least-specific.
	LegacyKeys []string
}

// Resolve derives the canonical key for an item. Authority-backed items get
// a fully-typed key and CONFIRMED recognition; everything else falls back to
// the heuristic key with HEURISTIC recognition.
func Resolve(it model.RawItem) (Resolution, error) {
	if it.Authority != nil && it.Authority.Namespace != "" && it.Authority.ID != "" {
		kind := it.Authority.Kind
		if kind == "" {
			kind = it.Kind
		}
		key := TypedKey(it.Authority.Namespace, kind, it.Authority.ID)
		return Resolution{
			Key:         key,
			Recognition: model.RecognitionConfirmed,
			LegacyKeys:  legacyCandidates(it.Authority.Namespace, it.Authority.ID, it),
		}, nil
	}
	key, err := heuristicKey(it)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Key: key, Recognition: model.RecognitionHeuristic}, nil
}

// TypedKey builds the fully-typed authority key spelling.
func TypedKey(namespace string, kind model.MediaKind, id string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, kind, id)
}

// legacyCandidates returns older spellings a stored work may be filed under:
// the untyped "<namespace>:<id>" form written before keys carried a media
// kind, and the heuristic key the work would have had before the authority
// ID was known. Matching either one means "same work, upgrade the key".
func legacyCandidates(namespace, id string, it model.RawItem) []string {
	out := []string{namespace + ":" + id}
	if hk, err := heuristicKey(it); err == nil {
		out = append(out, hk)
	}
	return out
}

func heuristicKey(it model.RawItem) (string, error) {
	if it.Kind == model.KindEpisode {
		series := NormalizeTitle(it.SeriesTitle)
		if series == "" {
			return "", ErrInvalidTitle
		}
		return fmt.Sprintf("heur:%s:%s:s%02de%02d", model.KindEpisode, series, it.Season, it.Episode), nil
	}
	norm := NormalizeTitle(it.Title)
	if norm == "" {
		return "", ErrInvalidTitle
	}
	return fmt.Sprintf("heur:%s:%s:%d", it.Kind, norm, it.Year), nil
}
