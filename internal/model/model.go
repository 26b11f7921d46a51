// Package model holds the shared data shapes for the sync engine: raw items
// as reported by a source during one scan, the merged canonical catalog
// records they collapse into, and the link rows between them.
package model

import "time"

// SourceType identifies which upstream a RawItem came from.
type SourceType string

const (
	SourceXtream       SourceType = "xtream"      // IPTV player-API provider
	SourceMediaArchive SourceType = "mediarchive" // messaging-platform media archive
)

// Phase is one content category processed by the orchestrator.
// Live, VOD and Series run concurrently; Episodes runs strictly after,
// because episode enumeration depends on series identities.
type Phase string

const (
	PhaseLive     Phase = "live"
	PhaseVOD      Phase = "vod"
	PhaseSeries   Phase = "series"
	PhaseEpisodes Phase = "episodes"
)

// MediaKind classifies what a catalog entry is.
type MediaKind string

const (
	KindLive    MediaKind = "live"
	KindMovie   MediaKind = "movie"
	KindSeries  MediaKind = "series"
	KindEpisode MediaKind = "episode"
)

// RecognitionState says how confident we are in a work's identity.
// CONFIRMED means an authority ID backs it; HEURISTIC is a best guess from
// title+year. The state only ever moves HEURISTIC → CONFIRMED.
type RecognitionState string

const (
	RecognitionHeuristic RecognitionState = "HEURISTIC"
	RecognitionConfirmed RecognitionState = "CONFIRMED"
)

// Better reports whether s outranks other. Used by the merge engine's
// monotonic-up guard so a confirmed identity is never demoted.
func (s RecognitionState) Better(other RecognitionState) bool {
	return s == RecognitionConfirmed && other != RecognitionConfirmed
}

// AuthorityRef is a typed reference into an external authority's ID space
// (e.g. tmdb movie 603). When present on a RawItem it yields a fully-typed
// canonical key and CONFIRMED recognition.
type AuthorityRef struct {
	Namespace string    // e.g. "tmdb", "imdb"
	Kind      MediaKind // the kind the authority ID is scoped to
	ID        string
}

// RawItem is one item as reported by a single source for one scan.
// Not persisted itself; it exists only on the pipeline between the adapter
// and the merge stage.
type RawItem struct {
	Source      SourceType
	SourceID    string // stable per source (e.g. "vod_12345", archive message id)
	SourceLabel string // human label for the source (provider name, channel name)

	Kind  MediaKind
	Title string
	Year  int

	// Episode linkage (Kind == KindEpisode only).
	SeriesTitle string
	SeriesID    string // source-side series id the episode belongs to
	Season      int
	Episode     int

	Authority   *AuthorityRef
	ExternalIDs map[string]string // namespace → id, beyond the primary authority ref

	Category       string // provider category / group-title
	GuideChannelID string // EPG guide mapping id (live channels)
	ArtworkURL     string

	// Playback hints. Container is the file extension / container format
	// ("mp4", "mkv", "m3u8"); SizeBytes is known only for archive files.
	PlaybackURL string
	Container   string
	SizeBytes   int64

	// Descriptive metadata (may be empty; merged under enrich-only guards).
	Plot     string
	Cast     string
	Director string
	Genres   []string
	Rating   float64

	AddedAt time.Time // upstream "added" echo-back; volatile, excluded from fingerprints
}

// CanonicalWork is the merged, deduplicated catalog entry addressed by its
// canonical key. Created on the first accepted item for a key, mutated only
// through the merge engine afterwards. Never deleted by the sync engine.
type CanonicalWork struct {
	Key   string
	Kind  MediaKind
	Title string
	Year  int

	Genres   []string
	Rating   float64
	Plot     string
	Cast     string
	Director string

	ExternalIDs map[string]string
	ArtworkURL  string
	PlaybackURL string
	Container   string

	Recognition RecognitionState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceRef links a CanonicalWork back to one originating source item.
// Many refs may point at one work; re-keying a work during a legacy key
// upgrade only rewrites the CanonicalKey column here.
type SourceRef struct {
	CanonicalKey string
	Source       SourceType
	SourceID     string
	SourceLabel  string
}
