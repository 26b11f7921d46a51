package canonkey

import (
	"errors"
	"testing"

	"github.com/mediafold/catalogsync/internal/model"
)

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The Matrix", "the matrix"},
		{"  The  Matrix  ", "the matrix"},
		{"The Matrix 4K", "the matrix"},
		{"The.Matrix.HD", "the matrix"},
		{"MATRIX | FHD MULTI", "matrix"},
		{"Amélie", "am lie"},
		{"x265 HDR", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeTitle(c.in); got != c.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolve_authority(t *testing.T) {
	it := model.RawItem{
		Kind:  model.KindMovie,
		Title: "The Matrix (1999)",
		Year:  1999,
		Authority: &model.AuthorityRef{
			Namespace: "tmdb", Kind: model.KindMovie, ID: "603",
		},
	}
	res, err := Resolve(it)
	if err != nil {
		t.Fatal(err)
	}
	if res.Key != "tmdb:movie:603" {
		t.Errorf("Key = %q", res.Key)
	}
	if res.Recognition != model.RecognitionConfirmed {
		t.Errorf("Recognition = %q", res.Recognition)
	}
	// Legacy spellings: the untyped key, then the heuristic key the work
	// would have carried before the authority id was known.
	if len(res.LegacyKeys) != 2 || res.LegacyKeys[0] != "tmdb:603" {
		t.Fatalf("LegacyKeys = %v", res.LegacyKeys)
	}
	if res.LegacyKeys[1] != "heur:movie:the matrix 1999:1999" {
		t.Errorf("heuristic legacy key = %q", res.LegacyKeys[1])
	}
}

func TestResolve_authorityKindFallsBackToItemKind(t *testing.T) {
	it := model.RawItem{
		Kind:      model.KindSeries,
		Title:     "Dark",
		Authority: &model.AuthorityRef{Namespace: "tmdb", ID: "70523"},
	}
	res, err := Resolve(it)
	if err != nil {
		t.Fatal(err)
	}
	if res.Key != "tmdb:series:70523" {
		t.Errorf("Key = %q", res.Key)
	}
}

func TestResolve_heuristic(t *testing.T) {
	it := model.RawItem{Kind: model.KindMovie, Title: "Heat", Year: 1995}
	res, err := Resolve(it)
	if err != nil {
		t.Fatal(err)
	}
	if res.Key != "heur:movie:heat:1995" {
		t.Errorf("Key = %q", res.Key)
	}
	if res.Recognition != model.RecognitionHeuristic {
		t.Errorf("Recognition = %q", res.Recognition)
	}
	if len(res.LegacyKeys) != 0 {
		t.Errorf("heuristic resolution should carry no legacy keys; got %v", res.LegacyKeys)
	}
}

func TestResolve_episode(t *testing.T) {
	it := model.RawItem{
		Kind:        model.KindEpisode,
		Title:       "The Winds of Winter",
		SeriesTitle: "Game of Thrones",
		Season:      6,
		Episode:     10,
	}
	res, err := Resolve(it)
	if err != nil {
		t.Fatal(err)
	}
	if res.Key != "heur:episode:game of thrones:s06e10" {
		t.Errorf("Key = %q", res.Key)
	}
}

// Quality suffixes must not split one work into several identities.
func TestResolve_qualityVariantsCollapse(t *testing.T) {
	a := model.RawItem{Kind: model.KindMovie, Title: "Heat HD", Year: 1995}
	b := model.RawItem{Kind: model.KindMovie, Title: "Heat 4K", Year: 1995}
	ra, err := Resolve(a)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := Resolve(b)
	if err != nil {
		t.Fatal(err)
	}
	if ra.Key != rb.Key {
		t.Errorf("quality variants got different keys: %q vs %q", ra.Key, rb.Key)
	}
}

func TestResolve_invalidTitle(t *testing.T) {
	cases := []model.RawItem{
		{Kind: model.KindMovie, Title: ""},
		{Kind: model.KindMovie, Title: "4K HD"},
		{Kind: model.KindEpisode, SeriesTitle: "", Season: 1, Episode: 1},
	}
	for _, it := range cases {
		if _, err := Resolve(it); !errors.Is(err, ErrInvalidTitle) {
			t.Errorf("Resolve(%+v) err = %v, want ErrInvalidTitle", it, err)
		}
	}
}
