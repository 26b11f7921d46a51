package fingerprint

import (
	"context"
	"testing"
	"time"

	"github.com/mediafold/catalogsync/internal/model"
)

func item() model.RawItem {
	return model.RawItem{
		Source:      model.SourceXtream,
		SourceID:    "vod_42",
		Kind:        model.KindMovie,
		Title:       "Heat",
		Year:        1995,
		Category:    "Action",
		ArtworkURL:  "http://img/heat.jpg",
		PlaybackURL: "http://host/movie/u/p/42.mp4",
		Container:   "mp4",
	}
}

func TestCompute_stable(t *testing.T) {
	a, b := item(), item()
	if Compute(a) != Compute(b) {
		t.Error("identical items must hash identically")
	}
}

func TestCompute_sensitiveFields(t *testing.T) {
	base := Compute(item())
	mutations := []func(*model.RawItem){
		func(it *model.RawItem) { it.Title = "Heat 2" },
		func(it *model.RawItem) { it.Year = 1996 },
		func(it *model.RawItem) { it.Category = "Crime" },
		func(it *model.RawItem) { it.ArtworkURL = "" },
		func(it *model.RawItem) { it.PlaybackURL = "http://other/42.mp4" },
		func(it *model.RawItem) { it.Container = "mkv" },
		func(it *model.RawItem) {
			it.Authority = &model.AuthorityRef{Namespace: "tmdb", ID: "949"}
		},
	}
	for i, mut := range mutations {
		it := item()
		mut(&it)
		if Compute(it) == base {
			t.Errorf("mutation %d did not change the fingerprint", i)
		}
	}
}

// Volatile echo-backs and descriptive metadata must not perturb the hash:
// a re-listed item with a fresh AddedAt or a reworded plot is "unchanged".
func TestCompute_insensitiveFields(t *testing.T) {
	base := Compute(item())
	it := item()
	it.AddedAt = time.Now()
	it.Plot = "different synopsis"
	it.Cast = "someone"
	it.Rating = 9.9
	it.SizeBytes = 123456
	if Compute(it) != base {
		t.Error("volatile fields changed the fingerprint")
	}
}

func TestCompute_episodeCoordinates(t *testing.T) {
	ep := model.RawItem{
		Source: model.SourceXtream, SourceID: "ep_1",
		Kind: model.KindEpisode, Title: "Pilot",
		SeriesID: "s_9", Season: 1, Episode: 1,
	}
	other := ep
	other.Episode = 2
	if Compute(ep) == Compute(other) {
		t.Error("episode number must be part of the fingerprint")
	}
}

// memLookup is a Lookup over a plain map.
type memLookup map[string]uint64

func (m memLookup) Fingerprint(_ context.Context, source model.SourceType, sourceID string) (uint64, bool, error) {
	h, ok := m[string(source)+"/"+sourceID]
	return h, ok, nil
}

func TestShouldProcess(t *testing.T) {
	it := item()
	hash := Compute(it)
	prev := memLookup{}
	cmp := NewComparator(prev)

	// Never seen: process.
	ok, err := cmp.ShouldProcess(context.Background(), it, hash)
	if err != nil || !ok {
		t.Fatalf("first sighting: ok=%v err=%v", ok, err)
	}

	// Stored and identical: skip.
	prev["xtream/vod_42"] = hash
	ok, err = cmp.ShouldProcess(context.Background(), it, hash)
	if err != nil || ok {
		t.Fatalf("unchanged item: ok=%v err=%v", ok, err)
	}

	// Stored but different: process.
	it.Title = "Heat (Director's Cut)"
	ok, err = cmp.ShouldProcess(context.Background(), it, Compute(it))
	if err != nil || !ok {
		t.Fatalf("changed item: ok=%v err=%v", ok, err)
	}
}
