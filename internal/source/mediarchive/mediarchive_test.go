package mediarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mediafold/catalogsync/internal/model"
)

func TestParseFileName(t *testing.T) {
	cases := []struct {
		name string
		want FileInfo
	}{
		{"The Matrix (1999).mkv", FileInfo{Title: "The Matrix", Year: 1999, Container: "mkv"}},
		{"Heat.1995.mp4", FileInfo{Title: "Heat", Year: 1995, Container: "mp4"}},
		{"Some Movie.avi", FileInfo{Title: "Some Movie", Container: "avi"}},
		{"Dark S01E02 Lies.mkv", FileInfo{Title: "Dark", Season: 1, Episode: 2, EpisodeTitle: "Lies", Container: "mkv"}},
		{"Dark.S03E08.mkv", FileInfo{Title: "Dark", Season: 3, Episode: 8, Container: "mkv"}},
		{"The Expanse (2015) S02E05 Home.mp4", FileInfo{Title: "The Expanse", Season: 2, Episode: 5, EpisodeTitle: "Home", Container: "mp4"}},
	}
	for _, c := range cases {
		got := ParseFileName(c.name)
		if got != c.want {
			t.Errorf("ParseFileName(%q) = %+v, want %+v", c.name, got, c.want)
		}
	}
}

func TestCaptionAuthority(t *testing.T) {
	ns, id, ok := captionAuthority("The Matrix tmdb:603")
	if !ok || ns != "tmdb" || id != "603" {
		t.Errorf("got %q %q %v", ns, id, ok)
	}
	ns, id, ok = captionAuthority("great movie imdb:tt0133093.")
	if !ok || ns != "imdb" || id != "tt0133093" {
		t.Errorf("got %q %q %v", ns, id, ok)
	}
	if _, _, ok := captionAuthority("no tags here 12:30"); ok {
		t.Error("time-of-day should not parse as an authority")
	}
	if _, _, ok := captionAuthority(""); ok {
		t.Error("empty caption")
	}
}

func TestCaptionPlot(t *testing.T) {
	if got := captionPlot("A heist classic tmdb:949"); got != "A heist classic" {
		t.Errorf("captionPlot = %q", got)
	}
}

// archiveServer serves two pages for channel "movies".
func archiveServer(t *testing.T, msgs []message) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(401)
			return
		}
		var offset, limit int
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
		fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit)
		end := offset + limit
		if end > len(msgs) {
			end = len(msgs)
		}
		if offset > len(msgs) {
			offset = len(msgs)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items":    msgs[offset:end],
			"has_more": end < len(msgs),
		})
	}))
}

func testAdapter(srvURL string) *Adapter {
	return New(Config{
		BaseURL:  srvURL,
		Token:    "tok",
		Channels: []string{"movies"},
		Label:    "test-archive",
		PageSize: 2, // force pagination
	}, nil)
}

func TestScan_vodPaged(t *testing.T) {
	msgs := []message{
		{ID: 1, FileName: "Heat (1995).mkv", FileSize: 100, Caption: "tmdb:949"},
		{ID: 2, FileName: "The Matrix (1999).mp4", FileSize: 200},
		{ID: 3, FileName: "Dark S01E01 Secrets.mkv", FileSize: 300}, // episode file: not VOD
	}
	srv := archiveServer(t, msgs)
	defer srv.Close()
	a := testAdapter(srv.URL)

	var got []model.RawItem
	err := a.Scan(context.Background(), model.PhaseVOD, func(it model.RawItem, parseErr error) error {
		if parseErr != nil {
			t.Errorf("unexpected parse error: %v", parseErr)
		}
		got = append(got, it)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d items, want 2 (episode file excluded)", len(got))
	}
	if got[0].Title != "Heat" || got[0].Year != 1995 || got[0].Container != "mkv" {
		t.Errorf("first item: %+v", got[0])
	}
	if got[0].Authority == nil || got[0].Authority.Namespace != "tmdb" || got[0].Authority.ID != "949" {
		t.Errorf("caption authority not extracted: %+v", got[0].Authority)
	}
	if got[0].SourceID != "msg_movies_1" {
		t.Errorf("SourceID = %q", got[0].SourceID)
	}
	if got[1].SizeBytes != 200 {
		t.Errorf("SizeBytes = %d", got[1].SizeBytes)
	}
}

func TestScan_seriesSynthesised(t *testing.T) {
	msgs := []message{
		{ID: 1, FileName: "Dark S01E01.mkv", FileSize: 1},
		{ID: 2, FileName: "Dark S01E02.mkv", FileSize: 1},
		{ID: 3, FileName: "The Expanse S02E05.mkv", FileSize: 1},
		{ID: 4, FileName: "Heat (1995).mkv", FileSize: 1}, // movie: not a show
	}
	srv := archiveServer(t, msgs)
	defer srv.Close()
	a := testAdapter(srv.URL)

	var got []model.RawItem
	err := a.Scan(context.Background(), model.PhaseSeries, func(it model.RawItem, parseErr error) error {
		got = append(got, it)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d series, want 2 distinct shows", len(got))
	}
	if got[0].Kind != model.KindSeries || got[0].Title != "Dark" || got[0].SourceID != "show_dark" {
		t.Errorf("first series: %+v", got[0])
	}
}

func TestScan_episodes(t *testing.T) {
	msgs := []message{
		{ID: 1, FileName: "Dark S01E02 Lies.mkv", FileSize: 9},
	}
	srv := archiveServer(t, msgs)
	defer srv.Close()
	a := testAdapter(srv.URL)

	var got []model.RawItem
	err := a.Scan(context.Background(), model.PhaseEpisodes, func(it model.RawItem, parseErr error) error {
		got = append(got, it)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d episodes", len(got))
	}
	ep := got[0]
	if ep.Kind != model.KindEpisode || ep.SeriesTitle != "Dark" || ep.Season != 1 || ep.Episode != 2 {
		t.Errorf("episode: %+v", ep)
	}
	if ep.SeriesID != "show_dark" {
		t.Errorf("SeriesID = %q", ep.SeriesID)
	}
	if ep.Title != "Lies" {
		t.Errorf("episode title = %q", ep.Title)
	}
}

func TestScan_missingFilenameEmitsParseError(t *testing.T) {
	msgs := []message{{ID: 1, FileSize: 9}}
	srv := archiveServer(t, msgs)
	defer srv.Close()
	a := testAdapter(srv.URL)

	var parseErrs int
	err := a.Scan(context.Background(), model.PhaseVOD, func(it model.RawItem, parseErr error) error {
		if parseErr != nil {
			parseErrs++
			if it.SourceID == "" {
				t.Error("broken item must still carry a source id for the ledger")
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if parseErrs != 1 {
		t.Errorf("parse errors = %d, want 1", parseErrs)
	}
}

func TestScan_livePhaseEmpty(t *testing.T) {
	a := testAdapter("http://unused")
	err := a.Scan(context.Background(), model.PhaseLive, func(model.RawItem, error) error {
		t.Error("archive has no live channels")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEnabled(t *testing.T) {
	if New(Config{}, nil).Enabled() {
		t.Error("empty config must be disabled")
	}
	a := New(Config{BaseURL: "http://x", Token: "t", Channels: []string{"c"}}, nil)
	if !a.Enabled() {
		t.Error("full config must be enabled")
	}
}
