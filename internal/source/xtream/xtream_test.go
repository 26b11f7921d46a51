package xtream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mediafold/catalogsync/internal/model"
)

func TestParseTitleYear(t *testing.T) {
	cases := []struct {
		in    string
		title string
		year  int
	}{
		{"The Matrix (1999)", "The Matrix", 1999},
		{"Heat (1995)", "Heat", 1995},
		{"No Year Here", "No Year Here", 0},
		{"Bad (19x9)", "Bad (19x9)", 0},
		{"Out of Range (1850)", "Out of Range (1850)", 0},
		{"", "", 0},
		{"(1999)", "", 1999},
	}
	for _, c := range cases {
		title, year := ParseTitleYear(c.in)
		if title != c.title || year != c.year {
			t.Errorf("ParseTitleYear(%q) = (%q, %d), want (%q, %d)", c.in, title, year, c.title, c.year)
		}
	}
}

func TestIDStr(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{float64(42), "42"},
		{"42", "42"},
		{" 42 ", "42"},
		{nil, ""},
		{true, ""},
	}
	for _, c := range cases {
		if got := idStr(c.in); got != c.want {
			t.Errorf("idStr(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRatingFloat(t *testing.T) {
	if got := ratingFloat(float64(7.5)); got != 7.5 {
		t.Errorf("float: %v", got)
	}
	if got := ratingFloat("8.1"); got != 8.1 {
		t.Errorf("string: %v", got)
	}
	if got := ratingFloat("n/a"); got != 0 {
		t.Errorf("garbage: %v", got)
	}
}

func TestSplitGenres(t *testing.T) {
	got := splitGenres("Action, Crime / Thriller")
	if len(got) != 3 || got[0] != "Action" || got[1] != "Crime" || got[2] != "Thriller" {
		t.Errorf("splitGenres = %v", got)
	}
	if splitGenres("  ") != nil {
		t.Error("blank should give nil")
	}
}

// panelStub serves a minimal player_api with fixed action responses.
func panelStub(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player_api.php" {
			t.Errorf("path = %s", r.URL.Path)
		}
		action := r.URL.Query().Get("action")
		body, ok := responses[action]
		if !ok {
			w.WriteHeader(404)
			return
		}
		w.Write([]byte(body))
	}))
}

func newTestAdapter(srv *httptest.Server) *Adapter {
	return New(Config{BaseURL: srv.URL, User: "u", Pass: "p", Label: "panel"}, srv.Client())
}

func collect(t *testing.T, a *Adapter, phase model.Phase) ([]model.RawItem, []error) {
	t.Helper()
	var items []model.RawItem
	var parseErrs []error
	err := a.Scan(context.Background(), phase, func(it model.RawItem, parseErr error) error {
		if parseErr != nil {
			parseErrs = append(parseErrs, parseErr)
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		t.Fatalf("scan %s: %v", phase, err)
	}
	return items, parseErrs
}

func TestScanLive(t *testing.T) {
	srv := panelStub(t, map[string]string{
		"get_live_streams": `[
			{"stream_id":1,"name":" CNN HD ","epg_channel_id":"cnn.us","stream_icon":"http://img/cnn.png","category_name":"News","added":"1700000000"},
			{"stream_id":"2","name":"ESPN","category_id":5}
		]`,
	})
	defer srv.Close()
	items, _ := collect(t, newTestAdapter(srv), model.PhaseLive)
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	ch := items[0]
	if ch.SourceID != "live_1" || ch.Kind != model.KindLive || ch.Title != "CNN HD" {
		t.Errorf("first channel: %+v", ch)
	}
	if ch.GuideChannelID != "cnn.us" || ch.Category != "News" {
		t.Errorf("guide/category: %+v", ch)
	}
	if ch.PlaybackURL != srv.URL+"/live/u/p/1.m3u8" {
		t.Errorf("PlaybackURL = %q", ch.PlaybackURL)
	}
	if ch.AddedAt.IsZero() {
		t.Error("added timestamp not parsed")
	}
	// Numeric-string stream id and numeric category id both normalise.
	if items[1].SourceID != "live_2" || items[1].Category != "5" {
		t.Errorf("second channel: %+v", items[1])
	}
}

func TestScanVOD_tmdbAuthority(t *testing.T) {
	srv := panelStub(t, map[string]string{
		"get_vod_streams": `[
			{"stream_id":10,"name":"Heat (1995)","container_extension":"mp4","tmdb":949,"rating":"8.3","plot":"heist","genre":"Crime, Thriller"},
			{"stream_id":11,"name":"Unknown Movie","tmdb":0}
		]`,
	})
	defer srv.Close()
	items, _ := collect(t, newTestAdapter(srv), model.PhaseVOD)
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	m := items[0]
	if m.SourceID != "vod_10" || m.Title != "Heat" || m.Year != 1995 {
		t.Errorf("movie: %+v", m)
	}
	if m.Authority == nil || m.Authority.Namespace != "tmdb" || m.Authority.ID != "949" || m.Authority.Kind != model.KindMovie {
		t.Errorf("authority: %+v", m.Authority)
	}
	if m.Rating != 8.3 || len(m.Genres) != 2 {
		t.Errorf("metadata: rating=%v genres=%v", m.Rating, m.Genres)
	}
	// tmdb 0 means "no id", not an authority reference.
	if items[1].Authority != nil {
		t.Errorf("tmdb 0 must not produce an authority: %+v", items[1].Authority)
	}
}

func TestScanVOD_categoryFallback(t *testing.T) {
	srv := panelStub(t, map[string]string{
		"get_vod_streams":    `[]`, // monolithic dump refused
		"get_vod_categories": `[{"category_id":"7","category_name":"Action"}]`,
	})
	defer srv.Close()
	// The per-category call repeats get_vod_streams with category_id; the
	// stub serves the same empty list, so the fallback path runs clean and
	// yields nothing.
	items, _ := collect(t, newTestAdapter(srv), model.PhaseVOD)
	if len(items) != 0 {
		t.Errorf("got %d items", len(items))
	}
}

func TestScanSeriesThenEpisodes(t *testing.T) {
	srv := panelStub(t, map[string]string{
		"get_series": `[
			{"series_id":9,"name":"Dark (2017)","tmdb":70523,"genre":"Sci-Fi","cast":"Louis Hofmann"}
		]`,
		"get_series_info": `{"episodes":{"1":[
			{"id":"101","episode_num":1,"title":"Secrets","season":1,"container_extension":"mp4","info":{"plot":"..."}},
			{"id":"102","episode_num":2,"title":"Lies","season":1}
		]}}`,
	})
	defer srv.Close()
	a := newTestAdapter(srv)

	shows, _ := collect(t, a, model.PhaseSeries)
	if len(shows) != 1 {
		t.Fatalf("got %d shows", len(shows))
	}
	s := shows[0]
	if s.SourceID != "series_9" || s.Title != "Dark" || s.Year != 2017 {
		t.Errorf("show: %+v", s)
	}
	if s.Authority == nil || s.Authority.Kind != model.KindSeries || s.Authority.ID != "70523" {
		t.Errorf("show authority: %+v", s.Authority)
	}

	eps, parseErrs := collect(t, a, model.PhaseEpisodes)
	if len(parseErrs) != 0 {
		t.Fatalf("parse errors: %v", parseErrs)
	}
	if len(eps) != 2 {
		t.Fatalf("got %d episodes", len(eps))
	}
	ep := eps[0]
	if ep.SourceID != "ep_101" || ep.Kind != model.KindEpisode {
		t.Errorf("episode: %+v", ep)
	}
	if ep.SeriesTitle != "Dark" || ep.SeriesID != "9" || ep.Season != 1 || ep.Episode != 1 {
		t.Errorf("episode linkage: %+v", ep)
	}
	if ep.PlaybackURL != srv.URL+"/series/u/p/101.mp4" {
		t.Errorf("PlaybackURL = %q", ep.PlaybackURL)
	}
}

// Series listings keyed by id instead of an array must still parse.
func TestScanSeries_mapPayload(t *testing.T) {
	srv := panelStub(t, map[string]string{
		"get_series": `{"9":{"series_id":9,"name":"Dark (2017)"}}`,
	})
	defer srv.Close()
	shows, _ := collect(t, newTestAdapter(srv), model.PhaseSeries)
	if len(shows) != 1 || shows[0].SourceID != "series_9" {
		t.Errorf("shows = %+v", shows)
	}
}

// A failed series-info fetch must surface as a per-item parse error, not
// kill the phase, so the ledger still accounts for the show.
func TestScanEpisodes_seriesInfoFailure(t *testing.T) {
	srv := panelStub(t, map[string]string{
		"get_series":      `[{"series_id":9,"name":"Dark"},{"series_id":10,"name":"The Expanse"}]`,
		"get_series_info": `not json`,
	})
	defer srv.Close()
	a := newTestAdapter(srv)

	collect(t, a, model.PhaseSeries)
	eps, parseErrs := collect(t, a, model.PhaseEpisodes)
	if len(parseErrs) != 2 {
		t.Fatalf("parse errors = %d, want one per show", len(parseErrs))
	}
	for _, it := range eps {
		if it.SourceID == "" {
			t.Error("failed show must carry a ledgerable source id")
		}
	}
}

func TestEnabled(t *testing.T) {
	if New(Config{}, nil).Enabled() {
		t.Error("empty config must be disabled")
	}
	if !New(Config{BaseURL: "http://x", User: "u", Pass: "p"}, nil).Enabled() {
		t.Error("full config must be enabled")
	}
}

func TestLabelDefaultsToHost(t *testing.T) {
	a := New(Config{BaseURL: "http://panel.example:8080", User: "u", Pass: "p"}, nil)
	if a.Label() != "panel.example:8080" {
		t.Errorf("Label = %q", a.Label())
	}
}
