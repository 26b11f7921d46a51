// Package xtream adapts an Xtream-style player_api.php provider into the
// engine's source contract. Live, VOD and series listings come from the
// usual actions (get_live_streams, get_vod_streams, get_series); episode
// enumeration calls get_series_info per show discovered in the series phase,
// which is why the episodes phase must run after series.
package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mediafold/catalogsync/internal/httpclient"
	"github.com/mediafold/catalogsync/internal/model"
	"github.com/mediafold/catalogsync/internal/preflight"
	"github.com/mediafold/catalogsync/internal/source"
)

// requestsPerSecond paces paged API calls so category fallback and
// per-series info fetches don't trip panel rate limits.
const requestsPerSecond = 5

// Config holds provider settings for one Xtream source.
type Config struct {
	BaseURL   string
	User      string
	Pass      string
	StreamExt string // "m3u8" or "ts"; m3u8 unless overridden
	Label     string // SourceRef label, defaults to the host
}

// Adapter implements source.Adapter for one Xtream provider.
type Adapter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter

	// Series ids discovered during the series phase, read by the episodes
	// phase. Guarded because series and episodes never overlap in time but
	// belong to different goroutines.
	mu     sync.Mutex
	series []seriesRef
}

type seriesRef struct {
	id    string
	title string
	year  int
}

func New(cfg Config, client *http.Client) *Adapter {
	if cfg.StreamExt == "" {
		cfg.StreamExt = "m3u8"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Label == "" {
		if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
			cfg.Label = u.Host
		} else {
			cfg.Label = "xtream"
		}
	}
	if client == nil {
		client = httpclient.WithTimeout(90 * time.Second)
	}
	return &Adapter{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (a *Adapter) Type() model.SourceType { return model.SourceXtream }
func (a *Adapter) Label() string          { return a.cfg.Label }
func (a *Adapter) Enabled() bool {
	return a.cfg.BaseURL != "" && a.cfg.User != "" && a.cfg.Pass != ""
}

func (a *Adapter) Preflight(ctx context.Context) error {
	return preflight.ProbePlayerAPI(ctx, a.cfg.BaseURL, a.cfg.User, a.cfg.Pass, a.client).Err()
}

func (a *Adapter) Scan(ctx context.Context, phase model.Phase, emit source.Emit) error {
	switch phase {
	case model.PhaseLive:
		return a.scanLive(ctx, emit)
	case model.PhaseVOD:
		return a.scanVOD(ctx, emit)
	case model.PhaseSeries:
		return a.scanSeries(ctx, emit)
	case model.PhaseEpisodes:
		return a.scanEpisodes(ctx, emit)
	}
	return fmt.Errorf("xtream: unknown phase %q", phase)
}

// apiURL builds the player_api URL with an action. Credentials are
// query-escaped to prevent query injection from special chars.
func (a *Adapter) apiURL(action string) string {
	return a.cfg.BaseURL + "/player_api.php?username=" + url.QueryEscape(a.cfg.User) +
		"&password=" + url.QueryEscape(a.cfg.Pass) + "&action=" + action
}

// apiGet performs a rate-limited GET through the shared retry policy and
// per-host semaphore.
func (a *Adapter) apiGet(ctx context.Context, u string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	release := httpclient.GlobalHostSem.Acquire(a.cfg.BaseURL)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "CatalogSync/1.0")
	resp, err := httpclient.DoWithRetry(ctx, a.client, req, httpclient.SourceRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: HTTP %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("get %s: read body: %w", u, err)
	}
	return body, nil
}

// ── live ──────────────────────────────────────────────────────────────────────

func (a *Adapter) scanLive(ctx context.Context, emit source.Emit) error {
	body, err := a.apiGet(ctx, a.apiURL("get_live_streams"))
	if err != nil {
		return fmt.Errorf("live streams: %w", err)
	}
	var streams []struct {
		StreamID     any    `json:"stream_id"`
		Name         string `json:"name"`
		EpgChannelID any    `json:"epg_channel_id"`
		StreamIcon   string `json:"stream_icon"`
		CategoryID   any    `json:"category_id"`
		CategoryName string `json:"category_name"`
		Added        string `json:"added"`
	}
	if err := json.Unmarshal(body, &streams); err != nil {
		return fmt.Errorf("live streams: %w", err)
	}
	for _, s := range streams {
		sid := idStr(s.StreamID)
		if sid == "" {
			continue
		}
		it := model.RawItem{
			Source:         model.SourceXtream,
			SourceID:       "live_" + sid,
			SourceLabel:    a.cfg.Label,
			Kind:           model.KindLive,
			Title:          strings.TrimSpace(s.Name),
			Category:       idStr(s.CategoryID),
			GuideChannelID: idStr(s.EpgChannelID),
			ArtworkURL:     s.StreamIcon,
			PlaybackURL:    a.streamURL("live", sid, a.cfg.StreamExt),
			Container:      a.cfg.StreamExt,
			AddedAt:        addedTime(s.Added),
		}
		if s.CategoryName != "" {
			it.Category = s.CategoryName
		}
		if err := emit(it, nil); err != nil {
			return err
		}
	}
	return nil
}

// ── vod ───────────────────────────────────────────────────────────────────────

type vodStream struct {
	StreamID           any    `json:"stream_id"`
	Name               string `json:"name"`
	ContainerExtension string `json:"container_extension"`
	StreamIcon         string `json:"stream_icon"`
	Releasedate        string `json:"releasedate"`
	CategoryID         any    `json:"category_id"`
	TMDB               any    `json:"tmdb"`
	Rating             any    `json:"rating"`
	Plot               string `json:"plot"`
	Genre              string `json:"genre"`
	Added              string `json:"added"`
}

func (a *Adapter) scanVOD(ctx context.Context, emit source.Emit) error {
	list, err := a.fetchVODStreams(ctx)
	if err != nil {
		return err
	}
	for _, m := range list {
		sid := idStr(m.StreamID)
		if sid == "" {
			continue
		}
		ext := m.ContainerExtension
		if ext == "" || len(ext) > 5 {
			ext = "m3u8"
		}
		title, year := ParseTitleYear(m.Name)
		if y := strings.TrimSpace(m.Releasedate); y != "" && year == 0 && len(y) >= 4 {
			year, _ = strconv.Atoi(y[:4])
		}
		it := model.RawItem{
			Source:      model.SourceXtream,
			SourceID:    "vod_" + sid,
			SourceLabel: a.cfg.Label,
			Kind:        model.KindMovie,
			Title:       title,
			Year:        year,
			Category:    idStr(m.CategoryID),
			ArtworkURL:  m.StreamIcon,
			PlaybackURL: a.streamURL("movie", sid, ext),
			Container:   ext,
			Plot:        strings.TrimSpace(m.Plot),
			Genres:      splitGenres(m.Genre),
			Rating:      ratingFloat(m.Rating),
			AddedAt:     addedTime(m.Added),
		}
		if tmdb := idStr(m.TMDB); tmdb != "" && tmdb != "0" {
			it.Authority = &model.AuthorityRef{Namespace: "tmdb", Kind: model.KindMovie, ID: tmdb}
		}
		if err := emit(it, nil); err != nil {
			return err
		}
	}
	return nil
}

// fetchVODStreams tries the monolithic listing first, then falls back to
// per-category paging when the panel truncates or refuses the full dump.
func (a *Adapter) fetchVODStreams(ctx context.Context) ([]vodStream, error) {
	body, err := a.apiGet(ctx, a.apiURL("get_vod_streams"))
	var list []vodStream
	if err == nil {
		_ = json.Unmarshal(body, &list)
	}
	if len(list) > 0 {
		return list, nil
	}

	catBody, err := a.apiGet(ctx, a.apiURL("get_vod_categories"))
	if err != nil {
		return nil, fmt.Errorf("vod categories: %w", err)
	}
	var cats []struct {
		CategoryID   any    `json:"category_id"`
		CategoryName string `json:"category_name"`
	}
	if err := json.Unmarshal(catBody, &cats); err != nil {
		return nil, fmt.Errorf("vod categories: %w", err)
	}
	for _, c := range cats {
		id := idStr(c.CategoryID)
		if id == "" {
			continue
		}
		b, err := a.apiGet(ctx, a.apiURL("get_vod_streams")+"&category_id="+url.QueryEscape(id))
		if err != nil {
			// One bad category must not sink the phase; the other
			// categories' items still flow.
			continue
		}
		var part []vodStream
		if json.Unmarshal(b, &part) != nil {
			continue
		}
		list = append(list, part...)
	}
	return list, nil
}

// ── series / episodes ─────────────────────────────────────────────────────────

func (a *Adapter) scanSeries(ctx context.Context, emit source.Emit) error {
	body, err := a.apiGet(ctx, a.apiURL("get_series"))
	if err != nil {
		return fmt.Errorf("series: %w", err)
	}
	type show struct {
		SeriesID any    `json:"series_id"`
		ID       any    `json:"id"`
		Name     string `json:"name"`
		Cover    string `json:"cover"`
		Plot     string `json:"plot"`
		Genre    string `json:"genre"`
		Rating   any    `json:"rating"`
		TMDB     any    `json:"tmdb"`
		Cast     string `json:"cast"`
		Director string `json:"director"`
	}
	var list []show
	if json.Unmarshal(body, &list) != nil {
		// Some panels key the array by series id instead.
		var m map[string]show
		if err := json.Unmarshal(body, &m); err != nil {
			return fmt.Errorf("series: %w", err)
		}
		for _, s := range m {
			list = append(list, s)
		}
	}

	var refs []seriesRef
	for _, s := range list {
		sid := idStr(s.SeriesID)
		if sid == "" {
			sid = idStr(s.ID)
		}
		if sid == "" {
			continue
		}
		title, year := ParseTitleYear(s.Name)
		refs = append(refs, seriesRef{id: sid, title: title, year: year})
		it := model.RawItem{
			Source:      model.SourceXtream,
			SourceID:    "series_" + sid,
			SourceLabel: a.cfg.Label,
			Kind:        model.KindSeries,
			Title:       title,
			Year:        year,
			ArtworkURL:  s.Cover,
			Plot:        strings.TrimSpace(s.Plot),
			Cast:        strings.TrimSpace(s.Cast),
			Director:    strings.TrimSpace(s.Director),
			Genres:      splitGenres(s.Genre),
			Rating:      ratingFloat(s.Rating),
		}
		if tmdb := idStr(s.TMDB); tmdb != "" && tmdb != "0" {
			it.Authority = &model.AuthorityRef{Namespace: "tmdb", Kind: model.KindSeries, ID: tmdb}
		}
		if err := emit(it, nil); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.series = refs
	a.mu.Unlock()
	return nil
}

func (a *Adapter) scanEpisodes(ctx context.Context, emit source.Emit) error {
	a.mu.Lock()
	refs := a.series
	a.mu.Unlock()

	for _, ref := range refs {
		infoBody, err := a.apiGet(ctx, a.apiURL("get_series_info")+"&series_id="+url.QueryEscape(ref.id))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Surface the failed show as a parse-error item so the ledger
			// still accounts for it.
			it := model.RawItem{
				Source:   model.SourceXtream,
				SourceID: "seriesinfo_" + ref.id,
				Kind:     model.KindEpisode,
			}
			if emitErr := emit(it, fmt.Errorf("series info %s: %w", ref.id, err)); emitErr != nil {
				return emitErr
			}
			continue
		}
		var info struct {
			Episodes map[string][]struct {
				ID                 any    `json:"id"`
				EpisodeNum         any    `json:"episode_num"`
				Title              string `json:"title"`
				Season             any    `json:"season"`
				ContainerExtension string `json:"container_extension"`
				Info               struct {
					MovieImage string `json:"movie_image"`
					Plot       string `json:"plot"`
					ReleaseAt  string `json:"releasedate"`
				} `json:"info"`
			} `json:"episodes"`
		}
		if err := json.Unmarshal(infoBody, &info); err != nil || info.Episodes == nil {
			it := model.RawItem{
				Source:   model.SourceXtream,
				SourceID: "seriesinfo_" + ref.id,
				Kind:     model.KindEpisode,
			}
			if emitErr := emit(it, fmt.Errorf("series info %s: bad payload", ref.id)); emitErr != nil {
				return emitErr
			}
			continue
		}
		for seasonStr, eps := range info.Episodes {
			seasonNum, _ := strconv.Atoi(seasonStr)
			if seasonNum < 1 {
				seasonNum = 1
			}
			for _, ep := range eps {
				eid := idStr(ep.ID)
				if eid == "" {
					continue
				}
				epNum, _ := strconv.Atoi(idStr(ep.EpisodeNum))
				seNum, _ := strconv.Atoi(idStr(ep.Season))
				if seNum < 1 {
					seNum = seasonNum
				}
				ext := ep.ContainerExtension
				if ext == "" || len(ext) > 5 {
					ext = "m3u8"
				}
				it := model.RawItem{
					Source:      model.SourceXtream,
					SourceID:    "ep_" + eid,
					SourceLabel: a.cfg.Label,
					Kind:        model.KindEpisode,
					Title:       strings.TrimSpace(ep.Title),
					SeriesTitle: ref.title,
					SeriesID:    ref.id,
					Season:      seNum,
					Episode:     epNum,
					ArtworkURL:  ep.Info.MovieImage,
					Plot:        strings.TrimSpace(ep.Info.Plot),
					PlaybackURL: a.streamURL("series", eid, ext),
					Container:   ext,
				}
				if err := emit(it, nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (a *Adapter) streamURL(kind, id, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s", a.cfg.BaseURL, kind,
		url.PathEscape(a.cfg.User), url.PathEscape(a.cfg.Pass), url.PathEscape(id), url.PathEscape(ext))
}

// idStr normalises the id fields panels serialise as either number or
// string.
func idStr(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case string:
		return strings.TrimSpace(x)
	case int:
		return strconv.Itoa(x)
	}
	return ""
}

func ratingFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	}
	return 0
}

func splitGenres(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// addedTime parses the Xtream "added" unix-seconds echo-back. Volatile;
// excluded from fingerprints but kept for display.
func addedTime(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
