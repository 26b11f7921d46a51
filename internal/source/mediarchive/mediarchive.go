// Package mediarchive adapts a messaging-platform media archive into the
// engine's source contract. The upstream is a paged JSON API over channels
// of file-bearing messages; each message with a media attachment is one
// candidate item. Titles, years and episode coordinates are parsed from the
// attachment filename, with an optional authority tag in the caption
// ("tmdb:603") promoting the item to a confirmed identity.
package mediarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mediafold/catalogsync/internal/httpclient"
	"github.com/mediafold/catalogsync/internal/model"
	"github.com/mediafold/catalogsync/internal/preflight"
	"github.com/mediafold/catalogsync/internal/source"
)

const (
	defaultPageSize   = 200
	requestsPerSecond = 4
)

// Config holds archive settings for one account.
type Config struct {
	BaseURL  string
	Token    string
	Channels []string // archive channel ids to scan
	Label    string
	PageSize int
}

// Adapter implements source.Adapter for the media archive.
type Adapter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func New(cfg Config, client *http.Client) *Adapter {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Label == "" {
		cfg.Label = "archive"
	}
	if client == nil {
		client = httpclient.WithTimeout(60 * time.Second)
	}
	return &Adapter{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (a *Adapter) Type() model.SourceType { return model.SourceMediaArchive }
func (a *Adapter) Label() string          { return a.cfg.Label }
func (a *Adapter) Enabled() bool {
	return a.cfg.BaseURL != "" && a.cfg.Token != "" && len(a.cfg.Channels) > 0
}

func (a *Adapter) Preflight(ctx context.Context) error {
	return preflight.ProbeArchive(ctx, a.cfg.BaseURL, a.cfg.Token, a.client).Err()
}

// Scan walks every configured channel page by page. The archive has no live
// channels; the live phase is a no-op. The series phase synthesises one
// series item per distinct show seen across episode files, because the
// archive itself has no series-level records.
func (a *Adapter) Scan(ctx context.Context, phase model.Phase, emit source.Emit) error {
	if phase == model.PhaseLive {
		return nil
	}
	seenShows := make(map[string]bool)
	for _, ch := range a.cfg.Channels {
		if err := a.scanChannel(ctx, ch, phase, seenShows, emit); err != nil {
			return err
		}
	}
	return nil
}

// message is one archive entry carrying a media attachment.
type message struct {
	ID       any    `json:"id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	Caption  string `json:"caption"`
	Date     int64  `json:"date"`
}

func (a *Adapter) scanChannel(ctx context.Context, channel string, phase model.Phase, seenShows map[string]bool, emit source.Emit) error {
	offset := 0
	for {
		page, hasMore, err := a.fetchPage(ctx, channel, offset)
		if err != nil {
			return fmt.Errorf("archive channel %s: %w", channel, err)
		}
		for _, m := range page {
			if err := a.emitMessage(channel, m, phase, seenShows, emit); err != nil {
				return err
			}
		}
		if !hasMore || len(page) == 0 {
			return nil
		}
		offset += len(page)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (a *Adapter) fetchPage(ctx context.Context, channel string, offset int) ([]message, bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	release := httpclient.GlobalHostSem.Acquire(a.cfg.BaseURL)
	defer release()

	u := fmt.Sprintf("%s/api/v1/channels/%s/media?offset=%d&limit=%d",
		a.cfg.BaseURL, url.PathEscape(channel), offset, a.cfg.PageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	req.Header.Set("User-Agent", "CatalogSync/1.0")

	resp, err := httpclient.DoWithRetry(ctx, a.client, req, httpclient.SourceRetryPolicy)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("get %s: HTTP %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: read body: %w", u, err)
	}
	var out struct {
		Items   []message `json:"items"`
		HasMore bool      `json:"has_more"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false, fmt.Errorf("get %s: %w", u, err)
	}
	return out.Items, out.HasMore, nil
}

// emitMessage classifies one message for the requested phase and emits it
// (or skips it when it belongs to a different phase).
func (a *Adapter) emitMessage(channel string, m message, phase model.Phase, seenShows map[string]bool, emit source.Emit) error {
	id := msgID(channel, m.ID)
	if m.FileName == "" {
		if phase != model.PhaseVOD {
			return nil // account for the broken message exactly once
		}
		it := model.RawItem{Source: model.SourceMediaArchive, SourceID: id, Kind: model.KindMovie}
		return emit(it, fmt.Errorf("archive message %s: no attachment filename", id))
	}

	info := ParseFileName(m.FileName)
	switch phase {
	case model.PhaseVOD:
		if info.Season > 0 {
			return nil // episode file, handled in the episodes phase
		}
		it := a.baseItem(id, m, info)
		it.Kind = model.KindMovie
		return emit(it, nil)
	case model.PhaseSeries:
		if info.Season == 0 {
			return nil
		}
		showKey := strings.ToLower(info.Title)
		if seenShows[showKey] {
			return nil
		}
		seenShows[showKey] = true
		it := model.RawItem{
			Source:      model.SourceMediaArchive,
			SourceID:    "show_" + slug(info.Title),
			SourceLabel: a.cfg.Label,
			Kind:        model.KindSeries,
			Title:       info.Title,
			Year:        info.Year,
		}
		return emit(it, nil)
	case model.PhaseEpisodes:
		if info.Season == 0 {
			return nil
		}
		it := a.baseItem(id, m, info)
		it.Kind = model.KindEpisode
		it.SeriesTitle = info.Title
		it.SeriesID = "show_" + slug(info.Title)
		it.Season = info.Season
		it.Episode = info.Episode
		it.Title = info.EpisodeTitle
		return emit(it, nil)
	}
	return nil
}

func (a *Adapter) baseItem(id string, m message, info FileInfo) model.RawItem {
	it := model.RawItem{
		Source:      model.SourceMediaArchive,
		SourceID:    id,
		SourceLabel: a.cfg.Label,
		Title:       info.Title,
		Year:        info.Year,
		Container:   info.Container,
		SizeBytes:   m.FileSize,
		PlaybackURL: a.cfg.BaseURL + "/api/v1/files/" + url.PathEscape(id),
		Plot:        captionPlot(m.Caption),
	}
	if m.Date > 0 {
		it.AddedAt = time.Unix(m.Date, 0).UTC()
	}
	if ns, aid, ok := captionAuthority(m.Caption); ok {
		kind := model.KindMovie
		if info.Season > 0 {
			kind = model.KindEpisode
		}
		it.Authority = &model.AuthorityRef{Namespace: ns, Kind: kind, ID: aid}
	}
	return it
}

func msgID(channel string, id any) string {
	return "msg_" + channel + "_" + fmt.Sprint(id)
}

// captionAuthority extracts an "ns:id" authority tag from a caption, e.g.
// "The Matrix tmdb:603". Only known namespaces are honoured.
func captionAuthority(caption string) (ns, id string, ok bool) {
	for _, f := range strings.Fields(caption) {
		before, after, found := strings.Cut(f, ":")
		if !found || after == "" {
			continue
		}
		switch strings.ToLower(before) {
		case "tmdb", "imdb", "tvdb":
			return strings.ToLower(before), strings.TrimRight(after, ".,;"), true
		}
	}
	return "", "", false
}

// captionPlot returns the caption with any authority tags stripped, usable
// as a plot fallback.
func captionPlot(caption string) string {
	fields := strings.Fields(caption)
	out := fields[:0]
	for _, f := range fields {
		if _, _, ok := captionAuthority(f); ok {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// FileInfo is what ParseFileName extracts from an attachment name.
type FileInfo struct {
	Title        string
	Year         int
	Season       int // 0 = not an episode file
	Episode      int
	EpisodeTitle string
	Container    string
}

// ParseFileName parses archive attachment names of the shapes
// "Title (2020).mkv", "Show S01E02 Episode Name.mp4" and
// "Show.S01E02.mkv". The container is the lowercased extension.
func ParseFileName(name string) FileInfo {
	var info FileInfo
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	base := strings.TrimSuffix(name, path.Ext(name))
	base = strings.ReplaceAll(base, ".", " ")
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.Join(strings.Fields(base), " ")
	info.Container = ext

	if show, season, episode, rest, ok := splitSeasonEpisode(base); ok {
		info.Title = show
		info.Season = season
		info.Episode = episode
		info.EpisodeTitle = rest
		return info
	}
	info.Title, info.Year = splitTitleYear(base)
	return info
}

// splitSeasonEpisode finds an SxxEyy marker and splits around it.
func splitSeasonEpisode(s string) (show string, season, episode int, rest string, ok bool) {
	up := strings.ToUpper(s)
	for i := 0; i+5 < len(up); i++ {
		if up[i] != 'S' || !isDigit(up[i+1]) || !isDigit(up[i+2]) || up[i+3] != 'E' ||
			!isDigit(up[i+4]) || !isDigit(up[i+5]) {
			continue
		}
		season = int(up[i+1]-'0')*10 + int(up[i+2]-'0')
		episode = int(up[i+4]-'0')*10 + int(up[i+5]-'0')
		show = strings.TrimSpace(s[:i])
		rest = strings.TrimSpace(s[i+6:])
		// Strip a leftover year suffix from the show name: "Show (2019)".
		show, _ = splitTitleYear(show)
		return show, season, episode, rest, season > 0 && show != ""
	}
	return "", 0, 0, "", false
}

func splitTitleYear(s string) (string, int) {
	s = strings.TrimSpace(s)
	if len(s) >= 6 && s[len(s)-1] == ')' {
		if i := strings.LastIndex(s, "("); i >= 0 {
			y := s[i+1 : len(s)-1]
			if len(y) == 4 && isDigit(y[0]) && isDigit(y[1]) && isDigit(y[2]) && isDigit(y[3]) {
				year := int(y[0]-'0')*1000 + int(y[1]-'0')*100 + int(y[2]-'0')*10 + int(y[3]-'0')
				if year >= 1900 && year <= 2100 {
					return strings.TrimSpace(s[:i]), year
				}
			}
		}
	}
	// Bare trailing year: "Title 2020".
	if i := strings.LastIndex(s, " "); i > 0 && len(s)-i-1 == 4 {
		y := s[i+1:]
		if isDigit(y[0]) && isDigit(y[1]) && isDigit(y[2]) && isDigit(y[3]) {
			year := int(y[0]-'0')*1000 + int(y[1]-'0')*100 + int(y[2]-'0')*10 + int(y[3]-'0')
			if year >= 1900 && year <= 2100 {
				return strings.TrimSpace(s[:i]), year
			}
		}
	}
	return s, 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
