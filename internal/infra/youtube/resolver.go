// Package youtube resolves search queries and YouTube links into playable tracks.
package youtube

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	yt "github.com/kkdai/youtube/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildtune/internal/domain/playlist"
	"github.com/osa030/guildtune/internal/domain/track"
)

var (
	// ErrNoMatch is returned when a query resolves to nothing.
	ErrNoMatch = errors.New("no matches")
	// ErrResolveFailed is returned when the backend could not be queried.
	ErrResolveFailed = errors.New("resolve failed")
)

const DefaultSearchPrefix = "ytmsearch:"

// Config represents resolver configuration.
type Config struct {
	SearchPrefix string        // prefix marking a music search, e.g. "ytmsearch: "
	Timeout      time.Duration // upper bound for one Resolve call
	HTTPClient   *http.Client
}

// videoClient is the subset of the kkdai client used for links.
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*yt.Video, error)
	GetPlaylistContext(ctx context.Context, url string) (*yt.Playlist, error)
}

// Resolver turns a query into a single playable track.
type Resolver struct {
	videos       videoClient
	searchers    []Searcher
	searchPrefix string
	timeout      time.Duration
}

// New creates a resolver backed by YouTube Music search with YouTube search as fallback.
func New(cfg Config) *Resolver {
	prefix := strings.TrimSpace(cfg.SearchPrefix)
	if prefix == "" {
		prefix = DefaultSearchPrefix
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{
		videos:       &yt.Client{HTTPClient: httpClient},
		searchers:    []Searcher{musicSearcher{}, newVideoSearcher(httpClient)},
		searchPrefix: prefix,
		timeout:      cfg.Timeout,
	}
}

// SearchQuery prefixes free text so that Resolve treats it as a music search.
func (r *Resolver) SearchQuery(text string) string {
	return r.searchPrefix + " " + strings.TrimSpace(text)
}

// Resolve resolves a prefixed search query, a video link or a playlist link.
// For playlists the selected entry is returned, or the first one.
func (r *Resolver) Resolve(ctx context.Context, query string) (track.Track, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	query = strings.TrimSpace(query)
	switch {
	case query == "":
		return track.Track{}, errors.Wrap(ErrNoMatch, "empty query")
	case IsPlaylistLink(query):
		t, err := r.resolvePlaylist(ctx, query)
		if err == nil {
			return t, nil
		}
		// Mixes and private lists cannot be listed; fall back to the video itself.
		if _, ok := VideoID(query); ok {
			zlog.Debug().Msgf("youtube: playlist lookup failed, using video: %v", err)
			return r.resolveVideo(ctx, query)
		}
		return track.Track{}, err
	case IsLink(query):
		return r.resolveVideo(ctx, query)
	}

	terms := query
	if hasPrefixFold(query, r.searchPrefix) {
		terms = strings.TrimSpace(query[len(r.searchPrefix):])
	}
	if terms == "" {
		return track.Track{}, errors.Wrap(ErrNoMatch, "empty search terms")
	}
	t, err := firstMatch(ctx, terms, r.searchers...)
	if err != nil {
		return track.Track{}, err
	}
	zlog.Debug().Msgf("youtube: search resolved: terms=%q id=%s source=%s", terms, t.ID, t.Source)
	return t, nil
}

func (r *Resolver) resolveVideo(ctx context.Context, link string) (track.Track, error) {
	id, ok := VideoID(link)
	if !ok {
		return track.Track{}, errors.Wrapf(ErrNoMatch, "no video id in %s", link)
	}
	v, err := r.videos.GetVideoContext(ctx, id)
	if err != nil {
		if errors.Is(err, yt.ErrVideoPrivate) || errors.Is(err, yt.ErrNotPlayableInEmbed) {
			return track.Track{}, errors.Wrapf(ErrNoMatch, "video %s: %v", id, err)
		}
		return track.Track{}, errors.Wrapf(ErrResolveFailed, "video %s: %v", id, err)
	}
	return fromVideo(v), nil
}

func (r *Resolver) resolvePlaylist(ctx context.Context, link string) (track.Track, error) {
	p, err := r.videos.GetPlaylistContext(ctx, link)
	if err != nil {
		return track.Track{}, errors.Wrapf(ErrResolveFailed, "playlist: %v", err)
	}
	pl := fromPlaylist(p, link)
	t, ok := pl.Pick()
	if !ok {
		return track.Track{}, errors.Wrapf(ErrNoMatch, "playlist %s is empty", pl.ID)
	}
	zlog.Debug().Msgf("youtube: playlist resolved: id=%s entries=%d selected=%d", pl.ID, len(pl.Tracks), pl.Selected)
	return t, nil
}

func fromVideo(v *yt.Video) track.Track {
	return track.Track{
		ID:       v.ID,
		Title:    v.Title,
		Artist:   v.Author,
		Duration: v.Duration,
		URL:      WatchURL(v.ID),
		Source:   SourceYouTube,
	}
}

// fromPlaylist converts a fetched playlist and marks the entry the link selects:
// the v= video when listed, otherwise the 1-based index=.
func fromPlaylist(p *yt.Playlist, link string) *playlist.Playlist {
	pl := &playlist.Playlist{ID: p.ID, Title: p.Title, Selected: -1}
	for _, e := range p.Videos {
		if e == nil || e.ID == "" {
			continue
		}
		pl.Tracks = append(pl.Tracks, track.Track{
			ID:       e.ID,
			Title:    e.Title,
			Artist:   e.Author,
			Duration: e.Duration,
			URL:      WatchURL(e.ID),
			Source:   SourceYouTube,
		})
	}

	videoID, index := playlistSelection(link)
	if videoID != "" {
		pl.Selected = pl.IndexOf(videoID)
	}
	if pl.Selected < 0 && index > 0 {
		pl.Selected = index - 1
	}
	return pl
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
