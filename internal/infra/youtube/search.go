package youtube

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/osa030/guildtune/internal/domain/track"
)

const (
	SourceYouTube = "youtube"
	SourceMusic   = "ytmusic"
)

// Searcher returns tracks matching free text, best match first.
type Searcher interface {
	Search(ctx context.Context, query string) ([]track.Track, error)
}

// musicSearcher searches YouTube Music songs.
type musicSearcher struct{}

func (musicSearcher) Search(ctx context.Context, query string) ([]track.Track, error) {
	type result struct {
		tracks []track.Track
		err    error
	}
	// ytmusic has no context support; the call is abandoned on cancellation.
	ch := make(chan result, 1)
	go func() {
		res, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			ch <- result{err: err}
			return
		}
		var tracks []track.Track
		for _, item := range res.Tracks {
			if item.VideoID == "" {
				continue
			}
			t := track.Track{
				ID:       item.VideoID,
				Title:    item.Title,
				Duration: time.Duration(item.Duration) * time.Second,
				URL:      WatchURL(item.VideoID),
				Source:   SourceMusic,
			}
			if len(item.Artists) > 0 {
				t.Artist = item.Artists[0].Name
			}
			tracks = append(tracks, t)
		}
		ch <- result{tracks: tracks}
	}()

	select {
	case r := <-ch:
		return r.tracks, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// videoSearcher searches regular YouTube videos.
type videoSearcher struct {
	client *ytsearch.Client
}

func newVideoSearcher(httpClient *http.Client) videoSearcher {
	return videoSearcher{client: ytsearch.NewClient(httpClient)}
}

func (s videoSearcher) Search(ctx context.Context, query string) ([]track.Track, error) {
	res, err := s.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	var tracks []track.Track
	for _, r := range res.Results {
		if r.VideoID == "" {
			continue
		}
		tracks = append(tracks, track.Track{
			ID:       r.VideoID,
			Title:    r.Title,
			Artist:   r.Channel,
			Duration: parseClock(r.Duration),
			URL:      WatchURL(r.VideoID),
			Source:   SourceYouTube,
		})
	}
	return tracks, nil
}

// parseClock parses "3:20" or "1:05:20". Unparseable input (live streams) yields 0.
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

// firstMatch runs searchers in order and returns the first hit.
// The result is ErrNoMatch when some searcher answered with nothing, and
// ErrResolveFailed when every searcher failed.
func firstMatch(ctx context.Context, query string, searchers ...Searcher) (track.Track, error) {
	var errs error
	answered := false
	for _, s := range searchers {
		tracks, err := s.Search(ctx, query)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		answered = true
		if len(tracks) > 0 {
			return tracks[0], nil
		}
	}
	if !answered && errs != nil {
		return track.Track{}, errors.Wrapf(ErrResolveFailed, "search %q: %v", query, errs)
	}
	return track.Track{}, errors.Wrapf(ErrNoMatch, "query=%q", query)
}
