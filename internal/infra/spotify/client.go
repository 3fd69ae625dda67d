// Package spotify resolves Spotify track links into title and artist metadata.
package spotify

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrLinkParseFailed is returned when a link carries no track identifier.
var ErrLinkParseFailed = errors.New("link has no track identifier")

// LinkInfo is the metadata needed to search for a catalog track elsewhere.
type LinkInfo struct {
	Title  string
	Artist string // primary artist
}

// Query returns the "<title> <artist>" search string.
func (i LinkInfo) Query() string {
	return strings.TrimSpace(i.Title + " " + i.Artist)
}

// Client is a Spotify API client used for link lookups.
type Client struct {
	client     *spotify.Client
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	MaxRetries   int

	// TokenURL and BaseURL override the Spotify endpoints.
	TokenURL string
	BaseURL  string
}

// New creates a new Spotify client authenticated with the client-credentials flow.
// Tokens are fetched lazily and refreshed by the oauth2 transport.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	httpClient := cc.Client(ctx)

	var opts []spotify.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(cfg.BaseURL))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &Client{
		client:     spotify.New(httpClient, opts...),
		maxRetries: maxRetries,
		retryDelay: time.Second,
	}, nil
}

// Lookup returns the title and primary artist of the track a link points to.
func (c *Client) Lookup(ctx context.Context, link string) (LinkInfo, error) {
	id, ok := ExtractTrackID(link)
	if !ok {
		return LinkInfo{}, errors.Wrapf(ErrLinkParseFailed, "link=%s", link)
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return LinkInfo{}, errors.Wrapf(err, "failed to get track %s", id)
	}

	info := LinkInfo{Title: result.Name}
	if len(result.Artists) > 0 {
		info.Artist = result.Artists[0].Name
	}
	zlog.Debug().Msgf("spotify: resolved link: id=%s title=%q artist=%q", id, info.Title, info.Artist)
	return info, nil
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "lookup canceled")
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
// Rate limit errors and server errors are retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}

	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

var trackIDPattern = regexp.MustCompile(`track[/:]([a-zA-Z0-9]+)`)

// ExtractTrackID extracts the track ID from a Spotify track URL or URI.
// Handles:
// - spotify:track:TRACK_ID
// - https://open.spotify.com/track/TRACK_ID?si=...
// - https://open.spotify.com/intl-XX/track/TRACK_ID
func ExtractTrackID(link string) (string, bool) {
	m := trackIDPattern.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsLink reports whether s looks like a Spotify catalog link.
func IsLink(s string) bool {
	s = strings.TrimSpace(s)
	return strings.Contains(s, "spotify.com") || strings.HasPrefix(s, "spotify:")
}
