package youtube

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	linkPattern    = regexp.MustCompile(`^(?:https?://)?(?:www\.|m\.|music\.)?(?:youtube\.com|youtu\.be)/\S+`)
	videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// IsLink reports whether s is a YouTube or YouTube Music link.
func IsLink(s string) bool {
	return linkPattern.MatchString(strings.TrimSpace(s))
}

// IsPlaylistLink reports whether s is a YouTube link carrying a playlist.
func IsPlaylistLink(s string) bool {
	if !IsLink(s) {
		return false
	}
	u, err := url.Parse(normalizeScheme(s))
	if err != nil {
		return false
	}
	return u.Query().Get("list") != ""
}

// VideoID extracts the video ID from a watch, shorts, embed or youtu.be link.
func VideoID(s string) (string, bool) {
	if !IsLink(s) {
		return "", false
	}
	u, err := url.Parse(normalizeScheme(s))
	if err != nil {
		return "", false
	}
	var id string
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		id = strings.Trim(u.Path, "/")
	} else if u.Path == "/watch" {
		id = u.Query().Get("v")
	} else {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") {
			id = parts[1]
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// WatchURL returns the canonical watch link for a video ID.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// playlistSelection returns the video ID and the 1-based index a playlist link
// points at. Either may be empty/zero.
func playlistSelection(link string) (videoID string, index int) {
	u, err := url.Parse(normalizeScheme(link))
	if err != nil {
		return "", 0
	}
	q := u.Query()
	videoID = q.Get("v")
	if n, err := strconv.Atoi(q.Get("index")); err == nil && n > 0 {
		index = n
	}
	return videoID, index
}

func normalizeScheme(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return "https://" + s
	}
	return s
}
