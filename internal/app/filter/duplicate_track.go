package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/guildtune/internal/domain/track"
)

// DuplicateTrackFilter rejects a track that is already playing or queued.
// Detects:
// - Exact video ID matches
// - The same song uploaded as another version (normalized title + same artist)
// Covers (same title, different artist) are allowed.
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already in the queue, including alternate uploads of the same song"
}

func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig accepts any settings; the filter has none.
func (f *DuplicateTrackFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, requested track.Track) Result {
	for _, queued := range req.Queued {
		if queued.Track.ID == requested.ID {
			return Reject("duplicate_track")
		}
		if isSameSong(queued.Track, requested) {
			return Reject("duplicate_track")
		}
	}
	return Accept()
}

// isSameSong reports whether two tracks are versions of one song by the same artist.
func isSameSong(a, b track.Track) bool {
	if a.Artist == "" || b.Artist == "" {
		return false
	}
	if !strings.EqualFold(normalizeArtist(a.Artist), normalizeArtist(b.Artist)) {
		return false
	}
	return normalizeTitle(a.Title) == normalizeTitle(b.Title)
}

var (
	// Upload decorations and version suffixes, e.g. "(Official Video)",
	// "(Remastered 2011)", "- 2011 Remaster", "(Radio Edit)".
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[][^\)\]]*\b(official|lyrics?|audio|video|visualizer|mv|hd|4k)\b[^\)\]]*[\)\]]`),
		regexp.MustCompile(`\s*[\(\[][^\)\]]*remaster(ed)?[^\)\]]*[\)\]]`),
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),
		regexp.MustCompile(`\s*-\s*remaster(ed)?(\s+version)?`),
		regexp.MustCompile(`\s*[\(\[][^\)\]]*(version|edit)[\)\]]`),
		regexp.MustCompile(`\s*-\s*(radio\s+edit|single\s+version)`),
	}
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// normalizeTitle strips upload decorations and version details.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)

	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = whitespacePattern.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

// normalizeArtist drops the " - Topic" suffix of auto-generated channels.
func normalizeArtist(artist string) string {
	return strings.TrimSuffix(strings.TrimSpace(artist), " - Topic")
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
