package session

import (
	"strings"

	"github.com/osa030/guildtune/internal/infra/spotify"
	"github.com/osa030/guildtune/internal/infra/youtube"
)

// InputKind classifies the argument of a play request.
type InputKind int

const (
	InputSearch      InputKind = iota // free text
	InputCatalogLink                  // Spotify link, looked up before searching
	InputVideoLink                    // YouTube link, resolved directly
)

// String returns the string representation of the input kind.
func (k InputKind) String() string {
	switch k {
	case InputSearch:
		return "search"
	case InputCatalogLink:
		return "catalog_link"
	case InputVideoLink:
		return "video_link"
	default:
		return "unknown"
	}
}

// Classify decides how a play query is resolved.
func Classify(query string) InputKind {
	query = strings.TrimSpace(query)
	switch {
	case spotify.IsLink(query):
		return InputCatalogLink
	case youtube.IsLink(query):
		return InputVideoLink
	default:
		return InputSearch
	}
}
