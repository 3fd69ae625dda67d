package youtube

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	yt "github.com/kkdai/youtube/v2"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"
)

// StreamURL returns a direct audio URL for a video. The kkdai client is tried
// first and yt-dlp is used when it cannot decipher the stream.
func (r *Resolver) StreamURL(ctx context.Context, videoID string) (string, error) {
	link, err := r.kkdaiStreamURL(ctx, videoID)
	if err == nil {
		return link, nil
	}
	zlog.Warn().Msgf("youtube: kkdai stream lookup failed, trying yt-dlp: id=%s err=%v", videoID, err)

	link, ytdlpErr := ytdlpStreamURL(ctx, WatchURL(videoID))
	if ytdlpErr != nil {
		return "", errors.Wrapf(ErrResolveFailed, "stream url for %s: %v", videoID, errors.CombineErrors(err, ytdlpErr))
	}
	return link, nil
}

func (r *Resolver) kkdaiStreamURL(ctx context.Context, videoID string) (string, error) {
	client, ok := r.videos.(*yt.Client)
	if !ok {
		return "", errors.New("stream lookup needs a youtube client")
	}
	v, err := client.GetVideoContext(ctx, videoID)
	if err != nil {
		return "", err
	}
	formats := v.Formats.Type("audio")
	if len(formats) == 0 {
		formats = v.Formats.WithAudioChannels()
	}
	if len(formats) == 0 {
		return "", errors.Newf("no audio formats for %s", videoID)
	}
	return client.GetStreamURLContext(ctx, v, &formats[0])
}

func ytdlpStreamURL(ctx context.Context, watchURL string) (string, error) {
	res, err := ytdlp.New().
		Format("bestaudio/best").
		Print("%(url)s").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, watchURL)
	if err != nil {
		return "", err
	}
	link := strings.TrimSpace(res.Stdout)
	if i := strings.IndexByte(link, '\n'); i >= 0 {
		link = link[:i]
	}
	if link == "" {
		return "", errors.New("yt-dlp printed no url")
	}
	return link, nil
}
