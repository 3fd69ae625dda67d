package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/domain/track"
)

const (
	colorStatus = 0x111135
	colorNotice = 0xFF0000

	progressBarLength = 20

	// maxFieldLength is the platform limit for an embed field value.
	maxFieldLength = 1024
)

// trackLink renders "[Artist - Title](watch link)".
func trackLink(t track.Track) string {
	return fmt.Sprintf("[%s](%s)", t.DisplayName(), t.WatchURL())
}

// statusEmbed renders the now-playing message of a session.
func statusEmbed(snap playback.Snapshot) *discordgo.MessageEmbed {
	cur := snap.Current
	title := "Now Playing"
	if snap.State == playback.StatePaused {
		title = "Paused"
	}

	requestedBy := cur.Requester.Mention
	if requestedBy == "" {
		requestedBy = cur.Requester.Name
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: "▶️ " + trackLink(cur.Track),
		Color:       colorStatus,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: track.FormatDuration(cur.Track.Duration), Inline: true},
			{Name: "Requested by", Value: requestedBy, Inline: true},
			{Name: "Volume", Value: strconv.Itoa(snap.Volume) + "%", Inline: true},
		},
	}
	if thumb := cur.Track.ThumbnailURL(); thumb != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumb}
	}

	if len(snap.Pending) > 0 {
		next := "None"
		if snap.Next != nil {
			next = trackLink(snap.Next.Track)
		}
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Songs in Queue", Value: strconv.Itoa(len(snap.Pending)), Inline: true},
			&discordgo.MessageEmbedField{Name: "Total Queue Duration", Value: track.FormatDuration(snap.TotalPending), Inline: true},
			&discordgo.MessageEmbedField{Name: "Next Track", Value: next},
		)
	}
	return embed
}

// queueEmbed renders the "!queue" listing.
func queueEmbed(snap playback.Snapshot, emptyText string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "Queue", Color: colorNotice}

	if snap.Current != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Now Playing",
			Value: "**" + snap.Current.Track.Title + "**",
		})
	}

	if len(snap.Pending) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Up Next",
			Value: upNext(snap.Pending),
		})
	} else if snap.Current == nil {
		embed.Description = emptyText
	}
	return embed
}

// upNext lists pending entries, cut off to fit one embed field.
func upNext(pending []track.QueuedTrack) string {
	lines := make([]string, 0, len(pending))
	size := 0
	for i, qt := range pending {
		line := fmt.Sprintf("%d. %s", i+1, qt.Track.Title)
		more := fmt.Sprintf("…and %d more", len(pending)-i)
		if size+len(line)+1+len(more) > maxFieldLength {
			lines = append(lines, more)
			break
		}
		lines = append(lines, line)
		size += len(line) + 1
	}
	return strings.Join(lines, "\n")
}

// progressEmbed renders the "!progress" output.
func progressEmbed(cur track.QueuedTrack, elapsed time.Duration) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: progressBar(elapsed, cur.Track.Duration),
		Color:       colorStatus,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Current Position", Value: track.FormatDuration(elapsed), Inline: true},
			{Name: "Duration", Value: track.FormatDuration(cur.Track.Duration), Inline: true},
		},
	}
}

// progressBar draws elapsed/total as a fixed-width bar.
// Unknown durations (live streams) draw an empty bar.
func progressBar(elapsed, total time.Duration) string {
	filled := 0
	if total > 0 {
		filled = int(float64(elapsed) / float64(total) * progressBarLength)
	}
	filled = min(max(filled, 0), progressBarLength)
	return strings.Repeat("█", filled) + strings.Repeat("░", progressBarLength-filled)
}

// textEmbed renders a plain notice, with an optional title.
func textEmbed(title, text string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: text,
		Color:       colorNotice,
	}
}
