package playback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildtune/internal/app/queue"
	"github.com/osa030/guildtune/internal/domain/track"
)

// Errors
var (
	ErrNoTrack       = errors.New("no track playing")
	ErrNotPlaying    = errors.New("not playing")
	ErrNotPaused     = errors.New("not paused")
	ErrInvalidVolume = errors.New("invalid volume")
	ErrClosed        = errors.New("controller closed")
)

const (
	DefaultIdleTimeout = 5 * time.Minute
	DefaultVolume      = 100
	MaxVolume          = 200
)

// Config holds controller configuration.
type Config struct {
	GuildID       string
	IdleTimeout   time.Duration // Grace period before leaving voice after the queue empties
	DefaultVolume int           // Initial output volume (percent)
	Rand          *rand.Rand    // Shuffle source; nil uses a time-seeded source
	EventBuffer   int           // Event channel capacity
}

// StatusMessage references the last posted now-playing message for in-place edits.
type StatusMessage struct {
	ChannelID string
	MessageID string
}

// Snapshot is a consistent view of a controller taken under its lock.
type Snapshot struct {
	GuildID      string
	State        State
	Current      *track.QueuedTrack
	Next         *track.QueuedTrack
	Pending      []track.QueuedTrack
	TotalPending time.Duration
	Volume       int
	Elapsed      time.Duration
	IdleArmed    bool
}

// Controller is the playback session of one guild.
// Every operation runs under mu, which is the guild's single mutual-exclusion
// domain: user commands, sink end-of-track events and idle-timer expiry all
// contend for it.
type Controller struct {
	mu sync.Mutex

	id      string
	guildID string

	queue *queue.Queue
	sink  Sink
	voice Voice

	state  State
	volume int

	// seq identifies the output currently running on the sink.
	// End-of-track events carrying any other value are stale.
	seq uint64

	startTime     time.Time
	pausedAt      *time.Time
	pausedElapsed time.Duration

	idleTimer *time.Timer
	idleGen   uint64

	textChannelID string
	statusMsg     *StatusMessage

	config Config
	rng    *rand.Rand

	eventCh chan Event

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	// retired is set when the idle timeout or an emptied channel ended the
	// session. The controller then only waits for its owner to Close it.
	retired bool
}

// NewController creates a playback controller and starts consuming sink events.
func NewController(config Config, sink Sink, voice Voice) *Controller {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.DefaultVolume < 0 || config.DefaultVolume > MaxVolume {
		config.DefaultVolume = DefaultVolume
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 32
	}
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:      uuid.New().String(),
		guildID: config.GuildID,
		queue:   queue.New(),
		sink:    sink,
		voice:   voice,
		state:   StateIdle,
		volume:  config.DefaultVolume,
		config:  config,
		rng:     rng,
		eventCh: make(chan Event, config.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.sinkLoop()

	return c
}

// ID returns the controller's unique session ID.
func (c *Controller) ID() string {
	return c.id
}

// GuildID returns the guild this controller belongs to.
func (c *Controller) GuildID() string {
	return c.guildID
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Enqueue opens the voice connection to voiceChannelID if needed and adds qt.
// If nothing is playing, qt starts immediately (started=true); otherwise it is
// appended and position is its 1-indexed place in the pending queue.
func (c *Controller) Enqueue(voiceChannelID string, qt track.QueuedTrack) (started bool, position int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return false, 0, err
	}

	if err := c.ensureVoiceLocked(voiceChannelID); err != nil {
		return false, 0, err
	}

	if !c.queue.Enqueue(qt) {
		return false, c.queue.Len(), nil
	}

	c.playCurrentLocked()
	return true, 0, nil
}

// Skip stops the current track and plays the next one.
// With nothing pending the session goes idle and the idle timer is armed.
func (c *Controller) Skip() (*track.QueuedTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	cur, ok := c.queue.Current()
	if !ok {
		return nil, ErrNoTrack
	}

	c.haltOutputLocked()
	c.sendEventLocked(Event{
		Type:  EventTrackSkipped,
		Track: cur,
		State: c.state,
	})

	c.advanceLocked()
	return cur, nil
}

// Stop halts output, empties the now-playing slot and closes the voice connection.
// Pending entries are kept.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}

	c.haltOutputLocked()
	c.queue.ClearCurrent()
	c.cancelIdleLocked()
	c.resetClockLocked()
	c.state = StateIdle
	c.closeVoiceLocked()

	c.sendEventLocked(Event{Type: EventStopped, State: c.state})
	return nil
}

// Pause pauses the current playback.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pauseLocked()
}

// Resume resumes paused playback.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resumeLocked()
}

// TogglePause pauses when playing and resumes when paused.
// Returns the resulting state.
func (c *Controller) TogglePause() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.state == StatePaused {
		err = c.resumeLocked()
	} else {
		err = c.pauseLocked()
	}
	return c.state, err
}

// SetVolume sets the output gain in percent, within [0, MaxVolume].
func (c *Controller) SetVolume(v int) error {
	if v < 0 || v > MaxVolume {
		return errors.Wrapf(ErrInvalidVolume, "volume %d not in [0, %d]", v, MaxVolume)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	c.volume = v
	c.sink.SetVolume(v)

	cur, _ := c.queue.Current()
	c.sendEventLocked(Event{
		Type:  EventVolumeChanged,
		Track: cur,
		State: c.state,
	})
	return nil
}

// Volume returns the output volume in percent.
func (c *Controller) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// State returns the playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoveAt removes the pending entry at the 1-indexed position.
func (c *Controller) RemoveAt(pos int) (track.QueuedTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return track.QueuedTrack{}, err
	}
	return c.queue.RemoveAt(pos)
}

// Swap exchanges two pending entries.
func (c *Controller) Swap(a, b int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.queue.Swap(a, b)
}

// Shuffle randomly permutes the pending entries.
func (c *Controller) Shuffle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usableLocked() == nil {
		c.queue.Shuffle(c.rng)
	}
}

// Reverse reverses the pending entries.
func (c *Controller) Reverse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usableLocked() == nil {
		c.queue.Reverse()
	}
}

// Clear removes all pending entries and returns how many were removed.
func (c *Controller) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usableLocked() != nil {
		return 0
	}
	return len(c.queue.Clear())
}

// JumpTo starts the pending entry at pos, dropping the current track and every
// entry before pos.
func (c *Controller) JumpTo(pos int) (track.QueuedTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return track.QueuedTrack{}, err
	}
	target, err := c.queue.JumpTo(pos)
	if err != nil {
		return track.QueuedTrack{}, err
	}

	c.haltOutputLocked()
	c.playCurrentLocked()
	return target, nil
}

// SkipTo is the same operation as JumpTo.
func (c *Controller) SkipTo(pos int) (track.QueuedTrack, error) {
	return c.JumpTo(pos)
}

// TrackEnded handles the end of the output identified by seq.
// Stale notifications (output already replaced or stopped) are ignored.
func (c *Controller) TrackEnded(seq uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usableLocked() != nil || seq != c.seq {
		zlog.Debug().Msgf("playback: ignoring stale track end: guild=%s seq=%d current_seq=%d", c.guildID, seq, c.seq)
		return
	}

	cur, ok := c.queue.Current()
	if !ok {
		return
	}

	if cause != nil {
		zlog.Warn().Msgf("playback: output failed: guild=%s track=%s error=%v", c.guildID, cur.Track.Title, cause)
		c.sendEventLocked(Event{Type: EventTrackFailed, Track: cur, State: c.state, Err: cause})
	} else {
		zlog.Debug().Msgf("playback: track ended: guild=%s track=%s elapsed=%v", c.guildID, cur.Track.Title, c.elapsedLocked())
		c.sendEventLocked(Event{Type: EventTrackEnded, Track: cur, State: c.state})
	}

	c.advanceLocked()
}

// ParticipantsEmptied stops playback, clears the whole queue and closes the voice
// connection. It is triggered when nobody but the bot is left in the channel.
func (c *Controller) ParticipantsEmptied() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usableLocked() != nil {
		return
	}

	c.haltOutputLocked()
	c.queue.Clear()
	c.queue.ClearCurrent()
	c.cancelIdleLocked()
	c.resetClockLocked()
	c.state = StateIdle
	c.closeVoiceLocked()
	c.retired = true

	c.sendEventLocked(Event{Type: EventEmptied, State: c.state})
}

// Snapshot returns a consistent copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, _ := c.queue.Current()
	next, _ := c.queue.PeekNext()
	return Snapshot{
		GuildID:      c.guildID,
		State:        c.state,
		Current:      cur,
		Next:         next,
		Pending:      c.queue.Pending(),
		TotalPending: c.queue.TotalPendingDuration(),
		Volume:       c.volume,
		Elapsed:      c.elapsedLocked(),
		IdleArmed:    c.idleTimer != nil,
	}
}

// Progress returns the current track and how much of it has played.
func (c *Controller) Progress() (*track.QueuedTrack, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.queue.Current()
	if !ok {
		return nil, 0, false
	}
	return cur, c.elapsedLocked(), true
}

// SetTextChannel records the chat channel status output goes to.
func (c *Controller) SetTextChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textChannelID = channelID
}

// TextChannel returns the chat channel status output goes to.
func (c *Controller) TextChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textChannelID
}

// SetStatusMessage records the posted now-playing message.
func (c *Controller) SetStatusMessage(msg *StatusMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusMsg = msg
}

// StatusMessage returns the posted now-playing message, if any.
func (c *Controller) StatusMessage() (*StatusMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusMsg == nil {
		return nil, false
	}
	msg := *c.statusMsg
	return &msg, true
}

// Close tears the session down: timers are canceled, output halted, the voice
// connection closed and the event channel closed. Later calls are no-ops.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.haltOutputLocked()
	c.cancelIdleLocked()
	c.closeVoiceLocked()
	c.closed = true
	c.cancel()
	close(c.eventCh)
}

// sinkLoop feeds end-of-track notifications into the controller's lock domain.
func (c *Controller) sinkLoop() {
	events := c.sink.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.TrackEnded(ev.Seq, ev.Err)
		}
	}
}

// playCurrentLocked starts output of the now-playing entry. Entries whose output
// cannot be started are dropped in favor of the next one.
// Must be called with lock held.
func (c *Controller) playCurrentLocked() {
	for {
		cur, ok := c.queue.Current()
		if !ok {
			c.onQueueEmptyLocked()
			return
		}

		c.seq++
		c.cancelIdleLocked()
		if err := c.sink.Start(c.seq, cur.Track, c.volume); err != nil {
			zlog.Warn().Msgf("playback: failed to start output: guild=%s track=%s error=%v", c.guildID, cur.Track.Title, err)
			c.sendEventLocked(Event{Type: EventTrackFailed, Track: cur, State: c.state, Err: err})
			c.queue.Advance()
			continue
		}

		c.resetClockLocked()
		c.startTime = time.Now()
		c.state = StatePlaying

		zlog.Info().Msgf("playback: track started: guild=%s track=%s duration=%v pending=%d",
			c.guildID, cur.Track.DisplayName(), cur.Track.Duration, c.queue.Len())

		c.sendEventLocked(Event{
			Type:  EventTrackStarted,
			Track: cur,
			State: c.state,
		})
		return
	}
}

// advanceLocked moves to the next pending entry, or goes idle.
// Must be called with lock held.
func (c *Controller) advanceLocked() {
	if _, ok := c.queue.Advance(); !ok {
		c.onQueueEmptyLocked()
		return
	}
	c.playCurrentLocked()
}

// onQueueEmptyLocked switches to idle and arms the idle timer.
// Must be called with lock held.
func (c *Controller) onQueueEmptyLocked() {
	c.resetClockLocked()
	c.state = StateIdle
	c.armIdleLocked()

	zlog.Info().Msgf("playback: queue empty, leaving in %v: guild=%s", c.config.IdleTimeout, c.guildID)
	c.sendEventLocked(Event{Type: EventQueueEmpty, State: c.state})
}

// armIdleLocked replaces any armed idle timer with a fresh one.
// Must be called with lock held.
func (c *Controller) armIdleLocked() {
	c.cancelIdleLocked()

	gen := c.idleGen
	c.idleTimer = time.AfterFunc(c.config.IdleTimeout, func() {
		c.onIdleTimeout(gen)
	})
}

// cancelIdleLocked disarms the idle timer. A callback already waiting on the
// lock sees a newer generation and does nothing.
// Must be called with lock held.
func (c *Controller) cancelIdleLocked() {
	c.idleGen++
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Controller) onIdleTimeout(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usableLocked() != nil || gen != c.idleGen || c.idleTimer == nil {
		return
	}
	c.idleTimer = nil

	c.haltOutputLocked()
	c.queue.Clear()
	c.queue.ClearCurrent()
	c.resetClockLocked()
	c.state = StateIdle
	c.closeVoiceLocked()
	c.retired = true

	zlog.Info().Msgf("playback: idle timeout, left voice channel: guild=%s", c.guildID)
	c.sendEventLocked(Event{Type: EventIdleTimeout, State: c.state})
}

func (c *Controller) pauseLocked() error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if _, ok := c.queue.Current(); !ok {
		return ErrNoTrack
	}
	if c.state != StatePlaying {
		return ErrNotPlaying
	}

	now := time.Now()
	c.pausedAt = &now
	c.state = StatePaused
	c.sink.Pause()

	cur, _ := c.queue.Current()
	c.sendEventLocked(Event{Type: EventStateChanged, Track: cur, State: c.state})
	return nil
}

func (c *Controller) resumeLocked() error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.state != StatePaused {
		return ErrNotPaused
	}
	if _, ok := c.queue.Current(); !ok {
		return ErrNoTrack
	}

	if c.pausedAt != nil {
		c.pausedElapsed += time.Since(*c.pausedAt)
	}
	c.pausedAt = nil
	c.state = StatePlaying
	c.sink.Resume()

	cur, _ := c.queue.Current()
	c.sendEventLocked(Event{Type: EventStateChanged, Track: cur, State: c.state})
	return nil
}

// ensureVoiceLocked opens the voice connection when it is closed or on another channel.
func (c *Controller) ensureVoiceLocked(channelID string) error {
	if channelID == "" {
		return nil
	}
	if c.voice.IsOpen() && c.voice.ChannelID() == channelID {
		return nil
	}
	if err := c.voice.Open(channelID); err != nil {
		return errors.Wrapf(err, "failed to open voice connection: channel=%s", channelID)
	}
	return nil
}

func (c *Controller) closeVoiceLocked() {
	if !c.voice.IsOpen() {
		return
	}
	if err := c.voice.Close(); err != nil {
		zlog.Warn().Msgf("playback: failed to close voice connection: guild=%s error=%v", c.guildID, err)
	}
}

// haltOutputLocked stops the sink and invalidates its pending end event.
func (c *Controller) haltOutputLocked() {
	c.seq++
	c.sink.Stop()
}

func (c *Controller) resetClockLocked() {
	c.startTime = time.Time{}
	c.pausedAt = nil
	c.pausedElapsed = 0
}

func (c *Controller) elapsedLocked() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	now := time.Now()
	elapsed := now.Sub(c.startTime) - c.pausedElapsed
	if c.pausedAt != nil {
		elapsed -= now.Sub(*c.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// usableLocked returns ErrClosed once the session was closed or torn down.
// Must be called with lock held.
func (c *Controller) usableLocked() error {
	if c.closed || c.retired {
		return ErrClosed
	}
	return nil
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	e.GuildID = c.guildID
	e.Volume = c.volume

	select {
	case c.eventCh <- e:
	case <-c.ctx.Done():
	default:
		zlog.Warn().Msgf("playback: event channel full, dropping event: guild=%s type=%s", c.guildID, e.Type)
	}
}
