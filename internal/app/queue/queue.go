// Package queue provides the per-guild queue engine: an ordered pending sequence
// plus a single now-playing slot.
//
// Queue is not safe for concurrent use. The owning playback controller serializes
// every call under its own lock, which is the guild's mutual-exclusion domain.
package queue

import (
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/osa030/guildtune/internal/domain/track"
)

// ErrInvalidPosition is returned when a 1-indexed position is outside [1, Len()].
var ErrInvalidPosition = errors.New("invalid queue position")

// Queue holds the pending tracks and the now-playing slot.
// The pending sequence never contains the now-playing entry.
type Queue struct {
	pending []track.QueuedTrack
	current *track.QueuedTrack
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		pending: make([]track.QueuedTrack, 0),
	}
}

// Enqueue places qt in the now-playing slot if it is empty and reports started=true.
// Otherwise qt is appended to the tail of the pending sequence.
func (q *Queue) Enqueue(qt track.QueuedTrack) (started bool) {
	if q.current == nil {
		q.current = &qt
		return true
	}
	q.pending = append(q.pending, qt)
	return false
}

// Advance pops the front of the pending sequence into the now-playing slot.
// When nothing is pending the slot is cleared and ok is false.
func (q *Queue) Advance() (*track.QueuedTrack, bool) {
	if len(q.pending) == 0 {
		q.current = nil
		return nil, false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.current = &next
	return q.current, true
}

// RemoveAt removes and returns the entry at the 1-indexed position.
func (q *Queue) RemoveAt(pos int) (track.QueuedTrack, error) {
	if err := q.checkPosition(pos); err != nil {
		return track.QueuedTrack{}, err
	}
	idx := pos - 1
	removed := q.pending[idx]
	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	return removed, nil
}

// Swap exchanges the entries at two 1-indexed positions.
func (q *Queue) Swap(a, b int) error {
	if err := q.checkPosition(a); err != nil {
		return err
	}
	if err := q.checkPosition(b); err != nil {
		return err
	}
	q.pending[a-1], q.pending[b-1] = q.pending[b-1], q.pending[a-1]
	return nil
}

// Shuffle applies an unbiased Fisher-Yates permutation to the pending sequence.
func (q *Queue) Shuffle(rng *rand.Rand) {
	for i := len(q.pending) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		q.pending[i], q.pending[j] = q.pending[j], q.pending[i]
	}
}

// Reverse reverses the pending sequence in place.
func (q *Queue) Reverse() {
	for i, j := 0, len(q.pending)-1; i < j; i, j = i+1, j-1 {
		q.pending[i], q.pending[j] = q.pending[j], q.pending[i]
	}
}

// JumpTo makes the entry at the 1-indexed position the now-playing track.
// The previous now-playing track is discarded and every entry before the
// target is dropped; entries after it keep their relative order.
func (q *Queue) JumpTo(pos int) (track.QueuedTrack, error) {
	if err := q.checkPosition(pos); err != nil {
		return track.QueuedTrack{}, err
	}
	target := q.pending[pos-1]
	rest := make([]track.QueuedTrack, len(q.pending)-pos)
	copy(rest, q.pending[pos:])
	q.pending = rest
	q.current = &target
	return target, nil
}

// SkipTo is the same operation as JumpTo.
func (q *Queue) SkipTo(pos int) (track.QueuedTrack, error) {
	return q.JumpTo(pos)
}

// PeekNext returns the front pending entry without removing it.
func (q *Queue) PeekNext() (*track.QueuedTrack, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	next := q.pending[0]
	return &next, true
}

// Current returns the now-playing entry.
func (q *Queue) Current() (*track.QueuedTrack, bool) {
	if q.current == nil {
		return nil, false
	}
	cur := *q.current
	return &cur, true
}

// ClearCurrent empties the now-playing slot, leaving pending entries untouched.
func (q *Queue) ClearCurrent() {
	q.current = nil
}

// Clear removes all pending entries and returns them.
func (q *Queue) Clear() []track.QueuedTrack {
	removed := q.pending
	q.pending = make([]track.QueuedTrack, 0)
	return removed
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Pending returns a copy of the pending entries in playback order.
func (q *Queue) Pending() []track.QueuedTrack {
	result := make([]track.QueuedTrack, len(q.pending))
	copy(result, q.pending)
	return result
}

// TotalPendingDuration returns the sum of the durations of all pending entries.
func (q *Queue) TotalPendingDuration() time.Duration {
	return lo.SumBy(q.pending, func(qt track.QueuedTrack) time.Duration {
		return qt.Track.Duration
	})
}

func (q *Queue) checkPosition(pos int) error {
	if pos < 1 || pos > len(q.pending) {
		return errors.Wrapf(ErrInvalidPosition, "position %d not in [1, %d]", pos, len(q.pending))
	}
	return nil
}
