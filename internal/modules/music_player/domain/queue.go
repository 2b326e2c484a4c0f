package domain

import "math/rand"

// Queue is the ordered set of pending tracks for one session. It is FIFO:
// tracks are appended at the tail and consumed from the head. The owning
// session serializes all access; Queue itself is not safe for concurrent use.
type Queue struct {
	tracks []*Track
}

// NewQueue creates an empty Queue.
func NewQueue() Queue {
	return Queue{
		tracks: make([]*Track, 0),
	}
}

// Len returns the number of pending tracks.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// IsEmpty returns true if no tracks are pending.
func (q *Queue) IsEmpty() bool {
	return len(q.tracks) == 0
}

// Append adds track(s) to the tail of the queue.
func (q *Queue) Append(tracks ...*Track) {
	q.tracks = append(q.tracks, tracks...)
}

// PushFront inserts a track at the head of the queue. Used for loop-mode
// re-insertion and for retrying a track that failed to acquire.
func (q *Queue) PushFront(track *Track) {
	q.tracks = append([]*Track{track}, q.tracks...)
}

// PopFront removes and returns the head of the queue, or nil if empty.
func (q *Queue) PopFront() *Track {
	if q.IsEmpty() {
		return nil
	}
	track := q.tracks[0]
	q.tracks = q.tracks[1:]
	return track
}

// RemoveAt removes and returns the track at the given index.
// Returns nil if the index is out of bounds.
func (q *Queue) RemoveAt(index int) *Track {
	if index < 0 || index >= len(q.tracks) {
		return nil
	}
	track := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	return track
}

// Shuffle permutes the pending tracks in place with Fisher-Yates.
// A queue of one or zero tracks is left untouched.
func (q *Queue) Shuffle() {
	if len(q.tracks) <= 1 {
		return
	}
	for i := len(q.tracks) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	}
}

// List returns a copy of the pending tracks in order.
func (q *Queue) List() []*Track {
	result := make([]*Track, len(q.tracks))
	copy(result, q.tracks)
	return result
}

// Clear removes all pending tracks.
func (q *Queue) Clear() {
	q.tracks = make([]*Track, 0)
}
