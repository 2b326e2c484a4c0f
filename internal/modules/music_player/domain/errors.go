package domain

import "errors"

// Error taxonomy for the playback core. Resolution and policy errors are
// returned synchronously to the caller of play; acquisition failures are
// retried internally and never reach the caller.
var (
	// ErrModuleDisabled is returned when the music module is disabled for
	// the guild.
	ErrModuleDisabled = errors.New("music module is disabled for this guild")

	// ErrNoResults is returned when the resolver found nothing for a query.
	ErrNoResults = errors.New("no results found")

	// ErrTrackTooLong is returned when a track exceeds the guild's
	// configured maximum duration.
	ErrTrackTooLong = errors.New("track exceeds the maximum allowed duration")

	// ErrQueueFull is returned when the queue is at the guild's configured
	// maximum size.
	ErrQueueFull = errors.New("the queue is full")

	// ErrAcquisitionFailed is returned when the download tool could not
	// produce a local audio file. Transient; the session retries with
	// backoff before dropping the track.
	ErrAcquisitionFailed = errors.New("failed to acquire audio")
)
