package usecases

import "errors"

// Session-state errors for the music player module. Policy and external
// failures (no results, track too long, queue full, acquisition failed) live
// in the domain package.
var (
	// ErrNoSession is returned when an operation targets a guild that has no
	// live session.
	ErrNoSession = errors.New("nothing is playing in this guild")

	// ErrNotPlaying is returned when no track is currently playing.
	ErrNotPlaying = errors.New("nothing is currently playing")

	// ErrAlreadyPaused is returned when trying to pause while already paused.
	ErrAlreadyPaused = errors.New("playback is already paused")

	// ErrNotPaused is returned when trying to resume while not paused.
	ErrNotPaused = errors.New("playback is not paused")

	// ErrTrackNotFound is returned when a queue index is out of range.
	ErrTrackNotFound = errors.New("no track at that queue position")

	// ErrVoteSkipDisabled is returned when vote-skip is disabled for the guild.
	ErrVoteSkipDisabled = errors.New("vote-skip is disabled for this guild")
)
