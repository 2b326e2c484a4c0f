package events

import "github.com/disgoorg/snowflake/v2"

// TrackEndReason describes why the transport reported end-of-track.
type TrackEndReason string

const (
	// TrackEndFinished means the track played to completion.
	TrackEndFinished TrackEndReason = "finished"
	// TrackEndLoadFailed means the transport could not load the resource.
	TrackEndLoadFailed TrackEndReason = "load_failed"
	// TrackEndStopped means playback was stopped on request (skip/stop).
	TrackEndStopped TrackEndReason = "stopped"
	// TrackEndReplaced means the resource was replaced by another.
	TrackEndReplaced TrackEndReason = "replaced"
	// TrackEndCleanup means the player was destroyed.
	TrackEndCleanup TrackEndReason = "cleanup"
)

// ShouldAdvanceQueue reports whether the session should advance to the next
// track for this end reason. Replaced and cleanup ends must not advance: the
// former is superseded by a newer play, the latter by a teardown.
func (r TrackEndReason) ShouldAdvanceQueue() bool {
	return r == TrackEndFinished || r == TrackEndLoadFailed || r == TrackEndStopped
}

// TrackEndedEvent is published when the guild's player reports end-of-track.
type TrackEndedEvent struct {
	GuildID snowflake.ID
	Reason  TrackEndReason
}

// PlayerErrorEvent is published when the guild's player reports a playback
// error. The session treats it as end-of-track so a failing track never
// stalls the queue.
type PlayerErrorEvent struct {
	GuildID snowflake.ID
	Message string
}

// DisconnectedEvent is published after the transport's resignalling window
// expired without re-establishing the voice link. The session must treat it
// as an explicit stop that keeps the persisted snapshot.
type DisconnectedEvent struct {
	GuildID snowflake.ID
}
