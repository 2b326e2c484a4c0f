package ports

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
)

// Transport is the abstract voice-transport connection consumed by sessions.
// Implementations own voice signaling and audio streaming; the session only
// ever sees connect/disconnect and player control. Track-end, player-error,
// and disconnect conditions are surfaced asynchronously on the event bus.
type Transport interface {
	// Connect joins the given voice channel and blocks until the link is
	// established or ctx expires. At most one connection exists per guild;
	// connecting again while connected moves the existing link.
	Connect(ctx context.Context, guildID, channelID snowflake.ID) error

	// Disconnect destroys the guild's player and leaves the voice channel.
	Disconnect(ctx context.Context, guildID snowflake.ID) error

	// Play hands a locally cached audio file to the guild's player at the
	// given volume (0-100).
	Play(ctx context.Context, guildID snowflake.ID, path string, volume int) error

	// Stop stops the current playback without leaving the channel.
	Stop(ctx context.Context, guildID snowflake.ID) error

	// SetPaused pauses or resumes the current playback.
	SetPaused(ctx context.Context, guildID snowflake.ID, paused bool) error

	// SetVolume adjusts the player volume (0-100).
	SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error
}
