package domain

import "github.com/disgoorg/snowflake/v2"

// Default settings values applied on first access for a guild.
const (
	DefaultVolume            = 100
	DefaultVoteSkipThreshold = 50  // percent of eligible listeners
	DefaultAutoLeaveSeconds  = 300 // 5 minutes idle before leaving
	DefaultAutoDeleteDelay   = 600 // seconds a free cached file survives
)

// GuildMusicSettings is the per-guild configuration for the music module.
// It has an independent lifecycle from any live session: it is created lazily
// with defaults on first access and only ever mutated through explicit
// settings updates.
type GuildMusicSettings struct {
	GuildID           snowflake.ID
	Enabled           bool
	DJRoleID          snowflake.ID // 0 = no DJ role restriction
	DefaultVolume     int
	AutoLeave         bool
	AutoLeaveSeconds  int
	Stay247           bool // keep the session alive when the queue empties
	VoteSkipEnabled   bool
	VoteSkipThreshold int // percent, 1-100
	MaxQueueSize      int // 0 = unbounded
	MaxTrackSeconds   int // 0 = unbounded
	AutoDeleteFiles   bool
	AutoDeleteDelay   int // seconds
}

// DefaultSettings returns the settings a guild gets on first access.
func DefaultSettings(guildID snowflake.ID) *GuildMusicSettings {
	return &GuildMusicSettings{
		GuildID:           guildID,
		Enabled:           true,
		DefaultVolume:     DefaultVolume,
		AutoLeave:         true,
		AutoLeaveSeconds:  DefaultAutoLeaveSeconds,
		VoteSkipEnabled:   true,
		VoteSkipThreshold: DefaultVoteSkipThreshold,
		AutoDeleteFiles:   true,
		AutoDeleteDelay:   DefaultAutoDeleteDelay,
	}
}
