package presentation

import "github.com/bwmarrin/discordgo"

// Commands returns all slash commands for the music player module.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a track from URL or search",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "URL or search term",
					Required:    true,
				},
			},
		},
		{
			Name:        "pause",
			Description: "Pause playback",
		},
		{
			Name:        "resume",
			Description: "Resume playback",
		},
		{
			Name:        "skip",
			Description: "Skip the current track",
		},
		{
			Name:        "stop",
			Description: "Stop playback, clear the queue, and leave the voice channel",
		},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "Volume level (0-100)",
					Required:    true,
					MinValue:    floatPtr(0),
					MaxValue:    100,
				},
			},
		},
		{
			Name:        "loop",
			Description: "Set the loop mode",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "Loop mode to set",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Off", Value: "off"},
						{Name: "Track", Value: "track"},
						{Name: "Queue", Value: "queue"},
					},
				},
			},
		},
		{
			Name:        "shuffle",
			Description: "Shuffle the pending queue",
		},
		{
			Name:        "queue",
			Description: "Manage the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Show the current queue",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "page",
							Description: "Page number",
							Required:    false,
							MinValue:    floatPtr(1),
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a track from the queue",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "position",
							Description: "Position of the track to remove (1-indexed, as shown in queue list)",
							Required:    true,
							MinValue:    floatPtr(1),
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "clear",
					Description: "Clear the pending queue",
				},
			},
		},
		{
			Name:        "voteskip",
			Description: "Vote to skip the current track",
		},
		{
			Name:        "settings",
			Description: "View or change music settings for this guild",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show the current music settings",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Change music settings",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Enable or disable the music module",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "default_volume",
							Description: "Default volume for new sessions (0-100)",
							Required:    false,
							MinValue:    floatPtr(0),
							MaxValue:    100,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "auto_leave",
							Description: "Leave the voice channel after the queue empties",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "auto_leave_seconds",
							Description: "Idle seconds before leaving",
							Required:    false,
							MinValue:    floatPtr(10),
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "stay_247",
							Description: "Never leave the voice channel automatically",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "vote_skip",
							Description: "Require votes to skip tracks",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "vote_skip_threshold",
							Description: "Percent of listeners required to skip (1-100)",
							Required:    false,
							MinValue:    floatPtr(1),
							MaxValue:    100,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "max_queue_size",
							Description: "Maximum queued tracks (0 = unlimited)",
							Required:    false,
							MinValue:    floatPtr(0),
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "max_track_seconds",
							Description: "Maximum track length in seconds (0 = unlimited)",
							Required:    false,
							MinValue:    floatPtr(0),
						},
					},
				},
			},
		},
	}
}

func floatPtr(f float64) *float64 {
	return &f
}
