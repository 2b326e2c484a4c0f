package presentation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/bot"
	"github.com/mvelle/quaver/internal/modules/music_player/application/ports"
	"github.com/mvelle/quaver/internal/modules/music_player/application/usecases"
	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

// Embed colors.
const (
	colorSuccess = 0x08c404
	colorError   = 0xE74C3C
)

const queuePageSize = 10

// CommandHandlers holds all the command handlers.
type CommandHandlers struct {
	registry *usecases.Registry
	settings ports.SettingsStore
}

// NewCommandHandlers creates new CommandHandlers.
func NewCommandHandlers(registry *usecases.Registry, settings ports.SettingsStore) *CommandHandlers {
	return &CommandHandlers{
		registry: registry,
		settings: settings,
	}
}

// HandlePlay handles the /play command.
func (h *CommandHandlers) HandlePlay(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	voiceState, err := s.State.VoiceState(i.GuildID, i.Member.User.ID)
	if err != nil || voiceState.ChannelID == "" {
		return respondError(r, "You must be in a voice channel to play music.")
	}
	channelID, err := snowflake.Parse(voiceState.ChannelID)
	if err != nil {
		return respondError(r, "Invalid voice channel")
	}

	var query string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "query" {
			query = opt.StringValue()
		}
	}
	if strings.TrimSpace(query) == "" {
		return respondError(r, "Nothing to play.")
	}

	track, err := h.registry.Play(ctx, guildID, channelID, query, i.Member.User.Username)
	if err != nil {
		return respondError(r, playErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Added [%s](%s) to the queue.", track.Title, track.URL))
}

// HandlePause handles the /pause command.
func (h *CommandHandlers) HandlePause(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	if err := h.registry.Pause(context.Background(), guildID); err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, "Paused playback.")
}

// HandleResume handles the /resume command.
func (h *CommandHandlers) HandleResume(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	if err := h.registry.Resume(context.Background(), guildID); err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, "Resumed playback.")
}

// HandleSkip handles the /skip command.
func (h *CommandHandlers) HandleSkip(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	if err := h.registry.Skip(context.Background(), guildID); err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, "Skipped the current track.")
}

// HandleStop handles the /stop command.
func (h *CommandHandlers) HandleStop(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	if err := h.registry.Stop(context.Background(), guildID); err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, "Stopped playback and cleared the queue.")
}

// HandleVolume handles the /volume command.
func (h *CommandHandlers) HandleVolume(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	var level int
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "level" {
			level = int(opt.IntValue())
		}
	}

	if err := h.registry.SetVolume(context.Background(), guildID, level); err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Volume set to **%d**.", level))
}

// HandleLoop handles the /loop command.
func (h *CommandHandlers) HandleLoop(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	var mode domain.LoopMode
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "mode" {
			mode = domain.ParseLoopMode(opt.StringValue())
		}
	}

	if err := h.registry.SetLoop(guildID, mode); err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Loop mode set to **%s**.", mode))
}

// HandleShuffle handles the /shuffle command.
func (h *CommandHandlers) HandleShuffle(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	if err := h.registry.Shuffle(guildID); err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, "Shuffled the queue.")
}

// HandleQueue handles the /queue command and its subcommands.
func (h *CommandHandlers) HandleQueue(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return respondError(r, "Invalid subcommand")
	}

	switch options[0].Name {
	case "list":
		return h.handleQueueList(i, r, options[0].Options)
	case "remove":
		return h.handleQueueRemove(i, r, options[0].Options)
	case "clear":
		return h.handleQueueClear(i, r)
	default:
		return respondError(r, "Unknown subcommand")
	}
}

func (h *CommandHandlers) handleQueueList(
	i *discordgo.InteractionCreate,
	r bot.Responder,
	options []*discordgo.ApplicationCommandInteractionDataOption,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	page := 1
	for _, opt := range options {
		if opt.Name == "page" {
			page = int(opt.IntValue())
		}
	}

	view := h.registry.GetQueue(guildID)
	if view.Current == nil && len(view.Tracks) == 0 {
		return respondSuccess(r, "The queue is empty.")
	}

	var b strings.Builder
	if view.Current != nil {
		position := h.registry.GetPosition(guildID)
		state := "Now playing"
		if view.IsPaused {
			state = "Paused"
		}
		fmt.Fprintf(&b, "%s: [%s](%s) `%s / %s`\n",
			state,
			view.Current.Title,
			view.Current.URL,
			domain.FormatDuration(position),
			view.Current.FormattedDuration(),
		)
	}

	totalPages := (len(view.Tracks) + queuePageSize - 1) / queuePageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * queuePageSize
	end := min(start+queuePageSize, len(view.Tracks))

	if len(view.Tracks) > 0 {
		b.WriteString("\n")
		for idx := start; idx < end; idx++ {
			track := view.Tracks[idx]
			fmt.Fprintf(&b, "%d. [%s](%s) `%s` — requested by %s\n",
				idx+1, track.Title, track.URL, track.FormattedDuration(), track.Requester)
		}
	}

	footer := fmt.Sprintf("Page %d/%d · %d track(s) · loop: %s · volume: %d",
		page, totalPages, len(view.Tracks), view.LoopMode, view.Volume)

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Queue",
					Description: b.String(),
					Color:       colorSuccess,
					Footer:      &discordgo.MessageEmbedFooter{Text: footer},
				},
			},
		},
	})
}

func (h *CommandHandlers) handleQueueRemove(
	i *discordgo.InteractionCreate,
	r bot.Responder,
	options []*discordgo.ApplicationCommandInteractionDataOption,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	index := -1
	for _, opt := range options {
		if opt.Name == "position" {
			// 1-indexed in the command, 0-indexed internally.
			index = int(opt.IntValue()) - 1
		}
	}

	track, err := h.registry.RemoveTrack(guildID, index)
	if err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Removed [%s](%s) from the queue.", track.Title, track.URL))
}

func (h *CommandHandlers) handleQueueClear(
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	n, err := h.registry.Clear(guildID)
	if err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	return respondSuccess(r, fmt.Sprintf("Cleared **%d** track(s) from the queue.", n))
}

// HandleVoteSkip handles the /voteskip command.
func (h *CommandHandlers) HandleVoteSkip(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	voterID, err := snowflake.Parse(i.Member.User.ID)
	if err != nil {
		return respondError(r, "Invalid user")
	}

	eligible := h.eligibleListeners(s, i.GuildID)

	votes, required, skipped, err := h.registry.VoteSkip(context.Background(), guildID, voterID, eligible)
	if err != nil {
		return respondError(r, controlErrorMessage(err))
	}

	if skipped {
		return respondSuccess(r, fmt.Sprintf("Vote passed (%d/%d), skipping.", votes, required))
	}
	return respondSuccess(r, fmt.Sprintf("Vote registered (%d/%d).", votes, required))
}

// eligibleListeners counts non-bot users in the bot's voice channel.
func (h *CommandHandlers) eligibleListeners(s *discordgo.Session, guildID string) int {
	botState, err := s.State.VoiceState(guildID, s.State.User.ID)
	if err != nil || botState.ChannelID == "" {
		return 0
	}

	guild, err := s.State.Guild(guildID)
	if err != nil {
		return 0
	}

	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != botState.ChannelID || vs.UserID == s.State.User.ID {
			continue
		}
		if member, err := s.State.Member(guildID, vs.UserID); err == nil && member.User != nil && member.User.Bot {
			continue
		}
		count++
	}
	return count
}

// HandleSettings handles the /settings command and its subcommands.
func (h *CommandHandlers) HandleSettings(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ctx := context.Background()

	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return respondError(r, "Invalid guild")
	}

	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return respondError(r, "Invalid subcommand")
	}

	settings, err := h.settings.Get(ctx, guildID)
	if err != nil {
		return respondError(r, "Failed to load settings.")
	}

	switch options[0].Name {
	case "view":
		return h.respondSettings(r, settings)
	case "set":
		for _, opt := range options[0].Options {
			switch opt.Name {
			case "enabled":
				settings.Enabled = opt.BoolValue()
			case "default_volume":
				settings.DefaultVolume = int(opt.IntValue())
			case "auto_leave":
				settings.AutoLeave = opt.BoolValue()
			case "auto_leave_seconds":
				settings.AutoLeaveSeconds = int(opt.IntValue())
			case "stay_247":
				settings.Stay247 = opt.BoolValue()
			case "vote_skip":
				settings.VoteSkipEnabled = opt.BoolValue()
			case "vote_skip_threshold":
				settings.VoteSkipThreshold = int(opt.IntValue())
			case "max_queue_size":
				settings.MaxQueueSize = int(opt.IntValue())
			case "max_track_seconds":
				settings.MaxTrackSeconds = int(opt.IntValue())
			}
		}
		if err := h.settings.Update(ctx, settings); err != nil {
			return respondError(r, "Failed to save settings.")
		}
		return h.respondSettings(r, settings)
	default:
		return respondError(r, "Unknown subcommand")
	}
}

func (h *CommandHandlers) respondSettings(r bot.Responder, settings *domain.GuildMusicSettings) error {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	unlimited := func(n int) string {
		if n == 0 {
			return "unlimited"
		}
		return fmt.Sprintf("%d", n)
	}

	description := fmt.Sprintf(
		"Module: **%s**\nDefault volume: **%d**\nAuto-leave: **%s** (%ds)\n24/7 mode: **%s**\nVote skip: **%s** (%d%%)\nMax queue size: **%s**\nMax track length: **%s**",
		onOff(settings.Enabled),
		settings.DefaultVolume,
		onOff(settings.AutoLeave),
		settings.AutoLeaveSeconds,
		onOff(settings.Stay247),
		onOff(settings.VoteSkipEnabled),
		settings.VoteSkipThreshold,
		unlimited(settings.MaxQueueSize),
		unlimited(settings.MaxTrackSeconds),
	)

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Music Settings",
					Description: description,
					Color:       colorSuccess,
				},
			},
		},
	})
}

func playErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrModuleDisabled):
		return "The music module is disabled in this guild."
	case errors.Is(err, domain.ErrNoResults):
		return "No results found for that query."
	case errors.Is(err, domain.ErrTrackTooLong):
		return "That track exceeds the configured length limit."
	case errors.Is(err, domain.ErrQueueFull):
		return "The queue is full."
	default:
		return err.Error()
	}
}

func controlErrorMessage(err error) string {
	switch {
	case errors.Is(err, usecases.ErrNoSession):
		return "Nothing is playing in this guild."
	case errors.Is(err, usecases.ErrNotPlaying):
		return "Nothing is playing."
	case errors.Is(err, usecases.ErrAlreadyPaused):
		return "Playback is already paused."
	case errors.Is(err, usecases.ErrNotPaused):
		return "Playback is not paused."
	case errors.Is(err, usecases.ErrTrackNotFound):
		return "No track at that position."
	case errors.Is(err, usecases.ErrVoteSkipDisabled):
		return "Vote skipping is disabled in this guild."
	default:
		return err.Error()
	}
}

func respondSuccess(r bot.Responder, message string) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Description: message,
					Color:       colorSuccess,
				},
			},
		},
	})
}

func respondError(r bot.Responder, message string) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Error",
					Description: message,
					Color:       colorError,
				},
			},
		},
	})
}
