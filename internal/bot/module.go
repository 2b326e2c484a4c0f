package bot

import "github.com/bwmarrin/discordgo"

// InteractionHandler handles a Discord slash command interaction.
type InteractionHandler func(s *discordgo.Session, i *discordgo.InteractionCreate, r Responder) error

// EventHandler is a handler for any Discord gateway event. It must match one
// of discordgo's handler signatures, e.g.
// func(s *discordgo.Session, e *discordgo.VoiceStateUpdate).
type EventHandler any

// ModuleDependencies carries the shared dependencies handed to modules at Init.
type ModuleDependencies struct {
	Session *discordgo.Session
}

// Module is implemented by every feature module the bot loads.
type Module interface {
	// Name returns the unique identifier for this module.
	Name() string

	// Commands returns the slash commands this module provides.
	Commands() []*discordgo.ApplicationCommand

	// CommandHandlers maps command names to their handlers.
	CommandHandlers() map[string]InteractionHandler

	// EventHandlers returns gateway event handlers to register with the session.
	EventHandlers() []EventHandler

	// Init initializes the module. The Discord session is connected before
	// Init is called, so modules may resolve state from it.
	Init(deps ModuleDependencies) error

	// Shutdown releases the module's resources.
	Shutdown() error
}

// ConfigurableModule is an optional interface for modules that read their own
// environment configuration. LoadConfig runs before the Discord connection is
// opened so that misconfiguration fails fast.
type ConfigurableModule interface {
	LoadConfig() error
}
