package music_player

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v11"

	"github.com/mvelle/quaver/internal/bot"
	"github.com/mvelle/quaver/internal/modules/music_player/application/events"
	"github.com/mvelle/quaver/internal/modules/music_player/application/usecases"
	"github.com/mvelle/quaver/internal/modules/music_player/infrastructure"
	"github.com/mvelle/quaver/internal/modules/music_player/presentation"
)

const restoreTimeout = 30 * time.Second

func init() {
	bot.Register(&MusicPlayerModule{})
}

// Compile-time interface checks.
var _ bot.ConfigurableModule = (*MusicPlayerModule)(nil)

// MusicPlayerModule provides per-guild music playback.
type MusicPlayerModule struct {
	config *Config

	store     *infrastructure.Store
	janitor   *infrastructure.FileJanitor
	transport *infrastructure.LavalinkTransport
	eventBus  *events.Bus
	registry  *usecases.Registry
	handlers  *presentation.CommandHandlers
}

// Name returns the module name.
func (m *MusicPlayerModule) Name() string {
	return "music_player"
}

// Commands returns the slash commands for this module.
func (m *MusicPlayerModule) Commands() []*discordgo.ApplicationCommand {
	return presentation.Commands()
}

// CommandHandlers returns the command handlers for this module.
func (m *MusicPlayerModule) CommandHandlers() map[string]bot.InteractionHandler {
	return map[string]bot.InteractionHandler{
		"play":     m.handlers.HandlePlay,
		"pause":    m.handlers.HandlePause,
		"resume":   m.handlers.HandleResume,
		"skip":     m.handlers.HandleSkip,
		"stop":     m.handlers.HandleStop,
		"volume":   m.handlers.HandleVolume,
		"loop":     m.handlers.HandleLoop,
		"shuffle":  m.handlers.HandleShuffle,
		"queue":    m.handlers.HandleQueue,
		"voteskip": m.handlers.HandleVoteSkip,
		"settings": m.handlers.HandleSettings,
	}
}

// EventHandlers returns the gateway event handlers for this module. Voice
// state and server updates must reach the transport for Lavalink to complete
// the voice handshake.
func (m *MusicPlayerModule) EventHandlers() []bot.EventHandler {
	return []bot.EventHandler{
		func(_ *discordgo.Session, event *discordgo.VoiceServerUpdate) {
			m.transport.OnVoiceServerUpdate(event)
		},
		func(_ *discordgo.Session, event *discordgo.VoiceStateUpdate) {
			m.transport.OnVoiceStateUpdate(event)
		},
	}
}

// LoadConfig loads module-specific configuration from environment variables.
func (m *MusicPlayerModule) LoadConfig() error {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Init initializes the module.
func (m *MusicPlayerModule) Init(deps bot.ModuleDependencies) error {
	if deps.Session == nil {
		return fmt.Errorf("music_player requires a Discord session")
	}

	store, err := infrastructure.OpenStore(m.config.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open music database: %w", err)
	}
	m.store = store

	m.eventBus = events.NewBus(events.DefaultEventBufferSize)

	transport, err := infrastructure.NewLavalinkTransport(deps.Session, m.eventBus, infrastructure.LavalinkConfig{
		Address:  m.config.LavalinkAddress,
		Password: m.config.LavalinkPassword,
	})
	if err != nil {
		return err
	}
	m.transport = transport

	m.janitor = infrastructure.NewFileJanitor()

	m.registry = usecases.NewRegistry(usecases.SessionDeps{
		Transport: transport,
		Resolver:  infrastructure.NewYtdlpResolver(),
		Acquirer:  infrastructure.NewYtdlpAcquirer(m.config.CacheDir),
		Files:     m.janitor,
		Settings:  store,
		Snapshots: store,
	}, m.eventBus)
	m.registry.Start()

	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if err := m.registry.Restore(ctx); err != nil {
		slog.Warn("failed to restore queue snapshots", "error", err)
	}

	m.handlers = presentation.NewCommandHandlers(m.registry, store)

	slog.Info("music_player module initialized")

	return nil
}

// Shutdown cleans up module resources.
func (m *MusicPlayerModule) Shutdown() error {
	if m.registry != nil {
		m.registry.Close()
	}
	if m.eventBus != nil {
		m.eventBus.Close()
	}
	if m.transport != nil {
		m.transport.Close()
	}
	if m.janitor != nil {
		m.janitor.Close()
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return err
		}
	}
	return nil
}
