package ports

import (
	"context"

	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

// SettingsStore reads and writes per-guild music settings. Settings exist
// independently of any live session.
type SettingsStore interface {
	// Get returns the guild's settings, creating defaults on first access.
	Get(ctx context.Context, guildID snowflake.ID) (*domain.GuildMusicSettings, error)

	// Update persists the given settings.
	Update(ctx context.Context, settings *domain.GuildMusicSettings) error
}

// SnapshotStore persists queue snapshots so queues survive process restarts.
// Save and Delete failures are logged and swallowed by callers; losing a
// snapshot only risks queue state across a restart, never the live session.
type SnapshotStore interface {
	// Save upserts the snapshot for its guild.
	Save(ctx context.Context, snapshot *domain.QueueSnapshot) error

	// LoadAll returns every stored snapshot. Called once at startup.
	LoadAll(ctx context.Context) ([]*domain.QueueSnapshot, error)

	// Delete removes the guild's snapshot.
	Delete(ctx context.Context, guildID snowflake.ID) error
}
