package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS guild_music_settings (
	guild_id            TEXT PRIMARY KEY,
	enabled             INTEGER NOT NULL DEFAULT 1,
	dj_role_id          TEXT NOT NULL DEFAULT '',
	default_volume      INTEGER NOT NULL,
	auto_leave          INTEGER NOT NULL,
	auto_leave_seconds  INTEGER NOT NULL,
	stay_247            INTEGER NOT NULL DEFAULT 0,
	vote_skip_enabled   INTEGER NOT NULL,
	vote_skip_threshold INTEGER NOT NULL,
	max_queue_size      INTEGER NOT NULL DEFAULT 0,
	max_track_seconds   INTEGER NOT NULL DEFAULT 0,
	auto_delete_files   INTEGER NOT NULL,
	auto_delete_delay   INTEGER NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_snapshots (
	guild_id   TEXT PRIMARY KEY,
	tracks     TEXT NOT NULL,
	current    TEXT,
	volume     INTEGER NOT NULL,
	loop_mode  TEXT NOT NULL,
	playing    INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store provides SQLite-backed settings and snapshot persistence. A single
// Store serves both; the two port interfaces are satisfied by the same value.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path and prepares the
// schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite performs poorly with many writers; a single connection plus WAL
	// keeps snapshot writes from tripping over each other.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the guild's settings, inserting defaults on first access.
func (s *Store) Get(ctx context.Context, guildID snowflake.ID) (*domain.GuildMusicSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, dj_role_id, default_volume, auto_leave,
		       auto_leave_seconds, stay_247, vote_skip_enabled,
		       vote_skip_threshold, max_queue_size, max_track_seconds,
		       auto_delete_files, auto_delete_delay
		FROM guild_music_settings WHERE guild_id = ?`,
		guildID.String(),
	)

	settings := &domain.GuildMusicSettings{GuildID: guildID}
	var djRoleID string
	err := row.Scan(
		&settings.Enabled,
		&djRoleID,
		&settings.DefaultVolume,
		&settings.AutoLeave,
		&settings.AutoLeaveSeconds,
		&settings.Stay247,
		&settings.VoteSkipEnabled,
		&settings.VoteSkipThreshold,
		&settings.MaxQueueSize,
		&settings.MaxTrackSeconds,
		&settings.AutoDeleteFiles,
		&settings.AutoDeleteDelay,
	)
	if err == sql.ErrNoRows {
		settings = domain.DefaultSettings(guildID)
		if err := s.Update(ctx, settings); err != nil {
			return nil, fmt.Errorf("failed to store default settings: %w", err)
		}
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if djRoleID != "" {
		id, err := snowflake.Parse(djRoleID)
		if err != nil {
			slog.Warn("invalid DJ role ID in settings row, ignoring", "guild", guildID, "value", djRoleID)
		} else {
			settings.DJRoleID = id
		}
	}

	return settings, nil
}

// Update upserts the guild's settings.
func (s *Store) Update(ctx context.Context, settings *domain.GuildMusicSettings) error {
	djRoleID := ""
	if settings.DJRoleID != 0 {
		djRoleID = settings.DJRoleID.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_music_settings (
			guild_id, enabled, dj_role_id, default_volume, auto_leave,
			auto_leave_seconds, stay_247, vote_skip_enabled,
			vote_skip_threshold, max_queue_size, max_track_seconds,
			auto_delete_files, auto_delete_delay, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			dj_role_id = excluded.dj_role_id,
			default_volume = excluded.default_volume,
			auto_leave = excluded.auto_leave,
			auto_leave_seconds = excluded.auto_leave_seconds,
			stay_247 = excluded.stay_247,
			vote_skip_enabled = excluded.vote_skip_enabled,
			vote_skip_threshold = excluded.vote_skip_threshold,
			max_queue_size = excluded.max_queue_size,
			max_track_seconds = excluded.max_track_seconds,
			auto_delete_files = excluded.auto_delete_files,
			auto_delete_delay = excluded.auto_delete_delay,
			updated_at = excluded.updated_at`,
		settings.GuildID.String(),
		settings.Enabled,
		djRoleID,
		settings.DefaultVolume,
		settings.AutoLeave,
		settings.AutoLeaveSeconds,
		settings.Stay247,
		settings.VoteSkipEnabled,
		settings.VoteSkipThreshold,
		settings.MaxQueueSize,
		settings.MaxTrackSeconds,
		settings.AutoDeleteFiles,
		settings.AutoDeleteDelay,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

// Save upserts the snapshot for its guild. The track lists are stored as
// JSON; snapshots are read in bulk once at startup and row-level queries on
// tracks are never needed.
func (s *Store) Save(ctx context.Context, snapshot *domain.QueueSnapshot) error {
	tracks, err := json.Marshal(snapshot.Tracks)
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}

	var current sql.NullString
	if snapshot.Current != nil {
		data, err := json.Marshal(snapshot.Current)
		if err != nil {
			return fmt.Errorf("failed to encode current track: %w", err)
		}
		current = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_snapshots (
			guild_id, tracks, current, volume, loop_mode, playing, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			tracks = excluded.tracks,
			current = excluded.current,
			volume = excluded.volume,
			loop_mode = excluded.loop_mode,
			playing = excluded.playing,
			updated_at = excluded.updated_at`,
		snapshot.GuildID.String(),
		string(tracks),
		current,
		snapshot.Volume,
		snapshot.LoopMode.String(),
		snapshot.Playing,
		snapshot.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadAll returns every stored snapshot. Rows that fail to decode are logged
// and skipped so one corrupt snapshot cannot block startup restore.
func (s *Store) LoadAll(ctx context.Context) ([]*domain.QueueSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, tracks, current, volume, loop_mode, playing, updated_at
		FROM queue_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.QueueSnapshot
	for rows.Next() {
		var (
			guildID   string
			tracks    string
			current   sql.NullString
			volume    int
			loopMode  string
			playing   bool
			updatedAt time.Time
		)
		if err := rows.Scan(&guildID, &tracks, &current, &volume, &loopMode, &playing, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		id, err := snowflake.Parse(guildID)
		if err != nil {
			slog.Warn("invalid guild ID in snapshot row, skipping", "value", guildID)
			continue
		}

		snapshot := &domain.QueueSnapshot{
			GuildID:   id,
			Volume:    volume,
			Playing:   playing,
			UpdatedAt: updatedAt,
		}
		snapshot.LoopMode = domain.ParseLoopMode(loopMode)
		if err := json.Unmarshal([]byte(tracks), &snapshot.Tracks); err != nil {
			slog.Warn("corrupt queue in snapshot row, skipping", "guild", id, "error", err)
			continue
		}
		if current.Valid {
			var track domain.Track
			if err := json.Unmarshal([]byte(current.String), &track); err != nil {
				slog.Warn("corrupt current track in snapshot row, skipping", "guild", id, "error", err)
				continue
			}
			snapshot.Current = &track
		}

		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}

	return snapshots, nil
}

// Delete removes the guild's snapshot.
func (s *Store) Delete(ctx context.Context, guildID snowflake.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_snapshots WHERE guild_id = ?`, guildID.String())
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
