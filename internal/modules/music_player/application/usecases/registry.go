package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/application/events"
	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

// Registry is the single entry point for all external callers. It maps guild
// IDs to live sessions, routes transport events back into them, and
// rehydrates queues from persisted snapshots at startup.
//
// Registry operations are safe for concurrent use; per-session serialization
// is the session's own concern, so operations on different guilds never
// block one another.
type Registry struct {
	deps SessionDeps
	bus  *events.Bus

	mu       sync.RWMutex
	sessions map[snowflake.ID]*Session

	done chan struct{}
}

// NewRegistry creates a Registry. The bus carries transport events; Start
// must be called to begin dispatching them.
func NewRegistry(deps SessionDeps, bus *events.Bus) *Registry {
	if deps.RetryBase == 0 {
		deps.RetryBase = defaultRetryBase
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Registry{
		deps:     deps,
		bus:      bus,
		sessions: make(map[snowflake.ID]*Session),
		done:     make(chan struct{}),
	}
}

// Start launches the event dispatch loop.
func (r *Registry) Start() {
	go r.dispatch()
}

// Close stops the dispatch loop and tears down every live session.
func (r *Registry) Close() {
	close(r.done)

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[snowflake.ID]*Session)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			slog.Warn("failed to stop session on close", "guild", s.guildID, "error", err)
		}
	}
}

// GetOrCreate returns the guild's session, creating an empty one on first
// call. Creation schedules no background work by itself.
func (r *Registry) GetOrCreate(guildID snowflake.ID) *Session {
	r.mu.RLock()
	s, ok := r.sessions[guildID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s = newSession(guildID, r.deps, r.autoTeardown)
	r.sessions[guildID] = s
	return s
}

// Get returns the guild's session or nil. Used by read-only callers.
func (r *Registry) Get(guildID snowflake.ID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[guildID]
}

// Remove tears down and discards the guild's session.
func (r *Registry) Remove(ctx context.Context, guildID snowflake.ID) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	return s.Stop(ctx)
}

// autoTeardown is handed to sessions as their idle-timeout callback.
func (r *Registry) autoTeardown(guildID snowflake.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if err := r.Remove(ctx, guildID); err != nil {
		slog.Debug("auto-leave found no session", "guild", guildID)
	} else {
		slog.Info("left voice after idle timeout", "guild", guildID)
	}
}

// Restore rehydrates sessions from persisted snapshots. Guilds whose
// settings no longer enable the module are skipped and their snapshots
// dropped. Restored sessions stay idle until the next play command.
func (r *Registry) Restore(ctx context.Context) error {
	snapshots, err := r.deps.Snapshots.LoadAll(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, snapshot := range snapshots {
		settings, err := r.deps.Settings.Get(ctx, snapshot.GuildID)
		if err != nil {
			slog.Warn("failed to load settings during restore", "guild", snapshot.GuildID, "error", err)
			continue
		}
		if !settings.Enabled {
			if err := r.deps.Snapshots.Delete(ctx, snapshot.GuildID); err != nil {
				slog.Warn("failed to drop snapshot of disabled guild", "guild", snapshot.GuildID, "error", err)
			}
			continue
		}
		if len(snapshot.Tracks) == 0 && snapshot.Current == nil {
			continue
		}

		r.GetOrCreate(snapshot.GuildID).restore(snapshot)
		restored++
	}

	if restored > 0 {
		slog.Info("restored queue snapshots", "count", restored)
	}
	return nil
}

// dispatch routes bus events into the owning sessions. Handlers run in their
// own goroutines so a slow guild never delays another guild's events.
func (r *Registry) dispatch() {
	for {
		select {
		case <-r.done:
			return

		case e, ok := <-r.bus.TrackEnded():
			if !ok {
				return
			}
			if !e.Reason.ShouldAdvanceQueue() {
				continue
			}
			if s := r.Get(e.GuildID); s != nil {
				go s.onTrackEnd()
			}

		case e, ok := <-r.bus.PlayerError():
			if !ok {
				return
			}
			if s := r.Get(e.GuildID); s != nil {
				go s.onPlayerError(e.Message)
			}

		case e, ok := <-r.bus.Disconnected():
			if !ok {
				return
			}
			if s := r.Get(e.GuildID); s != nil {
				go s.onDisconnected()
			}
		}
	}
}

// The methods below are the command/HTTP-facing contract. Mutating
// operations that require a live session return ErrNoSession when the guild
// has none; Play creates the session on demand.

// Play enqueues a track for the guild, creating the session if needed.
func (r *Registry) Play(ctx context.Context, guildID, channelID snowflake.ID, query, requester string) (*domain.Track, error) {
	return r.GetOrCreate(guildID).Play(ctx, channelID, query, requester)
}

// Pause pauses the guild's playback.
func (r *Registry) Pause(ctx context.Context, guildID snowflake.ID) error {
	s := r.Get(guildID)
	if s == nil {
		return ErrNoSession
	}
	return s.Pause(ctx)
}

// Resume resumes the guild's playback.
func (r *Registry) Resume(ctx context.Context, guildID snowflake.ID) error {
	s := r.Get(guildID)
	if s == nil {
		return ErrNoSession
	}
	return s.Resume(ctx)
}

// Skip skips the guild's current track.
func (r *Registry) Skip(ctx context.Context, guildID snowflake.ID) error {
	s := r.Get(guildID)
	if s == nil {
		return ErrNoSession
	}
	return s.Skip(ctx)
}

// Stop stops playback, clears the queue, and discards the session.
func (r *Registry) Stop(ctx context.Context, guildID snowflake.ID) error {
	return r.Remove(ctx, guildID)
}

// SetVolume sets the guild's playback volume (clamped to 0-100).
func (r *Registry) SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	s := r.Get(guildID)
	if s == nil {
		return ErrNoSession
	}
	return s.SetVolume(ctx, volume)
}

// SetLoop sets the guild's loop mode.
func (r *Registry) SetLoop(guildID snowflake.ID, mode domain.LoopMode) error {
	s := r.Get(guildID)
	if s == nil {
		return ErrNoSession
	}
	s.SetLoop(mode)
	return nil
}

// Shuffle shuffles the guild's pending queue.
func (r *Registry) Shuffle(guildID snowflake.ID) error {
	s := r.Get(guildID)
	if s == nil {
		return ErrNoSession
	}
	s.Shuffle()
	return nil
}

// Clear drops the guild's pending queue, returning the number of tracks
// removed. The current track keeps playing.
func (r *Registry) Clear(guildID snowflake.ID) (int, error) {
	s := r.Get(guildID)
	if s == nil {
		return 0, ErrNoSession
	}
	return s.Clear(), nil
}

// RemoveTrack removes the pending track at index (0-based).
func (r *Registry) RemoveTrack(guildID snowflake.ID, index int) (*domain.Track, error) {
	s := r.Get(guildID)
	if s == nil {
		return nil, ErrNoSession
	}
	return s.RemoveTrack(index)
}

// VoteSkip registers a vote to skip the guild's current track.
func (r *Registry) VoteSkip(ctx context.Context, guildID, voterID snowflake.ID, eligibleCount int) (votes, required int, skipped bool, err error) {
	s := r.Get(guildID)
	if s == nil {
		return 0, 0, false, ErrNoSession
	}
	return s.VoteSkip(ctx, voterID, eligibleCount)
}

// GetQueue returns the guild's queue view, or an empty view if no session.
func (r *Registry) GetQueue(guildID snowflake.ID) QueueView {
	s := r.Get(guildID)
	if s == nil {
		return QueueView{Volume: domain.DefaultVolume}
	}
	return s.Queue()
}

// GetPosition returns the elapsed playback time of the guild's current
// track, zero if nothing is playing.
func (r *Registry) GetPosition(guildID snowflake.ID) time.Duration {
	s := r.Get(guildID)
	if s == nil {
		return 0
	}
	return s.Position()
}
