package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/application/ports"
	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

const (
	// maxAcquireAttempts is the number of times a track is attempted before
	// it is dropped and the queue advances past it.
	maxAcquireAttempts = 3

	// defaultRetryBase is the first backoff delay after a failed
	// acquisition; it doubles per attempt.
	defaultRetryBase = 2 * time.Second

	connectTimeout = 10 * time.Second
	acquireTimeout = 10 * time.Minute
	controlTimeout = 15 * time.Second
)

// SessionDeps carries the collaborators a session needs. RetryBase and Now
// default to 2s and time.Now; tests override them.
type SessionDeps struct {
	Transport ports.Transport
	Resolver  ports.TrackResolver
	Acquirer  ports.MediaAcquirer
	Files     ports.FileJanitor
	Settings  ports.SettingsStore
	Snapshots ports.SnapshotStore

	RetryBase time.Duration
	Now       func() time.Time
}

// QueueView is the read-only projection of a session returned to external
// callers (commands, HTTP routes).
type QueueView struct {
	Tracks    []*domain.Track
	Current   *domain.Track
	Volume    int
	LoopMode  domain.LoopMode
	IsPlaying bool
	IsPaused  bool
}

// Session is the playback state machine for one guild. All state-mutating
// methods are serialized on s.mu; blocking work (acquisition, transport
// connects) runs outside the critical section and re-enters it only to
// install results, guarded by a generation counter so stale completions are
// discarded.
type Session struct {
	guildID snowflake.ID
	deps    SessionDeps

	// onTeardown is invoked when the session removes itself (auto-leave).
	onTeardown func(guildID snowflake.ID)

	mu          sync.Mutex
	queue       domain.Queue
	current     *domain.Track
	state       domain.PlaybackState
	loopMode    domain.LoopMode
	volume      int
	volumeSet   bool
	connected   bool
	channelID   snowflake.ID
	handedOff   bool // current track was handed to the transport player
	voters      map[snowflake.ID]struct{}
	skipFired   bool // a skip already fired for the current track
	retries     int
	generation  uint64
	retryTimer  *time.Timer
	idleTimer   *time.Timer
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
}

func newSession(guildID snowflake.ID, deps SessionDeps, onTeardown func(snowflake.ID)) *Session {
	return &Session{
		guildID:    guildID,
		deps:       deps,
		onTeardown: onTeardown,
		queue:      domain.NewQueue(),
		state:      domain.StateIdle,
	}
}

func (s *Session) now() time.Time {
	if s.deps.Now != nil {
		return s.deps.Now()
	}
	return time.Now()
}

func (s *Session) retryBase() time.Duration {
	if s.deps.RetryBase > 0 {
		return s.deps.RetryBase
	}
	return defaultRetryBase
}

// loadSettings reads the guild's settings with a bounded timeout. Callers on
// internal paths tolerate a nil result and fall back to defaults.
func (s *Session) loadSettings(ctx context.Context) (*domain.GuildMusicSettings, error) {
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.deps.Settings.Get(sctx, s.guildID)
}

// Play resolves the query, validates it against the guild's settings,
// enqueues the track, and starts playback if the session is idle. Resolution
// and policy errors are returned synchronously; everything after the track
// is enqueued is handled internally.
func (s *Session) Play(ctx context.Context, channelID snowflake.ID, query, requester string) (*domain.Track, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, domain.ErrModuleDisabled
	}

	resolved, err := s.deps.Resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}

	if settings.MaxTrackSeconds > 0 && resolved.Duration > time.Duration(settings.MaxTrackSeconds)*time.Second {
		return nil, domain.ErrTrackTooLong
	}

	track := domain.NewTrack(resolved.Title, resolved.URL, resolved.Duration, requester, resolved.ThumbnailURL)

	s.mu.Lock()
	if settings.MaxQueueSize > 0 && s.queue.Len() >= settings.MaxQueueSize {
		s.mu.Unlock()
		return nil, domain.ErrQueueFull
	}
	if !s.volumeSet {
		s.volume = clampVolume(settings.DefaultVolume)
		s.volumeSet = true
	}
	s.cancelIdleTimerLocked()
	s.queue.Append(track)
	s.channelID = channelID
	wasIdle := s.current == nil
	needConnect := !s.connected
	s.persistLocked()
	s.mu.Unlock()

	if !wasIdle {
		return track, nil
	}

	if needConnect {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := s.deps.Transport.Connect(cctx, s.guildID, channelID); err != nil {
			// The track stays queued; the next play attempt reconnects.
			return nil, err
		}
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
	}

	s.kickIfIdle(settings)
	return track, nil
}

// kickIfIdle starts playback of the queue head when nothing is current.
// Unlike advance it never touches a current track, so concurrent enqueues
// cannot double-start.
func (s *Session) kickIfIdle(settings *domain.GuildMusicSettings) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return
	}
	s.startNextLocked(settings)
}

// advanceFrom finishes the current track and starts the next one. Called on
// natural end-of-track, player errors, and after a track is dropped. gen is
// the generation the caller observed; a mismatch means another transition
// already happened and this advance must not run twice.
func (s *Session) advanceFrom(gen uint64) {
	settings, err := s.loadSettings(context.Background())
	if err != nil {
		slog.Warn("failed to load settings on advance", "guild", s.guildID, "error", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	if settings != nil && !settings.Enabled {
		s.stopLocked(settings, true)
		return
	}

	finished := s.current
	s.current = nil
	s.handedOff = false
	s.retries = 0
	if finished != nil {
		s.releaseFileLocked(finished, settings)
		switch s.loopMode {
		case domain.LoopModeTrack:
			s.queue.PushFront(finished.Copy())
		case domain.LoopModeQueue:
			s.queue.Append(finished.Copy())
		}
	}
	s.startNextLocked(settings)
}

// startNextLocked dequeues and starts the next track. The caller must hold
// s.mu; the lock is released before returning.
func (s *Session) startNextLocked(settings *domain.GuildMusicSettings) {
	if s.queue.IsEmpty() {
		s.generation++
		s.state = domain.StateIdle
		s.voters = nil
		s.skipFired = false
		s.persistLocked()
		s.armIdleTimerLocked(settings)
		s.mu.Unlock()
		return
	}

	next := s.queue.PopFront()
	s.current = next
	s.state = domain.StatePlaying
	s.handedOff = false
	s.voters = make(map[snowflake.ID]struct{})
	s.skipFired = false
	s.startedAt = s.now()
	s.pausedAt = time.Time{}
	s.pausedTotal = 0
	s.generation++
	gen := s.generation
	s.persistLocked()
	s.mu.Unlock()

	go s.acquireAndPlay(next, gen)
}

// acquireAndPlay obtains a local file for the track and hands it to the
// transport player. It runs outside the session lock; the generation counter
// detects a session that has moved on (skip, stop, disconnect) so a stale
// completion is discarded instead of resurrecting old state.
func (s *Session) acquireAndPlay(track *domain.Track, gen uint64) {
	path := track.CachedPath
	var err error
	if path == "" {
		actx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
		path, err = s.deps.Acquirer.Acquire(actx, s.guildID, track)
		cancel()
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.handleAcquireFailureLocked(track, gen, err)
		return
	}
	track.CachedPath = path
	s.deps.Files.MarkInUse(path)
	volume := s.volume
	s.mu.Unlock()

	pctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	playErr := s.deps.Transport.Play(pctx, s.guildID, path, volume)

	s.mu.Lock()
	if s.generation != gen {
		// The session moved on while the handoff was in flight.
		s.deps.Files.MarkFree(path)
		s.mu.Unlock()
		if playErr == nil {
			sctx, scancel := context.WithTimeout(context.Background(), controlTimeout)
			defer scancel()
			if err := s.deps.Transport.Stop(sctx, s.guildID); err != nil {
				slog.Warn("failed to stop stale playback", "guild", s.guildID, "error", err)
			}
		}
		return
	}
	if playErr != nil {
		s.deps.Files.MarkFree(path)
		s.handleAcquireFailureLocked(track, gen, playErr)
		return
	}
	s.handedOff = true
	paused := s.state == domain.StatePaused
	s.mu.Unlock()

	if paused {
		// A pause issued while acquisition was in flight must survive the
		// handoff; the player starts unpaused.
		rctx, rcancel := context.WithTimeout(context.Background(), controlTimeout)
		defer rcancel()
		if err := s.deps.Transport.SetPaused(rctx, s.guildID, true); err != nil {
			slog.Warn("failed to re-apply pause after handoff", "guild", s.guildID, "error", err)
		}
	}
}

// handleAcquireFailureLocked applies the retry policy: up to
// maxAcquireAttempts attempts with exponentially doubling delays, then the
// track is dropped and the queue advances. The caller must hold s.mu; the
// lock is released before returning.
func (s *Session) handleAcquireFailureLocked(track *domain.Track, gen uint64, err error) {
	s.retries++
	if s.retries >= maxAcquireAttempts {
		slog.Error("dropping track after repeated acquisition failures",
			"guild", s.guildID, "track", track.Title, "attempts", s.retries, "error", err)
		s.retries = 0
		s.mu.Unlock()
		go s.advanceFrom(gen)
		return
	}

	delay := s.retryBase() << (s.retries - 1)
	slog.Warn("acquisition failed, retrying",
		"guild", s.guildID, "track", track.Title, "attempt", s.retries, "delay", delay, "error", err)
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		s.retryTimer = nil
		s.mu.Unlock()
		s.acquireAndPlay(track, gen)
	})
	s.mu.Unlock()
}

// Pause pauses playback. Only legal while playing.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateIdle:
		return ErrNotPlaying
	case domain.StatePaused:
		return ErrAlreadyPaused
	}

	if err := s.deps.Transport.SetPaused(ctx, s.guildID, true); err != nil {
		return err
	}
	s.state = domain.StatePaused
	s.pausedAt = s.now()
	return nil
}

// Resume resumes paused playback, folding the paused interval into the
// accumulated paused duration so position queries stay accurate.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateIdle:
		return ErrNotPlaying
	case domain.StatePlaying:
		return ErrNotPaused
	}

	if err := s.deps.Transport.SetPaused(ctx, s.guildID, false); err != nil {
		return err
	}
	s.pausedTotal += s.now().Sub(s.pausedAt)
	s.pausedAt = time.Time{}
	s.state = domain.StatePlaying
	return nil
}

// Skip abandons the current track. When the track is already with the
// transport player this asks it to stop and the normal end-of-track path
// advances the queue; a track still being acquired or waiting out a retry
// backoff is invalidated directly.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	return s.skipLocked(ctx)
}

// skipLocked expects s.mu held and releases it.
func (s *Session) skipLocked(ctx context.Context) error {
	if s.current == nil {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	s.retries = 0
	s.skipFired = true

	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
		s.generation++
		gen := s.generation
		s.mu.Unlock()
		go s.advanceFrom(gen)
		return nil
	}

	if !s.handedOff {
		// Acquisition in flight; invalidate its completion and move on.
		s.generation++
		gen := s.generation
		s.mu.Unlock()
		go s.advanceFrom(gen)
		return nil
	}

	s.mu.Unlock()
	return s.deps.Transport.Stop(ctx, s.guildID)
}

// Stop clears the queue, tears down the transport connection, and deletes
// the persisted snapshot. The registry discards the session afterwards.
func (s *Session) Stop(ctx context.Context) error {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		slog.Warn("failed to load settings on stop", "guild", s.guildID, "error", err)
	}

	s.mu.Lock()
	s.stopLocked(settings, true)
	return nil
}

// stopLocked expects s.mu held and releases it. deleteSnapshot distinguishes
// an explicit stop (snapshot removed) from a transport loss (snapshot kept).
func (s *Session) stopLocked(settings *domain.GuildMusicSettings, deleteSnapshot bool) {
	s.generation++
	s.cancelTimersLocked()
	finished := s.current
	s.current = nil
	s.handedOff = false
	s.retries = 0
	s.queue.Clear()
	s.state = domain.StateIdle
	s.voters = nil
	s.skipFired = false
	wasConnected := s.connected
	s.connected = false
	if finished != nil {
		s.releaseFileLocked(finished, settings)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if wasConnected {
		if err := s.deps.Transport.Disconnect(ctx, s.guildID); err != nil {
			slog.Warn("failed to disconnect transport", "guild", s.guildID, "error", err)
		}
	}
	if deleteSnapshot {
		if err := s.deps.Snapshots.Delete(ctx, s.guildID); err != nil {
			slog.Warn("failed to delete snapshot", "guild", s.guildID, "error", err)
		}
	}
}

// SetVolume clamps and applies the volume, persisting the change.
func (s *Session) SetVolume(ctx context.Context, volume int) error {
	volume = clampVolume(volume)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.volume = volume
	s.volumeSet = true
	if s.handedOff {
		if err := s.deps.Transport.SetVolume(ctx, s.guildID, volume); err != nil {
			return err
		}
	}
	s.persistLocked()
	return nil
}

// SetLoop sets the loop mode. Takes effect on the next queue decision.
func (s *Session) SetLoop(mode domain.LoopMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopMode = mode
	s.persistLocked()
}

// Shuffle permutes the pending queue. No-op for one or zero tracks.
func (s *Session) Shuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Shuffle()
	s.persistLocked()
}

// Clear drops every pending track. The current track keeps playing.
func (s *Session) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.queue.Len()
	s.queue.Clear()
	s.persistLocked()
	return n
}

// RemoveTrack removes the pending track at index (0-based).
func (s *Session) RemoveTrack(index int) (*domain.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track := s.queue.RemoveAt(index)
	if track == nil {
		return nil, ErrTrackNotFound
	}
	s.persistLocked()
	return track, nil
}

// VoteSkip registers a vote to skip the current track. The vote set is
// idempotent per voter and cleared on every track change. Returns the vote
// count, the votes required, and whether the skip fired.
func (s *Session) VoteSkip(ctx context.Context, voterID snowflake.ID, eligibleCount int) (votes, required int, skipped bool, err error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	if !settings.VoteSkipEnabled {
		return 0, 0, false, ErrVoteSkipDisabled
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return 0, 0, false, ErrNotPlaying
	}
	required = (eligibleCount*settings.VoteSkipThreshold + 99) / 100
	if required < 1 {
		required = 1
	}
	if s.skipFired {
		// The round is consumed; the queue advances when the track-end
		// event lands, so further votes must not fire a second skip.
		votes = len(s.voters)
		s.mu.Unlock()
		return votes, required, false, nil
	}
	if s.voters == nil {
		s.voters = make(map[snowflake.ID]struct{})
	}
	s.voters[voterID] = struct{}{}
	votes = len(s.voters)
	if votes < required {
		s.mu.Unlock()
		return votes, required, false, nil
	}

	err = s.skipLocked(ctx)
	return votes, required, true, err
}

// Queue returns a read-only view of the session.
func (s *Session) Queue() QueueView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return QueueView{
		Tracks:    s.queue.List(),
		Current:   s.current,
		Volume:    s.volume,
		LoopMode:  s.loopMode,
		IsPlaying: s.state == domain.StatePlaying,
		IsPaused:  s.state == domain.StatePaused,
	}
}

// Position returns the elapsed playback time of the current track: zero
// while idle, frozen while paused, and never negative.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var elapsed time.Duration
	switch s.state {
	case domain.StatePlaying:
		elapsed = s.now().Sub(s.startedAt) - s.pausedTotal
	case domain.StatePaused:
		elapsed = s.pausedAt.Sub(s.startedAt) - s.pausedTotal
	default:
		return 0
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// onTrackEnd reacts to the transport reporting end-of-track.
func (s *Session) onTrackEnd() {
	s.mu.Lock()
	if s.current == nil {
		// Already advanced (skip during acquisition, stop, …).
		s.mu.Unlock()
		return
	}
	gen := s.generation
	s.mu.Unlock()
	s.advanceFrom(gen)
}

// onPlayerError reacts to a transport player error exactly like a normal
// end-of-track, so one failing track never stalls the queue.
func (s *Session) onPlayerError(message string) {
	slog.Error("player error, advancing queue", "guild", s.guildID, "error", message)
	s.onTrackEnd()
}

// onDisconnected reacts to the transport giving up on resignalling. The
// session is reset like an explicit stop, but the snapshot is kept so the
// queue survives; the interrupted track returns to the head.
func (s *Session) onDisconnected() {
	settings, err := s.loadSettings(context.Background())
	if err != nil {
		slog.Warn("failed to load settings on disconnect", "guild", s.guildID, "error", err)
	}

	s.mu.Lock()
	s.generation++
	s.cancelTimersLocked()
	if cur := s.current; cur != nil {
		s.releaseFileLocked(cur, settings)
		s.queue.PushFront(cur)
		s.current = nil
	}
	s.handedOff = false
	s.retries = 0
	s.state = domain.StateIdle
	s.voters = nil
	s.skipFired = false
	s.connected = false
	s.persistLocked()
	s.mu.Unlock()
}

// releaseFileLocked marks the finished track's file free and, when the
// guild auto-deletes cached files, arms the deletion timer.
func (s *Session) releaseFileLocked(track *domain.Track, settings *domain.GuildMusicSettings) {
	if track.CachedPath == "" {
		return
	}
	s.deps.Files.MarkFree(track.CachedPath)
	if settings != nil && settings.AutoDeleteFiles {
		delay := time.Duration(settings.AutoDeleteDelay) * time.Second
		s.deps.Files.ScheduleDeletion(track.CachedPath, s.guildID, delay)
	}
}

// armIdleTimerLocked schedules session teardown after the queue empties,
// honoring 24/7 mode and the auto-leave settings.
func (s *Session) armIdleTimerLocked(settings *domain.GuildMusicSettings) {
	s.cancelIdleTimerLocked()
	if settings == nil || settings.Stay247 || !settings.AutoLeave {
		return
	}
	delay := time.Duration(settings.AutoLeaveSeconds) * time.Second
	gen := s.generation
	s.idleTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		stale := s.generation != gen || s.current != nil || !s.queue.IsEmpty()
		s.mu.Unlock()
		if stale {
			return
		}
		if s.onTeardown != nil {
			s.onTeardown(s.guildID)
		}
	})
}

func (s *Session) cancelIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Session) cancelTimersLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.cancelIdleTimerLocked()
}

// persistLocked writes the session snapshot. Persistence failures are logged
// and swallowed: losing a snapshot only risks queue state across a restart.
func (s *Session) persistLocked() {
	snapshot := &domain.QueueSnapshot{
		GuildID:   s.guildID,
		Tracks:    s.queue.List(),
		Current:   s.current,
		Volume:    s.volume,
		LoopMode:  s.loopMode,
		Playing:   s.state != domain.StateIdle,
		UpdatedAt: s.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Snapshots.Save(ctx, snapshot); err != nil {
		slog.Warn("failed to persist queue snapshot", "guild", s.guildID, "error", err)
	}
}

// restore rebuilds queue state from a snapshot. The session stays idle and
// disconnected; playback resumes on the next play command.
func (s *Session) restore(snapshot *domain.QueueSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.Clear()
	if snapshot.Current != nil {
		s.queue.Append(snapshot.Current)
	}
	s.queue.Append(snapshot.Tracks...)
	s.volume = clampVolume(snapshot.Volume)
	s.volumeSet = true
	s.loopMode = snapshot.LoopMode
	s.state = domain.StateIdle
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
