package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/application/events"
	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

func newTestRegistry(env *testEnv) (*Registry, *events.Bus) {
	bus := events.NewBus(16)
	r := NewRegistry(env.deps, bus)
	r.Start()
	return r, bus
}

func TestRegistry_GetOrCreate_ReturnsSameSession(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()

	first := r.GetOrCreate(testGuildID)
	second := r.GetOrCreate(testGuildID)
	if first != second {
		t.Error("expected the same session for repeated GetOrCreate")
	}

	other := r.GetOrCreate(snowflake.ID(999))
	if other == first {
		t.Error("expected distinct sessions per guild")
	}
}

func TestRegistry_Get_NilWithoutSession(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()

	if s := r.Get(testGuildID); s != nil {
		t.Error("expected nil for a guild without a session")
	}
}

func TestRegistry_Remove_NoSession(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()

	err := r.Remove(context.Background(), testGuildID)
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestRegistry_ControlWithoutSession(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()
	ctx := context.Background()

	if err := r.Pause(ctx, testGuildID); !errors.Is(err, ErrNoSession) {
		t.Errorf("Pause: expected ErrNoSession, got %v", err)
	}
	if err := r.Skip(ctx, testGuildID); !errors.Is(err, ErrNoSession) {
		t.Errorf("Skip: expected ErrNoSession, got %v", err)
	}
	if _, err := r.RemoveTrack(testGuildID, 0); !errors.Is(err, ErrNoSession) {
		t.Errorf("RemoveTrack: expected ErrNoSession, got %v", err)
	}
}

func TestRegistry_GetQueue_EmptyViewWithoutSession(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()

	view := r.GetQueue(testGuildID)
	if view.Current != nil || len(view.Tracks) != 0 {
		t.Error("expected an empty view")
	}
	if view.Volume != domain.DefaultVolume {
		t.Errorf("expected default volume %d, got %d", domain.DefaultVolume, view.Volume)
	}
}

func TestRegistry_Dispatch_AdvancesOnFinished(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()
	ctx := context.Background()

	r.Play(ctx, testGuildID, testChannelID, "one", "alice")
	waitPlayed(t, env.transport)
	second, _ := r.Play(ctx, testGuildID, testChannelID, "two", "alice")

	bus.PublishTrackEnded(events.TrackEndedEvent{GuildID: testGuildID, Reason: events.TrackEndFinished})
	waitPlayed(t, env.transport)

	view := r.GetQueue(testGuildID)
	if view.Current == nil || view.Current.ID != second.ID {
		t.Error("expected the queue advanced to the second track")
	}
}

func TestRegistry_Dispatch_IgnoresReplacedAndCleanup(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()
	ctx := context.Background()

	first, _ := r.Play(ctx, testGuildID, testChannelID, "one", "alice")
	waitPlayed(t, env.transport)

	bus.PublishTrackEnded(events.TrackEndedEvent{GuildID: testGuildID, Reason: events.TrackEndReplaced})
	bus.PublishTrackEnded(events.TrackEndedEvent{GuildID: testGuildID, Reason: events.TrackEndCleanup})

	// Give the dispatch loop a moment; nothing should advance.
	time.Sleep(20 * time.Millisecond)

	view := r.GetQueue(testGuildID)
	if view.Current == nil || view.Current.ID != first.ID {
		t.Error("expected the first track still current")
	}
}

func TestRegistry_Dispatch_PlayerErrorAdvances(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()
	ctx := context.Background()

	r.Play(ctx, testGuildID, testChannelID, "one", "alice")
	waitHandedOff(t, r.Get(testGuildID))

	bus.PublishPlayerError(events.PlayerErrorEvent{GuildID: testGuildID, Message: "decode failure"})

	waitFor(t, func() bool {
		view := r.GetQueue(testGuildID)
		return view.Current == nil && !view.IsPlaying
	})
}

func TestRegistry_Dispatch_Disconnected(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()
	ctx := context.Background()

	track, _ := r.Play(ctx, testGuildID, testChannelID, "one", "alice")
	waitHandedOff(t, r.Get(testGuildID))

	bus.PublishDisconnected(events.DisconnectedEvent{GuildID: testGuildID})

	waitFor(t, func() bool {
		view := r.GetQueue(testGuildID)
		return view.Current == nil && len(view.Tracks) == 1
	})

	view := r.GetQueue(testGuildID)
	if view.Tracks[0].ID != track.ID {
		t.Error("expected the interrupted track back in the queue")
	}
}

func TestRegistry_Restore_RebuildsIdleSessions(t *testing.T) {
	env := newTestEnv()

	saved := &domain.QueueSnapshot{
		GuildID: testGuildID,
		Tracks: []*domain.Track{
			{ID: "a", Title: "First", URL: "https://example.com/a"},
			{ID: "b", Title: "Second", URL: "https://example.com/b"},
		},
		Current:   &domain.Track{ID: "c", Title: "Interrupted", URL: "https://example.com/c"},
		Volume:    80,
		LoopMode:  domain.LoopModeQueue,
		Playing:   true,
		UpdatedAt: time.Now(),
	}
	env.snapshots.Save(context.Background(), saved)

	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()

	if err := r.Restore(context.Background()); err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}

	view := r.GetQueue(testGuildID)
	if view.IsPlaying || view.Current != nil {
		t.Error("restored sessions must stay idle until the next play")
	}
	// The interrupted current track leads the restored queue.
	if len(view.Tracks) != 3 || view.Tracks[0].ID != "c" {
		t.Fatalf("expected interrupted track first of 3, got %d tracks", len(view.Tracks))
	}
	if view.Volume != 80 {
		t.Errorf("expected restored volume 80, got %d", view.Volume)
	}
	if view.LoopMode != domain.LoopModeQueue {
		t.Errorf("expected restored loop mode queue, got %v", view.LoopMode)
	}
	if env.transport.playCount() != 0 {
		t.Error("restore must not start playback")
	}
}

func TestRegistry_Restore_DropsDisabledGuilds(t *testing.T) {
	env := newTestEnv()
	env.settings.mutate(func(s *domain.GuildMusicSettings) { s.Enabled = false })
	env.snapshots.Save(context.Background(), &domain.QueueSnapshot{
		GuildID: testGuildID,
		Tracks:  []*domain.Track{{ID: "a", Title: "First"}},
	})

	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()

	if err := r.Restore(context.Background()); err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}

	if r.Get(testGuildID) != nil {
		t.Error("expected no session for a disabled guild")
	}
	if env.snapshots.get(testGuildID) != nil {
		t.Error("expected the disabled guild's snapshot dropped")
	}
}

func TestRegistry_Restore_SkipsEmptySnapshots(t *testing.T) {
	env := newTestEnv()
	env.snapshots.Save(context.Background(), &domain.QueueSnapshot{GuildID: testGuildID})

	r, bus := newTestRegistry(env)
	defer bus.Close()
	defer r.Close()

	if err := r.Restore(context.Background()); err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	if r.Get(testGuildID) != nil {
		t.Error("expected no session for an empty snapshot")
	}
}

func TestRegistry_Close_StopsSessions(t *testing.T) {
	env := newTestEnv()
	r, bus := newTestRegistry(env)
	defer bus.Close()
	ctx := context.Background()

	r.Play(ctx, testGuildID, testChannelID, "one", "alice")
	waitHandedOff(t, r.Get(testGuildID))

	r.Close()

	if env.transport.disconnectCalls != 1 {
		t.Errorf("expected disconnect on close, got %d", env.transport.disconnectCalls)
	}
	if r.Get(testGuildID) != nil {
		t.Error("expected sessions discarded on close")
	}
}
