package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/application/events"
	"github.com/mvelle/quaver/internal/modules/music_player/application/ports"
)

const (
	// voiceConnectTimeout bounds how long Connect waits for the voice
	// handshake events.
	voiceConnectTimeout = 10 * time.Second

	// resignalWindow bounds automatic reconnection after the voice
	// websocket closes; past it the link is torn down and the session is
	// told to treat it as a stop.
	resignalWindow = 30 * time.Second
)

// pendingVoiceConnection tracks the two gateway events a voice join waits on.
type pendingVoiceConnection struct {
	mu             sync.Mutex
	hasVoiceState  bool
	hasVoiceServer bool
	ready          chan struct{}
}

func newPendingVoiceConnection() *pendingVoiceConnection {
	return &pendingVoiceConnection{ready: make(chan struct{})}
}

func (p *pendingVoiceConnection) onEvent(isVoiceState bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isVoiceState {
		p.hasVoiceState = true
	} else {
		p.hasVoiceServer = true
	}

	if p.hasVoiceState && p.hasVoiceServer {
		select {
		case <-p.ready:
		default:
			close(p.ready)
		}
	}
}

// voiceEventBuffer holds VoiceStateUpdate and VoiceServerUpdate data until
// both have arrived, since the gateway may deliver them in either order and
// Lavalink rejects partial voice state.
type voiceEventBuffer struct {
	mu sync.Mutex

	hasVoiceState bool
	channelID     *snowflake.ID
	sessionID     string

	hasVoiceServer bool
	token          string
	endpoint       string
}

func (b *voiceEventBuffer) setVoiceState(channelID *snowflake.ID, sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceState = true
	b.channelID = channelID
	b.sessionID = sessionID

	return b.hasVoiceState && b.hasVoiceServer
}

func (b *voiceEventBuffer) setVoiceServer(token, endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceServer = true
	b.token = token
	b.endpoint = endpoint

	return b.hasVoiceState && b.hasVoiceServer
}

func (b *voiceEventBuffer) take() (channelID *snowflake.ID, sessionID, token, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channelID = b.channelID
	sessionID = b.sessionID
	token = b.token
	endpoint = b.endpoint

	b.hasVoiceState = false
	b.hasVoiceServer = false
	b.channelID = nil
	b.sessionID = ""
	b.token = ""
	b.endpoint = ""

	return
}

// LavalinkTransport implements ports.Transport on top of DisGoLink. Cached
// local files are loaded through the node's local source and handed to the
// per-guild player; player and websocket events are republished on the bus.
type LavalinkTransport struct {
	link    disgolink.Client
	session *discordgo.Session
	botID   snowflake.ID
	bus     *events.Bus

	pendingMu sync.Mutex
	pending   map[snowflake.ID]*pendingVoiceConnection

	voiceBufferMu sync.Mutex
	voiceBuffers  map[snowflake.ID]*voiceEventBuffer

	channelMu    sync.Mutex
	channels     map[snowflake.ID]snowflake.ID // guild -> last joined voice channel
	resignalling map[snowflake.ID]bool
}

var _ ports.Transport = (*LavalinkTransport)(nil)

// LavalinkConfig contains node connection configuration.
type LavalinkConfig struct {
	Address  string
	Password string
}

// NewLavalinkTransport creates a transport backed by a single Lavalink node.
func NewLavalinkTransport(
	session *discordgo.Session,
	bus *events.Bus,
	config LavalinkConfig,
) (*LavalinkTransport, error) {
	botID, err := snowflake.Parse(session.State.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bot ID: %w", err)
	}

	t := &LavalinkTransport{
		session:      session,
		botID:        botID,
		bus:          bus,
		pending:      make(map[snowflake.ID]*pendingVoiceConnection),
		voiceBuffers: make(map[snowflake.ID]*voiceEventBuffer),
		channels:     make(map[snowflake.ID]snowflake.ID),
		resignalling: make(map[snowflake.ID]bool),
	}

	link := disgolink.New(botID,
		disgolink.WithListenerFunc(t.onTrackStart),
		disgolink.WithListenerFunc(t.onTrackEnd),
		disgolink.WithListenerFunc(t.onTrackException),
		disgolink.WithListenerFunc(t.onTrackStuck),
		disgolink.WithListenerFunc(t.onWebSocketClosed),
	)
	t.link = link

	node, err := link.AddNode(context.Background(), disgolink.NodeConfig{
		Name:     "main",
		Address:  config.Address,
		Password: config.Password,
		Secure:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add Lavalink node: %w", err)
	}

	slog.Info("connected to Lavalink", "node", node.Config().Name, "address", config.Address)

	return t, nil
}

// Link returns the underlying DisGoLink client.
func (t *LavalinkTransport) Link() disgolink.Client {
	return t.link
}

// Connect joins the voice channel and blocks until the voice handshake
// completes or the window expires.
func (t *LavalinkTransport) Connect(ctx context.Context, guildID, channelID snowflake.ID) error {
	pending := newPendingVoiceConnection()

	t.pendingMu.Lock()
	t.pending[guildID] = pending
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, guildID)
		t.pendingMu.Unlock()
	}()

	err := t.session.ChannelVoiceJoinManual(guildID.String(), channelID.String(), false, false)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}

	select {
	case <-pending.ready:
		t.channelMu.Lock()
		t.channels[guildID] = channelID
		t.channelMu.Unlock()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancelled while waiting for voice connection: %w", ctx.Err())
	case <-time.After(voiceConnectTimeout):
		return fmt.Errorf("timeout waiting for voice connection")
	}
}

// Disconnect destroys the guild's player and leaves the voice channel.
func (t *LavalinkTransport) Disconnect(ctx context.Context, guildID snowflake.ID) error {
	t.channelMu.Lock()
	delete(t.channels, guildID)
	t.channelMu.Unlock()

	if player := t.link.ExistingPlayer(guildID); player != nil {
		if err := player.Destroy(ctx); err != nil {
			slog.Warn("failed to destroy player", "guild", guildID, "error", err)
		}
	}

	err := t.session.ChannelVoiceJoinManual(guildID.String(), "", false, false)
	if err != nil {
		return fmt.Errorf("failed to leave voice channel: %w", err)
	}
	return nil
}

// Play loads the cached local file through the node and hands it to the
// guild's player at the given volume.
func (t *LavalinkTransport) Play(ctx context.Context, guildID snowflake.ID, path string, volume int) error {
	node := t.link.BestNode()
	if node == nil {
		return fmt.Errorf("no available Lavalink node")
	}

	result, err := node.LoadTracks(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load local track: %w", err)
	}
	track, ok := result.Data.(lavalink.Track)
	if !ok {
		return fmt.Errorf("local track did not resolve to a single track: %s", path)
	}

	player := t.link.Player(guildID)
	// Encoded form sidesteps the user-data round trip on track objects.
	if err := player.Update(ctx,
		lavalink.WithEncodedTrack(track.Encoded),
		lavalink.WithVolume(volume),
		lavalink.WithPaused(false),
	); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	return nil
}

// Stop stops playback without leaving the channel.
func (t *LavalinkTransport) Stop(ctx context.Context, guildID snowflake.ID) error {
	player := t.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithNullTrack()); err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}
	return nil
}

// SetPaused pauses or resumes playback.
func (t *LavalinkTransport) SetPaused(ctx context.Context, guildID snowflake.ID, paused bool) error {
	player := t.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithPaused(paused)); err != nil {
		return fmt.Errorf("failed to set paused state: %w", err)
	}
	return nil
}

// SetVolume adjusts the player volume.
func (t *LavalinkTransport) SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	player := t.link.Player(guildID)

	if err := player.Update(ctx, lavalink.WithVolume(volume)); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	return nil
}

func (t *LavalinkTransport) onTrackStart(player disgolink.Player, event lavalink.TrackStartEvent) {
	slog.Debug("track started", "guild", player.GuildID(), "track", event.Track.Info.Title)
}

func (t *LavalinkTransport) onTrackEnd(player disgolink.Player, event lavalink.TrackEndEvent) {
	slog.Debug("track ended", "guild", player.GuildID(), "reason", event.Reason)

	t.bus.PublishTrackEnded(events.TrackEndedEvent{
		GuildID: player.GuildID(),
		Reason:  convertEndReason(event.Reason),
	})
}

func (t *LavalinkTransport) onTrackException(player disgolink.Player, event lavalink.TrackExceptionEvent) {
	t.bus.PublishPlayerError(events.PlayerErrorEvent{
		GuildID: player.GuildID(),
		Message: event.Exception.Message,
	})
}

func (t *LavalinkTransport) onTrackStuck(player disgolink.Player, event lavalink.TrackStuckEvent) {
	t.bus.PublishPlayerError(events.PlayerErrorEvent{
		GuildID: player.GuildID(),
		Message: fmt.Sprintf("track stuck past %s", event.Threshold),
	})
}

// onWebSocketClosed starts the bounded resignalling attempt. If the voice
// link cannot be re-established within the window, the transport tears
// itself down and publishes Disconnected so the session resets.
func (t *LavalinkTransport) onWebSocketClosed(player disgolink.Player, event lavalink.WebSocketClosedEvent) {
	guildID := player.GuildID()
	slog.Warn("voice websocket closed", "guild", guildID, "code", event.Code, "reason", event.Reason)

	t.channelMu.Lock()
	channelID, known := t.channels[guildID]
	if !known || t.resignalling[guildID] {
		t.channelMu.Unlock()
		return
	}
	t.resignalling[guildID] = true
	t.channelMu.Unlock()

	go t.resignal(guildID, channelID)
}

func (t *LavalinkTransport) resignal(guildID, channelID snowflake.ID) {
	defer func() {
		t.channelMu.Lock()
		delete(t.resignalling, guildID)
		t.channelMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), resignalWindow)
	defer cancel()

	if err := t.Connect(ctx, guildID, channelID); err == nil {
		slog.Info("voice link re-established", "guild", guildID)
		return
	}

	slog.Warn("resignalling window expired, tearing down voice link", "guild", guildID)

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	if err := t.Disconnect(dctx, guildID); err != nil {
		slog.Warn("failed to tear down voice link", "guild", guildID, "error", err)
	}

	t.bus.PublishDisconnected(events.DisconnectedEvent{GuildID: guildID})
}

func convertEndReason(reason lavalink.TrackEndReason) events.TrackEndReason {
	switch reason {
	case lavalink.TrackEndReasonFinished:
		return events.TrackEndFinished
	case lavalink.TrackEndReasonLoadFailed:
		return events.TrackEndLoadFailed
	case lavalink.TrackEndReasonStopped:
		return events.TrackEndStopped
	case lavalink.TrackEndReasonReplaced:
		return events.TrackEndReplaced
	case lavalink.TrackEndReasonCleanup:
		return events.TrackEndCleanup
	default:
		return events.TrackEndStopped
	}
}

// OnVoiceServerUpdate forwards Discord voice server updates to Lavalink.
// Must be wired to the gateway event handler.
func (t *LavalinkTransport) OnVoiceServerUpdate(event *discordgo.VoiceServerUpdate) {
	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		slog.Error("failed to parse guild ID in voice server update", "error", err)
		return
	}

	buffer := t.getOrCreateVoiceBuffer(guildID)
	if buffer.setVoiceServer(event.Token, event.Endpoint) {
		t.forwardBufferedVoiceEvents(guildID, buffer)
	}

	t.signalPending(guildID, false)
}

// OnVoiceStateUpdate forwards the bot's own voice state updates to Lavalink.
// Must be wired to the gateway event handler.
func (t *LavalinkTransport) OnVoiceStateUpdate(event *discordgo.VoiceStateUpdate) {
	if event.UserID != t.botID.String() {
		return
	}

	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		slog.Error("failed to parse guild ID in voice state update", "error", err)
		return
	}

	var channelID *snowflake.ID
	if event.ChannelID != "" {
		id, err := snowflake.Parse(event.ChannelID)
		if err != nil {
			slog.Error("failed to parse channel ID in voice state update", "error", err)
			return
		}
		channelID = &id
	}

	// A nil channel means the bot left; no server update will follow.
	if channelID == nil {
		t.link.OnVoiceStateUpdate(context.Background(), guildID, nil, event.SessionID)
		t.clearVoiceBuffer(guildID)
		return
	}

	buffer := t.getOrCreateVoiceBuffer(guildID)
	if buffer.setVoiceState(channelID, event.SessionID) {
		t.forwardBufferedVoiceEvents(guildID, buffer)
	}

	t.signalPending(guildID, true)
}

func (t *LavalinkTransport) signalPending(guildID snowflake.ID, isVoiceState bool) {
	t.pendingMu.Lock()
	pending := t.pending[guildID]
	t.pendingMu.Unlock()

	if pending != nil {
		pending.onEvent(isVoiceState)
	}
}

func (t *LavalinkTransport) getOrCreateVoiceBuffer(guildID snowflake.ID) *voiceEventBuffer {
	t.voiceBufferMu.Lock()
	defer t.voiceBufferMu.Unlock()

	buffer, exists := t.voiceBuffers[guildID]
	if !exists {
		buffer = &voiceEventBuffer{}
		t.voiceBuffers[guildID] = buffer
	}
	return buffer
}

func (t *LavalinkTransport) clearVoiceBuffer(guildID snowflake.ID) {
	t.voiceBufferMu.Lock()
	defer t.voiceBufferMu.Unlock()
	delete(t.voiceBuffers, guildID)
}

func (t *LavalinkTransport) forwardBufferedVoiceEvents(guildID snowflake.ID, buffer *voiceEventBuffer) {
	channelID, sessionID, token, endpoint := buffer.take()

	slog.Debug("forwarding buffered voice events to Lavalink",
		"guild", guildID,
		"channel", channelID,
	)

	t.link.OnVoiceStateUpdate(context.Background(), guildID, channelID, sessionID)
	t.link.OnVoiceServerUpdate(context.Background(), guildID, token, endpoint)
}

// Close closes the Lavalink client.
func (t *LavalinkTransport) Close() {
	t.link.Close()
}
