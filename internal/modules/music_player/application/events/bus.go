package events

import (
	"log/slog"
	"sync"
)

// DefaultEventBufferSize is the default buffer size for event channels.
const DefaultEventBufferSize = 100

// Bus is a channel-based event bus carrying transport events back into the
// session layer. Publishing is non-blocking: if a buffer is full the event
// is dropped with a warning rather than blocking the transport callbacks.
type Bus struct {
	trackEnded   chan TrackEndedEvent
	playerError  chan PlayerErrorEvent
	disconnected chan DisconnectedEvent

	closed bool
	mu     sync.RWMutex
}

// NewBus creates a Bus with the given buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBufferSize
	}

	return &Bus{
		trackEnded:   make(chan TrackEndedEvent, bufferSize),
		playerError:  make(chan PlayerErrorEvent, bufferSize),
		disconnected: make(chan DisconnectedEvent, bufferSize),
	}
}

// TrackEnded returns the receive side of the track-ended channel.
func (b *Bus) TrackEnded() <-chan TrackEndedEvent {
	return b.trackEnded
}

// PlayerError returns the receive side of the player-error channel.
func (b *Bus) PlayerError() <-chan PlayerErrorEvent {
	return b.playerError
}

// Disconnected returns the receive side of the disconnected channel.
func (b *Bus) Disconnected() <-chan DisconnectedEvent {
	return b.disconnected
}

// PublishTrackEnded publishes a TrackEndedEvent.
func (b *Bus) PublishTrackEnded(event TrackEndedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		slog.Warn("attempted to publish to closed event bus", "type", "TrackEnded")
		return
	}

	select {
	case b.trackEnded <- event:
	default:
		slog.Warn("event buffer full, dropping event", "type", "TrackEnded", "guild", event.GuildID)
	}
}

// PublishPlayerError publishes a PlayerErrorEvent.
func (b *Bus) PublishPlayerError(event PlayerErrorEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		slog.Warn("attempted to publish to closed event bus", "type", "PlayerError")
		return
	}

	select {
	case b.playerError <- event:
	default:
		slog.Warn("event buffer full, dropping event", "type", "PlayerError", "guild", event.GuildID)
	}
}

// PublishDisconnected publishes a DisconnectedEvent.
func (b *Bus) PublishDisconnected(event DisconnectedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		slog.Warn("attempted to publish to closed event bus", "type", "Disconnected")
		return
	}

	select {
	case b.disconnected <- event:
	default:
		slog.Warn("event buffer full, dropping event", "type", "Disconnected", "guild", event.GuildID)
	}
}

// Close closes the bus. Further publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	close(b.trackEnded)
	close(b.playerError)
	close(b.disconnected)
}
