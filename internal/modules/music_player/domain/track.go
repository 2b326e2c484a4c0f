package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies where a track's audio comes from.
type SourceKind string

const (
	// SourceRemoteVideo is a remote video platform resolved through the
	// download tool (currently the only kind).
	SourceRemoteVideo SourceKind = "remote_video"
)

// Track is a single playable unit. The source URL is the track's stable
// identity for caching; CachedPath is set once the Media Acquirer has
// produced a local file.
type Track struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	Duration     time.Duration `json:"duration"` // 0 = unknown or unbounded
	Requester    string        `json:"requester"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	CachedPath   string        `json:"cached_path,omitempty"`
	Kind         SourceKind    `json:"kind"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
}

// NewTrack creates a Track with a fresh instance ID.
func NewTrack(title, url string, duration time.Duration, requester, thumbnailURL string) *Track {
	return &Track{
		ID:           uuid.NewString(),
		Title:        title,
		URL:          url,
		Duration:     duration,
		Requester:    requester,
		ThumbnailURL: thumbnailURL,
		Kind:         SourceRemoteVideo,
		EnqueuedAt:   time.Now().UTC(),
	}
}

// Copy returns a fresh logical copy of the track for loop re-insertion.
// The copy gets its own instance ID but keeps the source URL and the cached
// file path, so a looped replay reuses the already acquired payload.
func (t *Track) Copy() *Track {
	c := *t
	c.ID = uuid.NewString()
	return &c
}

// FormattedDuration returns the duration as mm:ss or hh:mm:ss.
func (t *Track) FormattedDuration() string {
	if t.Duration == 0 {
		return "LIVE"
	}
	return FormatDuration(t.Duration)
}

// FormatDuration renders a duration as mm:ss, or hh:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return pad(hours) + ":" + pad(minutes) + ":" + pad(seconds)
	}
	return pad(minutes) + ":" + pad(seconds)
}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
