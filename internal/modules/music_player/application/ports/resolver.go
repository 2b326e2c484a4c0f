package ports

import (
	"context"
	"time"
)

// ResolvedTrack is a candidate produced by the track resolver before any
// settings constraints are applied.
type ResolvedTrack struct {
	Title        string
	URL          string
	Duration     time.Duration // 0 = unknown
	ThumbnailURL string
}

// TrackResolver turns a user query (URL or free text) into track candidates.
type TrackResolver interface {
	// Resolve returns the canonical track for a query: direct metadata for a
	// URL, or the first search hit for free text. Returns domain.ErrNoResults
	// when nothing matches.
	Resolve(ctx context.Context, query string) (*ResolvedTrack, error)

	// Search returns up to limit candidates for free-text disambiguation.
	Search(ctx context.Context, query string, limit int) ([]*ResolvedTrack, error)
}
