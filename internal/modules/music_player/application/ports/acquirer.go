package ports

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

// MediaAcquirer produces a local, seekable audio payload for a track by
// invoking the external download tool. Acquisition is keyed by a stable
// identifier derived from the track's source URL, so repeated requests for
// the same source reuse the cached payload.
type MediaAcquirer interface {
	// Acquire returns the path of a cached local file for the track,
	// downloading it first if necessary. Safe for concurrent calls with the
	// same key; a partial download is never left in place as a terminal
	// cached result. Failures wrap domain.ErrAcquisitionFailed.
	Acquire(ctx context.Context, guildID snowflake.ID, track *domain.Track) (string, error)
}

// FileJanitor owns deletion decisions for cached payload files. A file is
// in use exactly while it backs the actively playing resource.
type FileJanitor interface {
	// MarkInUse pins a path and cancels any pending deletion timer for it.
	MarkInUse(path string)

	// MarkFree releases a pin set by MarkInUse.
	MarkFree(path string)

	// ScheduleDeletion arms a deletion timer for the path. When the timer
	// fires, deletion is a no-op if the file is back in use or already gone.
	ScheduleDeletion(path string, guildID snowflake.ID, delay time.Duration)
}
