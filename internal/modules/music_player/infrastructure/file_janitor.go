package infrastructure

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/mvelle/quaver/internal/modules/music_player/application/ports"
)

// FileJanitor tracks which cached payload files are in use and performs
// delayed, safe deletion once a file is both free and past its grace period.
// It is the single owner of deletion decisions for the cache directory.
type FileJanitor struct {
	mu     sync.Mutex
	inUse  map[string]int // refcount; a file can back looped replays
	timers map[string]*time.Timer
}

var _ ports.FileJanitor = (*FileJanitor)(nil)

// NewFileJanitor creates an empty FileJanitor.
func NewFileJanitor() *FileJanitor {
	return &FileJanitor{
		inUse:  make(map[string]int),
		timers: make(map[string]*time.Timer),
	}
}

// MarkInUse pins the path and cancels any pending deletion, so a looped
// replay never loses its file to an earlier timer.
func (j *FileJanitor) MarkInUse(path string) {
	if path == "" {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.inUse[path]++
	if timer, ok := j.timers[path]; ok {
		timer.Stop()
		delete(j.timers, path)
	}
}

// MarkFree releases one pin on the path.
func (j *FileJanitor) MarkFree(path string) {
	if path == "" {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.inUse[path] <= 1 {
		delete(j.inUse, path)
		return
	}
	j.inUse[path]--
}

// ScheduleDeletion arms a deletion timer for the path. A previously armed
// timer is replaced. When the timer fires, deletion is a no-op if the file
// is back in use or already absent.
func (j *FileJanitor) ScheduleDeletion(path string, guildID snowflake.ID, delay time.Duration) {
	if path == "" {
		return
	}
	if delay < 0 {
		delay = 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if timer, ok := j.timers[path]; ok {
		timer.Stop()
	}
	j.timers[path] = time.AfterFunc(delay, func() {
		j.deleteIfFree(path, guildID)
	})
}

func (j *FileJanitor) deleteIfFree(path string, guildID snowflake.ID) {
	j.mu.Lock()
	delete(j.timers, path)
	if j.inUse[path] > 0 {
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to delete cached file", "path", path, "guild", guildID, "error", err)
		return
	}
	slog.Debug("deleted cached file", "path", path, "guild", guildID)
}

// Close cancels all pending deletion timers.
func (j *FileJanitor) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()

	for path, timer := range j.timers {
		timer.Stop()
		delete(j.timers, path)
	}
}
