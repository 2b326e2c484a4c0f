package infrastructure

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/lrstanley/go-ytdlp"

	"github.com/mvelle/quaver/internal/modules/music_player/application/ports"
	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

// audioFormat prefers containers the transport can stream without remuxing.
const audioFormat = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"

var (
	videoIDParamRegex = regexp.MustCompile(`(?:\?|&)v=([^&]+)`)
	videoIDShortRegex = regexp.MustCompile(`youtu\.be/([^?&/]+)`)
)

// YtdlpAcquirer downloads track audio into an on-disk cache by invoking
// yt-dlp as a subprocess. The cache is keyed by a stable identifier derived
// from the source URL and scoped per guild; concurrent acquisitions for the
// same key are serialized with a per-key lock so a download never races
// itself.
type YtdlpAcquirer struct {
	cacheDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ ports.MediaAcquirer = (*YtdlpAcquirer)(nil)

// NewYtdlpAcquirer creates an acquirer rooted at cacheDir.
func NewYtdlpAcquirer(cacheDir string) *YtdlpAcquirer {
	return &YtdlpAcquirer{
		cacheDir: cacheDir,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Acquire returns a cached local file for the track, downloading it first if
// necessary. Any non-zero exit of the download tool surfaces as
// domain.ErrAcquisitionFailed with the captured diagnostics attached.
func (a *YtdlpAcquirer) Acquire(ctx context.Context, guildID snowflake.ID, track *domain.Track) (string, error) {
	dir := filepath.Join(a.cacheDir, guildID.String())
	target := filepath.Join(dir, CacheKey(track.URL)+".webm")

	lock := a.keyLock(target)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(target); err == nil {
		slog.Debug("cache hit", "guild", guildID, "path", target)
		return target, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create cache dir: %v", domain.ErrAcquisitionFailed, err)
	}

	// Download to a temp name and rename on success so a partial file is
	// never observable as a terminal cached result.
	tmp := target + ".part"
	defer os.Remove(tmp)

	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		NoCheckCertificates().
		PreferFreeFormats().
		NoPart().
		Format(audioFormat).
		Output(tmp)

	res, err := cmd.Run(ctx, track.URL)
	if err != nil {
		diag := ""
		if res != nil {
			diag = strings.TrimSpace(res.Stderr)
		}
		return "", fmt.Errorf("%w: yt-dlp: %v: %s", domain.ErrAcquisitionFailed, err, diag)
	}
	if _, err := os.Stat(tmp); err != nil {
		return "", fmt.Errorf("%w: yt-dlp produced no output file", domain.ErrAcquisitionFailed)
	}

	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("%w: install cached file: %v", domain.ErrAcquisitionFailed, err)
	}

	slog.Info("acquired track audio", "guild", guildID, "track", track.Title, "path", target)
	return target, nil
}

func (a *YtdlpAcquirer) keyLock(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	return lock
}

// CacheKey derives the stable cache identifier for a source URL: the video
// ID where one can be extracted, otherwise a digest of the URL itself.
func CacheKey(url string) string {
	if m := videoIDParamRegex.FindStringSubmatch(url); len(m) == 2 {
		return m[1]
	}
	if m := videoIDShortRegex.FindStringSubmatch(url); len(m) == 2 {
		return m[1]
	}
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
