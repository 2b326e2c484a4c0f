package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/mvelle/quaver/internal/modules/music_player/application/ports"
	"github.com/mvelle/quaver/internal/modules/music_player/domain"
)

const searchTimeout = 5 * time.Second

// YtdlpResolver turns a user query into track candidates. Direct URLs get
// canonical metadata in a single yt-dlp round trip; free text fans out to
// the search providers and the results are merged, deduplicated by video ID.
type YtdlpResolver struct{}

var _ ports.TrackResolver = (*YtdlpResolver)(nil)

// NewYtdlpResolver creates a YtdlpResolver.
func NewYtdlpResolver() *YtdlpResolver {
	return &YtdlpResolver{}
}

// Resolve returns the canonical track for the query, or the first search hit
// for free text. Returns domain.ErrNoResults when nothing matches.
func (r *YtdlpResolver) Resolve(ctx context.Context, query string) (*ports.ResolvedTrack, error) {
	query = strings.TrimSpace(query)

	if isURL(query) {
		return r.fetchMetadata(ctx, canonicalURL(query))
	}

	candidates, err := r.Search(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoResults
	}
	// The search providers only return title and URL; one metadata round
	// trip fills in duration and thumbnail.
	return r.fetchMetadata(ctx, candidates[0].URL)
}

// Search queries the search providers concurrently and returns up to limit
// merged candidates.
func (r *YtdlpResolver) Search(ctx context.Context, query string, limit int) ([]*ports.ResolvedTrack, error) {
	if limit <= 0 {
		limit = 5
	}

	sctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		yt   []*ports.ResolvedTrack
		ytm  []*ports.ResolvedTrack
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		res, err := c.Search(sctx, query)
		if err != nil {
			slog.Debug("video search failed", "query", query, "error", err)
			return
		}
		for _, v := range res.Results {
			if v.VideoID == "" {
				continue
			}
			mu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, &ports.ResolvedTrack{
					Title: v.Title,
					URL:   "https://www.youtube.com/watch?v=" + v.VideoID,
				})
			}
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(query)
		res, err := s.Next()
		if err != nil {
			slog.Debug("music search failed", "query", query, "error", err)
			return
		}
		for _, v := range res.Tracks {
			if v.VideoID == "" {
				continue
			}
			title := v.Title
			if len(v.Artists) > 0 {
				title = v.Title + " - " + v.Artists[0].Name
			}
			mu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, &ports.ResolvedTrack{
					Title: title,
					URL:   "https://www.youtube.com/watch?v=" + v.VideoID,
				})
			}
			mu.Unlock()
		}
	}()
	wg.Wait()

	merged := append(yt, ytm...)
	if len(merged) == 0 {
		return nil, domain.ErrNoResults
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// fetchMetadata asks yt-dlp for canonical title, duration, and thumbnail in
// one subprocess invocation without downloading anything.
func (r *YtdlpResolver) fetchMetadata(ctx context.Context, u string) (*ports.ResolvedTrack, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		NoCheckCertificates().
		Print("%(title)s\t%(duration)s\t%(thumbnail)s\t%(webpage_url)s")

	res, err := cmd.Run(ctx, "--skip-download", u)
	if err != nil {
		diag := ""
		if res != nil {
			diag = strings.TrimSpace(res.Stderr)
		}
		return nil, fmt.Errorf("%w: %v: %s", domain.ErrNoResults, err, diag)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}
		duration, _ := time.ParseDuration(parts[1] + "s")
		resolved := &ports.ResolvedTrack{
			Title:        parts[0],
			Duration:     duration,
			ThumbnailURL: parts[2],
			URL:          parts[3],
		}
		if resolved.URL == "" || resolved.URL == "NA" {
			resolved.URL = u
		}
		if resolved.ThumbnailURL == "NA" {
			resolved.ThumbnailURL = ""
		}
		return resolved, nil
	}
	return nil, domain.ErrNoResults
}

// canonicalURL normalizes a direct source URL: playlist-selector parameters
// are stripped so a link shared from a playlist resolves to the single
// video, and music-subdomain links resolve through the main site.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.Replace(u.Host, "music.youtube.com", "www.youtube.com", 1)

	q := u.Query()
	q.Del("list")
	q.Del("index")
	q.Del("start_radio")
	u.RawQuery = q.Encode()
	return u.String()
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") ||
		strings.HasPrefix(input, "https://") ||
		strings.HasPrefix(input, "www.")
}
