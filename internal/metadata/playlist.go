package metadata

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"downloadflow/internal/entity"
)

const youtubeWatchURL = "https://www.youtube.com/watch?v="

type rawPlaylistEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

func single() entity.PlaylistInfo {
	return entity.PlaylistInfo{IsPlaylist: false, VideoCount: 1}
}

// LooksLikePlaylist reports whether a URL may point at a playlist.
func LooksLikePlaylist(rawURL string) bool {
	return strings.Contains(rawURL, "playlist") || strings.Contains(rawURL, "list=")
}

// Detect lists the entries of a playlist URL. Anything that is not a readable,
// non-empty playlist is reported as a single video.
func (f *Fetcher) Detect(ctx context.Context, rawURL string) entity.PlaylistInfo {
	if !LooksLikePlaylist(rawURL) {
		return single()
	}

	log := f.log.With(slog.String("url", rawURL))

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Info.Timeout)
	defer cancel()

	args := []string{"--flat-playlist", "--dump-json"}
	args = append(args, f.commonArgs()...)
	args = append(args, rawURL)

	stdout, err := f.runner.Run(ctx, f.locator.LocateExtractor(), args...)
	if err != nil {
		f.metrics.RecordExtractorRequest(operationPlaylist, "error")
		log.WarnContext(ctx, "playlist detection failed", slog.Any("error", err))

		return single()
	}

	items := parsePlaylist(stdout)
	if len(items) == 0 {
		f.metrics.RecordExtractorRequest(operationPlaylist, "empty")

		return single()
	}

	f.metrics.RecordExtractorRequest(operationPlaylist, "ok")
	log.InfoContext(ctx, "playlist detected", slog.Int("count", len(items)))

	return entity.PlaylistInfo{IsPlaylist: true, VideoCount: len(items), Items: items}
}

func parsePlaylist(out string) []entity.PlaylistItem {
	var items []entity.PlaylistItem

	for line := range strings.SplitSeq(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry rawPlaylistEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil || entry.ID == "" {
			continue
		}

		item := entity.PlaylistItem{
			ID:       entry.ID,
			Title:    entry.Title,
			URL:      entry.URL,
			Duration: entry.Duration,
		}

		if item.Title == "" {
			item.Title = "Video " + entry.ID
		}

		if item.URL == "" {
			item.URL = youtubeWatchURL + entry.ID
		}

		items = append(items, item)
	}

	return items
}
