package entity

import "log/slog"

// Format is a single downloadable format reported by the extractor.
type Format struct {
	FormatID   string  `json:"formatId"`
	Ext        string  `json:"ext"`
	Height     int     `json:"height,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
	FileSize   int64   `json:"filesize,omitempty"`
	TBR        float64 `json:"tbr,omitempty"`
	FormatNote string  `json:"formatNote,omitempty"`
}

// VideoInfo is the metadata shown before a download starts.
type VideoInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Thumbnail   string   `json:"thumbnail"`
	Duration    float64  `json:"duration"`
	Uploader    string   `json:"uploader"`
	ViewCount   int64    `json:"viewCount"`
	UploadDate  string   `json:"uploadDate"`
	Description string   `json:"description"`
	Qualities   []int    `json:"qualities"` // distinct video heights, descending
	Formats     []Format `json:"formats"`

	Platform         string `json:"platform"`
	PlatformName     string `json:"platformName"`
	PlatformIcon     string `json:"platformIcon"`
	SupportsQuality  bool   `json:"supportsQuality"`
	SupportsTrim     bool   `json:"supportsTrim"`
	SupportsPlaylist bool   `json:"supportsPlaylist"`
	AudioOnly        bool   `json:"audioOnly"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (v VideoInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", v.ID),
		slog.String("title", v.Title),
		slog.String("platform", v.Platform),
		slog.Float64("duration", v.Duration),
		slog.Int("qualities", len(v.Qualities)),
		slog.Int("formats", len(v.Formats)),
	)
}

// PlaylistItem is one entry of a flat playlist listing.
type PlaylistItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

// PlaylistInfo is the result of playlist detection.
type PlaylistInfo struct {
	IsPlaylist bool           `json:"isPlaylist"`
	VideoCount int            `json:"videoCount"`
	Items      []PlaylistItem `json:"videos,omitempty"`
}
