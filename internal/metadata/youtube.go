package metadata

import (
	"net/url"
)

// CleanYouTubeURL drops every query parameter except v when the URL also carries
// a playlist (list) or a mix (start_radio). Other URLs are returned unchanged.
func CleanYouTubeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	query := parsed.Query()

	videoID := query.Get("v")
	if videoID == "" || (!query.Has("list") && !query.Has("start_radio")) {
		return raw
	}

	parsed.RawQuery = url.Values{"v": {videoID}}.Encode()
	parsed.Fragment = ""

	return parsed.String()
}
