package platform_test

import (
	"testing"

	"downloadflow/internal/platform"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want platform.ID
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", platform.YouTube},
		{"https://youtu.be/dQw4w9WgXcQ", platform.YouTube},
		{"HTTPS://WWW.YOUTUBE.COM/watch?v=x", platform.YouTube},
		{"https://www.tiktok.com/@user/video/1", platform.TikTok},
		{"https://www.instagram.com/reel/abc/", platform.Instagram},
		{"https://twitter.com/u/status/1", platform.Twitter},
		{"https://x.com/u/status/1", platform.Twitter},
		{"https://mobile.x.com/u/status/1", platform.Twitter},
		{"x.com/user/status/1", platform.Twitter},
		{"X.com/user/status/1", platform.Twitter},
		{"https://fb.watch/abc", platform.Facebook},
		{"https://www.facebook.com/watch?v=1", platform.Facebook},
		{"https://vimeo.com/123", platform.Vimeo},
		{"https://www.twitch.tv/videos/1", platform.Twitch},
		{"https://redd.it/abc", platform.Reddit},
		{"https://pin.it/abc", platform.Pinterest},
		{"https://dai.ly/x7", platform.Dailymotion},
		{"https://soundcloud.com/artist/track", platform.SoundCloud},
		{"https://www.netflix.com/title/1", platform.Unknown},
		{"https://example.com/video.mp4", platform.Unknown},
		{"https://www.linx.com/video", platform.Unknown},
		{"", platform.Unknown},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			t.Parallel()

			if got := platform.Classify(tc.url); got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestCapabilityTotal(t *testing.T) {
	seen := make(map[string]bool)

	for _, id := range platform.All() {
		capability := id.Capability()
		if capability.Name == "" || capability.Icon == "" {
			t.Errorf("%s: empty capability %+v", id, capability)
		}

		if seen[capability.Name] {
			t.Errorf("%s: duplicate capability name %q", id, capability.Name)
		}

		seen[capability.Name] = true
	}

	if got := platform.ID("myspace").Capability(); got != platform.Unknown.Capability() {
		t.Errorf("unrecognized id capability = %+v, want unknown", got)
	}
}

func TestCapabilityFlags(t *testing.T) {
	tests := []struct {
		id       platform.ID
		quality  bool
		trim     bool
		playlist bool
	}{
		{platform.YouTube, true, true, true},
		{platform.TikTok, false, true, false},
		{platform.Pinterest, false, false, false},
		{platform.SoundCloud, false, true, false},
		{platform.Unknown, true, true, false},
	}

	for _, tc := range tests {
		c := tc.id.Capability()
		if c.SupportsQuality != tc.quality || c.SupportsTrim != tc.trim || c.SupportsPlaylist != tc.playlist {
			t.Errorf("%s capability = %+v", tc.id, c)
		}
	}

	if !platform.SoundCloud.Capability().AudioOnly {
		t.Error("soundcloud should be audio only")
	}
}

func TestCapabilityIcons(t *testing.T) {
	tests := []struct {
		id   platform.ID
		icon string
	}{
		{platform.YouTube, "▶️"},
		{platform.Instagram, "📷"},
		{platform.Twitter, "🐦"},
		{platform.Reddit, "🤖"},
		{platform.Dailymotion, "📺"},
		{platform.SoundCloud, "🔊"},
		{platform.Unknown, "🎬"},
	}

	for _, tc := range tests {
		if got := tc.id.Capability().Icon; got != tc.icon {
			t.Errorf("%s icon = %q, want %q", tc.id, got, tc.icon)
		}
	}
}
