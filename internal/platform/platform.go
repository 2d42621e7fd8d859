// Package platform maps media URLs to known hosting platforms and their capabilities.
package platform

import "strings"

// ID identifies a hosting platform.
type ID string

// Known platforms.
const (
	YouTube     ID = "youtube"
	TikTok      ID = "tiktok"
	Instagram   ID = "instagram"
	Twitter     ID = "twitter"
	Facebook    ID = "facebook"
	Vimeo       ID = "vimeo"
	Twitch      ID = "twitch"
	Reddit      ID = "reddit"
	Pinterest   ID = "pinterest"
	Dailymotion ID = "dailymotion"
	SoundCloud  ID = "soundcloud"
	Unknown     ID = "unknown"
)

// Capability describes what a platform supports.
type Capability struct {
	Name             string `json:"name"`
	Icon             string `json:"icon"`
	SupportsQuality  bool   `json:"supportsQuality"`
	SupportsTrim     bool   `json:"supportsTrim"`
	SupportsPlaylist bool   `json:"supportsPlaylist"`
	AudioOnly        bool   `json:"audioOnly"`
}

type rule struct {
	id       ID
	patterns []string
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{YouTube, []string{"youtube.com", "youtu.be"}},
	{TikTok, []string{"tiktok.com"}},
	{Instagram, []string{"instagram.com"}},
	{Twitter, []string{"twitter.com", "//x.com", ".x.com"}},
	{Facebook, []string{"facebook.com", "fb.watch", "fb.com"}},
	{Vimeo, []string{"vimeo.com"}},
	{Twitch, []string{"twitch.tv"}},
	{Reddit, []string{"reddit.com", "redd.it"}},
	{Pinterest, []string{"pinterest.com", "pin.it"}},
	{Dailymotion, []string{"dailymotion.com", "dai.ly"}},
	{SoundCloud, []string{"soundcloud.com"}},
}

// Classify returns the platform a URL belongs to, or Unknown.
func Classify(url string) ID {
	url = strings.ToLower(url)

	// scheme-less input still starts with the host
	if strings.HasPrefix(url, "x.com") {
		url = "//" + url
	}

	for _, r := range rules {
		for _, pattern := range r.patterns {
			if strings.Contains(url, pattern) {
				return r.id
			}
		}
	}

	return Unknown
}

// All returns every platform, Unknown last.
func All() []ID {
	ids := make([]ID, 0, len(rules)+1)
	for _, r := range rules {
		ids = append(ids, r.id)
	}

	return append(ids, Unknown)
}

// Capability returns the fixed capability record of the platform.
// Unrecognized ids get the Unknown record.
func (id ID) Capability() Capability {
	switch id {
	case YouTube:
		return Capability{Name: "YouTube", Icon: "▶️", SupportsQuality: true, SupportsTrim: true, SupportsPlaylist: true}
	case TikTok:
		return Capability{Name: "TikTok", Icon: "🎵", SupportsTrim: true}
	case Instagram:
		return Capability{Name: "Instagram", Icon: "📷", SupportsTrim: true}
	case Twitter:
		return Capability{Name: "Twitter/X", Icon: "🐦", SupportsQuality: true, SupportsTrim: true}
	case Facebook:
		return Capability{Name: "Facebook", Icon: "📘", SupportsQuality: true, SupportsTrim: true}
	case Vimeo:
		return Capability{Name: "Vimeo", Icon: "🎬", SupportsQuality: true, SupportsTrim: true}
	case Twitch:
		return Capability{Name: "Twitch", Icon: "🎮", SupportsQuality: true, SupportsTrim: true}
	case Reddit:
		return Capability{Name: "Reddit", Icon: "🤖", SupportsTrim: true}
	case Pinterest:
		return Capability{Name: "Pinterest", Icon: "📌"}
	case Dailymotion:
		return Capability{Name: "Dailymotion", Icon: "📺", SupportsQuality: true, SupportsTrim: true}
	case SoundCloud:
		return Capability{Name: "SoundCloud", Icon: "🔊", SupportsTrim: true, AudioOnly: true}
	default:
		return Capability{Name: "Otro", Icon: "🎬", SupportsQuality: true, SupportsTrim: true}
	}
}
