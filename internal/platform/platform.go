// Package platform classifies meeting URLs by video-conference provider.
package platform

import (
	"fmt"
	"regexp"
)

// Platform identifies the provider behind a meeting URL.
//
// Unknown is the zero value and the residual classification, but it is
// declared last: classification walks All() in order and Unknown only wins
// when nothing before it matched.
type Platform int

const (
	Unknown Platform = iota
	Zoom
	GoogleMeet
)

// Config is the immutable presentation and matching data of a platform.
type Config struct {
	DisplayName string
	ShortName   string
	// Icon and Color are opaque tokens interpreted by the UI.
	Icon     string
	Color    string
	Patterns []*regexp.Regexp
}

// tail matches the rest of a URL, never ending in sentence punctuation.
const tail = `(?:[^\s<>"']*[^\s<>"'.,;:!?)\]])?`

var configs = map[Platform]Config{
	Zoom: {
		DisplayName: "Zoom",
		ShortName:   "Zoom",
		Icon:        "video.fill",
		Color:       "blue",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)https?://(?:[a-z0-9-]+\.)?zoom\.us/(?:j|s|w|my|meeting|webinar|wc/join)/` + tail),
			regexp.MustCompile(`(?i)https?://(?:[a-z0-9-]+\.)?zoomgov\.com/(?:j|s|w|my|meeting|webinar)/` + tail),
			// vanity hosts, e.g. https://acme.zoom.us/...; the bare host root is not a meeting.
			regexp.MustCompile(`(?i)https?://[a-z0-9-]+\.zoom\.us/[a-z0-9]` + tail),
		},
	},
	GoogleMeet: {
		DisplayName: "Google Meet",
		ShortName:   "Meet",
		Icon:        "video.circle.fill",
		Color:       "green",
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)https?://meet\.google\.com/[a-z]{3}-[a-z]{4}-[a-z]{3}\b(?:\?[^\s<>"']*[^\s<>"'.,;:!?)\]])?`),
			regexp.MustCompile(`(?i)https?://meet\.google\.com/lookup/` + tail),
			regexp.MustCompile(`(?i)https?://meet\.google\.com(?:/` + tail + `)?`),
		},
	},
	Unknown: {
		DisplayName: "Unknown",
		ShortName:   "Other",
		Icon:        "link",
		Color:       "gray",
	},
}

var order = []Platform{Zoom, GoogleMeet, Unknown}

// All returns every platform in declaration (evaluation) order.
func All() []Platform {
	out := make([]Platform, len(order))
	copy(out, order)
	return out
}

// Config returns the platform configuration. Unknown values get the Unknown config.
func (p Platform) Config() Config {
	if c, ok := configs[p]; ok {
		return c
	}
	return configs[Unknown]
}

func (p Platform) String() string {
	switch p {
	case Zoom:
		return "zoom"
	case GoogleMeet:
		return "google_meet"
	default:
		return "unknown"
	}
}

func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(b []byte) error {
	switch string(b) {
	case "zoom":
		*p = Zoom
	case "google_meet":
		*p = GoogleMeet
	case "unknown", "":
		*p = Unknown
	default:
		return fmt.Errorf("platform: unknown value %q", string(b))
	}
	return nil
}

// Matches reports whether any of the platform's patterns match url.
// Unknown matches exactly when no other platform does.
func (p Platform) Matches(url string) bool {
	if p == Unknown {
		for _, other := range order {
			if other != Unknown && other.Matches(url) {
				return false
			}
		}
		return true
	}
	for _, re := range p.Config().Patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Classify returns the first platform, in declaration order, whose patterns
// match url, or Unknown.
func Classify(url string) Platform {
	for _, p := range order {
		if p == Unknown {
			continue
		}
		if p.Matches(url) {
			return p
		}
	}
	return Unknown
}
