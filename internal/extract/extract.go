// Package extract finds the meeting link buried in an event's free-text
// fields and normalizes it.
package extract

import (
	"net/url"
	"strings"

	"nextmeet/internal/platform"
)

// Fields are the event text fields scanned for a meeting link, in priority
// order. Any of them may be empty.
type Fields struct {
	VirtualConferenceURL string
	URL                  string
	Location             string
	Notes                string
}

func (f Fields) ordered() [4]string {
	return [4]string{f.VirtualConferenceURL, f.URL, f.Location, f.Notes}
}

// Match is a sanitized meeting URL and the platform it was recognized as.
type Match struct {
	URL      string
	Platform platform.Platform
}

// URL returns the best meeting URL found in f.
func URL(f Fields) (string, bool) {
	m, ok := URLWithPlatform(f)
	return m.URL, ok
}

// URLWithPlatform returns the meeting URL from the highest-priority field
// that holds a valid link, together with its platform.
//
// Inside a field patterns are tried in platform declaration order and only
// the first match of each pattern is considered. A template link without a
// meeting code counts as no match, so later patterns in the same field still
// get their turn before the next field is tried.
func URLWithPlatform(f Fields) (Match, bool) {
	for _, text := range f.ordered() {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if m, ok := scanField(text); ok {
			return m, true
		}
	}
	return Match{}, false
}

func scanField(text string) (Match, bool) {
	for _, p := range platform.All() {
		for _, re := range p.Config().Patterns {
			candidate := re.FindString(text)
			if candidate == "" {
				continue
			}
			if Meaningless(candidate, p) {
				continue
			}
			return Match{URL: Sanitize(candidate), Platform: p}, true
		}
	}
	return Match{}, false
}

var zoomTemplateSuffixes = []string{"/j", "/meeting", "/webinar", "/my"}

// Meaningless reports whether u matched a platform pattern but lacks the
// meeting code, e.g. "https://zoom.us/j/" or "https://meet.google.com/".
// Unknown URLs are never considered meaningless.
func Meaningless(u string, p platform.Platform) bool {
	path := strings.ToLower(urlPath(u))
	switch p {
	case platform.Zoom:
		path = strings.TrimSuffix(path, "/")
		for _, s := range zoomTemplateSuffixes {
			if strings.HasSuffix(path, s) {
				return true
			}
		}
		return false
	case platform.GoogleMeet:
		return path == "" || path == "/"
	default:
		return false
	}
}

// urlPath returns the path portion of a raw URL string without parsing it,
// so that malformed escapes do not hide a template link.
func urlPath(u string) string {
	if _, rest, ok := strings.Cut(u, "://"); ok {
		u = rest
	}
	u, _, _ = strings.Cut(u, "#")
	u, _, _ = strings.Cut(u, "?")
	if i := strings.IndexByte(u, '/'); i >= 0 {
		return u[i:]
	}
	return ""
}

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
}

// Sanitize removes tracking query parameters from u. Other parameters keep
// their original encoding and order; the "?" is dropped when nothing
// remains. Strings that do not parse as URLs are returned unchanged.
func Sanitize(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	if parsed.RawQuery == "" && !parsed.ForceQuery {
		return u
	}

	kept := make([]string, 0, strings.Count(parsed.RawQuery, "&")+1)
	removed := false
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
			removed = true
			continue
		}
		kept = append(kept, pair)
	}
	if !removed && !parsed.ForceQuery {
		return u
	}

	parsed.RawQuery = strings.Join(kept, "&")
	parsed.ForceQuery = false
	return parsed.String()
}
