// Package videourl canonicalizes short-form video URLs and classifies them
// into a fixed set of supported platforms. All functions are pure.
package videourl

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Platform identifies a supported short-form video source.
type Platform string

const (
	PlatformYouTubeShort  Platform = "youtube-short"
	PlatformTikTok        Platform = "tiktok"
	PlatformInstagramReel Platform = "instagram-reel"
	// PlatformUnknown is returned by Detect when no pattern matches.
	PlatformUnknown Platform = ""
)

// ErrBadVideoID marks a provider-specific identifier that fails validation
// (e.g. a YouTube id that is not 11 characters from the allowed alphabet).
// These errors propagate so the submission can be rejected outright; any
// other normalization fault degrades to returning the input unchanged.
var ErrBadVideoID = errors.New("malformed video id")

// youtubeIDPattern is the exact shape of a YouTube video id.
var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// trackingParams are query parameters dropped from every URL.
var trackingParams = map[string]struct{}{
	"utm_source":      {},
	"utm_medium":      {},
	"utm_campaign":    {},
	"utm_term":        {},
	"utm_content":     {},
	"si":              {},
	"feature":         {},
	"fbclid":          {},
	"gclid":           {},
	"igsh":            {},
	"igshid":          {},
	"is_from_webapp":  {},
	"sender_device":   {},
	"ref":             {},
	"ref_src":         {},
	"share_app_id":    {},
	"share_link_id":   {},
	"_r":              {},
	"_t":              {},
}

// Normalize converts a raw URL into its canonical form: https scheme, no
// "www.", tracking parameters and fragments dropped, platform-specific path
// canonicalization applied. It is idempotent. Validation failures (bad id
// shape) return ErrBadVideoID-wrapped errors; everything else is swallowed
// and the original string comes back unchanged.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Not a parseable absolute URL; leave it to syntactic validation upstream.
		return raw, nil
	}

	u.Scheme = "https"
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	stripTracking(u)

	switch {
	case isYouTubeHost(u.Host):
		return normalizeYouTube(u)
	case isTikTokHost(u.Host):
		// Short-link hosts (vm./vt.) are preserved as-is; only noise is removed.
		u.RawQuery = ""
		u.Path = strings.TrimSuffix(u.Path, "/")
		return u.String(), nil
	case isInstagramHost(u.Host):
		u.Host = "instagram.com"
		u.RawQuery = ""
		u.Path = strings.TrimSuffix(u.Path, "/")
		return u.String(), nil
	default:
		return u.String(), nil
	}
}

func normalizeYouTube(u *url.URL) (string, error) {
	host := u.Host
	path := strings.TrimSuffix(u.Path, "/")

	// youtu.be/{id} is a generic short link. It is rewritten to /watch and
	// never assumed to be a Short: only explicit /shorts/ paths are Shorts.
	if host == "youtu.be" {
		id := strings.TrimPrefix(path, "/")
		if err := validateYouTubeID(id); err != nil {
			return "", err
		}
		return "https://youtube.com/watch?v=" + id, nil
	}

	u.Host = "youtube.com"
	switch {
	case strings.HasPrefix(path, "/shorts/"):
		id := strings.TrimPrefix(path, "/shorts/")
		if err := validateYouTubeID(id); err != nil {
			return "", err
		}
		return "https://youtube.com/shorts/" + id, nil
	case path == "/watch":
		id := u.Query().Get("v")
		if err := validateYouTubeID(id); err != nil {
			return "", err
		}
		return "https://youtube.com/watch?v=" + id, nil
	case strings.HasPrefix(path, "/embed/"):
		id := strings.TrimPrefix(path, "/embed/")
		if err := validateYouTubeID(id); err != nil {
			return "", err
		}
		return "https://youtube.com/watch?v=" + id, nil
	default:
		u.Path = path
		return u.String(), nil
	}
}

func validateYouTubeID(id string) error {
	if !youtubeIDPattern.MatchString(id) {
		return fmt.Errorf("%w: youtube id %q must be 11 characters of [A-Za-z0-9_-]", ErrBadVideoID, id)
	}
	return nil
}

// YouTubeVideoID extracts the video id from a normalized YouTube URL.
func YouTubeVideoID(normalized string) (string, error) {
	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	var id string
	switch {
	case strings.HasPrefix(u.Path, "/shorts/"):
		id = strings.TrimPrefix(u.Path, "/shorts/")
	case u.Path == "/watch":
		id = u.Query().Get("v")
	case u.Host == "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	}
	if err := validateYouTubeID(id); err != nil {
		return "", err
	}
	return id, nil
}

func stripTracking(u *url.URL) {
	q := u.Query()
	for key := range q {
		if _, drop := trackingParams[key]; drop || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
}

func isYouTubeHost(host string) bool {
	return host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be"
}

func isTikTokHost(host string) bool {
	return host == "tiktok.com" || host == "m.tiktok.com" ||
		host == "vm.tiktok.com" || host == "vt.tiktok.com"
}

func isInstagramHost(host string) bool {
	return host == "instagram.com" || host == "m.instagram.com"
}

// pattern pairs a platform with the predicates that claim a normalized URL.
type pattern struct {
	platform Platform
	match    func(u *url.URL) bool
}

// Ordered: first match wins.
var detectPatterns = []pattern{
	{PlatformYouTubeShort, func(u *url.URL) bool {
		return isYouTubeHost(u.Host) && (strings.HasPrefix(u.Path, "/shorts/") || u.Path == "/watch" || u.Host == "youtu.be")
	}},
	{PlatformTikTok, func(u *url.URL) bool {
		return isTikTokHost(u.Host)
	}},
	{PlatformInstagramReel, func(u *url.URL) bool {
		return isInstagramHost(u.Host) && (strings.HasPrefix(u.Path, "/reel/") || strings.HasPrefix(u.Path, "/reels/"))
	}},
}

// Detect classifies a normalized URL. It returns PlatformUnknown rather than
// guessing; the caller decides how to surface an unsupported platform.
func Detect(normalized string) Platform {
	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return PlatformUnknown
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Host = host
	for _, p := range detectPatterns {
		if p.match(u) {
			return p.platform
		}
	}
	return PlatformUnknown
}
