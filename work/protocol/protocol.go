package protocol

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

// Tag identifies the streaming protocol family of a URL. Classification is a
// pure, total function: every input maps to exactly one tag, with TagUnknown
// as the terminal fallback.
type Tag string

const (
	TagHLS             Tag = "hls"
	TagDASH            Tag = "dash"
	TagRTMP            Tag = "rtmp"
	TagRTSP            Tag = "rtsp"
	TagUDP             Tag = "udp"
	TagHTTPTS          Tag = "http_ts"
	TagHTTPProgressive Tag = "http_progressive"
	TagUnknown         Tag = "unknown"
)

// signature couples a protocol tag with its URL patterns. The list is ordered
// by priority; the first matching tag wins, so manifest formats (HLS/DASH)
// take precedence over container extensions further down.
type signature struct {
	tag      Tag
	patterns []*regexp.Regexp
}

var signatures = []signature{
	{TagHLS, compileAll(
		`\.m3u8`,
		`/hls/`,
	)},
	{TagDASH, compileAll(
		`\.mpd`,
		`/dash/`,
	)},
	{TagRTMP, compileAll(
		`^rtmp://`,
		`^rtmps://`,
		`^rtmpe://`,
	)},
	{TagRTSP, compileAll(
		`^rtsp://`,
		`^rtsps://`,
	)},
	{TagUDP, compileAll(
		`^udp://`,
		`@\d+\.\d+\.\d+\.\d+:\d+`, // multicast address embedded after '@'
	)},
	{TagHTTPTS, compileAll(
		`\.ts$`,
		`\.ts\?`,
		`/mpegts/`,
	)},
	{TagHTTPProgressive, compileAll(
		`\.mp4`,
		`\.mkv`,
		`\.avi`,
		`\.mov`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Detect classifies a stream URL into a protocol Tag. It first walks the
// ordered signature list, then falls back to the URL scheme, and returns
// TagUnknown when neither yields a match.
func Detect(rawURL string) Tag {
	lower := strings.ToLower(rawURL)

	for _, sig := range signatures {
		for _, pattern := range sig.patterns {
			if pattern.MatchString(lower) {
				return sig.tag
			}
		}
	}

	// Scheme fallback for URLs with no recognizable body pattern.
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return TagUnknown
	}
	switch strings.ToLower(parsed.Scheme) {
	case "rtmp", "rtmps", "rtmpe":
		return TagRTMP
	case "rtsp", "rtsps":
		return TagRTSP
	case "udp":
		return TagUDP
	case "http", "https":
		return TagHTTPProgressive
	}

	return TagUnknown
}

// HLSKind distinguishes live HLS streams from VOD playlists, which want very
// different buffer depths.
type HLSKind string

const (
	HLSLive HLSKind = "live"
	HLSVOD  HLSKind = "vod"
)

var liveIndicators = []string{
	"live", "channel", "stream", "broadcast",
	"pluto.tv", "twitch.tv", "youtube.com/live",
}

var vodIndicators = []string{
	"vod", "video", "media", "content", "archive",
	".mp4", ".mkv", "recorded",
}

// DetectHLSKind guesses whether an HLS URL is live or VOD from keyword
// heuristics. Most IPTV playlists are live, so live indicators are checked
// first and ambiguity resolves to live.
func DetectHLSKind(rawURL string) HLSKind {
	lower := strings.ToLower(rawURL)

	for _, indicator := range liveIndicators {
		if strings.Contains(lower, indicator) {
			return HLSLive
		}
	}
	for _, indicator := range vodIndicators {
		if strings.Contains(lower, indicator) {
			return HLSVOD
		}
	}

	return HLSLive
}
