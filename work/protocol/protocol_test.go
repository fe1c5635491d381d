package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"iptv-kiosk/work/capability"
	"iptv-kiosk/work/config"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Tag
	}{
		{"hls master playlist", "http://example.com/live/master.m3u8", TagHLS},
		{"hls with query", "https://cdn.example.com/stream.m3u8?token=abc", TagHLS},
		{"hls path marker", "http://example.com/hls/channel1/index", TagHLS},
		{"dash manifest", "https://example.com/vod/manifest.mpd", TagDASH},
		{"dash path marker", "http://example.com/dash/channel/stream", TagDASH},
		{"rtmp", "rtmp://media.example.com/live/stream1", TagRTMP},
		{"rtmps", "rtmps://media.example.com/live/stream1", TagRTMP},
		{"rtmpe", "rtmpe://media.example.com/live/stream1", TagRTMP},
		{"rtsp", "rtsp://camera.example.com:554/stream", TagRTSP},
		{"rtsps", "rtsps://camera.example.com:554/stream", TagRTSP},
		{"udp multicast", "udp://239.1.1.1:5004", TagUDP},
		{"multicast at-sign form", "http://192.168.1.1/udp/@239.1.1.1:5004", TagUDP},
		{"transport stream", "http://example.com/channel.ts", TagHTTPTS},
		{"transport stream with query", "http://example.com/channel.ts?auth=1", TagHTTPTS},
		{"mpegts path marker", "http://example.com/mpegts/channel", TagHTTPTS},
		{"progressive mp4", "http://example.com/movies/clip.mp4", TagHTTPProgressive},
		{"progressive mkv", "http://example.com/movies/film.mkv", TagHTTPProgressive},
		{"plain http no extension", "https://example.com/stream/48213", TagHTTPProgressive},
		{"ftp scheme no markers", "ftp://example.com/file", TagUnknown},
		{"ftp with ts extension", "ftp://example.com/file.ts", TagHTTPTS},
		{"unknown scheme no markers", "gopher://example.com/thing", TagUnknown},
		{"empty string", "", TagUnknown},
		{"garbage", "not a url at all", TagUnknown},
		{"uppercase url", "HTTP://EXAMPLE.COM/MASTER.M3U8", TagHLS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.url))
		})
	}
}

func TestDetectIdempotent(t *testing.T) {
	urls := []string{
		"http://example.com/live/master.m3u8",
		"rtmp://media.example.com/live",
		"udp://239.1.1.1:5004",
		"https://example.com/stream/48213",
		"",
	}
	for _, u := range urls {
		first := Detect(u)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, Detect(u), "url %q", u)
		}
	}
}

func TestDetectHLSKind(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want HLSKind
	}{
		{"live keyword", "http://example.com/live/stream.m3u8", HLSLive},
		{"channel keyword", "http://example.com/channel/5/index.m3u8", HLSLive},
		{"vod keyword", "http://example.com/vod/title.m3u8", HLSVOD},
		{"archive keyword", "http://example.com/archive/film.m3u8", HLSVOD},
		{"mp4 marker", "http://cdn.net/title.mp4/index.m3u8", HLSVOD},
		{"no keywords defaults live", "http://example.com/abc123.m3u8", HLSLive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectHLSKind(tt.url))
		})
	}
}

func TestOptimizeLastResortFragments(t *testing.T) {
	opt := NewOptimizer(config.Default().Tuning)

	tests := []struct {
		name     string
		url      string
		contains string
	}{
		{"hls live gets short cache", "http://example.com/live/stream.m3u8", "--cache-secs=2"},
		{"hls vod gets long cache", "http://example.com/vod/movie.m3u8", "--cache-secs=10"},
		{"udp gets tiny cache", "udp://239.1.1.1:5004", "--cache-secs=0.5"},
		{"rtsp forces tcp transport", "rtsp://camera.example.com/stream", "--rtsp-transport=tcp"},
		{"progressive gets deep cache", "http://example.com/clip.mp4", "--cache-secs=10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := opt.Optimize(tt.url, capability.Info{})
			assert.Contains(t, args, tt.contains)
		})
	}
}

func TestOptimizeCapabilityGating(t *testing.T) {
	opt := NewOptimizer(config.Default().Tuning)
	url := "http://example.com/live/stream.m3u8"

	bare := opt.Optimize(url, capability.Info{})
	assert.NotContains(t, bare, "--hls-bitrate=max")
	assert.NotContains(t, bare, "--demuxer-cache-wait=no")

	full := opt.Optimize(url, capability.Info{
		Major:                     3,
		SupportsAdaptiveStreaming: true,
		SupportsAdvancedCaching:   true,
		SupportsHardwareDecode:    true,
	})
	assert.Contains(t, full, "--hls-bitrate=max")
	assert.Contains(t, full, "--demuxer-cache-wait=no")
}

func TestNullOptimizer(t *testing.T) {
	assert.Nil(t, NullOptimizer{}.Optimize("http://example.com/a.m3u8", capability.Info{}))
}
