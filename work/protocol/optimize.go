package protocol

import (
	"fmt"

	"iptv-kiosk/work/capability"
	"iptv-kiosk/work/config"
)

// Optimizer produces protocol-tailored player argument fragments for a stream
// URL. There is one real implementation and a no-op one; callers hold the
// interface so tests and stripped-down builds can drop optimization entirely
// without conditional wiring.
type Optimizer interface {
	Optimize(rawURL string, caps capability.Info) []string
}

// KioskOptimizer is the production Optimizer. Every numeric buffer value
// comes from the tuning configuration, so the per-protocol policy can be
// retuned for different hardware without touching the selection logic.
type KioskOptimizer struct {
	tuning config.Tuning
}

// NewOptimizer builds a KioskOptimizer around the given tuning policy.
func NewOptimizer(tuning config.Tuning) *KioskOptimizer {
	return &KioskOptimizer{tuning: tuning}
}

// Optimize classifies the URL and returns the argument fragments for its
// protocol. Capability-gated fragments are only added when the probed player
// supports them; with a zero capability.Info, the result is always safe.
func (o *KioskOptimizer) Optimize(rawURL string, caps capability.Info) []string {
	switch Detect(rawURL) {
	case TagHLS:
		return o.hlsArgs(rawURL, caps)
	case TagDASH:
		return o.dashArgs(caps)
	case TagRTMP:
		return o.rtmpArgs()
	case TagRTSP:
		return o.rtspArgs()
	case TagUDP:
		return o.udpArgs()
	case TagHTTPTS:
		return o.httpTSArgs()
	case TagHTTPProgressive:
		return o.progressiveArgs()
	default:
		return o.fallbackArgs()
	}
}

// hlsArgs tunes buffers to the live/VOD profile of the playlist. Live streams
// get shallow caches for latency; VOD can afford deep readahead.
func (o *KioskOptimizer) hlsArgs(rawURL string, caps capability.Info) []string {
	t := o.tuning
	var args []string

	switch DetectHLSKind(rawURL) {
	case HLSVOD:
		args = append(args,
			cacheSecs(t.HLSVODCacheSecs),
			fmt.Sprintf("--demuxer-readahead-secs=%g", t.HLSVODCacheSecs/2),
		)
	default:
		args = append(args,
			cacheSecs(t.HLSLiveCacheSecs),
			fmt.Sprintf("--demuxer-readahead-secs=%g", t.ReadaheadSecs),
		)
	}

	args = append(args, fmt.Sprintf("--demuxer-max-bytes=%dM", t.DemuxerMaxMB))

	if caps.SupportsAdaptiveStreaming {
		args = append(args,
			"--hls-bitrate=max",
			fmt.Sprintf("--network-timeout=%d", t.NetworkTimeoutSecs),
		)
	}
	if caps.SupportsAdvancedCaching {
		args = append(args,
			"--demuxer-cache-wait=no",
			"--framedrop=no",
		)
	}

	return args
}

// dashArgs uses moderate buffers plus conservative adaptive logic when the
// player supports it.
func (o *KioskOptimizer) dashArgs(caps capability.Info) []string {
	args := []string{
		cacheSecs(o.tuning.DASHCacheSecs),
		fmt.Sprintf("--demuxer-readahead-secs=%g", o.tuning.ReadaheadSecs),
	}
	if caps.SupportsAdaptiveStreaming {
		args = append(args, fmt.Sprintf("--network-timeout=%d", o.tuning.NetworkTimeoutSecs))
	}
	return args
}

func (o *KioskOptimizer) rtmpArgs() []string {
	return []string{
		cacheSecs(o.tuning.RTMPCacheSecs),
		"--audio-pitch-correction=no",
	}
}

// rtspArgs forces TCP transport; UDP RTSP on flaky WiFi produces smearing
// that looks like a dead stream to the stability check.
func (o *KioskOptimizer) rtspArgs() []string {
	return []string{
		cacheSecs(o.tuning.RTSPCacheSecs),
		"--rtsp-transport=tcp",
		"--audio-pitch-correction=no",
	}
}

// udpArgs keeps buffering sub-second; multicast sources are already paced.
func (o *KioskOptimizer) udpArgs() []string {
	return []string{
		cacheSecs(o.tuning.UDPCacheSecs),
		"--audio-buffer=0.1",
		"--audio-pitch-correction=no",
	}
}

func (o *KioskOptimizer) httpTSArgs() []string {
	return []string{
		cacheSecs(o.tuning.HTTPTSCacheSecs),
		"--vd-lavc-fast",
		"--audio-pitch-correction=no",
	}
}

// progressiveArgs buffers deep and keeps the HTTP connection continuous;
// plain file downloads tolerate latency but punish reconnects.
func (o *KioskOptimizer) progressiveArgs() []string {
	return []string{
		cacheSecs(o.tuning.ProgressiveCacheSecs),
		"--force-seekable=yes",
	}
}

// fallbackArgs is the single safe setting for unknown protocols.
func (o *KioskOptimizer) fallbackArgs() []string {
	return []string{
		cacheSecs(o.tuning.FallbackCacheSecs),
		"--really-quiet",
	}
}

func cacheSecs(secs float64) string {
	return fmt.Sprintf("--cache-secs=%g", secs)
}

// NullOptimizer returns no fragments at all. It backs the planner's
// minimal-flags tier and stands in for the real optimizer in tests.
type NullOptimizer struct{}

// Optimize implements Optimizer by returning nil.
func (NullOptimizer) Optimize(string, capability.Info) []string { return nil }
