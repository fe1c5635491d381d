package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LaunchAttempts counts player launch attempts by result ("stable" or "failed").
// This metric is a counter and only increases.
var LaunchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_kiosk_launch_attempts_total",
	Help: "Number of player launch attempts",
}, []string{"result"})

// PlayerState reports the engine state as a numeric gauge:
// 0=idle, 1=selecting, 2=playing, 3=halted.
var PlayerState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_kiosk_player_state",
	Help: "Current selection engine state (0=idle, 1=selecting, 2=playing, 3=halted)",
})

// PlaybackEnded counts stable-playback terminations by classification
// ("clean" for exit code 0, "crashed" otherwise). Counter, only increases.
var PlaybackEnded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_kiosk_playback_ended_total",
	Help: "Number of ended playback sessions",
}, []string{"classification"})

// CascadeExhaustions counts how many times the full category/stream/backup
// cascade ran out of candidates without anything playing.
var CascadeExhaustions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_kiosk_cascade_exhaustions_total",
	Help: "Number of times all candidates including backups failed",
})

// ProbedStreams counts catalog probe results by outcome ("alive" or "dead").
var ProbedStreams = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_kiosk_probed_streams_total",
	Help: "Number of catalog stream probes",
}, []string{"outcome"})
