package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// Config holds all application configuration values for the kiosk player.
// It covers player invocation, stream catalog locations, the category cascade,
// capability thresholds, and every timing/buffer policy constant the selection
// and supervision loops depend on. The engine receives a *Config explicitly;
// there is no ambient global configuration state.
type Config struct {
	Platform             string            `json:"platform"`             // "embedded", "desktop", or "auto" (probe the hardware)
	PlayerCommand        string            `json:"playerCommand"`        // External player binary (e.g. "mpv")
	UserAgent            string            `json:"userAgent"`            // User-Agent handed to the player for HTTP streams
	CatalogPath          string            `json:"catalogPath"`          // Base working-streams catalog file
	OptimizedCatalogPath string            `json:"optimizedCatalogPath"` // Ranked/optimized catalog, preferred wholesale when present
	HistoryPath          string            `json:"historyPath"`          // SQLite attempt-history database path ("" disables)
	Categories           []Category        `json:"categories"`           // Ordered category cascade, wildcard last
	BackupStreams        []string          `json:"backupStreams"`        // Hard-coded known-good fallback URLs
	CategoryLimit        int               `json:"categoryLimit"`        // Top-K streams fetched per category
	OnCleanExit          string            `json:"onCleanExit"`          // "reselect" (default) or "stop" after a clean player exit
	Environment          map[string]string `json:"environment"`          // Display/audio env vars overlaid on the player process
	ListenAddr           string            `json:"listenAddr"`           // Status/metrics HTTP listen address ("" disables)
	LogLevel             string            `json:"logLevel"`             // DEBUG/INFO/WARN/ERROR
	Debug                bool              `json:"debug"`                // Enable debug logging
	ObfuscateUrls        bool              `json:"obfuscateUrls"`        // Obfuscate stream URLs in logs
	Thresholds           Thresholds        `json:"thresholds"`           // Player version gates for optional argument fragments
	Tuning               Tuning            `json:"tuning"`               // Timing and buffer policy constants
	Prober               ProberConfig      `json:"prober"`               // Background catalog prober settings
}

// Category pairs a display label with the keyword set matched against
// "name group" text of catalog records. An empty keyword set matches
// every record (the "any stream" wildcard).
type Category struct {
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
}

// Thresholds defines the minimum player major version required before the
// planner and protocol optimizer emit capability-gated argument fragments.
type Thresholds struct {
	AdvancedCachingMajor int `json:"advancedCachingMajor"` // Clock-jitter/caching tweaks
	AdaptiveMajor        int `json:"adaptiveMajor"`        // Adaptive-bitrate and parallel segment fetch
	HardwareDecodeMajor  int `json:"hardwareDecodeMajor"`  // Hardware decode selection
}

// Tuning gathers every timing and buffer policy constant so tests can run the
// supervision loops with near-zero delays and operators can retune embedded
// buffer sizes without touching selection logic.
type Tuning struct {
	QuickCheckDelay       time.Duration `json:"quickCheckDelay"`       // Immediate-crash window after launch
	StabilityWindow       time.Duration `json:"stabilityWindow"`       // Survival window before a session counts as Stable
	StabilityPollInterval time.Duration `json:"stabilityPollInterval"` // Poll interval inside the stability window
	MonitorPollInterval   time.Duration `json:"monitorPollInterval"`   // Status-log interval while Playing
	GracefulStopTimeout   time.Duration `json:"gracefulStopTimeout"`   // Wait after SIGTERM before escalating to SIGKILL
	RetryBaseDelay        time.Duration `json:"retryBaseDelay"`        // Back-off after early candidate failures
	RetryMaxDelay         time.Duration `json:"retryMaxDelay"`         // Back-off once failures keep piling up
	RetryEscalateAfter    int           `json:"retryEscalateAfter"`    // Failure count at which back-off escalates

	// Per-protocol cache depth in seconds, scaled to each protocol's
	// latency/reliability profile on embedded hardware.
	HLSLiveCacheSecs     float64 `json:"hlsLiveCacheSecs"`
	HLSVODCacheSecs      float64 `json:"hlsVodCacheSecs"`
	DASHCacheSecs        float64 `json:"dashCacheSecs"`
	RTMPCacheSecs        float64 `json:"rtmpCacheSecs"`
	RTSPCacheSecs        float64 `json:"rtspCacheSecs"`
	UDPCacheSecs         float64 `json:"udpCacheSecs"`
	HTTPTSCacheSecs      float64 `json:"httpTsCacheSecs"`
	ProgressiveCacheSecs float64 `json:"progressiveCacheSecs"`
	FallbackCacheSecs    float64 `json:"fallbackCacheSecs"`

	ReducedCacheSecs   float64 `json:"reducedCacheSecs"`   // Reduced-tier flat cache depth
	ReadaheadSecs      float64 `json:"readaheadSecs"`      // Demuxer readahead for live protocols
	DemuxerMaxMB       int     `json:"demuxerMaxMB"`       // Demuxer buffer cap in MB
	NetworkTimeoutSecs int     `json:"networkTimeoutSecs"` // Network timeout for adaptive protocols
}

// ProberConfig controls the background catalog prober that refreshes
// last-working timestamps and writes the optimized catalog.
type ProberConfig struct {
	Enabled           bool          `json:"enabled"`
	Interval          time.Duration `json:"interval"`          // Time between full catalog sweeps
	Timeout           time.Duration `json:"timeout"`           // Per-URL probe timeout
	Workers           int           `json:"workers"`           // Concurrent probe workers
	RequestsPerSecond int           `json:"requestsPerSecond"` // Outbound request pacing
}

// ConfigFile mirrors Config for JSON unmarshaling; duration fields are
// strings (e.g. "500ms", "2s") parsed into time.Duration values.
type ConfigFile struct {
	Platform             string            `json:"platform"`
	PlayerCommand        string            `json:"playerCommand"`
	UserAgent            string            `json:"userAgent"`
	CatalogPath          string            `json:"catalogPath"`
	OptimizedCatalogPath string            `json:"optimizedCatalogPath"`
	HistoryPath          string            `json:"historyPath"`
	Categories           []Category        `json:"categories"`
	BackupStreams        []string          `json:"backupStreams"`
	CategoryLimit        int               `json:"categoryLimit"`
	OnCleanExit          string            `json:"onCleanExit"`
	Environment          map[string]string `json:"environment"`
	ListenAddr           string            `json:"listenAddr"`
	LogLevel             string            `json:"logLevel"`
	Debug                bool              `json:"debug"`
	ObfuscateUrls        bool              `json:"obfuscateUrls"`
	Thresholds           Thresholds        `json:"thresholds"`
	Tuning               TuningFile        `json:"tuning"`
	Prober               ProberConfigFile  `json:"prober"`
}

// TuningFile is the JSON form of Tuning with duration strings.
type TuningFile struct {
	QuickCheckDelay       string `json:"quickCheckDelay"`
	StabilityWindow       string `json:"stabilityWindow"`
	StabilityPollInterval string `json:"stabilityPollInterval"`
	MonitorPollInterval   string `json:"monitorPollInterval"`
	GracefulStopTimeout   string `json:"gracefulStopTimeout"`
	RetryBaseDelay        string `json:"retryBaseDelay"`
	RetryMaxDelay         string `json:"retryMaxDelay"`
	RetryEscalateAfter    int    `json:"retryEscalateAfter"`

	HLSLiveCacheSecs     float64 `json:"hlsLiveCacheSecs"`
	HLSVODCacheSecs      float64 `json:"hlsVodCacheSecs"`
	DASHCacheSecs        float64 `json:"dashCacheSecs"`
	RTMPCacheSecs        float64 `json:"rtmpCacheSecs"`
	RTSPCacheSecs        float64 `json:"rtspCacheSecs"`
	UDPCacheSecs         float64 `json:"udpCacheSecs"`
	HTTPTSCacheSecs      float64 `json:"httpTsCacheSecs"`
	ProgressiveCacheSecs float64 `json:"progressiveCacheSecs"`
	FallbackCacheSecs    float64 `json:"fallbackCacheSecs"`

	ReducedCacheSecs   float64 `json:"reducedCacheSecs"`
	ReadaheadSecs      float64 `json:"readaheadSecs"`
	DemuxerMaxMB       int     `json:"demuxerMaxMB"`
	NetworkTimeoutSecs int     `json:"networkTimeoutSecs"`
}

// ProberConfigFile is the JSON form of ProberConfig with duration strings.
type ProberConfigFile struct {
	Enabled           bool   `json:"enabled"`
	Interval          string `json:"interval"`
	Timeout           string `json:"timeout"`
	Workers           int    `json:"workers"`
	RequestsPerSecond int    `json:"requestsPerSecond"`
}

// Load reads the configuration from a JSON file, falling back to the default
// configuration when the file is missing or invalid. A broken config never
// prevents startup; the kiosk should always come up with something playable.
func Load(path string) *Config {
	cfg, err := loadFromFile(path)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", path, err)
		log.Printf("Falling back to default configuration...")
		cfg = Default()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(cfg)

	return cfg
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings
// into time.Duration values. An unparsable duration fails the whole load so
// the caller falls back to defaults rather than running with a half-read file.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		Platform:             cf.Platform,
		PlayerCommand:        cf.PlayerCommand,
		UserAgent:            cf.UserAgent,
		CatalogPath:          cf.CatalogPath,
		OptimizedCatalogPath: cf.OptimizedCatalogPath,
		HistoryPath:          cf.HistoryPath,
		Categories:           cf.Categories,
		BackupStreams:        cf.BackupStreams,
		CategoryLimit:        cf.CategoryLimit,
		OnCleanExit:          cf.OnCleanExit,
		Environment:          cf.Environment,
		ListenAddr:           cf.ListenAddr,
		LogLevel:             cf.LogLevel,
		Debug:                cf.Debug,
		ObfuscateUrls:        cf.ObfuscateUrls,
		Thresholds:           cf.Thresholds,
	}

	t := &cfg.Tuning
	tf := &cf.Tuning
	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{tf.QuickCheckDelay, &t.QuickCheckDelay, "quickCheckDelay"},
		{tf.StabilityWindow, &t.StabilityWindow, "stabilityWindow"},
		{tf.StabilityPollInterval, &t.StabilityPollInterval, "stabilityPollInterval"},
		{tf.MonitorPollInterval, &t.MonitorPollInterval, "monitorPollInterval"},
		{tf.GracefulStopTimeout, &t.GracefulStopTimeout, "gracefulStopTimeout"},
		{tf.RetryBaseDelay, &t.RetryBaseDelay, "retryBaseDelay"},
		{tf.RetryMaxDelay, &t.RetryMaxDelay, "retryMaxDelay"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tuning.%s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}
	t.RetryEscalateAfter = tf.RetryEscalateAfter
	t.HLSLiveCacheSecs = tf.HLSLiveCacheSecs
	t.HLSVODCacheSecs = tf.HLSVODCacheSecs
	t.DASHCacheSecs = tf.DASHCacheSecs
	t.RTMPCacheSecs = tf.RTMPCacheSecs
	t.RTSPCacheSecs = tf.RTSPCacheSecs
	t.UDPCacheSecs = tf.UDPCacheSecs
	t.HTTPTSCacheSecs = tf.HTTPTSCacheSecs
	t.ProgressiveCacheSecs = tf.ProgressiveCacheSecs
	t.FallbackCacheSecs = tf.FallbackCacheSecs
	t.ReducedCacheSecs = tf.ReducedCacheSecs
	t.ReadaheadSecs = tf.ReadaheadSecs
	t.DemuxerMaxMB = tf.DemuxerMaxMB
	t.NetworkTimeoutSecs = tf.NetworkTimeoutSecs

	cfg.Prober.Enabled = cf.Prober.Enabled
	cfg.Prober.Workers = cf.Prober.Workers
	cfg.Prober.RequestsPerSecond = cf.Prober.RequestsPerSecond
	if cf.Prober.Interval != "" {
		parsed, err := time.ParseDuration(cf.Prober.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid prober.interval %q: %w", cf.Prober.Interval, err)
		}
		cfg.Prober.Interval = parsed
	}
	if cf.Prober.Timeout != "" {
		parsed, err := time.ParseDuration(cf.Prober.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid prober.timeout %q: %w", cf.Prober.Timeout, err)
		}
		cfg.Prober.Timeout = parsed
	}

	return cfg, nil
}

// Default returns a baseline configuration with sensible defaults
// when no file is present. The category cascade and backup videos mirror
// the appliance's shipped configuration.
func Default() *Config {
	return &Config{
		Platform:             "auto",
		PlayerCommand:        "mpv",
		UserAgent:            "Mozilla/5.0 (Smart-IPTV-Player)",
		CatalogPath:          "/settings/working-streams.json",
		OptimizedCatalogPath: "/settings/working-streams-optimized.json",
		HistoryPath:          "/settings/playback-history.db",
		Categories: []Category{
			{Label: "Classic/Movies", Keywords: []string{"classic", "movies", "cinema", "film", "tcm"}},
			{Label: "General TV", Keywords: []string{"tv", "general", "entertainment"}},
			{Label: "Any Stream", Keywords: []string{}},
		},
		BackupStreams: []string{
			"http://commondatastorage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4",
			"http://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ElephantsDream.mp4",
		},
		CategoryLimit: 10,
		OnCleanExit:   "reselect",
		Environment:   map[string]string{"DISPLAY": ":0"},
		ListenAddr:    "",
		LogLevel:      "INFO",
		Thresholds: Thresholds{
			AdvancedCachingMajor: 3,
			AdaptiveMajor:        3,
			HardwareDecodeMajor:  3,
		},
		Tuning:        defaultTuning(),
		Prober:        defaultProber(),
		ObfuscateUrls: false,
	}
}

func defaultTuning() Tuning {
	return Tuning{
		QuickCheckDelay:       500 * time.Millisecond,
		StabilityWindow:       2 * time.Second,
		StabilityPollInterval: 1 * time.Second,
		MonitorPollInterval:   60 * time.Second,
		GracefulStopTimeout:   5 * time.Second,
		RetryBaseDelay:        2 * time.Second,
		RetryMaxDelay:         10 * time.Second,
		RetryEscalateAfter:    3,

		HLSLiveCacheSecs:     2,
		HLSVODCacheSecs:      10,
		DASHCacheSecs:        3,
		RTMPCacheSecs:        5,
		RTSPCacheSecs:        4,
		UDPCacheSecs:         0.5,
		HTTPTSCacheSecs:      4,
		ProgressiveCacheSecs: 10,
		FallbackCacheSecs:    5,

		ReducedCacheSecs:   1,
		ReadaheadSecs:      2,
		DemuxerMaxMB:       20,
		NetworkTimeoutSecs: 3,
	}
}

func defaultProber() ProberConfig {
	return ProberConfig{
		Enabled:           false,
		Interval:          30 * time.Minute,
		Timeout:           8 * time.Second,
		Workers:           8,
		RequestsPerSecond: 4,
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing/invalid ones. It also guarantees the category cascade
// ends in the wildcard category so selection always has a terminal stage.
func validateAndSetDefaults(cfg *Config) {
	def := Default()

	if cfg.Platform != "embedded" && cfg.Platform != "desktop" && cfg.Platform != "auto" {
		cfg.Platform = "auto"
	}
	if cfg.PlayerCommand == "" {
		cfg.PlayerCommand = def.PlayerCommand
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = def.CatalogPath
	}
	if cfg.CategoryLimit <= 0 {
		cfg.CategoryLimit = def.CategoryLimit
	}
	if cfg.OnCleanExit != "stop" {
		cfg.OnCleanExit = "reselect"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	if len(cfg.BackupStreams) == 0 {
		cfg.BackupStreams = def.BackupStreams
	}
	if cfg.Environment == nil {
		cfg.Environment = def.Environment
	}

	// A zero version gate would declare every optional fragment supported,
	// including on players that predate them.
	if cfg.Thresholds.AdvancedCachingMajor <= 0 {
		cfg.Thresholds.AdvancedCachingMajor = def.Thresholds.AdvancedCachingMajor
	}
	if cfg.Thresholds.AdaptiveMajor <= 0 {
		cfg.Thresholds.AdaptiveMajor = def.Thresholds.AdaptiveMajor
	}
	if cfg.Thresholds.HardwareDecodeMajor <= 0 {
		cfg.Thresholds.HardwareDecodeMajor = def.Thresholds.HardwareDecodeMajor
	}

	// The cascade must terminate in a match-everything category.
	hasWildcard := false
	for _, c := range cfg.Categories {
		if len(c.Keywords) == 0 {
			hasWildcard = true
		}
	}
	if !hasWildcard {
		cfg.Categories = append(cfg.Categories, Category{Label: "Any Stream", Keywords: []string{}})
	}

	defT := defaultTuning()
	t := &cfg.Tuning
	if t.QuickCheckDelay <= 0 {
		t.QuickCheckDelay = defT.QuickCheckDelay
	}
	if t.StabilityWindow <= 0 {
		t.StabilityWindow = defT.StabilityWindow
	}
	if t.StabilityPollInterval <= 0 {
		t.StabilityPollInterval = defT.StabilityPollInterval
	}
	if t.MonitorPollInterval <= 0 {
		t.MonitorPollInterval = defT.MonitorPollInterval
	}
	if t.GracefulStopTimeout <= 0 {
		t.GracefulStopTimeout = defT.GracefulStopTimeout
	}
	if t.RetryBaseDelay <= 0 {
		t.RetryBaseDelay = defT.RetryBaseDelay
	}
	if t.RetryMaxDelay < t.RetryBaseDelay {
		t.RetryMaxDelay = defT.RetryMaxDelay
	}
	if t.RetryEscalateAfter <= 0 {
		t.RetryEscalateAfter = defT.RetryEscalateAfter
	}
	if t.HLSLiveCacheSecs <= 0 {
		t.HLSLiveCacheSecs = defT.HLSLiveCacheSecs
	}
	if t.HLSVODCacheSecs <= 0 {
		t.HLSVODCacheSecs = defT.HLSVODCacheSecs
	}
	if t.DASHCacheSecs <= 0 {
		t.DASHCacheSecs = defT.DASHCacheSecs
	}
	if t.RTMPCacheSecs <= 0 {
		t.RTMPCacheSecs = defT.RTMPCacheSecs
	}
	if t.RTSPCacheSecs <= 0 {
		t.RTSPCacheSecs = defT.RTSPCacheSecs
	}
	if t.UDPCacheSecs <= 0 {
		t.UDPCacheSecs = defT.UDPCacheSecs
	}
	if t.HTTPTSCacheSecs <= 0 {
		t.HTTPTSCacheSecs = defT.HTTPTSCacheSecs
	}
	if t.ProgressiveCacheSecs <= 0 {
		t.ProgressiveCacheSecs = defT.ProgressiveCacheSecs
	}
	if t.FallbackCacheSecs <= 0 {
		t.FallbackCacheSecs = defT.FallbackCacheSecs
	}
	if t.ReducedCacheSecs <= 0 {
		t.ReducedCacheSecs = defT.ReducedCacheSecs
	}
	if t.ReadaheadSecs <= 0 {
		t.ReadaheadSecs = defT.ReadaheadSecs
	}
	if t.DemuxerMaxMB <= 0 {
		t.DemuxerMaxMB = defT.DemuxerMaxMB
	}
	if t.NetworkTimeoutSecs <= 0 {
		t.NetworkTimeoutSecs = defT.NetworkTimeoutSecs
	}

	defP := defaultProber()
	if cfg.Prober.Interval <= 0 {
		cfg.Prober.Interval = defP.Interval
	}
	if cfg.Prober.Timeout <= 0 {
		cfg.Prober.Timeout = defP.Timeout
	}
	if cfg.Prober.Workers <= 0 {
		cfg.Prober.Workers = defP.Workers
	}
	if cfg.Prober.RequestsPerSecond <= 0 {
		cfg.Prober.RequestsPerSecond = defP.RequestsPerSecond
	}
}
