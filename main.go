package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iptv-kiosk/work/capability"
	"iptv-kiosk/work/catalog"
	"iptv-kiosk/work/config"
	"iptv-kiosk/work/engine"
	"iptv-kiosk/work/hardware"
	"iptv-kiosk/work/history"
	"iptv-kiosk/work/logger"
	"iptv-kiosk/work/monitor"
	"iptv-kiosk/work/planner"
	"iptv-kiosk/work/prober"
	"iptv-kiosk/work/protocol"
	"iptv-kiosk/work/supervisor"
)

var (
	Version = "v0.1.0" // default version
)

// versionProbeTimeout bounds the startup player --version query; a hung
// binary should not stall the whole appliance.
const versionProbeTimeout = 10 * time.Second

// our main app worker
func main() {

	configPath := flag.String("config", "/settings/config.json", "path to the kiosk configuration file")
	flag.Parse()

	// load our config
	cfg := config.Load(*configPath)
	logger.SetLogLevel(cfg.LogLevel)
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// Set up logging for the player hot path
	playerLog := log.New(os.Stdout, "[IPTV-KIOSK] ", log.LstdFlags)

	// show info
	playerLog.Printf("Starting IPTV Kiosk %s", Version)
	playerLog.Printf("Player configuration:")
	playerLog.Printf("  - Player Command: %s", cfg.PlayerCommand)
	playerLog.Printf("  - Platform: %s", cfg.Platform)
	playerLog.Printf("  - Catalog: %s", cfg.CatalogPath)
	playerLog.Printf("  - Categories: %d", len(cfg.Categories))
	playerLog.Printf("  - Backup Streams: %d", len(cfg.BackupStreams))
	playerLog.Printf("  - Clean-Exit Policy: %s", cfg.OnCleanExit)
	playerLog.Printf("  - Debug Enabled: %v", cfg.Debug)
	playerLog.Printf("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// A shutdown signal must tear down the active player from any state,
	// including mid-launch.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Probe the external player once; capabilities are read-only afterwards.
	caps := capability.Probe(cfg.PlayerCommand, versionProbeTimeout, cfg.Thresholds)

	// Hardware hint: an explicit platform setting wins over the probe.
	var embedded bool
	switch cfg.Platform {
	case "embedded":
		embedded = true
	case "desktop":
		embedded = false
	default:
		embedded = hardware.DetectEmbedded()
	}

	cat := catalog.Load(cfg)
	if cat.Len() == 0 {
		playerLog.Printf("[WARN] catalog is empty - will fall through to backup streams")
	}

	var store *history.Store
	if cfg.HistoryPath != "" {
		var err error
		store, err = history.Open(cfg.HistoryPath)
		if err != nil {
			logger.Warn("{main} history disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	plan := planner.New(cfg, protocol.NewOptimizer(cfg.Tuning), embedded)
	sup := supervisor.New(cfg, playerLog)
	eng := engine.New(cfg, cat, plan, sup, store, caps, playerLog)

	// Background catalog prober (optional)
	if cfg.Prober.Enabled {
		if p, err := prober.New(cfg, cat); err != nil {
			logger.Warn("{main} prober disabled: %v", err)
		} else {
			go p.Run(ctx)
		}
	}

	// Status/metrics endpoint (optional)
	if cfg.ListenAddr != "" {
		srv := monitor.New(cfg.ListenAddr, eng, cat, store)
		go srv.Start(ctx)
	}

	// fire us up
	err := eng.Run(ctx)

	// Whatever ended the run, leave no player process behind.
	sup.Terminate()
	sup.SweepOrphans()

	switch {
	case errors.Is(err, engine.ErrCascadeExhausted):
		playerLog.Printf("[FAIL] %v", err)
		os.Exit(1)
	case errors.Is(err, context.Canceled):
		playerLog.Printf("[STOP] shutdown complete")
	case err != nil:
		playerLog.Printf("[FAIL] engine stopped: %v", err)
		os.Exit(1)
	default:
		playerLog.Printf("[STOP] playback run ended")
	}
}
