package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"iptv-kiosk/work/capability"
	"iptv-kiosk/work/catalog"
	"iptv-kiosk/work/config"
	"iptv-kiosk/work/history"
	"iptv-kiosk/work/metrics"
	"iptv-kiosk/work/planner"
	"iptv-kiosk/work/protocol"
	"iptv-kiosk/work/supervisor"
	"iptv-kiosk/work/utils"
)

// ErrCascadeExhausted is the one operational failure the engine reports to
// its caller: every category, every matching stream and every backup URL was
// tried and nothing stabilized.
var ErrCascadeExhausted = errors.New("all categories, streams and backups exhausted")

// Launcher is the engine's view of the process supervisor. The concrete
// implementation is supervisor.Supervisor; tests inject fakes that settle
// instantly.
type Launcher interface {
	Launch(ctx context.Context, cand planner.Candidate) (supervisor.LaunchResult, error)
	Monitor(ctx context.Context) supervisor.Outcome
	Terminate()
}

// Planner is the engine's view of launch planning.
type Planner interface {
	Plan(url string, caps capability.Info) []planner.Candidate
}

// State names the engine's position in its control loop.
type State string

const (
	StateIdle      State = "idle"
	StateSelecting State = "selecting"
	StatePlaying   State = "playing"
	StateHalted    State = "halted"
)

// Snapshot is a point-in-time view of the engine for the status endpoint.
type Snapshot struct {
	State           State     `json:"state"`
	CurrentURL      string    `json:"current_url,omitempty"`
	CurrentName     string    `json:"current_name,omitempty"`
	CurrentCategory string    `json:"current_category,omitempty"`
	Protocol        string    `json:"protocol,omitempty"`
	PlayingSince    time.Time `json:"playing_since,omitempty"`
	Attempts        int       `json:"attempts"`
}

// Engine walks the prioritized cascade - categories, then freshness-ranked
// streams within a category, then hard-coded backups - launching candidates
// through the supervisor until one stabilizes, then monitors it and
// reselects when playback ends. Single-threaded by design: only one player
// process may ever own the output device.
type Engine struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	planner  Planner
	launcher Launcher
	store    *history.Store
	logger   *log.Logger
	caps     capability.Info

	mu               sync.RWMutex
	snap             Snapshot
	currentAttemptID int64
}

// New wires up an Engine. store may be nil (history disabled).
func New(cfg *config.Config, cat *catalog.Catalog, pl Planner, launcher Launcher, store *history.Store, caps capability.Info, logger *log.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		catalog:  cat,
		planner:  pl,
		launcher: launcher,
		store:    store,
		logger:   logger,
		caps:     caps,
		snap:     Snapshot{State: StateIdle},
	}
}

// Snapshot returns the current engine state for observers.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Run drives the selection/playback loop until the context is cancelled, the
// cascade is exhausted, or playback crashes. A clean player exit triggers a
// full reselection unless OnCleanExit is "stop". The return value is nil for
// every locally-absorbed condition; only cascade exhaustion, spawn-level
// launch errors and context cancellation escape.
func (e *Engine) Run(ctx context.Context) error {
	defer e.launcher.Terminate()
	defer func() {
		// Halted is terminal and stays visible to the status endpoint.
		if e.Snapshot().State != StateHalted {
			e.setState(StateIdle)
		}
	}()

	for {
		if err := e.selectAndLaunch(ctx); err != nil {
			return err
		}

		outcome := e.launcher.Monitor(ctx)
		e.recordPlaybackEnd(outcome)

		switch outcome.Kind {
		case supervisor.Aborted:
			return ctx.Err()
		case supervisor.CleanEnd:
			metrics.PlaybackEnded.WithLabelValues("clean").Inc()
			if e.cfg.OnCleanExit == "stop" {
				e.logger.Printf("[DONE] stream ended cleanly, stopping per configuration")
				return nil
			}
			e.logger.Printf("[INFO] stream ended cleanly - reselecting")
		case supervisor.Crashed:
			metrics.PlaybackEnded.WithLabelValues("crashed").Inc()
			e.logger.Printf("[ERROR] playback crashed - ending this run")
			return nil
		}
	}
}

// selectAndLaunch walks the full cascade once and returns nil with the
// engine in Playing state on success.
func (e *Engine) selectAndLaunch(ctx context.Context) error {
	e.setState(StateSelecting)
	metrics.PlayerState.Set(1)

	failures := 0

	for _, cat := range e.cfg.Categories {
		streams := e.catalog.TopForCategory(cat.Keywords, e.cfg.CategoryLimit)
		if len(streams) == 0 {
			e.logger.Printf("[TV] no %s streams found", cat.Label)
			continue
		}
		e.logger.Printf("[TV] trying %d %s streams", len(streams), cat.Label)

		for i, rec := range streams {
			e.logger.Printf("[ATTEMPT] %d/%d: %s", i+1, len(streams), rec.Name)
			playing, err := e.tryStream(ctx, rec.URL, rec.Name, cat.Label, &failures)
			if err != nil {
				return err
			}
			if playing {
				return nil
			}
		}
		e.logger.Printf("[TV] all %s streams failed", cat.Label)
	}

	e.logger.Printf("[LOADING] trying backup videos...")
	for i, url := range e.cfg.BackupStreams {
		name := fmt.Sprintf("Backup Video %d", i+1)
		playing, err := e.tryStream(ctx, url, name, "Backup", &failures)
		if err != nil {
			return err
		}
		if playing {
			return nil
		}
	}

	metrics.CascadeExhaustions.Inc()
	metrics.PlayerState.Set(3)
	e.setState(StateHalted)
	e.logger.Printf("[FAIL] everything failed - cascade exhausted")
	return ErrCascadeExhausted
}

// tryStream builds the launch plan for one URL and works through its
// candidates. Individual candidate failures are absorbed and backed off;
// only spawn-level errors and cancellation propagate.
func (e *Engine) tryStream(ctx context.Context, url, name, category string, failures *int) (bool, error) {
	tag := protocol.Detect(url)
	plan := e.planner.Plan(url, e.caps)

	for _, cand := range plan {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		attemptID := e.store.RecordAttempt(url, name, category, string(tag), cand.Ordinal)
		e.bumpAttempts()

		result, err := e.launcher.Launch(ctx, cand)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.store.RecordOutcome(attemptID, "aborted", result.ExitCode, result.StderrTail)
				return false, err
			}
			// The OS refused to spawn the player at all; retrying other
			// candidates cannot help.
			e.store.RecordOutcome(attemptID, "spawn_error", -1, err.Error())
			return false, fmt.Errorf("player launch: %w", err)
		}

		if result.State == supervisor.Stable {
			metrics.LaunchAttempts.WithLabelValues("stable").Inc()
			metrics.PlayerState.Set(2)
			e.mu.Lock()
			e.currentAttemptID = attemptID
			e.snap = Snapshot{
				State:           StatePlaying,
				CurrentURL:      url,
				CurrentName:     name,
				CurrentCategory: category,
				Protocol:        string(tag),
				PlayingSince:    time.Now(),
				Attempts:        e.snap.Attempts,
			}
			e.mu.Unlock()
			e.logger.Printf("[PLAYING] %s (%s, candidate %d)", name, utils.LogURL(e.cfg, url), cand.Ordinal)
			return true, nil
		}

		metrics.LaunchAttempts.WithLabelValues("failed").Inc()
		e.store.RecordOutcome(attemptID, "failed", result.ExitCode, result.StderrTail)

		*failures++
		if !e.backoff(ctx, *failures) {
			return false, ctx.Err()
		}
	}

	return false, nil
}

// backoff sleeps between failed attempts: a short delay for the first few
// failures, escalating once failures keep accumulating, so a dead network or
// a flapping CPU is not hammered. Reports false if cancelled mid-sleep.
func (e *Engine) backoff(ctx context.Context, failures int) bool {
	delay := e.cfg.Tuning.RetryBaseDelay
	if failures > e.cfg.Tuning.RetryEscalateAfter {
		delay = e.cfg.Tuning.RetryMaxDelay
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// recordPlaybackEnd closes out the history row of the session that just
// ended.
func (e *Engine) recordPlaybackEnd(outcome supervisor.Outcome) {
	e.mu.Lock()
	id := e.currentAttemptID
	e.currentAttemptID = 0
	e.mu.Unlock()

	var result string
	switch outcome.Kind {
	case supervisor.CleanEnd:
		result = "clean_end"
	case supervisor.Crashed:
		result = "crashed"
	default:
		result = "aborted"
	}
	e.store.RecordOutcome(id, result, outcome.ExitCode, outcome.StderrTail)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.snap.State = s
	if s != StatePlaying {
		e.snap.CurrentURL = ""
		e.snap.CurrentName = ""
		e.snap.CurrentCategory = ""
		e.snap.Protocol = ""
		e.snap.PlayingSince = time.Time{}
	}
	e.mu.Unlock()
	if s == StateIdle {
		metrics.PlayerState.Set(0)
	}
}

func (e *Engine) bumpAttempts() {
	e.mu.Lock()
	e.snap.Attempts++
	e.mu.Unlock()
}
