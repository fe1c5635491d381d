package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"iptv-kiosk/work/config"
	"iptv-kiosk/work/planner"
	"iptv-kiosk/work/utils"
)

// State tracks a player session through its lifecycle:
// Starting -> {Stable | Failed}; Stable -> Exited.
type State int

const (
	Starting State = iota
	Stable
	Failed
	Exited
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Stable:
		return "stable"
	case Failed:
		return "failed"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// OutcomeKind classifies how a stable playback session ended.
type OutcomeKind int

const (
	CleanEnd OutcomeKind = iota // Exit code 0: stream finished, pick a fresh one
	Crashed                     // Nonzero exit during playback
	Aborted                     // Shutdown requested while playing
)

// Outcome is the result of monitoring a stable session to completion.
type Outcome struct {
	Kind       OutcomeKind
	ExitCode   int
	StderrTail string
}

// LaunchResult reports how a launch attempt settled: Stable after surviving
// the stability window, or Failed with the captured stderr tail. A Failed
// result is an expected, retried condition, never an error.
type LaunchResult struct {
	State      State
	ExitCode   int
	StderrTail string
}

// ErrSessionActive is returned when Launch is called while a session is
// still Starting or Stable. The selection engine must terminate the previous
// session first; the supervisor refuses to do it silently.
var ErrSessionActive = errors.New("a player session is already active")

// stderrTailBytes bounds how much process error output is retained for
// diagnostics.
const stderrTailBytes = 500

// Session is one supervised external player process.
type Session struct {
	Candidate  planner.Candidate
	LaunchTime time.Time

	cmd    *exec.Cmd
	waitCh chan struct{} // closed once cmd.Wait returns
	stderr *tailBuffer
	state  State
}

// PID returns the player's process id, or 0 if it never started.
func (s *Session) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Session) exited() bool {
	select {
	case <-s.waitCh:
		return true
	default:
		return false
	}
}

func (s *Session) exitCode() int {
	if s.cmd == nil || s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

// Supervisor owns the lifecycle of at most one external player process at a
// time: launch, crash detection, stability confirmation, long-running
// monitoring, and termination.
type Supervisor struct {
	cfg    *config.Config
	logger *log.Logger

	mu      sync.Mutex
	current *Session
}

// New creates a Supervisor with no active session.
func New(cfg *config.Config, logger *log.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger}
}

// Launch starts the external player for the given candidate and watches it
// through the quick-check and stability windows. It returns an error only when
// the OS refuses to spawn the process or a session is still active; a process
// that starts and then dies inside the windows is reported as a Failed result.
func (s *Supervisor) Launch(ctx context.Context, cand planner.Candidate) (LaunchResult, error) {
	s.mu.Lock()
	if s.current != nil && (s.current.state == Starting || s.current.state == Stable) {
		s.mu.Unlock()
		return LaunchResult{}, ErrSessionActive
	}
	s.mu.Unlock()

	tail := &tailBuffer{max: stderrTailBytes}
	cmd := exec.Command(s.cfg.PlayerCommand, cand.Args...)
	cmd.Env = s.buildEnv()
	cmd.Stdout = io.Discard
	cmd.Stderr = tail
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	s.logger.Printf("[LAUNCH] %s candidate %d (%s): %s",
		s.cfg.PlayerCommand, cand.Ordinal, cand.Label, utils.LogURL(s.cfg, cand.URL))

	if err := cmd.Start(); err != nil {
		return LaunchResult{}, fmt.Errorf("failed to start %s: %w", s.cfg.PlayerCommand, err)
	}

	session := &Session{
		Candidate:  cand,
		LaunchTime: time.Now(),
		cmd:        cmd,
		waitCh:     make(chan struct{}),
		stderr:     tail,
		state:      Starting,
	}
	go func() {
		_ = cmd.Wait()
		close(session.waitCh)
	}()

	s.mu.Lock()
	s.current = session
	s.mu.Unlock()

	// Quick check for immediate crashes.
	if !sleepCtx(ctx, s.cfg.Tuning.QuickCheckDelay) {
		s.Terminate()
		return LaunchResult{State: Failed}, ctx.Err()
	}
	if session.exited() {
		return s.settleFailed(session, "crashed on startup"), nil
	}

	// Stability window: the process has to survive the whole thing.
	deadline := time.Now().Add(s.cfg.Tuning.StabilityWindow)
	for time.Now().Before(deadline) {
		wait := s.cfg.Tuning.StabilityPollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			s.Terminate()
			return LaunchResult{State: Failed}, ctx.Err()
		case <-session.waitCh:
			return s.settleFailed(session, fmt.Sprintf("crashed after %s", time.Since(session.LaunchTime).Round(time.Millisecond))), nil
		case <-time.After(wait):
		}
	}

	session.state = Stable
	s.logger.Printf("[OK] player stable (PID: %d, candidate %d)", session.PID(), cand.Ordinal)
	return LaunchResult{State: Stable}, nil
}

// settleFailed marks the session Failed and surfaces the stderr tail for
// observability without raising it as an error.
func (s *Supervisor) settleFailed(session *Session, reason string) LaunchResult {
	session.state = Failed
	code := session.exitCode()
	tail := session.stderr.String()
	if tail != "" {
		s.logger.Printf("[FAIL] player error output: %s", tail)
	}
	s.logger.Printf("[FAIL] candidate %d %s (exit: %d)", session.Candidate.Ordinal, reason, code)
	return LaunchResult{State: Failed, ExitCode: code, StderrTail: tail}
}

// Monitor blocks until the current stable session exits or the context is
// cancelled, polling at a low frequency purely for status logging. The exit
// code decides the classification: 0 means the stream ended cleanly and the
// engine should reselect; anything else is a crash.
func (s *Supervisor) Monitor(ctx context.Context) Outcome {
	s.mu.Lock()
	session := s.current
	s.mu.Unlock()

	if session == nil || session.state != Stable {
		return Outcome{Kind: Aborted}
	}

	ticker := time.NewTicker(s.cfg.Tuning.MonitorPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Terminate()
			return Outcome{Kind: Aborted}
		case <-session.waitCh:
			session.state = Exited
			code := session.exitCode()
			tail := session.stderr.String()
			if code == 0 {
				s.logger.Printf("[INFO] stream ended normally")
				return Outcome{Kind: CleanEnd, ExitCode: 0, StderrTail: tail}
			}
			s.logger.Printf("[ERROR] player crashed with exit code %d", code)
			if tail != "" {
				s.logger.Printf("[ERROR] player error output: %s", tail)
			}
			return Outcome{Kind: Crashed, ExitCode: code, StderrTail: tail}
		case <-ticker.C:
			s.logger.Printf("[TV] status: playing (PID: %d)", session.PID())
		}
	}
}

// Terminate stops the current session if one exists: graceful SIGTERM to the
// process group, a bounded wait, then SIGKILL. Safe to call with no active
// session and from any point of the launch sequence.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	session := s.current
	s.current = nil
	s.mu.Unlock()

	if session == nil || session.cmd == nil || session.cmd.Process == nil {
		return
	}
	if session.exited() {
		session.state = Exited
		return
	}

	pgid := -session.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-session.waitCh:
	case <-time.After(s.cfg.Tuning.GracefulStopTimeout):
		s.logger.Printf("[STOP] player did not exit in %s, killing", s.cfg.Tuning.GracefulStopTimeout)
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-session.waitCh
	}
	session.state = Exited
}

// SweepOrphans best-effort kills any leftover processes matching the player
// binary name. The player can spawn helper processes the supervisor does not
// own; handle-based termination above is the primary path and this sweep is
// a last-resort safety net only, which is why it is logged loudly.
func (s *Supervisor) SweepOrphans() {
	name := filepath.Base(s.cfg.PlayerCommand)
	s.logger.Printf("[STOP] sweeping orphaned %q processes", name)
	if err := exec.Command("pkill", "-9", "-x", name).Run(); err != nil {
		// pkill exits 1 when nothing matched; that is the common case.
		s.logger.Printf("[STOP] orphan sweep: %v", err)
	}
}

// buildEnv overlays the configured display/audio variables onto the current
// process environment; later entries win inside exec.
func (s *Supervisor) buildEnv() []string {
	env := os.Environ()
	for k, v := range s.cfg.Environment {
		env = append(env, k+"="+v)
	}
	return env
}

// sleepCtx sleeps for d unless the context is cancelled first; it reports
// whether the full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// tailBuffer is a bounded io.Writer keeping only the trailing bytes written
// to it. The player can be extremely chatty on a bad stream; only the tail
// is diagnostic.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return utils.TailString(string(t.buf), t.max)
}
