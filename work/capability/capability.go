package capability

import (
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/regexp"

	"iptv-kiosk/work/config"
	"iptv-kiosk/work/logger"
)

// Info carries the detected feature flags of the external player binary.
// It is populated once at startup and treated as read-only for the rest of
// the run; the zero value means "nothing supported", which is exactly what
// the planner's last-resort tier is built against.
type Info struct {
	Major                     int
	Minor                     int
	VersionLine               string
	SupportsHardwareDecode    bool
	SupportsAdvancedCaching   bool
	SupportsAdaptiveStreaming bool
}

// Nothing reports whether no optional capability was detected.
func (i Info) Nothing() bool {
	return !i.SupportsHardwareDecode && !i.SupportsAdvancedCaching && !i.SupportsAdaptiveStreaming
}

// versionRegex pulls the first dotted version number out of a player banner
// line, e.g. "mpv 0.35.1 Copyright ..." or "VLC media player 3.0.18 Vetinari".
var versionRegex = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Probe invokes the player binary with --version, parses the first output
// line, and derives feature flags from the configured version thresholds.
// Any failure degrades to the zero Info; a kiosk with an odd player build
// should still come up with conservative flags rather than refuse to start.
func Probe(playerCmd string, timeout time.Duration, thresholds config.Thresholds) Info {
	cmd := exec.Command(playerCmd, "--version")
	out, err := runWithTimeout(cmd, timeout)
	if err != nil {
		logger.Warn("{capability - Probe} version check for %s failed: %v", playerCmd, err)
		return Info{}
	}

	line := firstLine(out)
	info := Parse(line, thresholds)
	if info.VersionLine == "" {
		logger.Warn("{capability - Probe} could not parse version from %q", line)
		return Info{}
	}

	logger.Info("{capability - Probe} %s", info.VersionLine)
	return info
}

// Parse extracts the version from a player banner line and applies the
// configured thresholds. Split out of Probe so tests can feed banner lines
// without a player binary installed.
func Parse(versionLine string, thresholds config.Thresholds) Info {
	m := versionRegex.FindStringSubmatch(versionLine)
	if m == nil {
		return Info{}
	}

	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])

	return Info{
		Major:                     major,
		Minor:                     minor,
		VersionLine:               strings.TrimSpace(versionLine),
		SupportsHardwareDecode:    major >= thresholds.HardwareDecodeMajor,
		SupportsAdvancedCaching:   major >= thresholds.AdvancedCachingMajor,
		SupportsAdaptiveStreaming: major >= thresholds.AdaptiveMajor,
	}
}

// runWithTimeout runs the command and returns its combined output, killing
// the process if the version query hangs. A slow-but-alive player binary is
// treated as a failure here; the planner then works from zero capabilities.
func runWithTimeout(cmd *exec.Cmd, timeout time.Duration) (string, error) {
	type result struct {
		out []byte
		err error
	}

	done := make(chan result, 1)
	go func() {
		out, err := cmd.CombinedOutput()
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return string(r.out), r.err
	case <-time.After(timeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		r := <-done
		return string(r.out), r.err
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
