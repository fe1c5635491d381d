package planner

import (
	"fmt"

	"iptv-kiosk/work/capability"
	"iptv-kiosk/work/config"
	"iptv-kiosk/work/protocol"
)

// Candidate is one concrete launch attempt: the full player argument vector
// for a target URL, plus its 1-based position in the fallback sequence.
type Candidate struct {
	Ordinal int
	URL     string
	Args    []string // argv after the binary; the URL is always the final element
	Label   string
}

// Planner turns a stream URL into an ordered list of launch candidates, most
// optimized first, most conservative last. Planning is pure: it never touches
// the player process.
type Planner struct {
	cfg       *config.Config
	optimizer protocol.Optimizer
	embedded  bool
}

// New builds a Planner. The embedded flag selects between the three-tier
// constrained-hardware plan and the shorter desktop plan.
func New(cfg *config.Config, optimizer protocol.Optimizer, embedded bool) *Planner {
	return &Planner{
		cfg:       cfg,
		optimizer: optimizer,
		embedded:  embedded,
	}
}

// Plan returns the candidate sequence for a URL. The ordering invariant is
// decreasing aggressiveness, and the final candidate is always constructible
// with zero capabilities so it cannot fail on an unsupported option.
func (p *Planner) Plan(url string, caps capability.Info) []Candidate {
	var candidates []Candidate

	if p.embedded {
		candidates = append(candidates,
			p.optimizedTier(url, caps),
			p.reducedTier(url),
		)
	} else {
		candidates = append(candidates, p.desktopTier(url, caps))
	}

	candidates = append(candidates, p.minimalTier(url))

	for i := range candidates {
		candidates[i].Ordinal = i + 1
	}
	return candidates
}

// optimizedTier is the embedded performance configuration: GPU output,
// software decode (hardware paths stall on Pi-class chips), protocol-tuned
// buffers, and smart frame dropping.
func (p *Planner) optimizedTier(url string, caps capability.Info) Candidate {
	args := []string{
		"--hwdec=no",
		"--vo=gpu",
		"--cache=yes",
	}
	args = append(args, p.optimizer.Optimize(url, caps)...)
	args = append(args,
		"--framedrop=vo",
		"--no-osc",
		"--no-input-default-bindings",
		"--really-quiet",
		"--fullscreen",
		"--loop-playlist=inf",
		fmt.Sprintf("--user-agent=%s", p.cfg.UserAgent),
		url,
	)
	return Candidate{URL: url, Args: args, Label: "performance"}
}

// reducedTier drops protocol tuning and runs a shallow flat cache; it exists
// for streams whose servers choke on the optimized demuxer settings.
func (p *Planner) reducedTier(url string) Candidate {
	return Candidate{
		URL:   url,
		Label: "reduced-cache",
		Args: []string{
			"--hwdec=no",
			"--vo=gpu",
			"--cache=yes",
			fmt.Sprintf("--cache-secs=%g", p.cfg.Tuning.ReducedCacheSecs),
			"--no-osc",
			"--really-quiet",
			"--fullscreen",
			"--loop-playlist=inf",
			url,
		},
	}
}

// desktopTier is the single best-effort configuration for unconstrained
// hardware, with hardware decode when the player build supports it.
func (p *Planner) desktopTier(url string, caps capability.Info) Candidate {
	hwdec := "--hwdec=no"
	if caps.SupportsHardwareDecode {
		hwdec = "--hwdec=auto"
	}
	args := []string{
		hwdec,
		"--vo=gpu",
		"--cache=yes",
	}
	args = append(args, p.optimizer.Optimize(url, caps)...)
	args = append(args,
		"--no-osc",
		"--fullscreen",
		fmt.Sprintf("--user-agent=%s", p.cfg.UserAgent),
		url,
	)
	return Candidate{URL: url, Args: args, Label: "best-effort"}
}

// minimalTier is the last resort on every platform. It references no
// capability-gated fragment and no protocol optimization, so it is valid
// against a player that supports nothing beyond basic playback.
func (p *Planner) minimalTier(url string) Candidate {
	return Candidate{
		URL:   url,
		Label: "minimal",
		Args: []string{
			"--vo=gpu",
			"--cache=yes",
			"--no-osc",
			"--quiet",
			"--fullscreen",
			"--loop-playlist=inf",
			url,
		},
	}
}
