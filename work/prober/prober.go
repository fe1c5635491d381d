package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/klauspost/compress/gzip"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"iptv-kiosk/work/catalog"
	"iptv-kiosk/work/client"
	"iptv-kiosk/work/config"
	"iptv-kiosk/work/logger"
	"iptv-kiosk/work/metrics"
	"iptv-kiosk/work/protocol"
)

// Result is the outcome of probing one catalog URL.
type Result struct {
	Alive     bool
	CheckedAt time.Time
}

// Prober periodically sweeps the catalog, checks which HTTP-reachable
// streams still respond, and rewrites the optimized catalog with refreshed
// last-working timestamps. It runs fully independently of the selection
// engine: a slow or failing sweep never blocks playback, it only delays
// freshness updates.
type Prober struct {
	cfg     *config.Config
	cat     *catalog.Catalog
	client  *client.HeaderSettingClient
	pool    *ants.Pool
	limiter ratelimit.Limiter
	results *xsync.MapOf[string, Result]
}

// New builds a Prober with a bounded worker pool and request pacing.
func New(cfg *config.Config, cat *catalog.Catalog) (*Prober, error) {
	pool, err := ants.NewPool(cfg.Prober.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create prober pool: %w", err)
	}

	return &Prober{
		cfg:     cfg,
		cat:     cat,
		client:  client.NewHeaderSettingClient(cfg),
		pool:    pool,
		limiter: ratelimit.New(cfg.Prober.RequestsPerSecond),
		results: xsync.NewMapOf[string, Result](),
	}, nil
}

// Run sweeps immediately and then on every interval tick until the context
// is cancelled.
func (p *Prober) Run(ctx context.Context) {
	defer p.pool.Release()

	p.sweep(ctx)

	ticker := time.NewTicker(p.cfg.Prober.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep probes every HTTP-reachable catalog record concurrently and then
// rewrites the optimized catalog. Non-HTTP protocols (rtmp/rtsp/udp) cannot
// be cheaply probed and keep their recorded timestamps.
func (p *Prober) sweep(ctx context.Context) {
	records := p.cat.All()
	if len(records) == 0 {
		return
	}
	logger.Info("{prober - sweep} probing %d catalog streams", len(records))

	var wg sync.WaitGroup
	for _, rec := range records {
		if !strings.HasPrefix(strings.ToLower(rec.URL), "http") {
			continue
		}
		rec := rec
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			p.limiter.Take()
			alive := p.probe(ctx, rec.URL)
			p.results.Store(rec.URL, Result{Alive: alive, CheckedAt: time.Now()})
			if alive {
				metrics.ProbedStreams.WithLabelValues("alive").Inc()
			} else {
				metrics.ProbedStreams.WithLabelValues("dead").Inc()
			}
		})
		if err != nil {
			wg.Done()
			logger.Warn("{prober - sweep} submit failed: %v", err)
		}
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	if err := p.writeOptimized(); err != nil {
		logger.Error("{prober - sweep} could not write optimized catalog: %v", err)
	}
}

// probe fetches one stream URL. Any 2xx/3xx response counts as alive; HLS
// playlists are additionally parsed to confirm they actually contain
// segments or variants, since providers love serving empty 200s.
func (p *Prober) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false
	}

	if protocol.Detect(url) == protocol.TagHLS {
		return hlsPlaylistHasContent(resp)
	}
	return true
}

// hlsPlaylistHasContent parses the response as an HLS playlist and checks it
// is non-empty.
func hlsPlaylistHasContent(resp *http.Response) bool {
	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return false
	}
	switch listType {
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		return media.Count() > 0
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		return len(master.Variants) > 0
	}
	return false
}

// optimizedEntry mirrors the catalog file value shape.
type optimizedEntry struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	LastWorking string `json:"last_working"`
}

// writeOptimized rewrites the optimized catalog wholesale: alive streams get
// last_working=now, everything else keeps its recorded timestamp. The write
// is atomic (tmp + rename) so the engine never reads a torn file.
func (p *Prober) writeOptimized() error {
	path := p.cfg.OptimizedCatalogPath
	if path == "" {
		return nil
	}

	out := make(map[string]optimizedEntry, p.cat.Len())
	for _, rec := range p.cat.All() {
		entry := optimizedEntry{
			Name:        rec.Name,
			Group:       rec.Group,
			LastWorking: rec.LastWorking.Format(time.RFC3339),
		}
		if res, ok := p.results.Load(rec.URL); ok && res.Alive {
			entry.LastWorking = res.CheckedAt.Format(time.RFC3339)
		}
		out[rec.URL] = entry
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal optimized catalog: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("failed to gzip optimized catalog: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to gzip optimized catalog: %w", err)
		}
		data = buf.Bytes()
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write optimized catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace optimized catalog: %w", err)
	}

	logger.Info("{prober - writeOptimized} wrote %d streams to %s", len(out), path)
	return nil
}
