package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"iptv-kiosk/work/config"
	"iptv-kiosk/work/logger"
)

// StreamRecord is one catalog entry. The URL is the identity: the catalog
// file is a JSON object keyed by URL, so no two records can share one.
type StreamRecord struct {
	URL         string
	Name        string
	Group       string
	LastWorking time.Time
}

// entryJSON is the on-disk value shape of a catalog record. The timestamp is
// an ISO-8601 string written by the external stream scanner.
type entryJSON struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	LastWorking string `json:"last_working"`
}

// timestampLayouts are tried in order when parsing last_working values. The
// scanner historically wrote naive ISO timestamps without a zone suffix.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Catalog is a read-only, in-memory view over the working-streams database.
// Records are held in a slice sorted by URL at load time, which makes query
// iteration deterministic; equal-score ordering in TopForCategory is that
// load order and is otherwise unspecified.
type Catalog struct {
	// Now is the clock used for freshness scoring; tests pin it.
	Now func() time.Time

	records []StreamRecord
}

// Load builds a Catalog from the configured catalog files. The optimized
// catalog, when present and readable, is preferred wholesale over the base
// file; the two are never merged. Missing or corrupt files degrade to an
// empty catalog so the engine can proceed straight to backup streams.
func Load(cfg *config.Config) *Catalog {
	if cfg.OptimizedCatalogPath != "" {
		records, err := loadFile(cfg.OptimizedCatalogPath)
		if err == nil {
			logger.Info("{catalog - Load} loaded %d optimized streams", len(records))
			return New(records)
		}
		if !os.IsNotExist(err) {
			logger.Warn("{catalog - Load} could not load optimized catalog: %v", err)
		}
	}

	records, err := loadFile(cfg.CatalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("{catalog - Load} no catalog at %s - run the stream scanner first", cfg.CatalogPath)
		} else {
			logger.Error("{catalog - Load} error loading streams: %v", err)
		}
		return New(nil)
	}

	logger.Info("{catalog - Load} loaded %d working streams", len(records))
	return New(records)
}

// New builds a Catalog over the given records, sorted by URL for
// deterministic iteration.
func New(records []StreamRecord) *Catalog {
	sorted := make([]StreamRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URL < sorted[j].URL })

	return &Catalog{
		Now:     time.Now,
		records: sorted,
	}
}

// loadFile reads one catalog file into records. Files ending in .gz are
// transparently decompressed; the scanner gzips large catalogs on devices
// with small SD cards.
func loadFile(path string) ([]StreamRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = bytes.NewReader(data)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip catalog: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var raw map[string]entryJSON
	if err := json.NewDecoder(reader).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}

	records := make([]StreamRecord, 0, len(raw))
	for url, entry := range raw {
		ts, err := parseTimestamp(entry.LastWorking)
		if err != nil {
			// A record with an unreadable timestamp scores zero rather
			// than poisoning the whole load.
			logger.Debug("{catalog - loadFile} bad last_working %q for %s: %v", entry.LastWorking, url, err)
		}
		records = append(records, StreamRecord{
			URL:         url,
			Name:        entry.Name,
			Group:       entry.Group,
			LastWorking: ts,
		})
	}

	return records, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Len returns the number of records in the catalog.
func (c *Catalog) Len() int {
	return len(c.records)
}

// All returns the records in catalog order. The slice is shared; callers
// must not mutate it.
func (c *Catalog) All() []StreamRecord {
	return c.records
}

// Score computes the freshness score of a record: 100 minus the hours since
// it last worked, clamped at zero. A record verified right now scores 100;
// anything 100+ hours stale scores 0.
func (c *Catalog) Score(r StreamRecord) float64 {
	hours := c.Now().Sub(r.LastWorking).Hours()
	score := 100 - hours
	if score < 0 {
		return 0
	}
	return score
}

// TopForCategory returns up to limit records whose "name group" text
// contains any of the given keywords (case-insensitive), ordered by
// freshness score descending. An empty keyword set is the wildcard and
// matches every record.
func (c *Catalog) TopForCategory(keywords []string, limit int) []StreamRecord {
	if len(c.records) == 0 || limit <= 0 {
		return nil
	}

	type scored struct {
		rec   StreamRecord
		score float64
	}

	var matched []scored
	for _, rec := range c.records {
		if !matchesKeywords(rec, keywords) {
			continue
		}
		matched = append(matched, scored{rec: rec, score: c.Score(rec)})
	}

	// Stable sort keeps load order for equal scores.
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })

	if len(matched) > limit {
		matched = matched[:limit]
	}
	records := make([]StreamRecord, len(matched))
	for i, m := range matched {
		records[i] = m.rec
	}
	return records
}

func matchesKeywords(rec StreamRecord, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	text := strings.ToLower(rec.Name + " " + rec.Group)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
